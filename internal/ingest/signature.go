package ingest

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // required for Jenkins' HMAC-SHA-1 signature scheme
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// VerifyGitHub checks X-Hub-Signature-256: sha256=<hex> over body with the shared secret,
// constant-time.
func VerifyGitHub(body []byte, header, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected := hmacHex(sha256.New, body, secret)
	return subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, prefix)), []byte(expected)) == 1
}

// VerifyGitLab compares the opaque X-Gitlab-Token header against the configured secret.
func VerifyGitLab(header, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(header), []byte(secret)) == 1
}

// VerifyJenkins checks X-Jenkins-Signature: <hex> HMAC-SHA-1 over body with the shared secret.
func VerifyJenkins(body []byte, header, secret string) bool {
	expected := hmacHex(sha1.New, body, secret)
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}

// SignGitHub computes the sha256= signature a GitHub delivery would carry; used by tests to
// exercise the round-trip law verify(body, sign(body, s), s) == true.
func SignGitHub(body []byte, secret string) string {
	return "sha256=" + hmacHex(sha256.New, body, secret)
}

// SignJenkins computes the HMAC-SHA-1 signature a Jenkins delivery would carry.
func SignJenkins(body []byte, secret string) string {
	return hmacHex(sha1.New, body, secret)
}

func hmacHex(newHash func() hash.Hash, body []byte, secret string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
