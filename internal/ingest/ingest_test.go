package ingest_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/ingest"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
)

const githubPushPayload = `{
	"ref": "refs/heads/main",
	"after": "deadbeef",
	"pusher": {"name": "octocat"},
	"repository": {"full_name": "test/repo"},
	"commits": [
		{"modified": ["a.go"], "added": ["b.go"]},
		{"modified": ["c.go"], "added": []}
	]
}`

func newTestReceiver(t *testing.T) (*ingest.Receiver, kv.Store, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := kv.NewMemStore()
	t.Cleanup(func() { store.Close() })
	log := logging.New("test", "error", "text", &bytes.Buffer{})
	emitter := ingest.NewEmitter(store, log)
	recv := ingest.NewReceiver(store, emitter, log)
	recv.RegisterEndpoint(domain.WebhookConfig{
		Path: "/webhook/github", Source: domain.SourceGitHub, Secret: "s3cr3t",
		Enabled: true, VerifySignature: true,
	})
	engine := gin.New()
	recv.RegisterRoutes(engine)
	return recv, store, engine
}

func TestGitHubPushNormalizesAndDeduplicates(t *testing.T) {
	_, store, engine := newTestReceiver(t)
	body := []byte(githubPushPayload)
	sig := ingest.SignGitHub(body, "s3cr3t")

	deliver := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-Hub-Signature-256", sig)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, deliver())
	require.Equal(t, http.StatusOK, deliver())

	entries, err := store.XRange(context.Background(), "git_events:stream:test/repo", 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "push", entries[0].Values["kind"])
}

func TestGitHubSignatureRejectsBadSecret(t *testing.T) {
	_, _, engine := newTestReceiver(t)
	body := []byte(githubPushPayload)

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", ingest.SignGitHub(body, "wrong-secret"))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignatureRoundTripLaws(t *testing.T) {
	body := []byte("payload")
	require.True(t, ingest.VerifyGitHub(body, ingest.SignGitHub(body, "s"), "s"))
	require.True(t, ingest.VerifyGitLab("token-value", "token-value"))
	require.True(t, ingest.VerifyJenkins(body, ingest.SignJenkins(body, "s"), "s"))
}

func TestEventIDStableAcrossCalls(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id1 := domain.EventID(domain.EventPush, "a/b", ts, "sha1")
	id2 := domain.EventID(domain.EventPush, "a/b", ts, "sha1")
	require.Equal(t, id1, id2)
}
