// Package domain holds the entities, enums, and validation invariants shared by every
// component boundary.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind enumerates the normalized event kinds produced by the poller and webhook parsers.
type EventKind string

const (
	EventCommit        EventKind = "commit"
	EventPush          EventKind = "push"
	EventBranchCreate   EventKind = "branch_create"
	EventBranchDelete   EventKind = "branch_delete"
	EventMerge          EventKind = "merge"
	EventTagCreate      EventKind = "tag_create"
	EventTagDelete      EventKind = "tag_delete"
	EventPullRequest    EventKind = "pull_request"
	EventFork           EventKind = "fork"
	EventWebhookRaw     EventKind = "webhook_raw"
)

// Event is the normalized representation produced by either the poller or the webhook parser.
type Event struct {
	ID           string                 `json:"event_id"`
	Kind         EventKind              `json:"kind"`
	Repository   string                 `json:"repository"`
	Timestamp    time.Time              `json:"timestamp"`
	Branch       string                 `json:"branch,omitempty"`
	CommitHash   string                 `json:"commit_hash,omitempty"`
	Author       string                 `json:"author,omitempty"`
	Message      string                 `json:"message,omitempty"`
	FilesChanged []string               `json:"files_changed,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// EventID computes the deterministic idempotency key for an event: a stable hash over
// (kind, repository, timestamp, commit_hash). The same upstream notification MUST always
// produce the same id.
func EventID(kind EventKind, repository string, ts time.Time, commitHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", kind, repository, ts.UTC().Unix(), commitHash)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Finalize stamps Event.ID if unset, deriving it from the event's own fields.
func (e *Event) Finalize() {
	if e.ID == "" {
		e.ID = EventID(e.Kind, e.Repository, e.Timestamp, e.CommitHash)
	}
}

// RepositoryState is the poller's per-repository watch state.
type RepositoryState struct {
	Repository       string
	LastCommitHash   string
	LastCheckAt      time.Time
	TrackedBranches  map[string]string // branch -> last known head hash
	TrackedTags      map[string]bool
}

// NewRepositoryState returns zero-valued watch state for a newly registered repository.
func NewRepositoryState(repository string) *RepositoryState {
	return &RepositoryState{
		Repository:      repository,
		TrackedBranches: make(map[string]string),
		TrackedTags:     make(map[string]bool),
	}
}

// WebhookSource enumerates the upstream platforms the webhook receiver understands.
type WebhookSource string

const (
	SourceGitHub      WebhookSource = "github"
	SourceGitLab      WebhookSource = "gitlab"
	SourceJenkins     WebhookSource = "jenkins"
	SourceAzureDevOps WebhookSource = "azure_devops"
	SourceCircleCI    WebhookSource = "circleci"
	SourceBitbucket   WebhookSource = "bitbucket"
	SourceGeneric     WebhookSource = "generic"
)

// WebhookConfig describes one registered webhook endpoint.
type WebhookConfig struct {
	Path             string
	Source           WebhookSource
	Secret           string
	Enabled          bool
	VerifySignature  bool
	AcceptedKinds    []EventKind
}

// WebhookEvent is the normalized record of a received webhook delivery.
type WebhookEvent struct {
	ID        string          `json:"webhook_id"`
	Source    WebhookSource   `json:"source"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// WebhookID derives a deterministic id for a webhook delivery from its source, type, and payload.
func WebhookID(source WebhookSource, eventType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte(eventType))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))[:32]
}
