package githubactions

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

func TestMapStatusCoversCompletedConclusionsAndInFlightStates(t *testing.T) {
	cases := []struct {
		status     string
		conclusion string
		want       domain.WorkflowStatus
	}{
		{"completed", "success", domain.StatusSuccess},
		{"completed", "failure", domain.StatusFailed},
		{"completed", "cancelled", domain.StatusCancelled},
		{"completed", "skipped", domain.StatusSkipped},
		{"completed", "timed_out", domain.StatusTimeout},
		{"completed", "stale", domain.StatusUnknown},
		{"in_progress", "", domain.StatusRunning},
		{"queued", "", domain.StatusQueued},
		{"waiting", "", domain.StatusUnknown},
	}
	for _, c := range cases {
		require.Equal(t, c.want, mapStatus(c.status, c.conclusion), "status=%s conclusion=%s", c.status, c.conclusion)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var hits []string
	mux := http.NewServeMux()
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		fmt.Fprint(w, `{"resources":{"core":{"remaining":500}}}`)
	})
	mux.HandleFunc("/repos/acme/widgets/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		fmt.Fprint(w, `{"workflow_runs":[{"id":101,"name":"ci","status":"completed","conclusion":"success","head_branch":"main","head_sha":"abc123","html_url":"https://example/run/101"}]}`)
	})
	mux.HandleFunc("/repos/acme/widgets/actions/workflows/ci.yml/dispatches", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/repos/acme/widgets/actions/runs/101/cancel", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux), &hits
}

func TestDiscoverWorkflowsMapsRunsAndCachesThem(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	a := newWithBaseURL("tok", server.URL)
	runs, err := a.DiscoverWorkflows(context.Background(), "acme/widgets")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, domain.StatusSuccess, runs[0].Status)
	require.Equal(t, "101", runs[0].ID)

	a.mu.Lock()
	cached := a.workflowCache["acme/widgets"]
	a.mu.Unlock()
	require.Len(t, cached, 1)
}

func TestTriggerWorkflowReturnsEarlyOnContextCancellation(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	a := newWithBaseURL("tok", server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	result, err := a.TriggerWorkflow(ctx, "acme/widgets", "ci.yml", "", nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "ci.yml", result.WorkflowID)
	require.Empty(t, result.RunID)
}

func TestCancelWorkflowReportsAcceptedAsSuccess(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	a := newWithBaseURL("tok", server.URL)
	ok, err := a.CancelWorkflow(context.Background(), "acme/widgets", "101")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetConnectorStatusReflectsUpstreamResponse(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	a := newWithBaseURL("tok", server.URL)
	status := a.GetConnectorStatus(context.Background())
	require.True(t, status.Connected)
	require.Equal(t, domain.PlatformGitHubActions, status.Platform)
}

func TestDoClassifiesTooManyRequestsAsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	a := newWithBaseURL("tok", server.URL)
	_, err := a.do(context.Background(), http.MethodGet, "/anything", nil)
	require.Error(t, err)
	require.Equal(t, apierr.CodeUpstreamRateLimited, apierr.CodeOf(err))
}
