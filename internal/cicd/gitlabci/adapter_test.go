package gitlabci

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

// TestMapStatusCoversSeedScenario verifies the running/success/canceled -> running/success/cancelled
// mapping, plus the queued-like and terminal statuses the GitLab pipelines API returns.
func TestMapStatusCoversSeedScenario(t *testing.T) {
	cases := []struct {
		status string
		want   domain.WorkflowStatus
	}{
		{"running", domain.StatusRunning},
		{"success", domain.StatusSuccess},
		{"canceled", domain.StatusCancelled},
		{"cancelled", domain.StatusCancelled},
		{"failed", domain.StatusFailed},
		{"skipped", domain.StatusSkipped},
		{"created", domain.StatusQueued},
		{"pending", domain.StatusQueued},
		{"preparing", domain.StatusQueued},
		{"waiting_for_resource", domain.StatusQueued},
		{"manual", domain.StatusQueued},
		{"scheduled", domain.StatusQueued},
		{"something_else", domain.StatusUnknown},
	}
	for _, c := range cases {
		require.Equal(t, c.want, mapStatus(c.status), "status=%s", c.status)
	}
}

func newGitLabTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	// http.ServeMux matches the escaped path segment by segment, so the request for
	// url.PathEscape("acme/widgets") is the single segment "acme%2Fwidgets", and the pattern
	// has to spell it the same way.
	mux.HandleFunc("/projects/acme%2Fwidgets", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":42}`)
	})
	mux.HandleFunc("/projects/42/pipelines", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":7,"status":"running","ref":"main","sha":"deadbeef","web_url":"https://example/pipelines/7"}]`)
	})
	mux.HandleFunc("/projects/42/pipeline", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":8,"web_url":"https://example/pipelines/8"}`)
	})
	mux.HandleFunc("/projects/42/pipelines/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":7,"status":"success","ref":"main","sha":"deadbeef","web_url":"https://example/pipelines/7"}`)
	})
	mux.HandleFunc("/projects/42/pipelines/7/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestDiscoverWorkflowsResolvesProjectThenListsPipelines(t *testing.T) {
	server := newGitLabTestServer(t)
	defer server.Close()

	a := New(server.URL, "tok")
	runs, err := a.DiscoverWorkflows(context.Background(), "acme/widgets")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "7", runs[0].ID)
	require.Equal(t, domain.StatusRunning, runs[0].Status)

	a.mu.Lock()
	id := a.projectIDs["acme/widgets"]
	a.mu.Unlock()
	require.Equal(t, int64(42), id)
}

func TestTriggerWorkflowReturnsNewPipelineID(t *testing.T) {
	server := newGitLabTestServer(t)
	defer server.Close()

	a := New(server.URL, "tok")
	result, err := a.TriggerWorkflow(context.Background(), "acme/widgets", "", "main", map[string]string{"ENV": "staging"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "8", result.RunID)
}

func TestGetWorkflowStatusByRunID(t *testing.T) {
	server := newGitLabTestServer(t)
	defer server.Close()

	a := New(server.URL, "tok")
	wf, err := a.GetWorkflowStatus(context.Background(), "acme/widgets", "", "7")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, wf.Status)
}

func TestCancelWorkflowReportsSuccess(t *testing.T) {
	server := newGitLabTestServer(t)
	defer server.Close()

	a := New(server.URL, "tok")
	ok, err := a.CancelWorkflow(context.Background(), "acme/widgets", "7")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetConnectorStatusReflectsUpstreamResponse(t *testing.T) {
	server := newGitLabTestServer(t)
	defer server.Close()

	a := New(server.URL, "tok")
	status := a.GetConnectorStatus(context.Background())
	require.True(t, status.Connected)
	require.Equal(t, domain.PlatformGitLabCI, status.Platform)
}

func TestResolveProjectIDReturnsNotFoundOnMissingProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	a := New(server.URL, "tok")
	_, err := a.resolveProjectID(context.Background(), "ghost/repo")
	require.Error(t, err)
	require.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func TestDoSurfacesRetryAfterOnRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	a := New(server.URL, "tok")
	_, err := a.do(context.Background(), http.MethodGet, "/anything", nil)
	require.Error(t, err)
	require.Equal(t, apierr.CodeUpstreamRateLimited, apierr.CodeOf(err))
	require.Contains(t, err.Error(), "30")
}
