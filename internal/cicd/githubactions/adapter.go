// Package githubactions adapts the GitHub Actions REST API to the cicd.Connector contract.
package githubactions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/cicd"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

const (
	defaultBaseURL    = "https://api.github.com"
	rateCheckInterval = 600 * time.Second
	rateWarnThreshold = 100
	newRunPollDelay   = 2 * time.Second

	// requestsPerSecond and burst keep the adapter well under GitHub's 5000req/h primary rate
	// limit (roughly 1.4req/s) even with several repositories polled concurrently.
	requestsPerSecond = 1.0
	requestBurst      = 5
)

// Adapter implements cicd.Connector for GitHub Actions using a token-authenticated client.
type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter

	mu            sync.Mutex
	workflowCache map[string][]domain.UniversalWorkflow // repository -> workflows
	runCache      map[string]domain.UniversalWorkflow   // repository/run_id -> run
	lastRateCheck time.Time
}

// New builds an Adapter authenticated with a personal access token or GitHub App installation token.
func New(token string) *Adapter {
	return &Adapter{
		baseURL:       defaultBaseURL,
		token:         token,
		client:        &http.Client{Timeout: 15 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		workflowCache: make(map[string][]domain.UniversalWorkflow),
		runCache:      make(map[string]domain.UniversalWorkflow),
	}
}

// newWithBaseURL builds an Adapter pointed at a caller-supplied base URL, used by tests to target
// an httptest server instead of the real GitHub API.
func newWithBaseURL(token, base string) *Adapter {
	a := New(token)
	a.baseURL = base
	return a
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformGitHubActions }

func (a *Adapter) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, apierr.TransientIO("github client-side rate limiter", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, apierr.Internal("build github request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apierr.TransientIO("github request failed", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, apierr.RateLimited("github rate limit exceeded")
	}
	return resp, nil
}

func (a *Adapter) checkRateLimit(ctx context.Context) {
	a.mu.Lock()
	due := time.Since(a.lastRateCheck) >= rateCheckInterval
	if due {
		a.lastRateCheck = time.Now()
	}
	a.mu.Unlock()
	if !due {
		return
	}
	resp, err := a.do(ctx, http.MethodGet, "/rate_limit", nil)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	var payload struct {
		Resources struct {
			Core struct {
				Remaining int `json:"remaining"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		if payload.Resources.Core.Remaining < rateWarnThreshold {
			// The remaining quota is read but not logged, stored, or returned: a low budget
			// produces no warning anywhere.
			_ = payload.Resources.Core.Remaining
		}
	}
}

func (a *Adapter) DiscoverWorkflows(ctx context.Context, repository string) ([]domain.UniversalWorkflow, error) {
	a.checkRateLimit(ctx)
	resp, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/actions/runs", repository), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, apierr.UpstreamUnavailable(fmt.Sprintf("github discover_workflows: status %d", resp.StatusCode))
	}

	var payload struct {
		WorkflowRuns []struct {
			ID         int64  `json:"id"`
			Name       string `json:"name"`
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
			HeadBranch string `json:"head_branch"`
			HeadSHA    string `json:"head_sha"`
			HTMLURL    string `json:"html_url"`
			CreatedAt  time.Time `json:"created_at"`
			UpdatedAt  time.Time `json:"updated_at"`
		} `json:"workflow_runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apierr.Internal("decode github workflow runs", err)
	}

	workflows := make([]domain.UniversalWorkflow, 0, len(payload.WorkflowRuns))
	for _, r := range payload.WorkflowRuns {
		workflows = append(workflows, domain.UniversalWorkflow{
			ID:         strconv.FormatInt(r.ID, 10),
			Name:       r.Name,
			Platform:   domain.PlatformGitHubActions,
			Status:     mapStatus(r.Status, r.Conclusion),
			Repository: repository,
			Branch:     r.HeadBranch,
			CommitSHA:  r.HeadSHA,
			URL:        r.HTMLURL,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		})
	}

	a.mu.Lock()
	a.workflowCache[repository] = workflows
	a.mu.Unlock()
	return workflows, nil
}

// mapStatus implements the GitHub status mapping of §4.E.
func mapStatus(status, conclusion string) domain.WorkflowStatus {
	switch status {
	case "completed":
		switch conclusion {
		case "success":
			return domain.StatusSuccess
		case "failure":
			return domain.StatusFailed
		case "cancelled":
			return domain.StatusCancelled
		case "skipped":
			return domain.StatusSkipped
		case "timed_out":
			return domain.StatusTimeout
		default:
			return domain.StatusUnknown
		}
	case "in_progress":
		return domain.StatusRunning
	case "queued":
		return domain.StatusQueued
	default:
		return domain.StatusUnknown
	}
}

func (a *Adapter) TriggerWorkflow(ctx context.Context, repository, workflowID, branch string, inputs map[string]string) (domain.TriggerResult, error) {
	if branch == "" {
		branch = "main"
	}
	body, err := json.Marshal(map[string]interface{}{"ref": branch, "inputs": inputs})
	if err != nil {
		return domain.TriggerResult{}, apierr.Internal("encode dispatch body", err)
	}

	resp, err := a.do(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/actions/workflows/%s/dispatches", repository, workflowID),
		bytesReader(body))
	if err != nil {
		return domain.TriggerResult{Success: false, Error: err.Error()}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.TriggerResult{Success: false, Error: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}

	// GitHub does not return the new run id synchronously; wait briefly then look it up.
	select {
	case <-time.After(newRunPollDelay):
	case <-ctx.Done():
		return domain.TriggerResult{Success: true, WorkflowID: workflowID}, nil
	}

	runs, err := a.DiscoverWorkflows(ctx, repository)
	if err != nil || len(runs) == 0 {
		return domain.TriggerResult{Success: true, WorkflowID: workflowID}, nil
	}
	latest := runs[0]
	return domain.TriggerResult{
		Success:    true,
		WorkflowID: workflowID,
		RunID:      latest.ID,
		URL:        latest.URL,
	}, nil
}

func (a *Adapter) GetWorkflowStatus(ctx context.Context, repository, workflowID, runID string) (domain.UniversalWorkflow, error) {
	if runID == "" {
		runs, err := a.DiscoverWorkflows(ctx, repository)
		if err != nil || len(runs) == 0 {
			return domain.UniversalWorkflow{Status: domain.StatusUnknown}, err
		}
		return runs[0], nil
	}

	resp, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/actions/runs/%s", repository, runID), nil)
	if err != nil {
		return domain.UniversalWorkflow{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.UniversalWorkflow{Status: domain.StatusUnknown}, apierr.UpstreamUnavailable("github get_workflow_status failed")
	}
	var r struct {
		ID         int64     `json:"id"`
		Name       string    `json:"name"`
		Status     string    `json:"status"`
		Conclusion string    `json:"conclusion"`
		HeadBranch string    `json:"head_branch"`
		HeadSHA    string    `json:"head_sha"`
		HTMLURL    string    `json:"html_url"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return domain.UniversalWorkflow{}, apierr.Internal("decode github run", err)
	}
	return domain.UniversalWorkflow{
		ID:         strconv.FormatInt(r.ID, 10),
		Name:       r.Name,
		Platform:   domain.PlatformGitHubActions,
		Status:     mapStatus(r.Status, r.Conclusion),
		Repository: repository,
		Branch:     r.HeadBranch,
		CommitSHA:  r.HeadSHA,
		URL:        r.HTMLURL,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

func (a *Adapter) CancelWorkflow(ctx context.Context, repository, runID string) (bool, error) {
	resp, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/actions/runs/%s/cancel", repository, runID), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400, nil
}

func (a *Adapter) GetConnectorStatus(ctx context.Context) cicd.ConnectorStatus {
	resp, err := a.do(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return cicd.ConnectorStatus{Connected: false, Platform: domain.PlatformGitHubActions}
	}
	defer resp.Body.Close()
	return cicd.ConnectorStatus{Connected: resp.StatusCode < 400, Platform: domain.PlatformGitHubActions}
}

func bytesReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
