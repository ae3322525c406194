// Package gitlabci adapts the GitLab CI REST API v4 to the cicd.Connector contract.
package gitlabci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/cicd"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

const defaultBaseURL = "https://gitlab.com/api/v4"

// requestsPerSecond and burst stay under GitLab.com's default 2000req/min per-user API limit
// with headroom for shared use across many polled repositories.
const (
	requestsPerSecond = 2.0
	requestBurst      = 10
)

// Adapter implements cicd.Connector for GitLab CI via a shared HTTP session.
type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter

	mu         sync.Mutex
	projectIDs map[string]int64 // "namespace/path" -> numeric project id
}

// New builds an Adapter. baseURL may be empty to default to gitlab.com.
func New(baseURL, token string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		client:     &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		projectIDs: make(map[string]int64),
	}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformGitLabCI }

func (a *Adapter) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, apierr.TransientIO("gitlab client-side rate limiter", err)
	}
	var reader *strings.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, apierr.Internal("build gitlab request", err)
	}
	req.Header.Set("PRIVATE-TOKEN", a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apierr.TransientIO("gitlab request failed", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		resp.Body.Close()
		return nil, apierr.RateLimited(fmt.Sprintf("gitlab rate limit exceeded, retry after %ss", retryAfter))
	}
	return resp, nil
}

// resolveProjectID caches namespace/path -> numeric id lookups, grounded on how gitlab_ci.py
// resolves a project once per repository and reuses it thereafter.
func (a *Adapter) resolveProjectID(ctx context.Context, repository string) (int64, error) {
	a.mu.Lock()
	if id, ok := a.projectIDs[repository]; ok {
		a.mu.Unlock()
		return id, nil
	}
	a.mu.Unlock()

	resp, err := a.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(repository), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, apierr.NotFound(fmt.Sprintf("gitlab project %q not found", repository))
	}
	var project struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return 0, apierr.Internal("decode gitlab project", err)
	}

	a.mu.Lock()
	a.projectIDs[repository] = project.ID
	a.mu.Unlock()
	return project.ID, nil
}

func (a *Adapter) DiscoverWorkflows(ctx context.Context, repository string) ([]domain.UniversalWorkflow, error) {
	projectID, err := a.resolveProjectID(ctx, repository)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d/pipelines?order_by=id&sort=desc", projectID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, apierr.UpstreamUnavailable(fmt.Sprintf("gitlab list pipelines: status %d", resp.StatusCode))
	}

	var pipelines []struct {
		ID        int64     `json:"id"`
		Status    string    `json:"status"`
		Ref       string    `json:"ref"`
		SHA       string    `json:"sha"`
		WebURL    string    `json:"web_url"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pipelines); err != nil {
		return nil, apierr.Internal("decode gitlab pipelines", err)
	}

	workflows := make([]domain.UniversalWorkflow, 0, len(pipelines))
	for _, p := range pipelines {
		workflows = append(workflows, domain.UniversalWorkflow{
			ID:         strconv.FormatInt(p.ID, 10),
			Name:       "pipeline",
			Platform:   domain.PlatformGitLabCI,
			Status:     mapStatus(p.Status),
			Repository: repository,
			Branch:     p.Ref,
			CommitSHA:  p.SHA,
			URL:        p.WebURL,
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  p.UpdatedAt,
		})
	}
	return workflows, nil
}

// mapStatus implements the GitLab status mapping of §4.E.
func mapStatus(status string) domain.WorkflowStatus {
	switch status {
	case "success":
		return domain.StatusSuccess
	case "failed":
		return domain.StatusFailed
	case "running":
		return domain.StatusRunning
	case "canceled", "cancelled":
		return domain.StatusCancelled
	case "skipped":
		return domain.StatusSkipped
	case "created", "pending", "preparing", "waiting_for_resource", "manual", "scheduled":
		return domain.StatusQueued
	default:
		return domain.StatusUnknown
	}
}

func (a *Adapter) TriggerWorkflow(ctx context.Context, repository, workflowID, branch string, inputs map[string]string) (domain.TriggerResult, error) {
	projectID, err := a.resolveProjectID(ctx, repository)
	if err != nil {
		return domain.TriggerResult{Success: false, Error: err.Error()}, err
	}
	if branch == "" {
		branch = "main"
	}

	variables := make([]map[string]string, 0, len(inputs))
	for k, v := range inputs {
		variables = append(variables, map[string]string{"key": k, "value": v})
	}
	payload, err := json.Marshal(map[string]interface{}{"ref": branch, "variables": variables})
	if err != nil {
		return domain.TriggerResult{}, apierr.Internal("encode gitlab trigger body", err)
	}

	resp, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/pipeline", projectID), payload)
	if err != nil {
		return domain.TriggerResult{Success: false, Error: err.Error()}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.TriggerResult{Success: false, Error: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}

	var p struct {
		ID     int64  `json:"id"`
		WebURL string `json:"web_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return domain.TriggerResult{Success: true}, nil
	}
	return domain.TriggerResult{
		Success: true,
		RunID:   strconv.FormatInt(p.ID, 10),
		URL:     p.WebURL,
	}, nil
}

func (a *Adapter) GetWorkflowStatus(ctx context.Context, repository, workflowID, runID string) (domain.UniversalWorkflow, error) {
	projectID, err := a.resolveProjectID(ctx, repository)
	if err != nil {
		return domain.UniversalWorkflow{}, err
	}
	if runID == "" {
		runs, err := a.DiscoverWorkflows(ctx, repository)
		if err != nil || len(runs) == 0 {
			return domain.UniversalWorkflow{Status: domain.StatusUnknown}, err
		}
		return runs[0], nil
	}

	resp, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d/pipelines/%s", projectID, runID), nil)
	if err != nil {
		return domain.UniversalWorkflow{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.UniversalWorkflow{Status: domain.StatusUnknown}, apierr.UpstreamUnavailable("gitlab get_pipeline failed")
	}
	var p struct {
		ID        int64     `json:"id"`
		Status    string    `json:"status"`
		Ref       string    `json:"ref"`
		SHA       string    `json:"sha"`
		WebURL    string    `json:"web_url"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return domain.UniversalWorkflow{}, apierr.Internal("decode gitlab pipeline", err)
	}
	return domain.UniversalWorkflow{
		ID:         strconv.FormatInt(p.ID, 10),
		Name:       "pipeline",
		Platform:   domain.PlatformGitLabCI,
		Status:     mapStatus(p.Status),
		Repository: repository,
		Branch:     p.Ref,
		CommitSHA:  p.SHA,
		URL:        p.WebURL,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

func (a *Adapter) CancelWorkflow(ctx context.Context, repository, runID string) (bool, error) {
	projectID, err := a.resolveProjectID(ctx, repository)
	if err != nil {
		return false, err
	}
	resp, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/pipelines/%s/cancel", projectID, runID), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400, nil
}

func (a *Adapter) GetConnectorStatus(ctx context.Context) cicd.ConnectorStatus {
	resp, err := a.do(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return cicd.ConnectorStatus{Connected: false, Platform: domain.PlatformGitLabCI}
	}
	defer resp.Body.Close()
	return cicd.ConnectorStatus{Connected: resp.StatusCode < 400, Platform: domain.PlatformGitLabCI}
}
