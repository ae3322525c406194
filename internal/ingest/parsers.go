package ingest

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

// ParseGitHub converts a GitHub webhook payload into a normalized Event, given the event type
// carried by X-GitHub-Event. Returns ok=false when the event type/shape produces no event.
func ParseGitHub(eventType string, body []byte) (domain.Event, bool) {
	root := gjson.ParseBytes(body)
	repo := root.Get("repository.full_name").String()
	now := time.Now().UTC()

	switch eventType {
	case "push":
		branch := strings.TrimPrefix(root.Get("ref").String(), "refs/heads/")
		files := map[string]bool{}
		for _, c := range root.Get("commits").Array() {
			for _, f := range c.Get("modified").Array() {
				files[f.String()] = true
			}
			for _, f := range c.Get("added").Array() {
				files[f.String()] = true
			}
		}
		return domain.Event{
			Kind:         domain.EventPush,
			Repository:   repo,
			Timestamp:    now,
			Branch:       branch,
			CommitHash:   root.Get("after").String(),
			Author:       root.Get("pusher.name").String(),
			FilesChanged: setToSlice(files),
		}, true
	case "pull_request":
		return domain.Event{
			Kind:       domain.EventPullRequest,
			Repository: repo,
			Timestamp:  now,
			Branch:     root.Get("pull_request.head.ref").String(),
			CommitHash: root.Get("pull_request.head.sha").String(),
			Author:     root.Get("pull_request.user.login").String(),
			Message:    root.Get("pull_request.title").String(),
		}, true
	case "create":
		refType := root.Get("ref_type").String()
		kind := domain.EventBranchCreate
		if refType == "tag" {
			kind = domain.EventTagCreate
		}
		return domain.Event{
			Kind:       kind,
			Repository: repo,
			Timestamp:  now,
			Branch:     root.Get("ref").String(),
		}, true
	case "delete":
		refType := root.Get("ref_type").String()
		kind := domain.EventBranchDelete
		if refType == "tag" {
			kind = domain.EventTagDelete
		}
		return domain.Event{
			Kind:       kind,
			Repository: repo,
			Timestamp:  now,
			Branch:     root.Get("ref").String(),
		}, true
	default:
		return domain.Event{}, false
	}
}

// ParseGitLab converts a GitLab webhook payload into a normalized Event, given the event type
// carried by X-Gitlab-Event ("Push Hook", "Merge Request Hook").
func ParseGitLab(eventType string, body []byte) (domain.Event, bool) {
	root := gjson.ParseBytes(body)
	repo := root.Get("project.path_with_namespace").String()
	now := time.Now().UTC()

	switch eventType {
	case "Push Hook":
		branch := strings.TrimPrefix(root.Get("ref").String(), "refs/heads/")
		files := map[string]bool{}
		for _, c := range root.Get("commits").Array() {
			for _, f := range c.Get("modified").Array() {
				files[f.String()] = true
			}
			for _, f := range c.Get("added").Array() {
				files[f.String()] = true
			}
		}
		return domain.Event{
			Kind:         domain.EventPush,
			Repository:   repo,
			Timestamp:    now,
			Branch:       branch,
			CommitHash:   root.Get("after").String(),
			Author:       root.Get("user_name").String(),
			FilesChanged: setToSlice(files),
		}, true
	case "Merge Request Hook":
		return domain.Event{
			Kind:       domain.EventPullRequest,
			Repository: repo,
			Timestamp:  now,
			Branch:     root.Get("object_attributes.source_branch").String(),
			CommitHash: root.Get("object_attributes.last_commit.id").String(),
			Author:     root.Get("user.username").String(),
			Message:    root.Get("object_attributes.title").String(),
		}, true
	default:
		return domain.Event{}, false
	}
}

// ParseJenkins converts a Jenkins build-notification payload into a normalized Event.
func ParseJenkins(body []byte) (domain.Event, bool) {
	root := gjson.ParseBytes(body)
	repo := root.Get("name").String()
	if repo == "" {
		return domain.Event{}, false
	}
	return domain.Event{
		Kind:       domain.EventCommit,
		Repository: repo,
		Timestamp:  time.Now().UTC(),
		CommitHash: root.Get("build.scm.commit").String(),
		Data: map[string]interface{}{
			"build_status": root.Get("build.status").String(),
			"build_number": root.Get("build.number").Int(),
		},
	}, true
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
