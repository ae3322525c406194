package ingest

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
)

// DefaultPollInterval is the poller's default interval between full passes over every
// registered repository (§4.D).
const DefaultPollInterval = 30 * time.Second

// RepoConfig is one tracked repository and the branches the poller watches.
type RepoConfig struct {
	Path     string
	Branches []string
}

// Poller runs one background task per manager, iterating all registered repositories
// sequentially on each pass and emitting commit/branch/tag events through an Emitter.
type Poller struct {
	emitter  *Emitter
	log      *logging.Logger
	interval time.Duration

	mu    sync.Mutex
	repos map[string]RepoConfig
	state map[string]*domain.RepositoryState
}

// NewPoller builds a Poller with the default 30s interval.
func NewPoller(emitter *Emitter, log *logging.Logger) *Poller {
	return &Poller{
		emitter:  emitter,
		log:      log,
		interval: DefaultPollInterval,
		repos:    make(map[string]RepoConfig),
		state:    make(map[string]*domain.RepositoryState),
	}
}

// Register adds a repository to the watch set, idempotently.
func (p *Poller) Register(cfg RepoConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repos[cfg.Path] = cfg
	if _, ok := p.state[cfg.Path]; !ok {
		p.state[cfg.Path] = domain.NewRepositoryState(cfg.Path)
	}
}

// Unregister removes a repository from the watch set and destroys its watch state.
func (p *Poller) Unregister(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.repos, path)
	delete(p.state, path)
}

// Run loops, polling every repository once per interval, until ctx is cancelled. In-flight
// iteration finishes before the task exits.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	p.mu.Lock()
	repos := make([]RepoConfig, 0, len(p.repos))
	for _, r := range p.repos {
		repos = append(repos, r)
	}
	p.mu.Unlock()

	for _, repo := range repos {
		if err := p.pollRepository(ctx, repo); err != nil {
			p.log.WithContext(logging.WithRepository(ctx, repo.Path)).WithError(err).Warn("poll repository failed")
		}
	}
}

func (p *Poller) pollRepository(ctx context.Context, repo RepoConfig) error {
	p.mu.Lock()
	state, ok := p.state[repo.Path]
	if !ok {
		state = domain.NewRepositoryState(repo.Path)
		p.state[repo.Path] = state
	}
	p.mu.Unlock()

	for _, branch := range repo.Branches {
		head, err := gitRevParse(ctx, repo.Path, branch)
		if err != nil {
			continue // branch may not exist locally yet; next pass retries
		}
		last := state.TrackedBranches[branch]
		if last == "" {
			state.TrackedBranches[branch] = head
			continue // first observation: record baseline, do not synthesize history
		}
		if last != head {
			files := gitDiffFiles(ctx, repo.Path, last, head)
			event := domain.Event{
				Kind:         domain.EventCommit,
				Repository:   repo.Path,
				Timestamp:    time.Now().UTC(),
				Branch:       branch,
				CommitHash:   head,
				Author:       gitAuthor(ctx, repo.Path, head),
				Message:      gitMessage(ctx, repo.Path, head),
				FilesChanged: files,
			}
			if err := p.emitter.Emit(ctx, event); err != nil {
				p.log.WithContext(ctx).WithError(err).Warn("emit commit event failed")
			}
			state.TrackedBranches[branch] = head
			state.LastCommitHash = head
		}
	}

	currentBranches := gitBranches(ctx, repo.Path)
	p.diffBranches(ctx, repo, state, currentBranches)

	currentTags := gitTags(ctx, repo.Path)
	p.diffTags(ctx, repo, state, currentTags)

	state.LastCheckAt = time.Now().UTC()
	return nil
}

func (p *Poller) diffBranches(ctx context.Context, repo RepoConfig, state *domain.RepositoryState, current []string) {
	seen := make(map[string]bool, len(current))
	for _, b := range current {
		seen[b] = true
		if _, tracked := state.TrackedBranches[b]; !tracked {
			state.TrackedBranches[b] = ""
			p.emitSimple(ctx, repo, domain.EventBranchCreate, b)
		}
	}
	for b := range state.TrackedBranches {
		if !seen[b] {
			delete(state.TrackedBranches, b)
			p.emitSimple(ctx, repo, domain.EventBranchDelete, b)
		}
	}
}

func (p *Poller) diffTags(ctx context.Context, repo RepoConfig, state *domain.RepositoryState, current []string) {
	for _, t := range current {
		if !state.TrackedTags[t] {
			state.TrackedTags[t] = true
			p.emitSimple(ctx, repo, domain.EventTagCreate, t)
		}
	}
}

func (p *Poller) emitSimple(ctx context.Context, repo RepoConfig, kind domain.EventKind, ref string) {
	event := domain.Event{
		Kind:       kind,
		Repository: repo.Path,
		Timestamp:  time.Now().UTC(),
		Branch:     ref,
	}
	if err := p.emitter.Emit(ctx, event); err != nil {
		p.log.WithContext(ctx).WithError(err).Warn("emit ref event failed")
	}
}

// The following shell out to the system git binary, mirroring GitPython's subprocess wrapper in
// the original implementation (no go-git dependency is carried by any example repo).

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

func gitRevParse(ctx context.Context, dir, branch string) (string, error) {
	return runGit(ctx, dir, "rev-parse", branch)
}

func gitDiffFiles(ctx context.Context, dir, from, to string) []string {
	out, err := runGit(ctx, dir, "diff", "--name-only", from, to)
	if err != nil || out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func gitAuthor(ctx context.Context, dir, commit string) string {
	out, _ := runGit(ctx, dir, "show", "-s", "--format=%an", commit)
	return out
}

func gitMessage(ctx context.Context, dir, commit string) string {
	out, _ := runGit(ctx, dir, "show", "-s", "--format=%s", commit)
	return out
}

func gitBranches(ctx context.Context, dir string) []string {
	out, err := runGit(ctx, dir, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil || out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func gitTags(ctx context.Context, dir string) []string {
	out, err := runGit(ctx, dir, "for-each-ref", "--format=%(refname:short)", "refs/tags/")
	if err != nil || out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
