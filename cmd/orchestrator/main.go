// Command orchestrator is the composition root: it wires every component (ingestion, pipeline
// management, workflow orchestration, the task fabric, analytics, notification dispatch, and the
// dashboard surface) into one running process with two HTTP servers (webhook, dashboard) and a
// metrics server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirolinter/devops-orchestrator/internal/analytics"
	"github.com/kirolinter/devops-orchestrator/internal/cicd/githubactions"
	"github.com/kirolinter/devops-orchestrator/internal/cicd/gitlabci"
	"github.com/kirolinter/devops-orchestrator/internal/dashboard"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/ingest"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
	"github.com/kirolinter/devops-orchestrator/internal/notify"
	"github.com/kirolinter/devops-orchestrator/internal/pipeline"
	"github.com/kirolinter/devops-orchestrator/internal/platform/config"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
	"github.com/kirolinter/devops-orchestrator/internal/platform/metrics"
	"github.com/kirolinter/devops-orchestrator/internal/store"
	"github.com/kirolinter/devops-orchestrator/internal/tasks"
	"github.com/kirolinter/devops-orchestrator/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("devops-orchestrator", cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	m, reg := metrics.New("devops_orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache kv.Store
	redisStore, err := kv.NewRedisStore(ctx, cfg.KV.Addr(), cfg.KV.Password, cfg.KV.DB, cfg.KV.ConnectTimeout)
	if err != nil {
		log.WithContext(ctx).WithError(err).Warn("redis unavailable, falling back to in-memory cache")
		cache = kv.NewMemStore()
	} else {
		cache = redisStore
	}
	defer cache.Close()

	var workflowRecorder workflow.Recorder = workflow.NewMemRecorder()
	var retention *store.RetentionManager
	if cfg.Store.Password != "" || os.Getenv("POSTGRES_ENABLE") == "true" {
		db, err := store.Open(ctx, cfg.Store.DSN(), cfg.Store.MinPoolSize, cfg.Store.MaxPoolSize, cfg.Store.CommandTimeout)
		if err != nil {
			log.WithContext(ctx).WithError(err).Warn("postgres unavailable, falling back to in-memory workflow recorder")
		} else {
			defer db.Close()
			migrator := store.NewMigrator(db, store.BuiltinMigrations())
			if _, err := migrator.MigrateToLatest(ctx, "startup"); err != nil {
				log.WithContext(ctx).WithError(err).Error("migration failed")
			}
			workflowRecorder = store.NewWorkflowRepo(db)
			retention = store.NewRetentionManager(db, store.DefaultPolicies())
		}
	}

	stats := newRuntimeStats()

	emitter := ingest.NewEmitter(cache, log)
	for _, kind := range trackedEventKinds {
		emitter.On(kind, stats.onEvent)
	}

	receiver := ingest.NewReceiver(cache, emitter, log)
	for _, cfgSource := range defaultWebhookEndpoints() {
		receiver.RegisterEndpoint(cfgSource)
	}
	for _, source := range trackedWebhookSources {
		receiver.OnSource(source, stats.onWebhook)
	}

	poller := ingest.NewPoller(emitter, log)
	for _, repoPath := range splitEnvList(os.Getenv("POLL_REPOSITORIES")) {
		poller.Register(ingest.RepoConfig{Path: repoPath, Branches: []string{"main", "master"}})
		stats.monitoringActive.Store(true)
	}
	go poller.Run(ctx)

	registry := pipeline.NewRegistry(cache)
	manager := pipeline.NewManager(registry, log, m)
	if cfg.CICD.GitHubToken != "" {
		manager.RegisterConnector(githubactions.New(cfg.CICD.GitHubToken))
	}
	if cfg.CICD.GitLabToken != "" {
		manager.RegisterConnector(gitlabci.New(cfg.CICD.GitLabBaseURL, cfg.CICD.GitLabToken))
	}
	manager.TestConnections(ctx)

	queue := tasks.NewQueue(cache)
	gates := workflow.NewGateRegistry()
	registerDefaultGates(gates)
	engine := workflow.NewEngine(workflowRecorder, queue, gates, log, m)

	pool := tasks.NewPool(queue, cache, log, m)
	dispatcher := notify.NewDispatcher(log, m)
	notifyConfigs := buildNotifyConfigs(cfg.Notify)
	analyzer := analytics.NewAnalyzer(cache)
	predictor := analytics.NewPredictor()
	optimizer := analytics.NewOptimizer()

	pool.Handle("workflow_execution", func(ctx context.Context, task tasks.Task) error {
		return nil // audit record only; the engine already ran the stage synchronously
	})
	pool.Handle("data_retention_cleanup", func(ctx context.Context, task tasks.Task) error {
		if retention == nil {
			return nil
		}
		_, err := retention.Cleanup(ctx, false, nil)
		return err
	})
	go pool.Run(ctx, []string{tasks.QueueWorkflow, tasks.QueueAnalytics, tasks.QueueMonitoring, tasks.QueueNotifications}, 2)

	scheduler := tasks.NewScheduler(queue, log)
	if err := scheduler.Load(tasks.DefaultSchedule); err != nil {
		log.WithContext(ctx).WithError(err).Error("load default schedule failed")
	}
	scheduler.Start()
	defer scheduler.Stop()

	emitter.On(domain.EventCommit, func(ctx context.Context, event domain.Event) error {
		def := workflow.DefaultDefinitionFromEvent(event)
		if err := engine.RegisterDefinition(def); err != nil {
			return err
		}
		executionID := fmt.Sprintf("exec-%s-%d", event.CommitHash, time.Now().UnixNano())
		stats.beginExecution()
		exec, err := engine.Execute(ctx, def.ID, executionID, "git_poller", "production", map[string]interface{}{
			"commit": event.CommitHash,
		}, defaultStageRunners())
		if err != nil {
			stats.endExecution(false)
			return err
		}
		stats.endExecution(exec.Status == domain.ExecCompleted)
		dispatcher.WorkflowNotification(ctx, notifyConfigs, *exec)
		return nil
	})

	source := dashboardSource{stats: stats}
	snapshotter := dashboard.NewSnapshotter(source, cache)
	hub := dashboard.NewHub(snapshotter, log)
	go hub.Run(ctx)
	go watchAlerts(ctx, snapshotter, dispatcher, notifyConfigs)

	webhookEngine := gin.New()
	webhookEngine.Use(gin.Recovery())
	receiver.RegisterRoutes(webhookEngine)

	dashboardEngine := gin.New()
	dashboardEngine.Use(gin.Recovery())
	dashboardEngine.GET("/dashboard/snapshot", func(c *gin.Context) {
		snap := snapshotter.Take(c.Request.Context())
		c.JSON(http.StatusOK, dashboard.Payload{Snapshot: snap, Alerts: dashboard.DeriveAlerts(snap)})
	})
	dashboardEngine.GET("/dashboard/analytics/:pipelineID", func(c *gin.Context) {
		report := analyzer.PerformanceReport(c.Request.Context(), "", c.Param("pipelineID"), 7, nil)
		c.JSON(http.StatusOK, report)
	})
	dashboardEngine.GET("/dashboard/predict/:pipelineID", func(c *gin.Context) {
		c.JSON(http.StatusOK, predictor.PredictFailure(analytics.FeatureVector{}))
	})
	dashboardEngine.GET("/dashboard/optimize/:repository", func(c *gin.Context) {
		report := manager.OptimizePipelineExecution(c.Param("repository"))
		recs := make([]analytics.Recommendation, 0, len(report.Recommendations))
		for _, r := range report.Recommendations {
			effort := analytics.EffortMedium
			if r.Priority == "low" {
				effort = analytics.EffortLow
			} else if r.Priority == "high" {
				effort = analytics.EffortHigh
			}
			recs = append(recs, analytics.Recommendation{
				Platform:             "all",
				PipelineID:           report.Repository,
				Type:                 r.Type,
				Effort:               effort,
				ExpectedImprovement:  0.15,
			})
		}
		c.JSON(http.StatusOK, optimizer.Apply(recs))
	})
	dashboardEngine.GET("/ws", gin.WrapF(hub.ServeWS))
	dashboardEngine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	servers := []*http.Server{
		{Addr: cfg.HTTP.WebhookAddr, Handler: webhookEngine},
		{Addr: cfg.HTTP.DashboardAddr, Handler: dashboardEngine},
		{Addr: cfg.HTTP.MetricsAddr, Handler: metricsMux},
	}
	for _, srv := range servers {
		srv := srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithContext(ctx).WithError(err).Error(fmt.Sprintf("http server %s exited", srv.Addr))
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
}

var trackedEventKinds = []domain.EventKind{
	domain.EventCommit, domain.EventPush, domain.EventBranchCreate, domain.EventBranchDelete,
	domain.EventMerge, domain.EventTagCreate, domain.EventTagDelete, domain.EventPullRequest,
	domain.EventFork, domain.EventWebhookRaw,
}

var trackedWebhookSources = []domain.WebhookSource{
	domain.SourceGitHub, domain.SourceGitLab, domain.SourceJenkins, domain.SourceAzureDevOps,
	domain.SourceCircleCI, domain.SourceBitbucket, domain.SourceGeneric,
}

func defaultWebhookEndpoints() []domain.WebhookConfig {
	return []domain.WebhookConfig{
		{Path: "/webhook/github", Source: domain.SourceGitHub, Enabled: true, VerifySignature: os.Getenv("GITHUB_WEBHOOK_SECRET") != "", Secret: os.Getenv("GITHUB_WEBHOOK_SECRET")},
		{Path: "/webhook/gitlab", Source: domain.SourceGitLab, Enabled: true, VerifySignature: os.Getenv("GITLAB_WEBHOOK_SECRET") != "", Secret: os.Getenv("GITLAB_WEBHOOK_SECRET")},
		{Path: "/webhook/jenkins", Source: domain.SourceJenkins, Enabled: true, VerifySignature: os.Getenv("JENKINS_WEBHOOK_SECRET") != "", Secret: os.Getenv("JENKINS_WEBHOOK_SECRET")},
	}
}

func splitEnvList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildNotifyConfigs(n config.NotifyConfig) map[notify.Platform]notify.PlatformConfig {
	configs := make(map[notify.Platform]notify.PlatformConfig)
	if n.SlackWebhookURL != "" {
		configs[notify.PlatformSlack] = notify.PlatformConfig{WebhookURL: n.SlackWebhookURL}
	}
	if n.TeamsWebhookURL != "" {
		configs[notify.PlatformTeams] = notify.PlatformConfig{WebhookURL: n.TeamsWebhookURL}
	}
	if n.DiscordWebhookURL != "" {
		configs[notify.PlatformDiscord] = notify.PlatformConfig{WebhookURL: n.DiscordWebhookURL}
	}
	if n.SMTPHost != "" && n.EmailTo != "" {
		configs[notify.PlatformEmail] = notify.PlatformConfig{
			SMTPHost: n.SMTPHost, SMTPPort: n.SMTPPort, SMTPUser: n.SMTPUser, SMTPPassword: n.SMTPPassword,
			EmailFrom: n.EmailFrom, EmailTo: splitEnvList(n.EmailTo),
		}
	}
	return configs
}

// registerDefaultGates declares the quality gates available to workflow definitions by name.
func registerDefaultGates(gates *workflow.GateRegistry) {
	_ = gates.Register(domain.Gate{
		Name: "test_coverage_gate",
		Type: domain.GatePreMerge,
		Criteria: map[string]domain.Criterion{
			"coverage_percent": {Operator: ">=", Value: 80},
			"tests_passed":     {Operator: "==", Value: 1},
		},
		IsActive:   true,
		Bypassable: true,
	})
	_ = gates.Register(domain.Gate{
		Name: "deploy_readiness_gate",
		Type: domain.GatePreDeploy,
		Criteria: map[string]domain.Criterion{
			"build_succeeded": {Operator: "==", Value: 1},
		},
		IsActive:   true,
		Bypassable: false,
	})
}

// defaultStageRunners provides placeholder stage execution for the deploy-on-commit definition
// until a real build/test/deploy executor is wired (§4.G leaves the runner contract to the
// embedding application).
func defaultStageRunners() map[string]workflow.StageRunner {
	runner := func(ctx context.Context, node *domain.Node, execCtx map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{
			"build_succeeded":  1.0,
			"tests_passed":     1.0,
			"coverage_percent": 85.0,
		}, nil
	}
	return map[string]workflow.StageRunner{
		"build":  runner,
		"test":   runner,
		"deploy": runner,
	}
}

// watchAlerts polls the same figures the dashboard streams and notifies configured platforms the
// moment a critical or error-level alert first appears, staying silent while it persists or once
// it clears so a stuck threshold breach pages once rather than every tick.
func watchAlerts(ctx context.Context, snapshotter *dashboard.Snapshotter, dispatcher *notify.Dispatcher, configs map[notify.Platform]notify.PlatformConfig) {
	ticker := time.NewTicker(dashboard.StreamInterval)
	defer ticker.Stop()
	active := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := snapshotter.Take(ctx)
			seen := make(map[string]bool, len(active))
			for _, alert := range dashboard.DeriveAlerts(snap) {
				if alert.Level != dashboard.AlertCritical && alert.Level != dashboard.AlertError {
					continue
				}
				seen[alert.Name] = true
				if !active[alert.Name] {
					dispatcher.AlertNotification(ctx, configs, alert.Name, string(alert.Level), alert.Detail)
				}
			}
			active = seen
		}
	}
}

type runtimeStats struct {
	eventsTotal       int64
	webhooksTotal     int64
	lastEventAtUnix   int64
	activeExecutions  int64
	workflowTotal     int64
	workflowSuccess   int64
	monitoringActive  atomic.Bool
}

func newRuntimeStats() *runtimeStats { return &runtimeStats{} }

func (s *runtimeStats) onEvent(ctx context.Context, event domain.Event) error {
	atomic.AddInt64(&s.eventsTotal, 1)
	atomic.StoreInt64(&s.lastEventAtUnix, time.Now().Unix())
	return nil
}

func (s *runtimeStats) onWebhook(c *gin.Context, event domain.WebhookEvent) {
	atomic.AddInt64(&s.webhooksTotal, 1)
}

func (s *runtimeStats) beginExecution() { atomic.AddInt64(&s.activeExecutions, 1) }

func (s *runtimeStats) endExecution(success bool) {
	atomic.AddInt64(&s.activeExecutions, -1)
	atomic.AddInt64(&s.workflowTotal, 1)
	if success {
		atomic.AddInt64(&s.workflowSuccess, 1)
	}
}

type dashboardSource struct {
	stats *runtimeStats
}

func (d dashboardSource) GitFigures(ctx context.Context) dashboard.GitFigures {
	last := atomic.LoadInt64(&d.stats.lastEventAtUnix)
	var lastAt time.Time
	if last > 0 {
		lastAt = time.Unix(last, 0).UTC()
	}
	return dashboard.GitFigures{
		EventsLastHour:   atomic.LoadInt64(&d.stats.eventsTotal),
		WebhooksLastHour: atomic.LoadInt64(&d.stats.webhooksTotal),
		LastEventAt:      lastAt,
		MonitoringActive: d.stats.monitoringActive.Load(),
	}
}

func (d dashboardSource) WebhooksTotal(ctx context.Context) int64 {
	return atomic.LoadInt64(&d.stats.webhooksTotal)
}

func (d dashboardSource) WorkflowFigures(ctx context.Context) dashboard.WorkflowFigures {
	total := atomic.LoadInt64(&d.stats.workflowTotal)
	success := atomic.LoadInt64(&d.stats.workflowSuccess)
	rate := 1.0
	if total > 0 {
		rate = float64(success) / float64(total)
	}
	return dashboard.WorkflowFigures{
		ActiveExecutions: int(atomic.LoadInt64(&d.stats.activeExecutions)),
		SuccessRate:      rate,
	}
}
