package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
)

// WebhookHandler is invoked for every webhook event of a registered source, after normalization.
type WebhookHandler func(ctx *gin.Context, event domain.WebhookEvent)

// Receiver is the HTTP endpoint registry mapping path -> webhook configuration.
type Receiver struct {
	store   kv.Store
	emitter *Emitter
	log     *logging.Logger

	mu       sync.RWMutex
	configs  map[string]domain.WebhookConfig
	handlers map[domain.WebhookSource][]WebhookHandler
	counts   map[domain.WebhookSource]int64
}

// NewReceiver builds a Receiver backed by store for mirrored persistence and emitter for
// forwarding parsed events into the ingestion pipeline.
func NewReceiver(store kv.Store, emitter *Emitter, log *logging.Logger) *Receiver {
	return &Receiver{
		store:    store,
		emitter:  emitter,
		log:      log,
		configs:  make(map[string]domain.WebhookConfig),
		handlers: make(map[domain.WebhookSource][]WebhookHandler),
		counts:   make(map[domain.WebhookSource]int64),
	}
}

// RegisterEndpoint adds a webhook configuration at the given path.
func (r *Receiver) RegisterEndpoint(cfg domain.WebhookConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Path] = cfg
}

// OnSource registers a handler invoked for every webhook event from the given source.
func (r *Receiver) OnSource(source domain.WebhookSource, h WebhookHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[source] = append(r.handlers[source], h)
}

// RegisterRoutes wires /webhook/:source and /webhook onto the given gin engine.
func (r *Receiver) RegisterRoutes(engine *gin.Engine) {
	engine.POST("/webhook/:source", r.handle)
	engine.POST("/webhook", r.handle)
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	engine.GET("/status", r.status)
}

func (r *Receiver) handle(c *gin.Context) {
	path := c.Request.URL.Path
	r.mu.RLock()
	cfg, ok := r.configs[path]
	r.mu.RUnlock()
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	if !cfg.Enabled {
		c.Status(http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	if cfg.VerifySignature {
		if !r.verifySignature(cfg, c.Request.Header, body) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
			return
		}
	}

	eventType := sourceEventType(cfg.Source, c.Request.Header)
	webhookEvent := domain.WebhookEvent{
		Source:    cfg.Source,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   json.RawMessage(body),
		Headers:   flattenHeaders(c.Request.Header),
	}
	webhookEvent.ID = domain.WebhookID(cfg.Source, eventType, body)

	if event, ok := r.parse(cfg.Source, eventType, body); ok {
		if err := r.emitter.Emit(c.Request.Context(), event); err != nil {
			r.log.WithContext(c.Request.Context()).WithError(err).Error("forward webhook event to emitter failed")
		}
	}

	r.mu.RLock()
	handlers := append([]WebhookHandler(nil), r.handlers[cfg.Source]...)
	r.mu.RUnlock()
	for _, h := range handlers {
		h(c, webhookEvent)
	}

	r.mu.Lock()
	r.counts[cfg.Source]++
	r.mu.Unlock()

	if err := r.mirror(c.Request.Context(), webhookEvent); err != nil {
		r.log.WithContext(c.Request.Context()).WithError(err).Warn("mirror webhook event failed")
	}

	c.Status(http.StatusOK)
}

func (r *Receiver) verifySignature(cfg domain.WebhookConfig, header http.Header, body []byte) bool {
	switch cfg.Source {
	case domain.SourceGitHub:
		return VerifyGitHub(body, header.Get("X-Hub-Signature-256"), cfg.Secret)
	case domain.SourceGitLab:
		return VerifyGitLab(header.Get("X-Gitlab-Token"), cfg.Secret)
	case domain.SourceJenkins:
		return VerifyJenkins(body, header.Get("X-Jenkins-Signature"), cfg.Secret)
	default:
		return true // unknown sources accept unconditionally
	}
}

func (r *Receiver) parse(source domain.WebhookSource, eventType string, body []byte) (domain.Event, bool) {
	switch source {
	case domain.SourceGitHub:
		return ParseGitHub(eventType, body)
	case domain.SourceGitLab:
		return ParseGitLab(eventType, body)
	case domain.SourceJenkins:
		return ParseJenkins(body)
	default:
		return domain.Event{}, false
	}
}

func sourceEventType(source domain.WebhookSource, header http.Header) string {
	switch source {
	case domain.SourceGitHub:
		return header.Get("X-GitHub-Event")
	case domain.SourceGitLab:
		return header.Get("X-Gitlab-Event")
	case domain.SourceJenkins:
		return "build"
	default:
		return ""
	}
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k := range header {
		out[k] = header.Get(k)
	}
	return out
}

func (r *Receiver) mirror(ctx context.Context, event domain.WebhookEvent) error {
	key := fmt.Sprintf("webhooks:%s:%s", event.Source, event.ID)
	if err := r.store.Set(ctx, key, event, webhookTTL); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	streamKey := fmt.Sprintf("webhooks:stream:%s", event.Source)
	_, err = r.store.XAdd(ctx, streamKey, webhookStreamMax, map[string]string{
		"webhook_id": event.ID,
		"event_type": event.EventType,
		"payload":    string(payload),
	})
	return err
}

func (r *Receiver) status(c *gin.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoints := make(map[string]gin.H, len(r.configs))
	handlersRegistered := make(map[string]int, len(r.handlers))
	for path, cfg := range r.configs {
		endpoints[path] = gin.H{
			"source":           cfg.Source,
			"enabled":          cfg.Enabled,
			"verify_signature": cfg.VerifySignature,
			"supported_events": cfg.AcceptedKinds,
		}
	}
	for source, hs := range r.handlers {
		handlersRegistered[string(source)] = len(hs)
	}
	resp := gin.H{
		"configured_endpoints": len(r.configs),
		"endpoints":            endpoints,
		"handlers_registered":  handlersRegistered,
	}
	for source, count := range r.counts {
		resp[fmt.Sprintf("%s_events_count", source)] = count
	}
	c.JSON(http.StatusOK, resp)
}
