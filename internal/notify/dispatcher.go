// Package notify implements notification dispatch (component J): per-platform sends, multi-
// platform fan-out, and workflow/alert/digest composers, grounded on
// original_source/kirolinter/notifications/notification_manager.py.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/kirolinter/devops-orchestrator/internal/notify/formatters"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
	"github.com/kirolinter/devops-orchestrator/internal/platform/metrics"
)

// Platform enumerates the notification channels this dispatcher can reach.
type Platform string

const (
	PlatformSlack   Platform = "slack"
	PlatformTeams   Platform = "teams"
	PlatformDiscord Platform = "discord"
	PlatformEmail   Platform = "email"
	PlatformWebhook Platform = "webhook"
)

// PlatformConfig carries the per-platform destination details. Only the fields relevant to the
// target Platform need be set.
type PlatformConfig struct {
	WebhookURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
	EmailTo      []string
}

// SendResult is send_notification's return shape.
type SendResult struct {
	Success   bool      `json:"success"`
	Platform  Platform  `json:"platform"`
	MessageID string    `json:"message_id,omitempty"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}

// Dispatcher sends formatted notifications to one or more platforms. It carries no state beyond
// its HTTP client and is safe for concurrent use.
type Dispatcher struct {
	httpClient *http.Client
	log        *logging.Logger
	metrics    *metrics.Metrics
}

// NewDispatcher builds a Dispatcher with a bounded-timeout HTTP client.
func NewDispatcher(log *logging.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
		metrics:    m,
	}
}

// Send delivers msg to one platform per cfg, returning a SendResult that never carries an error
// value alongside Success=true.
func (d *Dispatcher) Send(ctx context.Context, platform Platform, cfg PlatformConfig, msg formatters.Message) SendResult {
	result := SendResult{Platform: platform, SentAt: time.Now().UTC()}

	var err error
	switch platform {
	case PlatformSlack:
		err = d.postJSON(ctx, cfg.WebhookURL, formatters.Slack(msg))
	case PlatformTeams:
		err = d.postJSON(ctx, cfg.WebhookURL, formatters.Teams(msg))
	case PlatformDiscord:
		err = d.postJSON(ctx, cfg.WebhookURL, formatters.Discord(msg))
	case PlatformWebhook:
		err = d.postJSON(ctx, cfg.WebhookURL, formatters.Generic(msg))
	case PlatformEmail:
		err = sendEmail(cfg, msg)
	default:
		err = fmt.Errorf("unknown notification platform %q", platform)
	}

	if err != nil {
		result.Error = err.Error()
		if d.log != nil {
			d.log.WithContext(ctx).WithError(err).Warn(fmt.Sprintf("notification send failed: platform=%s", platform))
		}
		return result
	}

	result.Success = true
	result.MessageID = uuid.NewString()
	return result
}

func (d *Dispatcher) postJSON(ctx context.Context, url string, payload interface{}) error {
	if url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}

func sendEmail(cfg PlatformConfig, msg formatters.Message) error {
	if cfg.SMTPHost == "" || len(cfg.EmailTo) == 0 {
		return fmt.Errorf("email platform not configured")
	}
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	subject := formatters.EmailSubject(msg)
	body := formatters.EmailBody(msg)
	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", cfg.EmailFrom, joinAddrs(cfg.EmailTo), subject, body)
	return smtp.SendMail(addr, auth, cfg.EmailFrom, cfg.EmailTo, []byte(raw))
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

// MultiResult is send_multi_platform's return shape.
type MultiResult struct {
	OverallSuccess bool                    `json:"overall_success"`
	SuccessRate    float64                 `json:"success_rate"`
	Results        map[Platform]SendResult `json:"results"`
}

// SendMultiPlatform sends msg to every platform in configs sequentially, per the distilled
// spec's ordering guarantee (no interleaved partial state across platforms).
func (d *Dispatcher) SendMultiPlatform(ctx context.Context, configs map[Platform]PlatformConfig, msg formatters.Message) MultiResult {
	results := make(map[Platform]SendResult, len(configs))
	successCount := 0
	for platform, cfg := range configs {
		result := d.Send(ctx, platform, cfg, msg)
		results[platform] = result
		if result.Success {
			successCount++
		}
		if d.metrics != nil {
			status := "success"
			if !result.Success {
				status = "failure"
			}
			d.metrics.NotificationsSentTotal.WithLabelValues(string(platform), status).Inc()
		}
	}
	successRate := 0.0
	if len(configs) > 0 {
		successRate = float64(successCount) / float64(len(configs))
	}
	return MultiResult{
		OverallSuccess: successCount > 0,
		SuccessRate:    successRate,
		Results:        results,
	}
}
