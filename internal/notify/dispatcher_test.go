package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/notify/formatters"
)

func TestSendSlackSucceedsAgainstWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(nil, nil)
	result := d.Send(context.Background(), PlatformSlack, PlatformConfig{WebhookURL: server.URL}, formatters.Message{Title: "t", Body: "b"})
	require.True(t, result.Success)
	require.NotEmpty(t, result.MessageID)
}

func TestSendFailsWithoutWebhookURL(t *testing.T) {
	d := NewDispatcher(nil, nil)
	result := d.Send(context.Background(), PlatformDiscord, PlatformConfig{}, formatters.Message{Title: "t"})
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
}

func TestSendFailsOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewDispatcher(nil, nil)
	result := d.Send(context.Background(), PlatformTeams, PlatformConfig{WebhookURL: server.URL}, formatters.Message{Title: "t"})
	require.False(t, result.Success)
}

func TestSendMultiPlatformReportsPartialSuccess(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	d := NewDispatcher(nil, nil)
	configs := map[Platform]PlatformConfig{
		PlatformSlack:   {WebhookURL: good.URL},
		PlatformDiscord: {},
	}
	result := d.SendMultiPlatform(context.Background(), configs, formatters.Message{Title: "t", Body: "b"})
	require.True(t, result.OverallSuccess)
	require.InDelta(t, 0.5, result.SuccessRate, 0.001)
	require.True(t, result.Results[PlatformSlack].Success)
	require.False(t, result.Results[PlatformDiscord].Success)
}

func TestWorkflowNotificationMapsFailedToErrorSeverity(t *testing.T) {
	var received []byte
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	d := NewDispatcher(nil, nil)
	exec := domain.Execution{ExecutionID: "e1", DefinitionID: "d1", Status: domain.ExecFailed, TriggeredBy: "bot", Environment: "prod"}
	result := d.WorkflowNotification(context.Background(), map[Platform]PlatformConfig{PlatformSlack: {WebhookURL: good.URL}}, exec)
	require.True(t, result.OverallSuccess)
	// Slack renders SeverityError with the error emoji.
	require.Contains(t, string(received), "❌")
}

func TestFormattersProduceExpectedShapes(t *testing.T) {
	msg := formatters.Message{Title: "Deploy failed", Body: "build 42 broke", Severity: formatters.SeverityCritical, Fields: map[string]string{"env": "prod"}}

	slack := formatters.Slack(msg)
	require.Contains(t, slack, "blocks")

	teams := formatters.Teams(msg)
	require.Equal(t, "D92626", teams["themeColor"])

	discord := formatters.Discord(msg)
	embeds := discord["embeds"].([]map[string]interface{})
	require.Equal(t, 0xD92626, embeds[0]["color"])

	require.Equal(t, "[CRITICAL] Deploy failed", formatters.EmailSubject(msg))
}
