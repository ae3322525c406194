package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestDeriveAlertsFlagsEveryBreach(t *testing.T) {
	snap := Snapshot{
		System:         SystemFigures{CPUPercent: 95, MemPercent: 90, DiskPercent: 92},
		CacheConnected: false,
		Workflow:       WorkflowFigures{ActiveExecutions: 3, SuccessRate: 0.5},
		Git:            GitFigures{MonitoringActive: false},
	}
	alerts := DeriveAlerts(snap)

	names := make(map[string]AlertLevel, len(alerts))
	for _, a := range alerts {
		names[a.Name] = a.Level
	}

	require.Equal(t, AlertWarning, names["high_cpu"])
	require.Equal(t, AlertWarning, names["high_memory"])
	require.Equal(t, AlertCritical, names["high_disk"])
	require.Equal(t, AlertError, names["cache_store_disconnected"])
	require.Equal(t, AlertWarning, names["low_workflow_success_rate"])
	require.Equal(t, AlertWarning, names["git_monitoring_inactive"])
}

func TestDeriveAlertsReturnsNoneWhenHealthy(t *testing.T) {
	snap := Snapshot{
		System:         SystemFigures{CPUPercent: 10, MemPercent: 20, DiskPercent: 30},
		CacheConnected: true,
		Workflow:       WorkflowFigures{ActiveExecutions: 5, SuccessRate: 0.95},
		Git:            GitFigures{MonitoringActive: true},
	}
	require.Empty(t, DeriveAlerts(snap))
}

func TestDeriveAlertsIgnoresSuccessRateWhenNoExecutions(t *testing.T) {
	snap := Snapshot{Workflow: WorkflowFigures{ActiveExecutions: 0, SuccessRate: 0}}
	for _, a := range DeriveAlerts(snap) {
		require.NotEqual(t, "low_workflow_success_rate", a.Name)
	}
}

type fakeSource struct {
	git      GitFigures
	webhooks int64
	workflow WorkflowFigures
}

func (f fakeSource) GitFigures(ctx context.Context) GitFigures          { return f.git }
func (f fakeSource) WebhooksTotal(ctx context.Context) int64            { return f.webhooks }
func (f fakeSource) WorkflowFigures(ctx context.Context) WorkflowFigures { return f.workflow }

func TestSnapshotterComposesFromSource(t *testing.T) {
	src := fakeSource{
		git:      GitFigures{EventsLastHour: 12, MonitoringActive: true},
		webhooks: 99,
		workflow: WorkflowFigures{ActiveExecutions: 2, SuccessRate: 0.9},
	}
	snapshotter := NewSnapshotter(src, nil)
	snap := snapshotter.Take(context.Background())

	require.Equal(t, int64(12), snap.Git.EventsLastHour)
	require.Equal(t, int64(99), snap.Webhooks)
	require.Equal(t, 0.9, snap.Workflow.SuccessRate)
	require.False(t, snap.TakenAt.IsZero())
}

func TestHubBroadcastsSnapshotToConnectedClient(t *testing.T) {
	src := fakeSource{workflow: WorkflowFigures{ActiveExecutions: 1, SuccessRate: 1}}
	snapshotter := NewSnapshotter(src, nil)
	hub := NewHub(snapshotter, nil)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "snapshot")
}
