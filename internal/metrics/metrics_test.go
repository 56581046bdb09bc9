package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestObserveCall(t *testing.T) {
	m := New()

	m.ObserveCall("status_get", "local", nil)
	m.ObserveCall("status_get", "remote", errors.New("timeout"))
	m.ObserveCall("status_get", "remote", errors.New("timeout"))

	text := scrape(t, m)
	assert.Contains(t, text, `stackguard_rpc_calls_total{op="status_get",outcome="ok",target="local"} 1`)
	assert.Contains(t, text, `stackguard_rpc_calls_total{op="status_get",outcome="error",target="remote"} 2`)
}

func TestReconcileMetrics(t *testing.T) {
	m := New()

	m.ReconcilePass(5 * time.Millisecond)
	m.ReconcilePass(7 * time.Millisecond)
	m.ReconcilePush("status")

	text := scrape(t, m)
	assert.Contains(t, text, "stackguard_reconcile_passes_total 2")
	assert.Contains(t, text, `stackguard_reconcile_pushes_total{kind="status"} 1`)
	assert.Contains(t, text, "stackguard_reconcile_duration_seconds_count 2")
}

func TestWatchedGauges(t *testing.T) {
	m := New()
	armed := true
	m.WatchSecurity(func() bool { return armed }, func() bool { return false })
	m.WatchUnits(func() int { return 3 })
	m.WatchNotifications(func() int64 { return 4 }, func() int { return 1 })
	m.WatchMQTT(func() bool { return true })

	text := scrape(t, m)
	assert.Contains(t, text, "stackguard_armed 1")
	assert.Contains(t, text, "stackguard_alarm 0")
	assert.Contains(t, text, "stackguard_units_active 3")
	assert.Contains(t, text, "stackguard_notifications_dropped_total 4")
	assert.Contains(t, text, "stackguard_notifications_pending 1")
	assert.Contains(t, text, "stackguard_mqtt_connected 1")

	armed = false
	assert.Contains(t, scrape(t, m), "stackguard_armed 0")
}
