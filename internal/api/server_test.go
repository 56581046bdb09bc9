package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackguard/internal/events"
	"stackguard/internal/hw"
	"stackguard/internal/metrics"
	"stackguard/internal/rpc"
	"stackguard/internal/security"
	"stackguard/internal/stack"
)

type testUnit struct {
	ctrl   *security.Controller
	gpio   *hw.SimGPIO
	events *events.Store
	server *Server
}

func newTestUnit(t *testing.T) *testUnit {
	t.Helper()

	gpio := hw.NewSimGPIO()
	store := events.NewStore(50)
	ctrl, err := security.New(security.Options{
		UnitName: "hall",
		Sensors: []security.SensorSpec{
			{Name: "FrontDoor", Kind: security.Reed, Pin: "door", TriggersAlarm: true},
			{Name: "Hall", Kind: security.PIR, Pin: "pir"},
		},
		Outputs: security.Outputs{StatusLED: "led"},
		GPIO:    gpio,
		Events:  store,
	})
	require.NoError(t, err)

	local := rpc.NewLocalEndpoint(ctrl)
	router := rpc.NewRouter(local, nil)
	m := metrics.New()
	return &testUnit{
		ctrl:   ctrl,
		gpio:   gpio,
		events: store,
		server: NewServer(Options{
			Version:  "v1",
			Local:    local,
			Registry: stack.NewRegistry("hall", router, nil, nil),
			Router:   router,
			Events:   store,
			Metrics:  m.Handler(),
		}),
	}
}

func (u *testUnit) get(t *testing.T, target string) (int, map[string]interface{}) {
	t.Helper()

	rec := httptest.NewRecorder()
	u.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestProbe(t *testing.T) {
	u := newTestUnit(t)

	code, body := u.get(t, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["result"])
}

func TestSecurityCommands(t *testing.T) {
	u := newTestUnit(t)

	code, body := u.get(t, "/api/v1/security?cmd=status_get")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"result": true, "status": false}, body)

	code, body = u.get(t, "/api/v1/security?cmd=status_set&status=true")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"result": true}, body)
	assert.True(t, u.ctrl.Status())

	_, body = u.get(t, "/api/v1/security?cmd=alarm_set&alarm=true")
	assert.Equal(t, true, body["result"])
	assert.True(t, u.ctrl.Alarm())

	_, body = u.get(t, "/api/v1/security?cmd=alarm_get")
	assert.Equal(t, map[string]interface{}{"result": true, "alarm": true}, body)

	_, body = u.get(t, "/api/v1/security?cmd=sensors_get")
	assert.Equal(t, true, body["result"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"name": "FrontDoor", "type": float64(0), "detected": false},
		map[string]interface{}{"name": "Hall", "type": float64(2), "detected": false},
	}, body["sensors"])
}

func TestSecurityFailures(t *testing.T) {
	u := newTestUnit(t)

	tests := []struct {
		name   string
		target string
	}{
		{"unknown command", "/api/v1/security?cmd=reboot"},
		{"missing command", "/api/v1/security"},
		{"bad status", "/api/v1/security?cmd=status_set&status=maybe"},
		{"missing alarm", "/api/v1/security?cmd=alarm_set"},
		{"wrong version", "/api/v2/security?cmd=status_get"},
		{"wrong version stack", "/api/v9/stack"},
		{"wrong version stack sensors", "/api/v9/stack/sensors"},
		{"wrong version events", "/api/v9/events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := u.get(t, tt.target)
			assert.Equal(t, http.StatusForbidden, code)
			assert.Equal(t, false, body["result"])
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.False(t, u.ctrl.Status())
}

func TestStackViews(t *testing.T) {
	u := newTestUnit(t)

	code, body := u.get(t, "/api/v1/stack")
	require.Equal(t, http.StatusOK, code)
	units := body["units"].([]interface{})
	require.Len(t, units, 1)
	assert.Equal(t, "hall", units[0].(map[string]interface{})["name"])
	assert.Equal(t, true, units[0].(map[string]interface{})["active"])

	code, body = u.get(t, "/api/v1/stack/sensors")
	require.Equal(t, http.StatusOK, code)
	units = body["units"].([]interface{})
	require.Len(t, units, 1)
	assert.Len(t, units[0].(map[string]interface{})["sensors"], 2)
}

func TestEventsList(t *testing.T) {
	u := newTestUnit(t)
	u.ctrl.SetStatus(true, false)
	u.ctrl.SetStatus(false, false)

	code, body := u.get(t, "/api/v1/events?limit=1")
	require.Equal(t, http.StatusOK, code)
	list := body["events"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, string(events.EventDisarmed), list[0].(map[string]interface{})["type"])
	assert.Equal(t, float64(2), body["lastId"])

	_, body = u.get(t, "/api/v1/events?since=1")
	assert.Len(t, body["events"], 1)

	_, body = u.get(t, "/api/v1/events?type=status_armed")
	list = body["events"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, float64(1), list[0].(map[string]interface{})["id"])

	_, body = u.get(t, "/api/v1/events?unit=garage")
	assert.Empty(t, body["events"])
}

func TestMetricsRoute(t *testing.T) {
	u := newTestUnit(t)

	rec := httptest.NewRecorder()
	u.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
