package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackguard/internal/api"
	"stackguard/internal/hw"
	"stackguard/internal/rpc"
	"stackguard/internal/security"
)

func newTestServer(t *testing.T) (*security.Controller, *httptest.Server) {
	t.Helper()

	ctrl, err := security.New(security.Options{
		UnitName: "garage",
		Sensors:  []security.SensorSpec{{Name: "Door", Kind: security.Reed, Pin: "door"}},
		GPIO:     hw.NewSimGPIO(),
	})
	require.NoError(t, err)

	server := api.NewServer(api.Options{Version: "v1", Local: rpc.NewLocalEndpoint(ctrl)})
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ctrl, ts
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestCtlArmAndStatus(t *testing.T) {
	ctrl, ts := newTestServer(t)

	_, err := execute(t, "ctl", "--url", ts.URL, "arm")
	require.NoError(t, err)
	assert.True(t, ctrl.Status())

	out, err := execute(t, "ctl", "--url", ts.URL, "status")
	require.NoError(t, err)
	var state map[string]bool
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, map[string]bool{"status": true, "alarm": false}, state)

	_, err = execute(t, "ctl", "--url", ts.URL, "alarm", "on")
	require.NoError(t, err)
	assert.True(t, ctrl.Alarm())

	_, err = execute(t, "ctl", "--url", ts.URL, "disarm")
	require.NoError(t, err)
	assert.False(t, ctrl.Status())
	assert.False(t, ctrl.Alarm(), "disarming clears the alarm")
}

func TestCtlSensors(t *testing.T) {
	_, ts := newTestServer(t)

	out, err := execute(t, "ctl", "--url", ts.URL, "sensors")
	require.NoError(t, err)

	var sensors []rpc.SensorView
	require.NoError(t, json.Unmarshal([]byte(out), &sensors))
	require.Len(t, sensors, 1)
	assert.Equal(t, "Door", sensors[0].Name)
}

func TestCtlProbeUnreachable(t *testing.T) {
	_, ts := newTestServer(t)
	url := ts.URL
	ts.Close()

	_, err := execute(t, "ctl", "--url", url, "--timeout", "200ms", "probe")
	assert.ErrorIs(t, err, rpc.ErrCallFailed)
}

func TestCtlWrongVersion(t *testing.T) {
	_, ts := newTestServer(t)

	_, err := execute(t, "ctl", "--url", ts.URL, "--api-version", "v9", "status")
	assert.ErrorIs(t, err, rpc.ErrCallFailed)
}

func TestParseSwitch(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{"off", false, false},
		{"true", true, false},
		{"0", false, false},
		{"maybe", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSwitch(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
