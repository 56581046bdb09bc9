package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"stackguard/internal/events"
)

func detected(c *Controller, name string) bool {
	for _, s := range c.Sensors() {
		if s.Name == name {
			return s.Detected
		}
	}
	return false
}

func TestFrontDoorOpenWhileArmed(t *testing.T) {
	h := newHarness(t, SensorSpec{
		Name: "FrontDoor", Kind: Reed, Pin: "door",
		NotifyTelegram: true, TriggersAlarm: true,
	})
	h.gpio.set("door", true)
	m := NewSensorMonitor(h.ctrl, h.gpio, MonitorOptions{}, nil)

	require.True(t, h.ctrl.SetStatus(true, true))
	m.Tick()
	assert.False(t, detected(h.ctrl, "FrontDoor"))

	h.gpio.set("door", false)
	m.Tick()

	assert.True(t, detected(h.ctrl, "FrontDoor"))
	assert.True(t, h.ctrl.Alarm())

	msgs := h.outbox.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hall: sensor FrontDoor triggered", msgs[1].Text)
	assert.True(t, msgs[1].Telegram)
	assert.False(t, msgs[1].SMS)
}

func TestReedDetectsOnSingleLowRead(t *testing.T) {
	h := newHarness(t, SensorSpec{Name: "window", Kind: Reed, Pin: "w"})
	m := NewSensorMonitor(h.ctrl, h.gpio, MonitorOptions{}, nil)

	m.Tick()
	assert.True(t, detected(h.ctrl, "window"))

	// detected sensors are not polled again
	m.Tick()
	m.Tick()
	assert.Equal(t, 1, h.gpio.readCount("w"))
}

func TestCountingSensorRejectsTransientRead(t *testing.T) {
	h := newHarness(t, SensorSpec{Name: "hall-pir", Kind: PIR, Pin: "pir", TriggersAlarm: true})
	m := NewSensorMonitor(h.ctrl, h.gpio, MonitorOptions{}, nil)
	require.True(t, h.ctrl.SetStatus(true, false))

	h.gpio.set("pir", true)
	m.Tick()
	h.gpio.set("pir", false)
	for i := 1; i < WindowTicks*2; i++ {
		m.Tick()
	}

	assert.False(t, detected(h.ctrl, "hall-pir"))
	assert.False(t, h.ctrl.Alarm())
}

func TestCountingSensorDetectsSustainedPresence(t *testing.T) {
	h := newHarness(t, SensorSpec{Name: "hall-pir", Kind: PIR, Pin: "pir", TriggersAlarm: true, NotifySMS: true})
	m := NewSensorMonitor(h.ctrl, h.gpio, MonitorOptions{}, nil)
	require.True(t, h.ctrl.SetStatus(true, false))

	h.gpio.set("pir", true)
	for i := 0; i < PresenceTicks; i++ {
		m.Tick()
	}
	h.gpio.set("pir", false)
	for i := PresenceTicks; i < WindowTicks-1; i++ {
		m.Tick()
	}
	assert.False(t, detected(h.ctrl, "hall-pir"), "detection waits for the window to close")

	m.Tick()
	assert.True(t, detected(h.ctrl, "hall-pir"))
	assert.True(t, h.ctrl.Alarm())

	msgs := h.outbox.messages()
	require.NotEmpty(t, msgs)
	assert.True(t, msgs[len(msgs)-1].SMS)
	assert.False(t, msgs[len(msgs)-1].Telegram)
}

func TestMicrowaveCountsLowReads(t *testing.T) {
	h := newHarness(t, SensorSpec{Name: "garage", Kind: Microwave, Pin: "mw"})
	m := NewSensorMonitor(h.ctrl, h.gpio, MonitorOptions{Window: 4, Presence: 2}, nil)

	h.gpio.set("mw", true)
	for i := 0; i < 4; i++ {
		m.Tick()
	}
	assert.False(t, detected(h.ctrl, "garage"), "idle line is high")

	h.gpio.set("mw", false)
	for i := 0; i < 4; i++ {
		m.Tick()
	}
	assert.True(t, detected(h.ctrl, "garage"))
}

func TestDetectionWhileDisarmedDoesNotAlarm(t *testing.T) {
	h := newHarness(t, SensorSpec{Name: "door", Kind: Reed, Pin: "door", NotifyTelegram: true, TriggersAlarm: true})
	m := NewSensorMonitor(h.ctrl, h.gpio, MonitorOptions{}, nil)

	m.Tick()

	assert.True(t, detected(h.ctrl, "door"))
	assert.False(t, h.ctrl.Alarm())
	assert.Empty(t, h.outbox.messages())

	last := h.events.GetLast(1)
	require.Len(t, last, 1)
	assert.Equal(t, events.EventSensorDetected, last[0].Type)
}

func TestArmClearsDetection(t *testing.T) {
	h := newHarness(t, SensorSpec{Name: "door", Kind: Reed, Pin: "door"})
	m := NewSensorMonitor(h.ctrl, h.gpio, MonitorOptions{}, nil)

	m.Tick()
	require.True(t, detected(h.ctrl, "door"))

	require.True(t, h.ctrl.SetStatus(true, false))
	assert.False(t, detected(h.ctrl, "door"))
}

func TestReadFailureLeavesSensorUnchanged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := newHarness(t, SensorSpec{Name: "door", Kind: Reed, Pin: "door", TriggersAlarm: true})
	m := NewSensorMonitor(h.ctrl, h.gpio, MonitorOptions{}, zap.New(core))
	require.True(t, h.ctrl.SetStatus(true, false))

	h.gpio.fail["door"] = true
	m.Tick()
	m.Tick()
	m.Tick()

	assert.False(t, detected(h.ctrl, "door"))
	assert.False(t, h.ctrl.Alarm())
	assert.Equal(t, 1, logs.FilterMessage("Sensor read failed").Len())

	h.gpio.fail["door"] = false
	h.gpio.set("door", true)
	m.Tick()
	m.Tick()
	assert.Equal(t, 1, logs.FilterMessage("Sensor read recovered").Len())
}
