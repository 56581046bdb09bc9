package security

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stackguard/internal/hw"
	"stackguard/internal/worker"
)

// MonitorOptions configures a SensorMonitor
type MonitorOptions struct {
	Interval time.Duration
	// Window is the presence window length in ticks
	Window uint
	// Presence is the presence-read threshold per window
	Presence uint
}

// SensorMonitor polls sensor lines on a fixed cadence and feeds the reads
// into the controller
type SensorMonitor struct {
	ctrl     *Controller
	gpio     hw.GPIO
	logger   *zap.Logger
	interval time.Duration
	window   uint
	presence uint

	// owned by the monitor goroutine
	ticks   uint
	failing map[string]bool
}

// NewSensorMonitor creates a monitor. Zero options select the defaults.
func NewSensorMonitor(ctrl *Controller, gpio hw.GPIO, opts MonitorOptions, logger *zap.Logger) *SensorMonitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Window == 0 {
		opts.Window = WindowTicks
	}
	if opts.Presence == 0 {
		opts.Presence = PresenceTicks
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SensorMonitor{
		ctrl:     ctrl,
		gpio:     gpio,
		logger:   logger,
		interval: opts.Interval,
		window:   opts.Window,
		presence: opts.Presence,
		failing:  make(map[string]bool),
	}
}

// Name implements worker.Task
func (m *SensorMonitor) Name() string { return "sensor-monitor" }

// Run polls until ctx is cancelled
func (m *SensorMonitor) Run(ctx context.Context) error {
	worker.RunPeriodic(ctx, m.interval, m.logger, m.Name(), func(context.Context) error {
		m.Tick()
		return nil
	})
	return nil
}

// Tick performs one polling round. Sensors already detected are skipped.
// A failed read leaves the sensor unchanged; failures are logged on the
// error and recovery edges only.
func (m *SensorMonitor) Tick() {
	m.ticks++

	for _, ref := range m.ctrl.pendingSensors() {
		level, err := m.gpio.Read(ref.pin)
		if err != nil {
			if !m.failing[ref.name] {
				m.failing[ref.name] = true
				m.logger.Error("Sensor read failed",
					zap.String("sensor", ref.name), zap.String("pin", ref.pin), zap.Error(err))
			}
			continue
		}
		if m.failing[ref.name] {
			delete(m.failing, ref.name)
			m.logger.Info("Sensor read recovered", zap.String("sensor", ref.name))
		}

		m.ctrl.observeSensor(ref.name, level)
	}

	if m.ticks%m.window == 0 {
		m.ctrl.closeSensorWindows(m.presence)
	}
}
