package rpc

import (
	"context"
	"fmt"

	"stackguard/internal/security"
)

// Endpoint is the security surface of one unit. All failures wrap ErrCallFailed.
type Endpoint interface {
	Probe(ctx context.Context) error
	StatusSet(ctx context.Context, armed bool) error
	StatusGet(ctx context.Context) (bool, error)
	AlarmSet(ctx context.Context, active bool) error
	AlarmGet(ctx context.Context) (bool, error)
	SensorsGet(ctx context.Context) ([]SensorView, error)
}

// Controller is the part of the security controller served by LocalEndpoint
type Controller interface {
	SetStatus(armed, persist bool) bool
	Status() bool
	SetAlarm(active, persist bool) bool
	Alarm() bool
	Sensors() []security.SensorState
}

// LocalEndpoint serves calls from the local controller without I/O.
// Writes are persisted.
type LocalEndpoint struct {
	ctrl Controller
}

// NewLocalEndpoint creates an endpoint for the local controller
func NewLocalEndpoint(ctrl Controller) *LocalEndpoint {
	return &LocalEndpoint{ctrl: ctrl}
}

// Probe always succeeds for the local unit
func (l *LocalEndpoint) Probe(ctx context.Context) error {
	return ctx.Err()
}

func (l *LocalEndpoint) StatusSet(ctx context.Context, armed bool) error {
	if !l.ctrl.SetStatus(armed, true) {
		return fmt.Errorf("%w: %s rejected", ErrCallFailed, CmdStatusSet)
	}
	return nil
}

func (l *LocalEndpoint) StatusGet(ctx context.Context) (bool, error) {
	return l.ctrl.Status(), nil
}

func (l *LocalEndpoint) AlarmSet(ctx context.Context, active bool) error {
	if !l.ctrl.SetAlarm(active, true) {
		return fmt.Errorf("%w: %s: state not persisted", ErrCallFailed, CmdAlarmSet)
	}
	return nil
}

func (l *LocalEndpoint) AlarmGet(ctx context.Context) (bool, error) {
	return l.ctrl.Alarm(), nil
}

func (l *LocalEndpoint) SensorsGet(ctx context.Context) ([]SensorView, error) {
	return SensorViews(l.ctrl.Sensors()), nil
}

var _ Endpoint = (*LocalEndpoint)(nil)
