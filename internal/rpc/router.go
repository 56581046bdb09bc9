package rpc

import (
	"context"
	"fmt"
	"sync"
)

// LocalUnit is the id of this unit
const LocalUnit uint = 0

// Observer is told about every routed call
type Observer interface {
	ObserveCall(op, target string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, string, error) {}

// Router dispatches an operation to the endpoint of the addressed unit.
// Unit 0 is served by the local endpoint, every other unit by its remote endpoint.
type Router struct {
	local    Endpoint
	observer Observer

	mu      sync.RWMutex
	remotes map[uint]Endpoint
}

// NewRouter creates a router. observer may be nil.
func NewRouter(local Endpoint, observer Observer) *Router {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Router{
		local:    local,
		observer: observer,
		remotes:  make(map[uint]Endpoint),
	}
}

// AddRemote registers the endpoint of a remote unit
func (r *Router) AddRemote(unit uint, ep Endpoint) error {
	if unit == LocalUnit {
		return fmt.Errorf("unit %d is the local unit", unit)
	}
	if ep == nil {
		return fmt.Errorf("unit %d: nil endpoint", unit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.remotes[unit]; exists {
		return fmt.Errorf("unit %d already registered", unit)
	}
	r.remotes[unit] = ep
	return nil
}

// Endpoint returns the endpoint serving unit
func (r *Router) Endpoint(unit uint) (Endpoint, error) {
	ep, _, err := r.endpoint(unit)
	return ep, err
}

func (r *Router) endpoint(unit uint) (Endpoint, string, error) {
	if unit == LocalUnit {
		return r.local, "local", nil
	}

	r.mu.RLock()
	ep, ok := r.remotes[unit]
	r.mu.RUnlock()
	if !ok {
		return nil, "unknown", fmt.Errorf("%w: unknown unit %d", ErrCallFailed, unit)
	}
	return ep, "remote", nil
}

func (r *Router) call(unit uint, op string, fn func(Endpoint) error) error {
	ep, target, err := r.endpoint(unit)
	if err == nil {
		err = fn(ep)
	}
	r.observer.ObserveCall(op, target, err)
	return err
}

// Probe checks that unit is reachable
func (r *Router) Probe(ctx context.Context, unit uint) error {
	return r.call(unit, "probe", func(ep Endpoint) error {
		return ep.Probe(ctx)
	})
}

// StatusSet arms or disarms unit
func (r *Router) StatusSet(ctx context.Context, unit uint, armed bool) error {
	return r.call(unit, CmdStatusSet, func(ep Endpoint) error {
		return ep.StatusSet(ctx, armed)
	})
}

// StatusGet reads the armed status of unit
func (r *Router) StatusGet(ctx context.Context, unit uint) (bool, error) {
	var armed bool
	err := r.call(unit, CmdStatusGet, func(ep Endpoint) error {
		var err error
		armed, err = ep.StatusGet(ctx)
		return err
	})
	return armed, err
}

// AlarmSet activates or clears the alarm of unit
func (r *Router) AlarmSet(ctx context.Context, unit uint, active bool) error {
	return r.call(unit, CmdAlarmSet, func(ep Endpoint) error {
		return ep.AlarmSet(ctx, active)
	})
}

// AlarmGet reads the alarm state of unit
func (r *Router) AlarmGet(ctx context.Context, unit uint) (bool, error) {
	var active bool
	err := r.call(unit, CmdAlarmGet, func(ep Endpoint) error {
		var err error
		active, err = ep.AlarmGet(ctx)
		return err
	})
	return active, err
}

// SensorsGet lists the sensors of unit
func (r *Router) SensorsGet(ctx context.Context, unit uint) ([]SensorView, error) {
	var views []SensorView
	err := r.call(unit, CmdSensorsGet, func(ep Endpoint) error {
		var err error
		views, err = ep.SensorsGet(ctx)
		return err
	})
	return views, err
}
