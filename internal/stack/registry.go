package stack

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stackguard/internal/events"
)

// LocalUnit is the id reserved for this unit
const LocalUnit uint = 0

// Unit is a controller in the stack. Immutable after registration.
type Unit struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// UnitState is a unit with its health bookkeeping
type UnitState struct {
	Unit
	Active       bool `json:"active"`
	ErrorFlagged bool `json:"errorFlagged"`
}

// Prober checks unit reachability
type Prober interface {
	Probe(ctx context.Context, unit uint) error
}

// Recorder records stack events
type Recorder interface {
	Add(eventType events.EventType, unit, source, detail string) events.Event
}

// Registry holds the units of the stack in registration order.
// The local unit is registered on construction and is always active.
type Registry struct {
	prober Prober
	events Recorder
	logger *zap.Logger

	mu    sync.RWMutex
	units []*UnitState
	index map[uint]*UnitState
}

// NewRegistry creates a registry containing the local unit
func NewRegistry(localName string, prober Prober, recorder Recorder, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if localName == "" {
		localName = "local"
	}

	local := &UnitState{Unit: Unit{ID: LocalUnit, Name: localName}, Active: true}
	return &Registry{
		prober: prober,
		events: recorder,
		logger: logger,
		units:  []*UnitState{local},
		index:  map[uint]*UnitState{LocalUnit: local},
	}
}

// Register adds a remote unit. It starts inactive until a probe succeeds.
func (r *Registry) Register(u Unit) error {
	if u.ID == LocalUnit {
		return errors.New("unit 0 is reserved for the local unit")
	}
	if u.Address == "" || u.Port <= 0 {
		return fmt.Errorf("unit %d: address and port are required", u.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[u.ID]; exists {
		return fmt.Errorf("unit %d already registered", u.ID)
	}
	state := &UnitState{Unit: u}
	r.units = append(r.units, state)
	r.index[u.ID] = state
	return nil
}

// Lookup returns the state of a unit
func (r *Registry) Lookup(id uint) (UnitState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.index[id]
	if !ok {
		return UnitState{}, false
	}
	return *state, true
}

// Units returns all units in registration order
func (r *Registry) Units() []UnitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UnitState, 0, len(r.units))
	for _, state := range r.units {
		out = append(out, *state)
	}
	return out
}

// ActiveUnits returns the active units in registration order
func (r *Registry) ActiveUnits() []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Unit, 0, len(r.units))
	for _, state := range r.units {
		if state.Active {
			out = append(out, state.Unit)
		}
	}
	return out
}

// ActiveCount returns the number of active units
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, state := range r.units {
		if state.Active {
			n++
		}
	}
	return n
}

// RefreshHealth probes every remote unit concurrently and applies the
// results in registration order. Only transitions are logged.
func (r *Registry) RefreshHealth(ctx context.Context) {
	r.mu.RLock()
	ids := make([]uint, 0, len(r.units))
	for _, state := range r.units {
		ids = append(ids, state.ID)
	}
	r.mu.RUnlock()

	results := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		if id == LocalUnit {
			continue
		}
		g.Go(func() error {
			results[i] = r.prober.Probe(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, id := range ids {
		state := r.index[id]
		active := id == LocalUnit || results[i] == nil
		if state.Active == active {
			continue
		}
		state.Active = active

		if active {
			r.logger.Info("Unit online", zap.Uint("unit", id), zap.String("name", state.Name))
			r.record(events.EventUnitOnline, state.Name, "")
		} else {
			r.logger.Warn("Unit offline", zap.Uint("unit", id), zap.String("name", state.Name), zap.Error(results[i]))
			r.record(events.EventUnitOffline, state.Name, results[i].Error())
		}
	}
}

// FlagError marks a unit as failing. Only the first error of a run is logged.
func (r *Registry) FlagError(id uint, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.index[id]
	if !ok || state.ErrorFlagged {
		return
	}
	state.ErrorFlagged = true
	r.logger.Warn("Unit call failed", zap.Uint("unit", id), zap.String("name", state.Name), zap.Error(err))
}

// ClearError clears the error flag of a unit, logging the recovery
func (r *Registry) ClearError(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.index[id]
	if !ok || !state.ErrorFlagged {
		return
	}
	state.ErrorFlagged = false
	r.logger.Info("Unit calls recovered", zap.Uint("unit", id), zap.String("name", state.Name))
}

func (r *Registry) record(eventType events.EventType, name, detail string) {
	if r.events == nil {
		return
	}
	r.events.Add(eventType, name, "stack", detail)
}
