package stack

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stackguard/internal/worker"
)

// DefaultReconcileInterval is the cadence of reconciliation passes
const DefaultReconcileInterval = 3 * time.Second

// Dispatcher reads and writes security state of any unit by id
type Dispatcher interface {
	Prober
	StatusGet(ctx context.Context, unit uint) (bool, error)
	StatusSet(ctx context.Context, unit uint, armed bool) error
	AlarmGet(ctx context.Context, unit uint) (bool, error)
	AlarmSet(ctx context.Context, unit uint, active bool) error
}

// Push kinds reported to the observer
const (
	PushStatus      = "status"
	PushAlarmLocal  = "alarm_local"
	PushAlarmRemote = "alarm_remote"
)

// ReconcileObserver receives reconciliation measurements
type ReconcileObserver interface {
	ReconcilePass(d time.Duration)
	ReconcilePush(kind string)
}

type nopObserver struct{}

func (nopObserver) ReconcilePass(time.Duration) {}
func (nopObserver) ReconcilePush(string)        {}

// Reconciler aligns the security state of the active units with this unit.
// Status is pushed from this unit outwards. Alarm is OR-propagated: a remote
// alarm raises the local alarm, a local alarm is pushed to remotes.
type Reconciler struct {
	registry   *Registry
	dispatcher Dispatcher
	interval   time.Duration
	observer   ReconcileObserver
	logger     *zap.Logger
}

// NewReconciler creates a reconciler. observer may be nil.
func NewReconciler(registry *Registry, dispatcher Dispatcher, interval time.Duration, observer ReconcileObserver, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		registry:   registry,
		dispatcher: dispatcher,
		interval:   interval,
		observer:   observer,
		logger:     logger,
	}
}

// Name implements worker.Task
func (r *Reconciler) Name() string { return "reconciler" }

// Run performs a pass every interval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	worker.RunPeriodic(ctx, r.interval, r.logger, r.Name(), r.Pass)
	return nil
}

// Pass performs one reconciliation pass over the active units in
// registration order. Failing units are flagged and skipped.
func (r *Reconciler) Pass(ctx context.Context) error {
	start := time.Now()
	defer func() { r.observer.ReconcilePass(time.Since(start)) }()

	r.registry.RefreshHealth(ctx)

	d := r.dispatcher
	localStatus, err := d.StatusGet(ctx, LocalUnit)
	if err != nil {
		return fmt.Errorf("read local status: %w", err)
	}
	localAlarm, err := d.AlarmGet(ctx, LocalUnit)
	if err != nil {
		return fmt.Errorf("read local alarm: %w", err)
	}

	for _, u := range r.registry.ActiveUnits() {
		if u.ID == LocalUnit {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		remoteStatus, err := d.StatusGet(ctx, u.ID)
		if err != nil {
			r.registry.FlagError(u.ID, err)
			continue
		}
		if remoteStatus != localStatus {
			if err := d.StatusSet(ctx, u.ID, localStatus); err != nil {
				r.registry.FlagError(u.ID, err)
				continue
			}
			r.logger.Info("Pushed status", zap.Uint("unit", u.ID), zap.Bool("armed", localStatus))
			r.observer.ReconcilePush(PushStatus)
		}

		remoteAlarm, err := d.AlarmGet(ctx, u.ID)
		if err != nil {
			r.registry.FlagError(u.ID, err)
			continue
		}
		switch {
		case remoteAlarm && !localAlarm:
			if err := d.AlarmSet(ctx, LocalUnit, true); err != nil {
				r.logger.Error("Failed to raise local alarm", zap.Uint("from", u.ID), zap.Error(err))
			}
			localAlarm = true
			r.logger.Warn("Alarm raised by unit", zap.Uint("unit", u.ID), zap.String("name", u.Name))
			r.observer.ReconcilePush(PushAlarmLocal)
		case !remoteAlarm && localAlarm:
			if err := d.AlarmSet(ctx, u.ID, true); err != nil {
				r.registry.FlagError(u.ID, err)
				continue
			}
			r.logger.Warn("Pushed alarm", zap.Uint("unit", u.ID), zap.String("name", u.Name))
			r.observer.ReconcilePush(PushAlarmRemote)
		}

		r.registry.ClearError(u.ID)
	}
	return nil
}
