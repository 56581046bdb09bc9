package security

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stackguard/internal/hw"
	"stackguard/internal/worker"
)

// DefaultKeyDebounce is the pause after an accepted key
const DefaultKeyDebounce = 5 * time.Second

// Scenarios is notified after a key changes the armed status
type Scenarios interface {
	// InHome runs after a key disarms the controller
	InHome()
	// OutHome runs after a key arms the controller
	OutHome()
}

type nopScenarios struct{}

func (nopScenarios) InHome()  {}
func (nopScenarios) OutHome() {}

// KeyAuthenticator toggles the armed status when a registered key is presented
type KeyAuthenticator struct {
	ctrl      *Controller
	bus       hw.OneWire
	scenarios Scenarios
	logger    *zap.Logger
	interval  time.Duration
	debounce  time.Duration

	failing bool
}

// NewKeyAuthenticator creates an authenticator. scenarios may be nil.
func NewKeyAuthenticator(ctrl *Controller, bus hw.OneWire, scenarios Scenarios, interval, debounce time.Duration, logger *zap.Logger) *KeyAuthenticator {
	if scenarios == nil {
		scenarios = nopScenarios{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	if debounce < 0 {
		debounce = DefaultKeyDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KeyAuthenticator{
		ctrl:      ctrl,
		bus:       bus,
		scenarios: scenarios,
		logger:    logger,
		interval:  interval,
		debounce:  debounce,
	}
}

// Name implements worker.Task
func (k *KeyAuthenticator) Name() string { return "key-authenticator" }

// Run polls the bus until ctx is cancelled
func (k *KeyAuthenticator) Run(ctx context.Context) error {
	worker.RunPeriodic(ctx, k.interval, k.logger, k.Name(), func(ctx context.Context) error {
		k.Poll(ctx)
		return nil
	})
	return nil
}

// Poll reads presented keys once and returns the number of accepted keys.
// Every accepted key toggles the status and is followed by the debounce pause.
func (k *KeyAuthenticator) Poll(ctx context.Context) int {
	ids, err := k.bus.PresentedKeys()
	if err != nil {
		if !k.failing {
			k.failing = true
			k.logger.Error("Key bus read failed", zap.Error(err))
		}
		return 0
	}
	if k.failing {
		k.failing = false
		k.logger.Info("Key bus read recovered")
	}

	accepted := 0
	for _, id := range ids {
		key, ok := k.ctrl.keys[id]
		if !ok {
			k.logger.Warn("Invalid key presented", zap.String("id", id))
			k.ctrl.noteKey(false, "", id)
			continue
		}

		k.ctrl.noteKey(true, key.Label, id)
		armed := k.ctrl.toggleStatus(true, "key:"+key.Label)
		k.logger.Info("Key accepted", zap.String("key", key.Label), zap.Bool("armed", armed))
		if armed {
			k.scenarios.OutHome()
		} else {
			k.scenarios.InHome()
		}
		accepted++

		if !worker.Sleep(ctx, k.debounce) {
			break
		}
	}
	return accepted
}
