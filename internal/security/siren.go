package security

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"stackguard/internal/hw"
)

// Tone is a short acknowledgement pattern
type Tone int

const (
	// ToneEnter is played when the controller is disarmed
	ToneEnter Tone = iota
	// ToneExit is played when the controller is armed
	ToneExit
)

// Siren produces the audible feedback of the controller.
// Implementations must return promptly; patterns play asynchronously.
type Siren interface {
	Tone(t Tone)
	Alarm(on bool)
}

type silentSiren struct{}

func (silentSiren) Tone(Tone)  {}
func (silentSiren) Alarm(bool) {}

// BuzzerSiren drives a piezo buzzer on a GPIO line
type BuzzerSiren struct {
	gpio   hw.GPIO
	pin    string
	period time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBuzzerSiren creates a siren on the given pin
func NewBuzzerSiren(gpio hw.GPIO, pin string, logger *zap.Logger) *BuzzerSiren {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuzzerSiren{
		gpio:   gpio,
		pin:    pin,
		period: 500 * time.Millisecond,
		logger: logger,
	}
}

// tonePattern returns alternating on/off durations, starting with on
func tonePattern(t Tone) []time.Duration {
	switch t {
	case ToneEnter:
		return []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}
	default:
		return []time.Duration{600 * time.Millisecond}
	}
}

// Tone implements Siren.Tone. Tones are skipped while the alarm sounds and
// a running tone stops when the alarm starts.
func (b *BuzzerSiren) Tone(t Tone) {
	if b.pin == "" || b.alarmActive() {
		return
	}
	pattern := tonePattern(t)
	go func() {
		for i, d := range pattern {
			if !b.toneWrite(i%2 == 0) {
				return
			}
			time.Sleep(d)
		}
		b.toneWrite(false)
	}()
}

func (b *BuzzerSiren) alarmActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

// toneWrite writes the pin unless the alarm loop owns it
func (b *BuzzerSiren) toneWrite(level bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return false
	}
	b.write(level)
	return true
}

// Alarm implements Siren.Alarm. The alarm loop runs until Alarm(false).
func (b *BuzzerSiren) Alarm(on bool) {
	if b.pin == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !on {
		if b.cancel != nil {
			b.cancel()
			b.cancel = nil
			b.wg.Wait()
		}
		return
	}

	if b.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.loop(ctx)
}

// loop toggles the buzzer until cancelled and leaves it off
func (b *BuzzerSiren) loop(ctx context.Context) {
	defer b.wg.Done()
	defer b.write(false)

	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	level := true
	b.write(level)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level = !level
			b.write(level)
		}
	}
}

func (b *BuzzerSiren) write(level bool) {
	if err := b.gpio.Write(b.pin, level); err != nil {
		b.logger.Debug("buzzer write failed", zap.String("pin", b.pin), zap.Error(err))
	}
}

// Close stops the alarm loop
func (b *BuzzerSiren) Close() {
	b.Alarm(false)
}
