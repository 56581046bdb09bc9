package hw

import (
	"fmt"
	"sync"
)

// SimGPIO is an in-memory GPIO bank for boards without hardware.
// Unset pins read high; inputs idling low must be seeded with Set.
type SimGPIO struct {
	mu     sync.Mutex
	levels map[string]bool
	known  map[string]bool
}

// NewSimGPIO creates a simulated bank. When pins is non-empty, other pin
// names are rejected like on real hardware.
func NewSimGPIO(pins ...string) *SimGPIO {
	g := &SimGPIO{levels: make(map[string]bool)}
	if len(pins) > 0 {
		g.known = make(map[string]bool, len(pins))
		for _, p := range pins {
			g.known[p] = true
		}
	}
	return g
}

func (g *SimGPIO) check(pin string) error {
	if g.known != nil && !g.known[pin] {
		return fmt.Errorf("%w: %s", ErrUnknownPin, pin)
	}
	return nil
}

// Read implements GPIO.Read
func (g *SimGPIO) Read(pin string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.check(pin); err != nil {
		return false, err
	}
	level, ok := g.levels[pin]
	if !ok {
		return true, nil
	}
	return level, nil
}

// Write implements GPIO.Write
func (g *SimGPIO) Write(pin string, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.check(pin); err != nil {
		return err
	}
	g.levels[pin] = value
	return nil
}

// Set forces the level of an input pin
func (g *SimGPIO) Set(pin string, level bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[pin] = level
}

// SimOneWire is an in-memory key bus
type SimOneWire struct {
	mu   sync.Mutex
	keys []string
}

// Present replaces the set of presented keys
func (b *SimOneWire) Present(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append([]string(nil), ids...)
}

// PresentedKeys implements OneWire.PresentedKeys
func (b *SimOneWire) PresentedKeys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys...), nil
}

var (
	_ GPIO    = (*SimGPIO)(nil)
	_ GPIO    = (*SysfsGPIO)(nil)
	_ OneWire = (*SimOneWire)(nil)
	_ OneWire = (*SysfsOneWire)(nil)
)
