// Package hw provides the hardware collaborators consumed by the security
// controller: GPIO lines addressed by name and the one-wire key reader.
// The sysfs implementations work on Linux boards; tests substitute fakes.
package hw

import "errors"

// ErrUnknownPin is returned when a pin name has no configured GPIO line
var ErrUnknownPin = errors.New("unknown pin")

// GPIO reads and writes named digital lines.
type GPIO interface {
	// Read returns the current level of the pin (true = high).
	Read(pin string) (bool, error)

	// Write drives the pin to the given level.
	Write(pin string, value bool) error
}

// OneWire reports the key identifiers currently presented on the bus.
type OneWire interface {
	PresentedKeys() ([]string, error)
}
