package hw

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultGPIORoot is the sysfs GPIO class directory
	DefaultGPIORoot = "/sys/class/gpio"

	// DefaultW1Root is the sysfs one-wire devices directory
	DefaultW1Root = "/sys/bus/w1/devices"

	// iButtonFamily is the DS1990 family code prefix of key identifiers
	iButtonFamily = "01-"
)

// SysfsGPIO drives GPIO lines through the legacy sysfs interface.
// Lines must be exported and configured by the board setup.
type SysfsGPIO struct {
	mu    sync.Mutex
	root  string
	lines map[string]int
}

// NewSysfsGPIO creates a GPIO accessor for the given name -> line mapping
func NewSysfsGPIO(root string, lines map[string]int) *SysfsGPIO {
	if root == "" {
		root = DefaultGPIORoot
	}
	copied := make(map[string]int, len(lines))
	for name, line := range lines {
		copied[name] = line
	}
	return &SysfsGPIO{root: root, lines: copied}
}

// valuePath returns the sysfs value file of a pin
func (g *SysfsGPIO) valuePath(pin string) (string, error) {
	line, ok := g.lines[pin]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPin, pin)
	}
	return filepath.Join(g.root, "gpio"+strconv.Itoa(line), "value"), nil
}

// Read implements GPIO.Read
func (g *SysfsGPIO) Read(pin string) (bool, error) {
	path, err := g.valuePath(pin)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read pin %s: %w", pin, err)
	}

	switch strings.TrimSpace(string(data)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected value on pin %s: %q", pin, strings.TrimSpace(string(data)))
	}
}

// Write implements GPIO.Write
func (g *SysfsGPIO) Write(pin string, value bool) error {
	path, err := g.valuePath(pin)
	if err != nil {
		return err
	}

	level := "0"
	if value {
		level = "1"
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := os.WriteFile(path, []byte(level), 0644); err != nil {
		return fmt.Errorf("failed to write pin %s: %w", pin, err)
	}
	return nil
}

// SysfsOneWire reads presented iButton keys from the w1 bus master.
type SysfsOneWire struct {
	root string
}

// NewSysfsOneWire creates a one-wire reader rooted at the w1 devices directory
func NewSysfsOneWire(root string) *SysfsOneWire {
	if root == "" {
		root = DefaultW1Root
	}
	return &SysfsOneWire{root: root}
}

// PresentedKeys implements OneWire.PresentedKeys
func (w *SysfsOneWire) PresentedKeys() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(w.root, "w1_bus_master1", "w1_master_slaves"))
	if err != nil {
		return nil, fmt.Errorf("failed to read one-wire bus: %w", err)
	}
	return parseSlaves(string(data)), nil
}

// parseSlaves extracts iButton identifiers from the w1_master_slaves listing.
// The kernel writes "not found." when nothing is attached.
func parseSlaves(listing string) []string {
	keys := []string{}
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "not found") {
			continue
		}
		if !strings.HasPrefix(line, iButtonFamily) {
			continue
		}
		keys = append(keys, line)
	}
	return keys
}
