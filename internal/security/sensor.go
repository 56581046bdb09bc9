package security

import (
	"fmt"
	"strings"
)

// SensorKind selects the detection semantics of a sensor
type SensorKind int

const (
	// Reed is a magnetic contact; a low read (circuit open) is an immediate detection
	Reed SensorKind = iota
	// Microwave holds its "no motion" line high when idle; low reads count as presence
	Microwave
	// PIR drives its line high on motion; high reads count as presence
	PIR
)

const (
	// WindowTicks is the length of the presence window, in monitor ticks
	WindowTicks = 20

	// PresenceTicks is the number of presence reads within one window that
	// turns a counting sensor into a detection
	PresenceTicks = 10
)

// String returns the configuration name of the kind
func (k SensorKind) String() string {
	switch k {
	case Reed:
		return "reed"
	case Microwave:
		return "microwave"
	case PIR:
		return "pir"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IdleLevel returns the line level of the sensor with nothing detected
func (k SensorKind) IdleLevel() bool {
	return k != PIR
}

// ParseSensorKind parses a configuration sensor type name
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reed":
		return Reed, nil
	case "microwave":
		return Microwave, nil
	case "pir":
		return PIR, nil
	default:
		return 0, fmt.Errorf("unknown sensor type %q", s)
	}
}

// SensorSpec describes a sensor at startup
type SensorSpec struct {
	Name           string
	Kind           SensorKind
	Pin            string
	NotifyTelegram bool
	NotifySMS      bool
	TriggersAlarm  bool
}

// SensorState is a read-only snapshot of a sensor
type SensorState struct {
	Name     string
	Kind     SensorKind
	Detected bool
}

// sensor is the controller-owned runtime state of one input
type sensor struct {
	SensorSpec
	counter  uint
	detected bool
}

// observe applies one line read. It reports whether the read produced a new detection.
func (s *sensor) observe(level bool) bool {
	if s.detected {
		return false
	}

	switch s.Kind {
	case Reed:
		if !level {
			s.detected = true
			return true
		}
	case Microwave:
		if !level {
			s.counter++
		}
	case PIR:
		if level {
			s.counter++
		}
	}
	return false
}

// closeWindow ends a presence window for counting sensors. Sustained presence
// becomes a detection; anything less is discarded as noise.
func (s *sensor) closeWindow(presence uint) bool {
	if s.detected || s.Kind == Reed {
		s.counter = 0
		return false
	}

	fired := s.counter >= presence
	s.counter = 0
	if fired {
		s.detected = true
	}
	return fired
}

// reset clears detection state on arm/disarm transitions
func (s *sensor) reset() {
	s.counter = 0
	s.detected = false
}

// Key is a registered iButton token
type Key struct {
	Label    string
	SecretID string
}
