package mqtt

import "stackguard/internal/security"

// Binary sensor payloads
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// SensorConfig contains binary sensor configuration for Home Assistant Discovery
type SensorConfig struct {
	SensorID    string // Unique sensor ID, sanitized
	Name        string // Display name
	DeviceClass string // door, motion, safety
	StateTopic  string // Topic relative to the prefix

	DeviceInfo *DeviceInfo
}

// DeviceInfo contains device information for grouping in Home Assistant
type DeviceInfo struct {
	Identifiers  []string // Unique device identifiers
	Name         string   // Device name
	Model        string   // Model
	Manufacturer string   // Manufacturer
}

// deviceClass maps a sensor type name to its Home Assistant binary_sensor class
func deviceClass(kind string) string {
	if kind == security.Reed.String() {
		return "door"
	}
	return "motion"
}

// sanitizeID creates a safe ID for MQTT topics
func sanitizeID(name string) string {
	b := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A')
		case c == ' ' || c == '/' || c == '.' || c == '+' || c == '#':
			b[i] = '_'
		default:
			b[i] = c
		}
	}
	return string(b)
}

func onOff(b bool) string {
	if b {
		return PayloadOn
	}
	return PayloadOff
}
