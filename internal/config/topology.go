package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stackguard/internal/security"
	"stackguard/internal/stack"
)

// ErrInvalidTopology is returned for any topology the controller cannot run
var ErrInvalidTopology = errors.New("invalid topology")

// Topology describes the hardware wiring of this unit and the stack it belongs to.
type Topology struct {
	Units   []UnitSpec     `yaml:"units"`
	Sensors []SensorSpec   `yaml:"sensors"`
	Keys    []KeySpec      `yaml:"keys"`
	Outputs OutputSpec     `yaml:"outputs"`
	Pins    map[string]int `yaml:"pins"`
	Sounds  SoundSpec      `yaml:"sounds"`
}

// UnitSpec is one unit of the stack. Unit 0 is this unit.
type UnitSpec struct {
	ID      uint   `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// SensorSpec is one wired sensor
type SensorSpec struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	Pin            string `yaml:"pin"`
	NotifyTelegram bool   `yaml:"notify_telegram"`
	NotifySMS      bool   `yaml:"notify_sms"`
	Alarm          bool   `yaml:"alarm"`
}

// KeySpec is an authorised iButton key
type KeySpec struct {
	Label string `yaml:"label"`
	ID    string `yaml:"id"`
}

// OutputSpec names the output pins. Empty pins are not driven.
type OutputSpec struct {
	StatusLED  string `yaml:"status_led"`
	AlarmLED   string `yaml:"alarm_led"`
	AlarmRelay string `yaml:"alarm_relay"`
	Buzzer     string `yaml:"buzzer"`
}

// SoundSpec enables the buzzer per situation
type SoundSpec struct {
	Enter bool `yaml:"enter"`
	Exit  bool `yaml:"exit"`
	Alarm bool `yaml:"alarm"`
}

// LoadTopology reads and validates the topology file at path.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %q: %w", path, err)
	}
	t, err := ParseTopology(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTopology decodes a topology document. Unknown fields are rejected.
// Sounds default to enabled.
func ParseTopology(r io.Reader) (*Topology, error) {
	t := &Topology{
		Sounds: SoundSpec{Enter: true, Exit: true, Alarm: true},
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidTopology, fmt.Sprintf(format, args...))
}

// validate rejects topologies that would fail at runtime
func (t *Topology) validate() error {
	unitIDs := make(map[uint]bool, len(t.Units))
	for _, u := range t.Units {
		if unitIDs[u.ID] {
			return invalid("duplicate unit id %d", u.ID)
		}
		unitIDs[u.ID] = true

		if u.ID == stack.LocalUnit {
			if u.Address != "" || u.Port != 0 {
				return invalid("unit 0 is the local unit and takes no address")
			}
			continue
		}
		if strings.TrimSpace(u.Address) == "" {
			return invalid("unit %d has no address", u.ID)
		}
		if u.Port < 1 || u.Port > 65535 {
			return invalid("unit %d has invalid port %d", u.ID, u.Port)
		}
	}

	for name, line := range t.Pins {
		if line < 0 {
			return invalid("pin %q has negative line %d", name, line)
		}
	}

	sensorNames := make(map[string]bool, len(t.Sensors))
	for _, s := range t.Sensors {
		if s.Name == "" {
			return invalid("sensor without name")
		}
		if sensorNames[s.Name] {
			return invalid("duplicate sensor %q", s.Name)
		}
		sensorNames[s.Name] = true

		if _, err := security.ParseSensorKind(s.Type); err != nil {
			return invalid("sensor %q: %v", s.Name, err)
		}
		if s.Pin == "" {
			return invalid("sensor %q has no pin", s.Name)
		}
		if err := t.checkPin(s.Pin); err != nil {
			return invalid("sensor %q: %v", s.Name, err)
		}
	}

	outputs := map[string]string{
		"status_led":  t.Outputs.StatusLED,
		"alarm_led":   t.Outputs.AlarmLED,
		"alarm_relay": t.Outputs.AlarmRelay,
		"buzzer":      t.Outputs.Buzzer,
	}
	for output, pin := range outputs {
		if pin == "" {
			continue
		}
		if err := t.checkPin(pin); err != nil {
			return invalid("output %s: %v", output, err)
		}
	}

	keyIDs := make(map[string]bool, len(t.Keys))
	for _, k := range t.Keys {
		id := strings.TrimSpace(k.ID)
		if id == "" {
			return invalid("key %q has no id", k.Label)
		}
		if keyIDs[id] {
			return invalid("duplicate key id %q", id)
		}
		keyIDs[id] = true
	}

	return nil
}

func (t *Topology) checkPin(pin string) error {
	if _, ok := t.Pins[pin]; !ok {
		return fmt.Errorf("pin %q is not declared", pin)
	}
	return nil
}

// LocalName returns the unit 0 name, or fallback when the topology does not name it.
func (t *Topology) LocalName(fallback string) string {
	for _, u := range t.Units {
		if u.ID == stack.LocalUnit && u.Name != "" {
			return u.Name
		}
	}
	return fallback
}

// RemoteUnits returns the units other than this one, in file order.
func (t *Topology) RemoteUnits() []stack.Unit {
	units := make([]stack.Unit, 0, len(t.Units))
	for _, u := range t.Units {
		if u.ID == stack.LocalUnit {
			continue
		}
		name := u.Name
		if name == "" {
			name = fmt.Sprintf("unit-%d", u.ID)
		}
		units = append(units, stack.Unit{
			ID:      u.ID,
			Name:    name,
			Address: u.Address,
			Port:    u.Port,
		})
	}
	return units
}

// SecuritySensors converts the sensor list for the controller.
func (t *Topology) SecuritySensors() []security.SensorSpec {
	specs := make([]security.SensorSpec, 0, len(t.Sensors))
	for _, s := range t.Sensors {
		kind, _ := security.ParseSensorKind(s.Type)
		specs = append(specs, security.SensorSpec{
			Name:           s.Name,
			Kind:           kind,
			Pin:            s.Pin,
			NotifyTelegram: s.NotifyTelegram,
			NotifySMS:      s.NotifySMS,
			TriggersAlarm:  s.Alarm,
		})
	}
	return specs
}

// SecurityKeys converts the key list for the controller.
func (t *Topology) SecurityKeys() []security.Key {
	keys := make([]security.Key, 0, len(t.Keys))
	for _, k := range t.Keys {
		keys = append(keys, security.Key{Label: k.Label, SecretID: strings.TrimSpace(k.ID)})
	}
	return keys
}

// SecurityOutputs returns the controller output pins.
func (t *Topology) SecurityOutputs() security.Outputs {
	return security.Outputs{
		StatusLED:  t.Outputs.StatusLED,
		AlarmLED:   t.Outputs.AlarmLED,
		AlarmRelay: t.Outputs.AlarmRelay,
	}
}

// SecuritySounds returns the configured sound switches.
func (t *Topology) SecuritySounds() security.Sounds {
	return security.Sounds{
		OnEnter: t.Sounds.Enter,
		OnExit:  t.Sounds.Exit,
		OnAlarm: t.Sounds.Alarm,
	}
}

// PinNames returns every declared pin name.
func (t *Topology) PinNames() []string {
	names := make([]string, 0, len(t.Pins))
	for name := range t.Pins {
		names = append(names, name)
	}
	return names
}
