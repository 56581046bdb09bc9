package security

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"stackguard/internal/events"
	"stackguard/internal/hw"
	"stackguard/internal/notify"
	"stackguard/internal/storage"
)

// Persister stores individual controller state fields
type Persister interface {
	PersistControllerState(field string, value bool) error
}

// StateLoader returns previously persisted controller state fields
type StateLoader interface {
	LoadControllerState() (map[string]bool, error)
}

// Recorder records security events
type Recorder interface {
	Add(eventType events.EventType, unit, source, detail string) events.Event
}

// Outputs names the GPIO lines driven by the controller. Empty names are not driven.
type Outputs struct {
	StatusLED  string
	AlarmLED   string
	AlarmRelay string
}

// Sounds selects which audible patterns are played
type Sounds struct {
	OnEnter bool
	OnExit  bool
	OnAlarm bool
}

// Options configures a Controller
type Options struct {
	UnitName  string
	Sensors   []SensorSpec
	Keys      []Key
	Outputs   Outputs
	Sounds    Sounds
	GPIO      hw.GPIO
	Siren     Siren
	Persister Persister
	Outbox    notify.Outbox
	Events    Recorder
	Logger    *zap.Logger
}

// Controller is the security state machine of the local unit.
// Status, alarm, sensor state and the GPIO writes paired with them are
// guarded by one mutex. Events and notifications produced under the mutex
// are queued and delivered after it is released.
type Controller struct {
	unitName  string
	outputs   Outputs
	gpio      hw.GPIO
	siren     Siren
	persister Persister
	outbox    notify.Outbox
	events    Recorder
	logger    *zap.Logger

	keys map[string]Key

	mu      sync.Mutex
	armed   bool
	alarm   bool
	sounds  Sounds
	sensors []*sensor
	byName  map[string]*sensor

	queuedEvents []queuedEvent
	queuedMsgs   []notify.Message
}

type queuedEvent struct {
	eventType events.EventType
	source    string
	detail    string
}

type nopPersister struct{}

func (nopPersister) PersistControllerState(string, bool) error { return nil }

type nopOutbox struct{}

func (nopOutbox) Post(notify.Message) {}

// New creates a disarmed controller with alarm cleared
func New(opts Options) (*Controller, error) {
	if opts.GPIO == nil {
		return nil, errors.New("gpio is required")
	}

	c := &Controller{
		unitName:  opts.UnitName,
		outputs:   opts.Outputs,
		gpio:      opts.GPIO,
		siren:     opts.Siren,
		persister: opts.Persister,
		outbox:    opts.Outbox,
		events:    opts.Events,
		logger:    opts.Logger,
		sounds:    opts.Sounds,
		keys:      make(map[string]Key, len(opts.Keys)),
		byName:    make(map[string]*sensor, len(opts.Sensors)),
	}
	if c.siren == nil {
		c.siren = silentSiren{}
	}
	if c.persister == nil {
		c.persister = nopPersister{}
	}
	if c.outbox == nil {
		c.outbox = nopOutbox{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.unitName == "" {
		c.unitName = "local"
	}

	for _, spec := range opts.Sensors {
		if spec.Name == "" {
			return nil, errors.New("sensor name is required")
		}
		if spec.Pin == "" {
			return nil, fmt.Errorf("sensor %q: gpio pin is required", spec.Name)
		}
		if spec.Kind < Reed || spec.Kind > PIR {
			return nil, fmt.Errorf("sensor %q: unknown type %d", spec.Name, int(spec.Kind))
		}
		if _, dup := c.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate sensor %q", spec.Name)
		}
		s := &sensor{SensorSpec: spec}
		c.sensors = append(c.sensors, s)
		c.byName[spec.Name] = s
	}

	for _, key := range opts.Keys {
		if key.SecretID == "" {
			return nil, fmt.Errorf("key %q: id is required", key.Label)
		}
		c.keys[key.SecretID] = key
	}

	return c, nil
}

// Status reports whether the controller is armed
func (c *Controller) Status() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Alarm reports whether the alarm is active
func (c *Controller) Alarm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alarm
}

// Sounds returns the current sound configuration
func (c *Controller) Sounds() Sounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sounds
}

// UnitName returns the name used in notifications
func (c *Controller) UnitName() string {
	return c.unitName
}

// CheckKey reports whether id belongs to a registered key
func (c *Controller) CheckKey(id string) bool {
	_, ok := c.keys[id]
	return ok
}

// Sensors returns a snapshot of all sensors in configuration order
func (c *Controller) Sensors() []SensorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SensorState, 0, len(c.sensors))
	for _, s := range c.sensors {
		out = append(out, SensorState{Name: s.Name, Kind: s.Kind, Detected: s.detected})
	}
	return out
}

// SetStatus arms or disarms the controller. Unchanged status is a no-op.
// Persistence and notification failures are logged; the call reports success.
func (c *Controller) SetStatus(armed, persist bool) bool {
	c.mu.Lock()
	c.setStatusLocked(armed, persist, "request")
	c.unlockAndFlush()
	return true
}

// SetAlarm activates or clears the alarm. It fails only when persistence fails.
func (c *Controller) SetAlarm(active, persist bool) bool {
	c.mu.Lock()
	ok := c.setAlarmLocked(active, persist, "request")
	c.unlockAndFlush()
	return ok
}

// ToggleStatus flips the armed status and returns the new value
func (c *Controller) ToggleStatus(persist bool) bool {
	return c.toggleStatus(persist, "request")
}

// toggleStatus flips the armed status and returns the new value
func (c *Controller) toggleStatus(persist bool, source string) bool {
	c.mu.Lock()
	armed := !c.armed
	c.setStatusLocked(armed, persist, source)
	c.unlockAndFlush()
	return armed
}

func (c *Controller) setStatusLocked(armed, persist bool, source string) {
	if c.armed == armed {
		return
	}
	c.armed = armed

	for _, s := range c.sensors {
		s.reset()
	}

	c.writePin(c.outputs.StatusLED, armed)

	if armed {
		if c.sounds.OnExit {
			c.siren.Tone(ToneExit)
		}
	} else {
		c.setAlarmLocked(false, persist, source)
		if c.sounds.OnEnter {
			c.siren.Tone(ToneEnter)
		}
	}

	if persist {
		if err := c.persister.PersistControllerState(storage.FieldStatus, armed); err != nil {
			c.logger.Error("Failed to persist status", zap.Bool("armed", armed), zap.Error(err))
		}
	}

	word, eventType := "disarmed", events.EventDisarmed
	if armed {
		word, eventType = "armed", events.EventArmed
	}
	c.logger.Info("Security status changed", zap.String("status", word), zap.String("source", source))
	c.record(eventType, source, "")

	c.queuedMsgs = append(c.queuedMsgs, notify.Message{
		Text:     fmt.Sprintf("%s: security %s", c.unitName, word),
		Telegram: true,
		SMS:      true,
	})
}

func (c *Controller) setAlarmLocked(active, persist bool, source string) bool {
	if c.alarm == active {
		return true
	}
	c.alarm = active

	c.writePin(c.outputs.AlarmRelay, active)
	c.writePin(c.outputs.AlarmLED, active)
	c.siren.Alarm(active && c.sounds.OnAlarm)

	ok := true
	if persist {
		if err := c.persister.PersistControllerState(storage.FieldAlarm, active); err != nil {
			c.logger.Error("Failed to persist alarm", zap.Bool("alarm", active), zap.Error(err))
			ok = false
		}
	}

	eventType := events.EventAlarmOff
	if active {
		eventType = events.EventAlarmOn
	}
	c.logger.Warn("Alarm changed", zap.Bool("alarm", active), zap.String("source", source))
	c.record(eventType, source, "")
	return ok
}

// detectedLocked handles a sensor that has just become detected
func (c *Controller) detectedLocked(s *sensor) {
	c.record(events.EventSensorDetected, s.Name, s.Kind.String())

	if !c.armed {
		c.logger.Debug("Sensor detected while disarmed", zap.String("sensor", s.Name))
		return
	}

	c.logger.Warn("Sensor detected", zap.String("sensor", s.Name), zap.Stringer("type", s.Kind))
	if s.TriggersAlarm {
		c.setAlarmLocked(true, true, s.Name)
	}

	c.queuedMsgs = append(c.queuedMsgs, notify.Message{
		Text:     fmt.Sprintf("%s: sensor %s triggered", c.unitName, s.Name),
		Telegram: s.NotifyTelegram,
		SMS:      s.NotifySMS,
	})
}

type sensorRef struct {
	name string
	pin  string
}

// pendingSensors lists sensors that still need to be polled
func (c *Controller) pendingSensors() []sensorRef {
	c.mu.Lock()
	defer c.mu.Unlock()

	refs := make([]sensorRef, 0, len(c.sensors))
	for _, s := range c.sensors {
		if !s.detected {
			refs = append(refs, sensorRef{name: s.Name, pin: s.Pin})
		}
	}
	return refs
}

// observeSensor applies one read of a sensor line
func (c *Controller) observeSensor(name string, level bool) {
	c.mu.Lock()
	if s, ok := c.byName[name]; ok && s.observe(level) {
		c.detectedLocked(s)
	}
	c.unlockAndFlush()
}

// closeSensorWindows ends the presence window of every counting sensor
func (c *Controller) closeSensorWindows(presence uint) {
	c.mu.Lock()
	for _, s := range c.sensors {
		if s.closeWindow(presence) {
			c.detectedLocked(s)
		}
	}
	c.unlockAndFlush()
}

// Restore loads persisted state and drives the outputs to match it.
// Fields missing from storage are written with their current value.
// It must run before sensor monitoring starts.
func (c *Controller) Restore(loader StateLoader) error {
	saved, err := loader.LoadControllerState()
	if err != nil {
		return fmt.Errorf("load controller state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fields := []struct {
		name  string
		value *bool
	}{
		{storage.FieldStatus, &c.armed},
		{storage.FieldAlarm, &c.alarm},
		{storage.FieldSoundEnter, &c.sounds.OnEnter},
		{storage.FieldSoundExit, &c.sounds.OnExit},
		{storage.FieldSoundAlarm, &c.sounds.OnAlarm},
	}
	for _, f := range fields {
		if v, ok := saved[f.name]; ok {
			*f.value = v
			continue
		}
		if err := c.persister.PersistControllerState(f.name, *f.value); err != nil {
			c.logger.Error("Failed to persist default", zap.String("field", f.name), zap.Error(err))
		}
	}

	c.writePin(c.outputs.StatusLED, c.armed)
	c.writePin(c.outputs.AlarmRelay, c.alarm)
	c.writePin(c.outputs.AlarmLED, c.alarm)
	c.siren.Alarm(c.alarm && c.sounds.OnAlarm)

	c.logger.Info("Security state restored", zap.Bool("armed", c.armed), zap.Bool("alarm", c.alarm))
	return nil
}

func (c *Controller) noteKey(accepted bool, label, id string) {
	if accepted {
		c.addEvent(events.EventKeyAccepted, "key:"+label, "")
		return
	}
	c.addEvent(events.EventKeyRejected, "key", id)
}

func (c *Controller) writePin(pin string, value bool) {
	if pin == "" {
		return
	}
	if err := c.gpio.Write(pin, value); err != nil {
		c.logger.Error("GPIO write failed", zap.String("pin", pin), zap.Bool("value", value), zap.Error(err))
	}
}

// record queues an event. c.mu must be held.
func (c *Controller) record(eventType events.EventType, source, detail string) {
	if c.events == nil {
		return
	}
	c.queuedEvents = append(c.queuedEvents, queuedEvent{eventType, source, detail})
}

// unlockAndFlush releases c.mu, then writes the queued events (the event
// journal does disk I/O) and posts the queued notifications.
func (c *Controller) unlockAndFlush() {
	queued, msgs := c.queuedEvents, c.queuedMsgs
	c.queuedEvents, c.queuedMsgs = nil, nil
	c.mu.Unlock()

	for _, e := range queued {
		c.addEvent(e.eventType, e.source, e.detail)
	}
	for _, m := range msgs {
		c.outbox.Post(m)
	}
}

func (c *Controller) addEvent(eventType events.EventType, source, detail string) {
	if c.events == nil {
		return
	}
	c.events.Add(eventType, c.unitName, source, detail)
}
