package security

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"stackguard/internal/events"
	"stackguard/internal/notify"
)

type pinWrite struct {
	pin   string
	value bool
}

type fakeGPIO struct {
	mu     sync.Mutex
	levels map[string]bool
	fail   map[string]bool
	reads  map[string]int
	writes []pinWrite
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{
		levels: make(map[string]bool),
		fail:   make(map[string]bool),
		reads:  make(map[string]int),
	}
}

func (g *fakeGPIO) Read(pin string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads[pin]++
	if g.fail[pin] {
		return false, errors.New("read failed")
	}
	return g.levels[pin], nil
}

func (g *fakeGPIO) Write(pin string, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes = append(g.writes, pinWrite{pin, value})
	g.levels[pin] = value
	return nil
}

func (g *fakeGPIO) set(pin string, level bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[pin] = level
}

func (g *fakeGPIO) writeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.writes)
}

func (g *fakeGPIO) readCount(pin string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads[pin]
}

type fakePersister struct {
	mu     sync.Mutex
	fields map[string]bool
	calls  int
	err    error
}

func newFakePersister() *fakePersister {
	return &fakePersister{fields: make(map[string]bool)}
}

func (p *fakePersister) PersistControllerState(field string, value bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.fields[field] = value
	return nil
}

func (p *fakePersister) LoadControllerState() (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out, nil
}

type recordingOutbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *recordingOutbox) Post(m notify.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
}

func (o *recordingOutbox) messages() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.msgs...)
}

type fakeSiren struct {
	mu     sync.Mutex
	tones  []Tone
	alarms []bool
}

func (s *fakeSiren) Tone(t Tone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tones = append(s.tones, t)
}

func (s *fakeSiren) Alarm(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, on)
}

type harness struct {
	ctrl      *Controller
	gpio      *fakeGPIO
	persister *fakePersister
	outbox    *recordingOutbox
	siren     *fakeSiren
	events    *events.Store
}

var testOutputs = Outputs{StatusLED: "led_status", AlarmLED: "led_alarm", AlarmRelay: "relay_alarm"}

func newHarness(t *testing.T, sensors ...SensorSpec) *harness {
	t.Helper()

	h := &harness{
		gpio:      newFakeGPIO(),
		persister: newFakePersister(),
		outbox:    &recordingOutbox{},
		siren:     &fakeSiren{},
		events:    events.NewStore(100),
	}
	ctrl, err := New(Options{
		UnitName:  "hall",
		Sensors:   sensors,
		Keys:      []Key{{Label: "alice", SecretID: "01-000000abcdef"}},
		Outputs:   testOutputs,
		Sounds:    Sounds{OnEnter: true, OnExit: true, OnAlarm: true},
		GPIO:      h.gpio,
		Siren:     h.siren,
		Persister: h.persister,
		Outbox:    h.outbox,
		Events:    h.events,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

// lockCheckingRecorder notes whether the controller mutex was held while an
// event was recorded
type lockCheckingRecorder struct {
	store *events.Store
	ctrl  *Controller

	mu         sync.Mutex
	heldDuring []events.EventType
}

func (r *lockCheckingRecorder) Add(eventType events.EventType, unit, source, detail string) events.Event {
	if r.ctrl.mu.TryLock() {
		r.ctrl.mu.Unlock()
	} else {
		r.mu.Lock()
		r.heldDuring = append(r.heldDuring, eventType)
		r.mu.Unlock()
	}
	return r.store.Add(eventType, unit, source, detail)
}

func (r *lockCheckingRecorder) held() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.EventType(nil), r.heldDuring...)
}
