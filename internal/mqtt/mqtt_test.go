package mqtt

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackguard/internal/security"
	"stackguard/internal/storage"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeTransport struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func payloadString(payload interface{}) string {
	switch p := payload.(type) {
	case []byte:
		return string(p)
	case string:
		return p
	default:
		return ""
	}
}

func (f *fakeTransport) PublishWithQoS(topic string, qos byte, retained bool, payload interface{}) error {
	return f.add(f.Topic(topic), qos, retained, payload)
}

func (f *fakeTransport) PublishRaw(topic string, payload interface{}, retained bool) error {
	return f.add(topic, 1, retained, payload)
}

func (f *fakeTransport) add(topic string, qos byte, retained bool, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, qos, retained, payloadString(payload)})
	return nil
}

func (f *fakeTransport) Topic(topic string) string { return "sg/" + topic }

func (f *fakeTransport) byTopic(prefix string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.msgs {
		if strings.HasPrefix(m.topic, prefix) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
}

type stubSource struct {
	armed, alarm bool
	sensors      []security.SensorState
}

func (s *stubSource) UnitName() string                { return "Hall Unit" }
func (s *stubSource) Status() bool                    { return s.armed }
func (s *stubSource) Alarm() bool                     { return s.alarm }
func (s *stubSource) Sensors() []security.SensorState { return s.sensors }

func newStorage(t *testing.T) *storage.BoltStorage {
	t.Helper()
	s, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "state.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase conversion", "FrontDoor", "frontdoor"},
		{"space replacement", "Front Door", "front_door"},
		{"slash replacement", "garage/side", "garage_side"},
		{"wildcards", "a+b#c", "a_b_c"},
		{"already clean", "hall_pir", "hall_pir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeID(tt.input))
		})
	}
}

func TestNotifier(t *testing.T) {
	tr := &fakeTransport{}
	n := NewNotifier(tr, "hall", nil)

	assert.True(t, n.Telegram("door open"))
	assert.True(t, n.SMS("alarm"))

	tg := tr.byTopic("sg/" + TopicTelegram)
	require.Len(t, tg, 1)
	assert.Equal(t, byte(1), tg[0].qos)
	assert.JSONEq(t, `{"unit":"hall","text":"door open"}`, tg[0].payload)
	assert.Len(t, tr.byTopic("sg/"+TopicSMS), 1)

	tr.err = errors.New("not connected")
	assert.False(t, n.Telegram("lost"))
}

func TestScenarios(t *testing.T) {
	tr := &fakeTransport{}
	s := NewScenarios(tr, nil)

	s.OutHome()
	s.InHome()

	msgs := tr.byTopic("sg/" + TopicScenario)
	require.Len(t, msgs, 2)
	assert.Equal(t, ScenarioOutHome, msgs[0].payload)
	assert.Equal(t, ScenarioInHome, msgs[1].payload)
}

func TestStatePublisher(t *testing.T) {
	tr := &fakeTransport{}
	src := &stubSource{armed: true, sensors: []security.SensorState{
		{Name: "Front Door", Kind: security.Reed, Detected: true},
		{Name: "Hall", Kind: security.PIR},
	}}
	p := NewStatePublisher(tr, src, nil, 0, nil)

	require.NoError(t, p.PublishOnce())

	state := tr.byTopic("sg/security/state")
	require.Len(t, state, 1)
	assert.True(t, state[0].retained)

	var snapshot StateSnapshot
	require.NoError(t, json.Unmarshal([]byte(state[0].payload), &snapshot))
	assert.Equal(t, "Hall Unit", snapshot.Unit)
	assert.True(t, snapshot.Armed)
	require.Len(t, snapshot.Sensors, 2)
	assert.Equal(t, SensorState{ID: "front_door", Name: "Front Door", Type: "reed", Detected: true}, snapshot.Sensors[0])

	door := tr.byTopic("sg/binary_sensor/sensor_front_door/state")
	require.Len(t, door, 1)
	assert.Equal(t, PayloadOn, door[0].payload)
	armed := tr.byTopic("sg/binary_sensor/armed/state")
	require.Len(t, armed, 1)
	assert.Equal(t, PayloadOn, armed[0].payload)
	alarm := tr.byTopic("sg/binary_sensor/alarm/state")
	require.Len(t, alarm, 1)
	assert.Equal(t, PayloadOff, alarm[0].payload)
}

func TestDiscoveryPublishedOnceAndOnChange(t *testing.T) {
	tr := &fakeTransport{}
	kv := newStorage(t)
	src := &stubSource{sensors: []security.SensorState{
		{Name: "Door", Kind: security.Reed},
		{Name: "Hall", Kind: security.Microwave},
	}}
	d := NewDiscoveryManager(tr, kv, "Hall Unit", nil)
	p := NewStatePublisher(tr, src, d, 0, nil)

	require.NoError(t, p.PublishOnce())
	configs := tr.byTopic("homeassistant/")
	require.Len(t, configs, 4)

	var door map[string]interface{}
	for _, c := range configs {
		if c.topic == "homeassistant/binary_sensor/hall_unit/sensor_door/config" {
			require.NoError(t, json.Unmarshal([]byte(c.payload), &door))
		}
	}
	require.NotNil(t, door)
	assert.Equal(t, "door", door["device_class"])
	assert.Equal(t, "sg/binary_sensor/sensor_door/state", door["state_topic"])
	assert.Equal(t, "sg/availability", door["availability_topic"])

	// unchanged sensors are not republished
	tr.reset()
	require.NoError(t, p.PublishOnce())
	assert.Empty(t, tr.byTopic("homeassistant/"))

	// a fresh manager reads the published state from storage
	tr.reset()
	p = NewStatePublisher(tr, src, NewDiscoveryManager(tr, kv, "Hall Unit", nil), 0, nil)
	require.NoError(t, p.PublishOnce())
	assert.Empty(t, tr.byTopic("homeassistant/"))

	// a removed sensor is republished and its config cleared
	tr.reset()
	src.sensors = src.sensors[:1]
	require.NoError(t, p.PublishOnce())
	cleared := tr.byTopic("homeassistant/binary_sensor/hall_unit/sensor_hall/config")
	require.Len(t, cleared, 1)
	assert.Empty(t, cleared[0].payload)
	assert.Len(t, tr.byTopic("homeassistant/"), 4)
}

func TestDiscoveryForget(t *testing.T) {
	tr := &fakeTransport{}
	kv := newStorage(t)
	d := NewDiscoveryManager(tr, kv, "hall", nil)
	configs := []*SensorConfig{{SensorID: "armed", Name: "Armed", StateTopic: "binary_sensor/armed/state"}}

	assert.True(t, d.ShouldRepublish(configs))
	d.Publish(configs)
	assert.False(t, d.ShouldRepublish(configs))

	require.NoError(t, d.Forget())
	assert.True(t, d.ShouldRepublish(configs))
}

func TestNewRequiresBroker(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)

	c, err := New(Config{Broker: "tcp://127.0.0.1:1883", Prefix: "sg"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sg/security/state", c.Topic("security/state"))
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.PublishWithQoS("x", 0, false, "y"), ErrNotConnected)
	assert.ErrorIs(t, c.PublishRaw("homeassistant/x", "y", true), ErrNotConnected)
	assert.True(t, strings.HasPrefix(c.ClientID(), "stackguard-"))
}

func TestConnectUnreachableBrokerKeepsClient(t *testing.T) {
	c, err := New(Config{
		Broker:         "tcp://127.0.0.1:1",
		Prefix:         "sg",
		ConnectTimeout: 200 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer c.Disconnect()

	start := time.Now()
	assert.Error(t, c.Connect())
	assert.Less(t, time.Since(start), 5*time.Second, "connect gives up waiting")

	assert.False(t, c.IsConnected())
	assert.NoError(t, c.Connect(), "second call is a no-op while retrying")

	start = time.Now()
	assert.ErrorIs(t, c.PublishWithQoS("notify/sms", 1, false, "x"), ErrNotConnected)
	assert.Less(t, time.Since(start), time.Second, "publish does not wait for the broker")
}
