package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"stackguard/internal/security"
	"stackguard/internal/worker"
)

// DefaultPublishInterval is the cadence of state snapshots
const DefaultPublishInterval = 15 * time.Second

// StateSource is the controller state published over MQTT
type StateSource interface {
	UnitName() string
	Status() bool
	Alarm() bool
	Sensors() []security.SensorState
}

// StateSnapshot is the payload of the security/state topic
type StateSnapshot struct {
	Unit    string        `json:"unit"`
	Armed   bool          `json:"armed"`
	Alarm   bool          `json:"alarm"`
	Sensors []SensorState `json:"sensors"`
	Time    time.Time     `json:"time"`
}

// SensorState is one sensor in a snapshot
type SensorState struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Detected bool   `json:"detected"`
}

// StatePublisher periodically publishes the security state and keeps the
// Home Assistant discovery configs current
type StatePublisher struct {
	transport Transport
	source    StateSource
	discovery *DiscoveryManager
	interval  time.Duration
	logger    *zap.Logger
}

// NewStatePublisher creates a publisher. discovery may be nil.
func NewStatePublisher(transport Transport, source StateSource, discovery *DiscoveryManager, interval time.Duration, logger *zap.Logger) *StatePublisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatePublisher{
		transport: transport,
		source:    source,
		discovery: discovery,
		interval:  interval,
		logger:    logger,
	}
}

// Name implements worker.Task
func (p *StatePublisher) Name() string { return "mqtt-state" }

// Run publishes every interval until ctx is cancelled
func (p *StatePublisher) Run(ctx context.Context) error {
	worker.RunPeriodic(ctx, p.interval, p.logger, p.Name(), func(context.Context) error {
		return p.PublishOnce()
	})
	return nil
}

// PublishOnce publishes the aggregated snapshot and per-entity binary states
func (p *StatePublisher) PublishOnce() error {
	sensors := p.source.Sensors()
	snapshot := StateSnapshot{
		Unit:    p.source.UnitName(),
		Armed:   p.source.Status(),
		Alarm:   p.source.Alarm(),
		Sensors: make([]SensorState, 0, len(sensors)),
		Time:    time.Now().UTC(),
	}
	for _, s := range sensors {
		snapshot.Sensors = append(snapshot.Sensors, SensorState{
			ID:       sanitizeID(s.Name),
			Name:     s.Name,
			Type:     s.Kind.String(),
			Detected: s.Detected,
		})
	}

	if p.discovery != nil {
		configs := p.discoveryConfigs(snapshot)
		if p.discovery.ShouldRepublish(configs) {
			p.discovery.Publish(configs)
		}
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := p.transport.PublishWithQoS("security/state", 0, true, payload); err != nil {
		return err
	}

	states := map[string]bool{"armed": snapshot.Armed, "alarm": snapshot.Alarm}
	for _, s := range snapshot.Sensors {
		states["sensor_"+s.ID] = s.Detected
	}
	for id, on := range states {
		if err := p.transport.PublishWithQoS(entityTopic(id), 0, true, onOff(on)); err != nil {
			p.logger.Debug("Failed to publish entity state", zap.String("entity", id), zap.Error(err))
		}
	}
	return nil
}

func entityTopic(id string) string {
	return "binary_sensor/" + id + "/state"
}

func (p *StatePublisher) discoveryConfigs(snapshot StateSnapshot) []*SensorConfig {
	device := &DeviceInfo{
		Identifiers:  []string{"stackguard_" + sanitizeID(snapshot.Unit)},
		Name:         snapshot.Unit,
		Model:        "stackguard",
		Manufacturer: "stackguard",
	}

	configs := []*SensorConfig{
		{SensorID: "armed", Name: "Armed", StateTopic: entityTopic("armed"), DeviceInfo: device},
		{SensorID: "alarm", Name: "Alarm", DeviceClass: "safety", StateTopic: entityTopic("alarm"), DeviceInfo: device},
	}
	for _, s := range snapshot.Sensors {
		configs = append(configs, &SensorConfig{
			SensorID:    "sensor_" + s.ID,
			Name:        s.Name,
			DeviceClass: deviceClass(s.Type),
			StateTopic:  entityTopic("sensor_" + s.ID),
			DeviceInfo:  device,
		})
	}
	return configs
}
