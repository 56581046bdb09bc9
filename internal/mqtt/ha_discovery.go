package mqtt

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"stackguard/internal/storage"
)

const (
	discoveryNamespace = "mqtt"
	keyPublished       = "discoveryPublished"
	keyPublishedIDs    = "discoveryIDs"
)

// KV is the part of storage used to remember published discovery configs
type KV interface {
	Get(namespace, key string) ([]byte, error)
	Set(namespace, key string, value []byte) error
	GetBool(namespace, key string) (bool, error)
	SetBool(namespace, key string, value bool) error
	Delete(namespace, key string) error
}

// DiscoveryManager manages Home Assistant MQTT Discovery
type DiscoveryManager struct {
	transport Transport
	logger    *zap.Logger
	storage   KV
	nodeID    string

	mu      sync.Mutex
	lastIDs string
}

// NewDiscoveryManager creates a new DiscoveryManager instance.
// nodeID groups the configs of one unit.
func NewDiscoveryManager(transport Transport, kv KV, nodeID string, logger *zap.Logger) *DiscoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryManager{
		transport: transport,
		logger:    logger,
		storage:   kv,
		nodeID:    sanitizeID(nodeID),
	}
}

// ShouldRepublish reports whether configs must be published: never published
// before, or the set of sensors changed since the last publish.
func (d *DiscoveryManager) ShouldRepublish(configs []*SensorConfig) bool {
	ids := joinIDs(configs)

	published, err := d.storage.GetBool(discoveryNamespace, keyPublished)
	if err != nil {
		published = false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastIDs == "" {
		if stored, err := d.storage.Get(discoveryNamespace, keyPublishedIDs); err == nil {
			d.lastIDs = string(stored)
		}
	}
	return !published || ids != d.lastIDs
}

// Publish publishes all configs, removes configs of sensors that disappeared
// and records what was published
func (d *DiscoveryManager) Publish(configs []*SensorConfig) {
	d.mu.Lock()
	previous := d.lastIDs
	d.mu.Unlock()

	current := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		current[cfg.SensorID] = true
		if err := d.publishConfig(cfg); err != nil {
			d.logger.Warn("Failed to publish discovery", zap.String("sensor", cfg.SensorID), zap.Error(err))
		}
	}

	for _, id := range strings.Split(previous, ",") {
		if id == "" || current[id] {
			continue
		}
		// an empty retained config removes the entity
		if err := d.transport.PublishRaw(d.configTopic(id), []byte{}, true); err != nil {
			d.logger.Warn("Failed to remove discovery", zap.String("sensor", id), zap.Error(err))
		}
	}

	ids := joinIDs(configs)
	if err := d.storage.Set(discoveryNamespace, keyPublishedIDs, []byte(ids)); err != nil {
		d.logger.Warn("Failed to store discovery ids", zap.Error(err))
	}
	if err := d.storage.SetBool(discoveryNamespace, keyPublished, true); err != nil {
		d.logger.Warn("Failed to mark discovery as published", zap.Error(err))
	}

	d.mu.Lock()
	d.lastIDs = ids
	d.mu.Unlock()

	d.logger.Info("Published discovery configs", zap.Int("count", len(configs)))
}

// Forget clears the stored discovery state so the next run republishes
func (d *DiscoveryManager) Forget() error {
	d.mu.Lock()
	d.lastIDs = ""
	d.mu.Unlock()

	for _, key := range []string{keyPublished, keyPublishedIDs} {
		if err := d.storage.Delete(discoveryNamespace, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (d *DiscoveryManager) configTopic(sensorID string) string {
	// homeassistant/binary_sensor/{node}/{sensor}/config
	return "homeassistant/binary_sensor/" + d.nodeID + "/" + sensorID + "/config"
}

func (d *DiscoveryManager) publishConfig(cfg *SensorConfig) error {
	discoveryConfig := map[string]interface{}{
		"name":                  cfg.Name,
		"unique_id":             d.nodeID + "_" + cfg.SensorID,
		"state_topic":           d.transport.Topic(cfg.StateTopic),
		"payload_on":            PayloadOn,
		"payload_off":           PayloadOff,
		"availability_topic":    d.transport.Topic(availabilityTopic),
		"payload_available":     PayloadOnline,
		"payload_not_available": PayloadOffline,
	}
	if cfg.DeviceClass != "" {
		discoveryConfig["device_class"] = cfg.DeviceClass
	}
	if cfg.DeviceInfo != nil {
		discoveryConfig["device"] = map[string]interface{}{
			"identifiers":  cfg.DeviceInfo.Identifiers,
			"name":         cfg.DeviceInfo.Name,
			"model":        cfg.DeviceInfo.Model,
			"manufacturer": cfg.DeviceInfo.Manufacturer,
		}
	}

	payload, err := json.Marshal(discoveryConfig)
	if err != nil {
		return err
	}
	return d.transport.PublishRaw(d.configTopic(cfg.SensorID), payload, true)
}

func joinIDs(configs []*SensorConfig) string {
	ids := make([]string, 0, len(configs))
	for _, cfg := range configs {
		ids = append(ids, cfg.SensorID)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
