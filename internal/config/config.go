package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STACKGUARD_MQTT_BROKER
const EnvPrefix = "STACKGUARD"

// Setting keys
const (
	KeyAddr              = "addr"
	KeyAPIVersion        = "api_version"
	KeyUnitName          = "unit_name"
	KeyStateDB           = "state_db"
	KeyTopology          = "topology"
	KeyLogLevel          = "log_level"
	KeyRPCTimeout        = "rpc_timeout"
	KeyReconcileInterval = "reconcile_interval"
	KeySensorInterval    = "sensor_interval"
	KeyKeyPollInterval   = "key_poll_interval"
	KeyKeyDebounce       = "key_debounce"
	KeyNotifyQueue       = "notify_queue"
	KeyEventsMax         = "events_max"
	KeyGPIORoot          = "gpio_root"
	KeyW1Root            = "w1_root"
	KeySimulate          = "simulate"
	// MQTT settings
	KeyMQTTBroker          = "mqtt.broker"
	KeyMQTTClientID        = "mqtt.client_id"
	KeyMQTTUsername        = "mqtt.username"
	KeyMQTTPassword        = "mqtt.password"
	KeyMQTTPrefix          = "mqtt.prefix"
	KeyMQTTUseTLS          = "mqtt.use_tls"
	KeyMQTTPublishInterval = "mqtt.publish_interval"
	KeyMQTTConnectTimeout  = "mqtt.connect_timeout"
)

// Default values
const (
	DefaultAddr              = ":8080"
	DefaultAPIVersion        = "v1"
	DefaultUnitName          = "local"
	DefaultStateDB           = "stackguard.db"
	DefaultTopology          = "topology.yaml"
	DefaultLogLevel          = "info"
	DefaultRPCTimeout        = 2 * time.Second
	DefaultReconcileInterval = 3 * time.Second
	DefaultSensorInterval    = time.Second
	DefaultKeyPollInterval   = time.Second
	DefaultKeyDebounce       = 5 * time.Second
	DefaultNotifyQueue       = 32
	DefaultEventsMax         = 200
	DefaultGPIORoot          = "/sys/class/gpio"
	DefaultW1Root            = "/sys/bus/w1/devices"
	// MQTT defaults
	DefaultMQTTPrefix          = "stackguard"
	DefaultMQTTPublishInterval = 15 * time.Second
	DefaultMQTTConnectTimeout  = 5 * time.Second
)

// MQTT holds the MQTT settings. An empty broker disables MQTT.
type MQTT struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	Prefix          string
	UseTLS          bool
	PublishInterval time.Duration
	ConnectTimeout  time.Duration
}

// Config holds all application configuration.
// All access should be through getter methods for thread safety.
type Config struct {
	mu       sync.RWMutex
	filePath string

	// Server settings
	addr       string
	apiVersion string
	unitName   string

	// Files
	stateDB  string
	topology string

	logLevel string

	// Loop settings
	rpcTimeout        time.Duration
	reconcileInterval time.Duration
	sensorInterval    time.Duration
	keyPollInterval   time.Duration
	keyDebounce       time.Duration

	notifyQueue int
	eventsMax   int

	// Hardware settings
	gpioRoot string
	w1Root   string
	simulate bool

	mqtt MQTT
}

// NewViper returns a viper instance with defaults and environment overrides.
// Flags are bound by the caller.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyAddr, DefaultAddr)
	v.SetDefault(KeyAPIVersion, DefaultAPIVersion)
	v.SetDefault(KeyUnitName, DefaultUnitName)
	v.SetDefault(KeyStateDB, DefaultStateDB)
	v.SetDefault(KeyTopology, DefaultTopology)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyRPCTimeout, DefaultRPCTimeout)
	v.SetDefault(KeyReconcileInterval, DefaultReconcileInterval)
	v.SetDefault(KeySensorInterval, DefaultSensorInterval)
	v.SetDefault(KeyKeyPollInterval, DefaultKeyPollInterval)
	v.SetDefault(KeyKeyDebounce, DefaultKeyDebounce)
	v.SetDefault(KeyNotifyQueue, DefaultNotifyQueue)
	v.SetDefault(KeyEventsMax, DefaultEventsMax)
	v.SetDefault(KeyGPIORoot, DefaultGPIORoot)
	v.SetDefault(KeyW1Root, DefaultW1Root)
	v.SetDefault(KeySimulate, false)
	v.SetDefault(KeyMQTTBroker, "")
	v.SetDefault(KeyMQTTClientID, "")
	v.SetDefault(KeyMQTTUsername, "")
	v.SetDefault(KeyMQTTPassword, "")
	v.SetDefault(KeyMQTTPrefix, DefaultMQTTPrefix)
	v.SetDefault(KeyMQTTUseTLS, false)
	v.SetDefault(KeyMQTTPublishInterval, DefaultMQTTPublishInterval)
	v.SetDefault(KeyMQTTConnectTimeout, DefaultMQTTConnectTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the settings file into v, when present, and builds the Config.
// A missing file is an error only when explicit is set.
func Load(v *viper.Viper, filePath string, explicit bool) (*Config, error) {
	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			v.SetConfigFile(filePath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %q: %w", filePath, err)
			}
		} else if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %q: %w", filePath, err)
		}
	}

	cfg := &Config{
		filePath:          filePath,
		addr:              strings.TrimSpace(v.GetString(KeyAddr)),
		apiVersion:        strings.TrimSpace(v.GetString(KeyAPIVersion)),
		unitName:          strings.TrimSpace(v.GetString(KeyUnitName)),
		stateDB:           v.GetString(KeyStateDB),
		topology:          v.GetString(KeyTopology),
		logLevel:          v.GetString(KeyLogLevel),
		rpcTimeout:        v.GetDuration(KeyRPCTimeout),
		reconcileInterval: v.GetDuration(KeyReconcileInterval),
		sensorInterval:    v.GetDuration(KeySensorInterval),
		keyPollInterval:   v.GetDuration(KeyKeyPollInterval),
		keyDebounce:       v.GetDuration(KeyKeyDebounce),
		notifyQueue:       v.GetInt(KeyNotifyQueue),
		eventsMax:         v.GetInt(KeyEventsMax),
		gpioRoot:          v.GetString(KeyGPIORoot),
		w1Root:            v.GetString(KeyW1Root),
		simulate:          v.GetBool(KeySimulate),
		mqtt: MQTT{
			Broker:          strings.TrimSpace(v.GetString(KeyMQTTBroker)),
			ClientID:        v.GetString(KeyMQTTClientID),
			Username:        v.GetString(KeyMQTTUsername),
			Password:        v.GetString(KeyMQTTPassword),
			Prefix:          v.GetString(KeyMQTTPrefix),
			UseTLS:          v.GetBool(KeyMQTTUseTLS),
			PublishInterval: v.GetDuration(KeyMQTTPublishInterval),
			ConnectTimeout:  v.GetDuration(KeyMQTTConnectTimeout),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validate checks if configuration is valid.
func (c *Config) validate() error {
	if c.addr == "" {
		return errors.New("server address cannot be empty")
	}

	host, port, err := net.SplitHostPort(c.addr)
	if err != nil {
		return fmt.Errorf("invalid server address format: %s", c.addr)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 1 || portNum > 65535 {
		return fmt.Errorf("invalid port number: %s", port)
	}
	_ = host // host can be empty (bind to all interfaces)

	if c.apiVersion == "" || strings.ContainsAny(c.apiVersion, "/?#") {
		return fmt.Errorf("invalid api version %q", c.apiVersion)
	}

	if c.stateDB == "" {
		return errors.New("state database path cannot be empty")
	}

	durations := map[string]time.Duration{
		KeyRPCTimeout:        c.rpcTimeout,
		KeyReconcileInterval: c.reconcileInterval,
		KeySensorInterval:    c.sensorInterval,
		KeyKeyPollInterval:   c.keyPollInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.keyDebounce < 0 {
		return fmt.Errorf("%s cannot be negative", KeyKeyDebounce)
	}
	if c.mqtt.Broker != "" && c.mqtt.PublishInterval <= 0 {
		return fmt.Errorf("%s must be positive", KeyMQTTPublishInterval)
	}
	if c.mqtt.Broker != "" && c.mqtt.ConnectTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyMQTTConnectTimeout)
	}

	if c.notifyQueue < 1 {
		return fmt.Errorf("%s must be at least 1", KeyNotifyQueue)
	}
	if c.eventsMax < 1 {
		return fmt.Errorf("%s must be at least 1", KeyEventsMax)
	}

	return nil
}

// Getters (thread-safe)

// FilePath returns the path of the settings file.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// Addr returns the server address.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

// APIVersion returns the version path segment of the wire protocol.
func (c *Config) APIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiVersion
}

// UnitName returns the name of this unit.
func (c *Config) UnitName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unitName
}

// StateDB returns the path of the bbolt database.
func (c *Config) StateDB() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateDB
}

// TopologyPath returns the path of the topology file.
func (c *Config) TopologyPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topology
}

// LogLevel returns the log level name.
func (c *Config) LogLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel
}

// RPCTimeout returns the timeout of remote calls.
func (c *Config) RPCTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rpcTimeout
}

// ReconcileInterval returns the reconciliation cadence.
func (c *Config) ReconcileInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconcileInterval
}

// SensorInterval returns the sensor polling cadence.
func (c *Config) SensorInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sensorInterval
}

// KeyPollInterval returns the key bus polling cadence.
func (c *Config) KeyPollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keyPollInterval
}

// KeyDebounce returns the pause after an accepted key.
func (c *Config) KeyDebounce() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keyDebounce
}

// NotifyQueue returns the capacity of the notification queue.
func (c *Config) NotifyQueue() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifyQueue
}

// EventsMax returns the size of the in-memory event log.
func (c *Config) EventsMax() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventsMax
}

// GPIORoot returns the sysfs GPIO directory.
func (c *Config) GPIORoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gpioRoot
}

// W1Root returns the sysfs one-wire directory.
func (c *Config) W1Root() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.w1Root
}

// Simulate reports whether in-memory hardware replaces sysfs.
func (c *Config) Simulate() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.simulate
}

// MQTT returns the MQTT settings.
func (c *Config) MQTT() MQTT {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqtt
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqtt.Broker != ""
}
