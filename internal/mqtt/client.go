// Package mqtt publishes security state and notifications over MQTT
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Availability payloads published on the availability topic
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"

	availabilityTopic = "availability"
)

// publishTimeout bounds the wait for a broker acknowledgement so a stalled
// broker cannot block the notification worker
const publishTimeout = 5 * time.Second

// DefaultConnectTimeout bounds the wait for the first connection attempt
const DefaultConnectTimeout = 5 * time.Second

// ErrNotConnected is returned when publishing before Connect or after Disconnect
var ErrNotConnected = errors.New("mqtt client is not connected")

// Config holds MQTT client configuration
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string // generated when empty
	Username string
	Password string
	Prefix   string // prepended to every relative topic
	UseTLS   bool

	ConnectTimeout time.Duration // DefaultConnectTimeout when zero
}

// Transport publishes messages to the broker.
// Topics passed to PublishWithQoS are relative to the prefix.
type Transport interface {
	PublishWithQoS(topic string, qos byte, retained bool, payload interface{}) error
	PublishRaw(topic string, payload interface{}, retained bool) error
	Topic(topic string) string
}

// Client is a paho connection scoped to one unit's topic prefix
type Client struct {
	conn   paho.Client
	config Config
	logger *zap.Logger

	mu      sync.RWMutex
	started bool
}

// New creates a client. The broker marks the unit offline when the
// connection drops without a disconnect.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("stackguard-%d", time.Now().Unix())
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	c := &Client{config: cfg, logger: logger}
	c.conn = paho.NewClient(c.options())
	return c, nil
}

func (c *Client) options() *paho.ClientOptions {
	cfg := c.config
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Second).
		SetMaxReconnectInterval(10 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetWill(c.Topic(availabilityTopic), PayloadOffline, 1, true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("Broker connection lost", zap.Error(err))
	})
	// runs on every reconnect, restoring the retained availability
	opts.SetOnConnectHandler(func(conn paho.Client) {
		c.logger.Info("Connected to broker", zap.String("broker", cfg.Broker))
		conn.Publish(c.Topic(availabilityTopic), 1, true, PayloadOnline)
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		c.logger.Debug("Reconnecting to broker")
	})
	return opts
}

// Connect starts the broker session. When the broker does not answer within
// the connect timeout an error is returned and paho keeps retrying in the
// background; publishing fails with ErrNotConnected until it succeeds.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	c.logger.Info("Connecting to broker", zap.String("broker", c.config.Broker), zap.String("clientId", c.config.ClientID))
	token := c.conn.Connect()
	c.started = true

	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("connect to mqtt broker %s: no connection after %s", c.config.Broker, c.config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", c.config.Broker, err)
	}
	return nil
}

// Disconnect marks the unit offline and closes the connection
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}

	if c.conn.IsConnectionOpen() {
		c.conn.Publish(c.Topic(availabilityTopic), 1, true, PayloadOffline).WaitTimeout(time.Second)
	}
	c.conn.Disconnect(250)
	c.started = false
	c.logger.Info("Disconnected from broker")
}

// PublishWithQoS publishes to a topic under the prefix
func (c *Client) PublishWithQoS(topic string, qos byte, retained bool, payload interface{}) error {
	return c.publish(c.Topic(topic), qos, retained, payload)
}

// PublishRaw publishes to an absolute topic with QoS 1 (discovery configs)
func (c *Client) PublishRaw(topic string, payload interface{}, retained bool) error {
	return c.publish(topic, 1, retained, payload)
}

func (c *Client) publish(topic string, qos byte, retained bool, payload interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.started || !c.conn.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.conn.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: no acknowledgement after %s", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	c.logger.Debug("Published", zap.String("topic", topic), zap.Uint8("qos", qos), zap.Bool("retained", retained))
	return nil
}

// Topic returns topic under the configured prefix
func (c *Client) Topic(topic string) string {
	if c.config.Prefix == "" {
		return topic
	}
	return c.config.Prefix + "/" + topic
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started && c.conn.IsConnectionOpen()
}

// ClientID returns the client id used with the broker
func (c *Client) ClientID() string {
	return c.config.ClientID
}

var _ Transport = (*Client)(nil)
