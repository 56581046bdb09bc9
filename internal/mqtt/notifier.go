package mqtt

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Notification topics consumed by an external Telegram/SMS gateway
const (
	TopicTelegram = "notify/telegram"
	TopicSMS      = "notify/sms"
	TopicScenario = "scenario"
)

// Scenario payloads
const (
	ScenarioInHome  = "in_home"
	ScenarioOutHome = "out_home"
)

type notification struct {
	Unit string `json:"unit"`
	Text string `json:"text"`
}

// Notifier hands notifications to a gateway over MQTT with QoS 1
type Notifier struct {
	transport Transport
	unit      string
	logger    *zap.Logger
}

// NewNotifier creates a notifier for the named unit
func NewNotifier(transport Transport, unit string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{transport: transport, unit: unit, logger: logger}
}

// Telegram implements notify.Notifier
func (n *Notifier) Telegram(msg string) bool {
	return n.send(TopicTelegram, msg)
}

// SMS implements notify.Notifier
func (n *Notifier) SMS(msg string) bool {
	return n.send(TopicSMS, msg)
}

func (n *Notifier) send(topic, msg string) bool {
	payload, err := json.Marshal(notification{Unit: n.unit, Text: msg})
	if err != nil {
		return false
	}
	if err := n.transport.PublishWithQoS(topic, 1, false, payload); err != nil {
		n.logger.Warn("Failed to publish notification", zap.String("topic", topic), zap.Error(err))
		return false
	}
	return true
}

// Scenarios publishes the home scenario selected by key presentation
type Scenarios struct {
	transport Transport
	logger    *zap.Logger
}

// NewScenarios creates a scenario hook
func NewScenarios(transport Transport, logger *zap.Logger) *Scenarios {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scenarios{transport: transport, logger: logger}
}

// InHome implements security.Scenarios
func (s *Scenarios) InHome() { s.publish(ScenarioInHome) }

// OutHome implements security.Scenarios
func (s *Scenarios) OutHome() { s.publish(ScenarioOutHome) }

func (s *Scenarios) publish(name string) {
	if err := s.transport.PublishWithQoS(TopicScenario, 1, false, name); err != nil {
		s.logger.Warn("Failed to publish scenario", zap.String("scenario", name), zap.Error(err))
	}
}
