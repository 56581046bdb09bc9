// Package notify delivers operator notifications off the controller's lock.
// State changes post messages to a bounded Queue; a separate worker drains
// the queue into the Telegram/SMS Notifier so a slow or failing network
// cannot stall sensor processing or RPC handlers.
package notify

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultQueueSize is the outbound queue capacity
const DefaultQueueSize = 32

// Notifier delivers a message over the operator channels.
// Each method reports whether delivery succeeded.
type Notifier interface {
	Telegram(msg string) bool
	SMS(msg string) bool
}

// Message is one outbound notification with its channel selection
type Message struct {
	Text     string
	Telegram bool
	SMS      bool
}

// Outbox accepts messages without blocking
type Outbox interface {
	Post(msg Message)
}

// Queue is a bounded Outbox drained by Run
type Queue struct {
	ch       chan Message
	notifier Notifier
	logger   *zap.Logger
	dropped  atomic.Int64
}

// NewQueue creates a queue delivering to notifier
func NewQueue(size int, notifier Notifier, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:       make(chan Message, size),
		notifier: notifier,
		logger:   logger,
	}
}

// Post enqueues a message. When the queue is full the message is dropped.
func (q *Queue) Post(msg Message) {
	if !msg.Telegram && !msg.SMS {
		return
	}
	select {
	case q.ch <- msg:
	default:
		q.dropped.Add(1)
		q.logger.Warn("notification queue full, message dropped", zap.String("text", msg.Text))
	}
}

// Dropped returns the number of messages dropped because the queue was full
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Pending returns the number of queued messages
func (q *Queue) Pending() int {
	return len(q.ch)
}

// Name implements worker.Task
func (q *Queue) Name() string { return "notify" }

// Run drains the queue until ctx is cancelled
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.ch:
			q.deliver(msg)
		}
	}
}

// deliver sends one message over its selected channels
func (q *Queue) deliver(msg Message) {
	if msg.Telegram && !q.notifier.Telegram(msg.Text) {
		q.logger.Warn("telegram notification failed", zap.String("text", msg.Text))
	}
	if msg.SMS && !q.notifier.SMS(msg.Text) {
		q.logger.Warn("sms notification failed", zap.String("text", msg.Text))
	}
}

// LogNotifier writes notifications to the log when no delivery gateway is configured
type LogNotifier struct {
	Logger *zap.Logger
}

// Telegram implements Notifier.Telegram
func (n LogNotifier) Telegram(msg string) bool {
	n.Logger.Info("notification", zap.String("channel", "telegram"), zap.String("text", msg))
	return true
}

// SMS implements Notifier.SMS
func (n LogNotifier) SMS(msg string) bool {
	n.Logger.Info("notification", zap.String("channel", "sms"), zap.String("text", msg))
	return true
}
