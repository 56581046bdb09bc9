// Package worker runs the controller's long-lived loops. Every loop is owned
// by a Group created at the composition root and observes one shared
// cancellation context at its sleep boundary.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a long-lived responsibility (sensor monitor, key reader,
// reconciliation, notification drain). Run blocks until ctx is cancelled.
type Task interface {
	// Name returns the unique task name (lowercase, no spaces)
	Name() string

	// Run executes the task until the context is cancelled.
	// Returning a non-nil error other than ctx.Err() stops the whole group.
	Run(ctx context.Context) error
}

// Group is the registry of all tasks, started in registration order
type Group struct {
	mu     sync.Mutex
	tasks  map[string]Task
	order  []string
	logger *zap.Logger
}

// NewGroup creates a new task group
func NewGroup(logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		tasks:  make(map[string]Task),
		order:  make([]string, 0),
		logger: logger,
	}
}

// Register adds a task to the group
func (g *Group) Register(t Task) error {
	if t == nil {
		return fmt.Errorf("task cannot be nil")
	}

	name := t.Name()
	if name == "" {
		return fmt.Errorf("task name cannot be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[name]; exists {
		return fmt.Errorf("task %s is already registered", name)
	}

	g.tasks[name] = t
	g.order = append(g.order, name)
	return nil
}

// Names returns the registered task names in registration order
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// Run starts every task and blocks until all of them have returned.
// Cancellation of ctx is a clean shutdown and yields a nil error.
func (g *Group) Run(ctx context.Context) error {
	g.mu.Lock()
	tasks := make([]Task, 0, len(g.order))
	for _, name := range g.order {
		tasks = append(tasks, g.tasks[name])
	}
	g.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		task := t
		eg.Go(func() error {
			g.logger.Info("task started", zap.String("task", task.Name()))
			err := task.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				g.logger.Error("task failed", zap.String("task", task.Name()), zap.Error(err))
				return fmt.Errorf("task %s: %w", task.Name(), err)
			}
			g.logger.Info("task stopped", zap.String("task", task.Name()))
			return nil
		})
	}
	return eg.Wait()
}

// RunPeriodic runs a function periodically until the context is cancelled.
// The function runs once immediately, then on every tick. Errors are logged
// and the loop continues with the next tick.
func RunPeriodic(ctx context.Context, interval time.Duration, logger *zap.Logger, name string, task func(context.Context) error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := task(ctx); err != nil {
		logger.Warn("periodic task error", zap.String("task", name), zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("periodic task stopped", zap.String("task", name))
			return
		case <-ticker.C:
			if err := task(ctx); err != nil {
				logger.Warn("periodic task error", zap.String("task", name), zap.Error(err))
			}
		}
	}
}

// Sleep pauses for d or until ctx is cancelled.
// It reports false when the context ended the wait.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Func adapts a plain function into a Task
type Func struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

// Name implements Task.Name
func (f Func) Name() string { return f.TaskName }

// Run implements Task.Run
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }
