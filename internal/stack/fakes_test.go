package stack

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errUnreachable = errors.New("connection refused")

type fakeUnit struct {
	status      bool
	alarm       bool
	unreachable bool
	failReads   bool
	statusSets  int
	alarmSets   int
}

type fakeDispatcher struct {
	mu    sync.Mutex
	units map[uint]*fakeUnit
}

func newFakeDispatcher(units map[uint]*fakeUnit) *fakeDispatcher {
	return &fakeDispatcher{units: units}
}

func (d *fakeDispatcher) unit(id uint) (*fakeUnit, error) {
	u, ok := d.units[id]
	if !ok || u.unreachable {
		return nil, errUnreachable
	}
	return u, nil
}

func (d *fakeDispatcher) Probe(ctx context.Context, id uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.unit(id)
	return err
}

func (d *fakeDispatcher) StatusGet(ctx context.Context, id uint) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := d.unit(id)
	if err != nil {
		return false, err
	}
	if u.failReads {
		return false, errors.New("malformed response")
	}
	return u.status, nil
}

func (d *fakeDispatcher) StatusSet(ctx context.Context, id uint, armed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := d.unit(id)
	if err != nil {
		return err
	}
	u.status = armed
	u.statusSets++
	return nil
}

func (d *fakeDispatcher) AlarmGet(ctx context.Context, id uint) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := d.unit(id)
	if err != nil {
		return false, err
	}
	if u.failReads {
		return false, errors.New("malformed response")
	}
	return u.alarm, nil
}

func (d *fakeDispatcher) AlarmSet(ctx context.Context, id uint, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := d.unit(id)
	if err != nil {
		return err
	}
	u.alarm = active
	u.alarmSets++
	return nil
}

type pushCounter struct {
	passes int
	pushes map[string]int
}

func (p *pushCounter) ReconcilePass(time.Duration) { p.passes++ }
func (p *pushCounter) ReconcilePush(kind string) {
	if p.pushes == nil {
		p.pushes = make(map[string]int)
	}
	p.pushes[kind]++
}
