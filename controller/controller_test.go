package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stedrow/sherpa-dns/endpoint"
	"github.com/stedrow/sherpa-dns/plan"
	"github.com/stedrow/sherpa-dns/source"
)

type fakeSource struct {
	endpoints []*endpoint.Endpoint
	err       error
	events    chan source.Nudge
}

func (f *fakeSource) Snapshot(ctx context.Context) ([]*endpoint.Endpoint, error) {
	return f.endpoints, f.err
}

func (f *fakeSource) Events(ctx context.Context) <-chan source.Nudge {
	if f.events == nil {
		f.events = make(chan source.Nudge)
	}
	return f.events
}

type fakeRegistry struct {
	owned     []*endpoint.Endpoint
	ownedErr  error
	applied   *plan.Changes
	applyErr  error
	applyCall int
}

func (f *fakeRegistry) Owned(ctx context.Context) ([]*endpoint.Endpoint, error) {
	return f.owned, f.ownedErr
}

func (f *fakeRegistry) Apply(ctx context.Context, changes *plan.Changes) error {
	f.applyCall++
	f.applied = changes
	if f.applyErr != nil {
		return f.applyErr
	}
	f.owned = append(f.owned, changes.Create...)
	return nil
}

func a(name, target string) *endpoint.Endpoint {
	return endpoint.NewEndpoint(name, endpoint.RecordTypeA, endpoint.TTLAuto, false, target)
}

func TestRunOnceCreatesNewEndpoint(t *testing.T) {
	src := &fakeSource{endpoints: []*endpoint.Endpoint{a("app.example.com", "10.0.0.1")}}
	reg := &fakeRegistry{}
	c := New(src, reg, nil)
	c.CleanupOnStop = true
	c.CleanupDelay = 15 * time.Minute

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if reg.applied == nil || len(reg.applied.Create) != 1 {
		t.Fatalf("expected a create to be applied, got %+v", reg.applied)
	}
	if !c.Healthy() {
		t.Error("expected controller to be healthy after a successful tick")
	}
}

func TestRunOnceNoOpSecondTick(t *testing.T) {
	ep := a("app.example.com", "10.0.0.1")
	src := &fakeSource{endpoints: []*endpoint.Endpoint{ep}}
	reg := &fakeRegistry{owned: []*endpoint.Endpoint{ep}}
	c := New(src, reg, nil)

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if reg.applyCall != 0 {
		t.Errorf("expected no Apply call when already converged, got %d calls", reg.applyCall)
	}
}

func TestRunOnceDeferredDeleteNotAppliedImmediately(t *testing.T) {
	ep := a("gone.example.com", "10.0.0.1")
	src := &fakeSource{endpoints: nil}
	reg := &fakeRegistry{owned: []*endpoint.Endpoint{ep}}
	c := New(src, reg, nil)
	c.CleanupOnStop = true
	c.CleanupDelay = 15 * time.Minute

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if reg.applyCall != 0 {
		t.Fatalf("expected the delete to be deferred, not applied, got %d Apply calls", reg.applyCall)
	}
	if c.Scheduler.Pending() != 1 {
		t.Fatalf("expected 1 pending deletion, got %d", c.Scheduler.Pending())
	}
}

func TestRunOnceReappearanceCancelsScheduledDelete(t *testing.T) {
	ep := a("flappy.example.com", "10.0.0.1")
	reg := &fakeRegistry{owned: []*endpoint.Endpoint{ep}}
	c := New(&fakeSource{}, reg, nil)
	c.CleanupOnStop = true
	c.CleanupDelay = 15 * time.Minute

	// First tick: container gone, delete deferred.
	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce (1): %v", err)
	}
	if c.Scheduler.Pending() != 1 {
		t.Fatalf("expected 1 pending deletion after first tick, got %d", c.Scheduler.Pending())
	}

	// Second tick: container reappears.
	c.Source = &fakeSource{endpoints: []*endpoint.Endpoint{ep}}
	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce (2): %v", err)
	}
	if c.Scheduler.Pending() != 0 {
		t.Fatalf("expected reappearance to cancel the pending deletion, got %d still pending", c.Scheduler.Pending())
	}
}

func TestRunOnceCleanupDisabledDeletesImmediately(t *testing.T) {
	ep := a("gone.example.com", "10.0.0.1")
	reg := &fakeRegistry{owned: []*endpoint.Endpoint{ep}}
	c := New(&fakeSource{}, reg, nil)
	c.CleanupOnStop = false

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if reg.applyCall != 1 || len(reg.applied.Delete) != 1 {
		t.Fatalf("expected an immediate delete, got %+v (calls=%d)", reg.applied, reg.applyCall)
	}
}

func TestRunOnceDryRunDoesNotApply(t *testing.T) {
	src := &fakeSource{endpoints: []*endpoint.Endpoint{a("app.example.com", "10.0.0.1")}}
	reg := &fakeRegistry{}
	c := New(src, reg, nil)
	c.DryRun = true

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if reg.applyCall != 0 {
		t.Errorf("expected dry_run to skip Apply, got %d calls", reg.applyCall)
	}
}

func TestRunOnceSourceErrorMarksUnhealthy(t *testing.T) {
	src := &fakeSource{err: context.DeadlineExceeded}
	reg := &fakeRegistry{}
	c := New(src, reg, nil)

	if err := c.RunOnce(context.Background()); err == nil {
		t.Fatal("expected an error when Snapshot fails")
	}
	if c.Healthy() {
		t.Error("expected controller to be unhealthy after a source error")
	}
}

func TestOnceModeDrainsSchedulerBeforeReturning(t *testing.T) {
	ep := a("gone.example.com", "10.0.0.1")
	reg := &fakeRegistry{owned: []*endpoint.Endpoint{ep}}
	c := New(&fakeSource{}, reg, nil)
	c.Once = true
	c.CleanupOnStop = true
	c.CleanupDelay = 15 * time.Minute

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reg.applyCall != 1 || len(reg.applied.Delete) != 1 {
		t.Fatalf("expected once mode to drain and apply the deferred delete, got %+v (calls=%d)", reg.applied, reg.applyCall)
	}
}

func TestShouldRunOnceRespectsInterval(t *testing.T) {
	c := New(&fakeSource{}, &fakeRegistry{}, nil)
	c.Interval = time.Minute

	now := time.Now()
	if !c.ShouldRunOnce(now) {
		t.Fatal("expected the first call to run immediately")
	}
	if c.ShouldRunOnce(now.Add(time.Second)) {
		t.Fatal("expected the next call within the interval to be false")
	}
	if !c.ShouldRunOnce(now.Add(time.Minute + time.Second)) {
		t.Fatal("expected a call past the interval to run")
	}
}

func TestScheduleRunOnceRespectsMinEventSyncInterval(t *testing.T) {
	c := New(&fakeSource{}, &fakeRegistry{}, nil)
	c.MinEventSyncInterval = 30 * time.Second
	now := time.Now()
	c.lastRunAt = now

	c.ScheduleRunOnce(now.Add(time.Second))
	if c.nextRunAt.Before(now.Add(30 * time.Second)) {
		t.Errorf("expected nudge to respect MinEventSyncInterval, nextRunAt=%v", c.nextRunAt)
	}
}
