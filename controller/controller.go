/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/stedrow/sherpa-dns/endpoint"
	"github.com/stedrow/sherpa-dns/internal/pkg/metrics"
	"github.com/stedrow/sherpa-dns/plan"
	"github.com/stedrow/sherpa-dns/provider"
	"github.com/stedrow/sherpa-dns/registry"
	"github.com/stedrow/sherpa-dns/scheduler"
	"github.com/stedrow/sherpa-dns/source"
)

var (
	reconcileTotal = metrics.NewCounterWithOpts(
		prometheus.CounterOpts{
			Namespace: "sherpa_dns",
			Subsystem: "controller",
			Name:      "reconcile_total",
			Help:      "Number of reconciliation ticks attempted.",
		},
	)
	lastSyncTimestamp = metrics.NewGaugeWithOpts(
		prometheus.GaugeOpts{
			Namespace: "sherpa_dns",
			Subsystem: "controller",
			Name:      "last_sync_timestamp_seconds",
			Help:      "Timestamp of the last tick that applied changes successfully.",
		},
	)
	lastReconcileTimestamp = metrics.NewGaugeWithOpts(
		prometheus.GaugeOpts{
			Namespace: "sherpa_dns",
			Subsystem: "controller",
			Name:      "last_reconcile_timestamp_seconds",
			Help:      "Timestamp of the last attempted tick.",
		},
	)
	noChangesTotal = metrics.NewCounterWithOpts(
		prometheus.CounterOpts{
			Namespace: "sherpa_dns",
			Subsystem: "controller",
			Name:      "no_changes_total",
			Help:      "Number of ticks that found the provider already converged.",
		},
	)
	registryErrorsTotal = metrics.NewCounterWithOpts(
		prometheus.CounterOpts{
			Namespace: "sherpa_dns",
			Subsystem: "registry",
			Name:      "errors_total",
			Help:      "Number of Registry errors.",
		},
	)
	sourceErrorsTotal = metrics.NewCounterWithOpts(
		prometheus.CounterOpts{
			Namespace: "sherpa_dns",
			Subsystem: "source",
			Name:      "errors_total",
			Help:      "Number of Source errors.",
		},
	)
	sourceEndpointsTotal = metrics.NewGaugedVectorOpts(
		prometheus.GaugeOpts{
			Namespace: "sherpa_dns",
			Subsystem: "source",
			Name:      "endpoints_total",
			Help:      "Number of endpoints currently declared by the source.",
		},
		[]string{"record_type"},
	)
	registryEndpointsTotal = metrics.NewGaugedVectorOpts(
		prometheus.GaugeOpts{
			Namespace: "sherpa_dns",
			Subsystem: "registry",
			Name:      "endpoints_total",
			Help:      "Number of endpoints currently owned by this instance.",
		},
		[]string{"record_type"},
	)
	schedulerPendingTotal = metrics.NewGaugeWithOpts(
		prometheus.GaugeOpts{
			Namespace: "sherpa_dns",
			Subsystem: "scheduler",
			Name:      "pending_total",
			Help:      "Number of deletions currently deferred by the cleanup scheduler.",
		},
	)
	planChangesTotal = metrics.NewCounterVecWithOpts(
		prometheus.CounterOpts{
			Namespace: "sherpa_dns",
			Subsystem: "plan",
			Name:      "changes_total",
			Help:      "Number of plan changes by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	metrics.RegisterMetric.MustRegister(reconcileTotal)
	metrics.RegisterMetric.MustRegister(lastSyncTimestamp)
	metrics.RegisterMetric.MustRegister(lastReconcileTimestamp)
	metrics.RegisterMetric.MustRegister(noChangesTotal)
	metrics.RegisterMetric.MustRegister(registryErrorsTotal)
	metrics.RegisterMetric.MustRegister(sourceErrorsTotal)
	metrics.RegisterMetric.MustRegister(sourceEndpointsTotal)
	metrics.RegisterMetric.MustRegister(registryEndpointsTotal)
	metrics.RegisterMetric.MustRegister(schedulerPendingTotal)
	metrics.RegisterMetric.MustRegister(planChangesTotal)
}

// Controller is responsible for orchestrating the Source, Registry, Planner
// and CleanupScheduler:
//   - Ask the Source for the desired endpoint set.
//   - Ask the Registry for the currently owned set.
//   - Diff them with the Planner.
//   - Defer deletes through the CleanupScheduler (unless cleanup_on_stop is
//     false) and cancel deferrals for endpoints that reappeared.
//   - Hand creates, updates, and due deletes to the Registry.
type Controller struct {
	Source    source.Source
	Registry  registry.Registry
	Scheduler *scheduler.Scheduler

	Interval      time.Duration
	Once          bool
	DryRun        bool
	CleanupOnStop bool
	CleanupDelay  time.Duration
	// MinEventSyncInterval batches bursts of Source nudges so a flurry of
	// container restarts triggers at most one reconciliation per window.
	MinEventSyncInterval time.Duration

	log *log.Entry

	runAtMutex sync.Mutex
	nextRunAt  time.Time
	lastRunAt  time.Time

	// healthy tracks whether the most recently completed tick read both the
	// Source and the Registry without error and applied its changes without
	// a non-permanent error, for the /health endpoint.
	healthy atomic.Bool
}

// New constructs a Controller with its nextRunAt primed to run immediately.
func New(src source.Source, reg registry.Registry, logger *log.Entry) *Controller {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	c := &Controller{
		Source:    src,
		Registry:  reg,
		Scheduler: scheduler.New(),
		log:       logger.WithField("component", "controller"),
	}
	c.healthy.Store(false)
	return c
}

// Healthy reports whether the last completed tick succeeded, for the health
// endpoint.
func (c *Controller) Healthy() bool {
	return c.healthy.Load()
}

// RunOnce executes a single creates → updates → due-deletes reconciliation
// pass.
func (c *Controller) RunOnce(ctx context.Context) error {
	lastReconcileTimestamp.Gauge.SetToCurrentTime()
	reconcileTotal.Counter.Inc()

	c.runAtMutex.Lock()
	c.lastRunAt = time.Now()
	c.runAtMutex.Unlock()

	desired, err := c.Source.Snapshot(ctx)
	if err != nil {
		sourceErrorsTotal.Counter.Inc()
		c.healthy.Store(false)
		return fmt.Errorf("source snapshot: %w", err)
	}
	sourceEndpointsTotal.SetWithLabels(float64(countByType(desired, endpoint.RecordTypeA)), "A")
	sourceEndpointsTotal.SetWithLabels(float64(countByType(desired, endpoint.RecordTypeCNAME)), "CNAME")

	owned, err := c.Registry.Owned(ctx)
	if err != nil {
		registryErrorsTotal.Counter.Inc()
		c.healthy.Store(false)
		return fmt.Errorf("registry owned: %w", err)
	}
	registryEndpointsTotal.SetWithLabels(float64(countByType(owned, endpoint.RecordTypeA)), "A")
	registryEndpointsTotal.SetWithLabels(float64(countByType(owned, endpoint.RecordTypeCNAME)), "CNAME")

	changes := plan.Calculate(desired, owned)

	now := time.Now()
	for _, e := range desired {
		c.Scheduler.Cancel(e.Key())
	}

	toApply := &plan.Changes{Create: changes.Create, Update: changes.Update}
	if c.CleanupOnStop {
		for _, e := range changes.Delete {
			c.Scheduler.Schedule(e, now.Add(c.CleanupDelay))
		}
		toApply.Delete = c.Scheduler.Due(now)
	} else {
		toApply.Delete = changes.Delete
	}
	schedulerPendingTotal.Gauge.Set(float64(c.Scheduler.Pending()))

	planChangesTotal.CounterVec.WithLabelValues("create").Add(float64(len(toApply.Create)))
	planChangesTotal.CounterVec.WithLabelValues("update").Add(float64(len(toApply.Update)))
	planChangesTotal.CounterVec.WithLabelValues("delete").Add(float64(len(toApply.Delete)))
	planChangesTotal.CounterVec.WithLabelValues("deferred").Add(float64(len(changes.Delete) - len(toApply.Delete)))

	if toApply.IsEmpty() {
		noChangesTotal.Counter.Inc()
		c.log.Debug("no changes to apply")
		c.healthy.Store(true)
		lastSyncTimestamp.Gauge.SetToCurrentTime()
		return nil
	}

	if c.DryRun {
		c.log.WithField("create", len(toApply.Create)).
			WithField("update", len(toApply.Update)).
			WithField("delete", len(toApply.Delete)).
			Info("dry run: not applying changes")
		c.healthy.Store(true)
		return nil
	}

	if err := c.Registry.Apply(ctx, toApply); err != nil {
		registryErrorsTotal.Counter.Inc()
		if provider.IsPermanent(err) {
			c.log.WithError(err).Error("permanent provider error, dropping this tick's change")
			c.healthy.Store(true)
			lastSyncTimestamp.Gauge.SetToCurrentTime()
			return nil
		}
		c.healthy.Store(false)
		return fmt.Errorf("registry apply: %w", err)
	}

	c.healthy.Store(true)
	lastSyncTimestamp.Gauge.SetToCurrentTime()
	return nil
}

func countByType(eps []*endpoint.Endpoint, rtype endpoint.RecordType) int {
	n := 0
	for _, e := range eps {
		if e.RecordType == rtype {
			n++
		}
	}
	return n
}

func earliest(r time.Time, times ...time.Time) time.Time {
	for _, t := range times {
		if t.Before(r) {
			r = t
		}
	}
	return r
}

func latest(r time.Time, times ...time.Time) time.Time {
	for _, t := range times {
		if t.After(r) {
			r = t
		}
	}
	return r
}

// ScheduleRunOnce brings the next run forward to at most 5s from now,
// without violating MinEventSyncInterval since the last run. Called when a
// Source nudge arrives.
func (c *Controller) ScheduleRunOnce(now time.Time) {
	c.runAtMutex.Lock()
	defer c.runAtMutex.Unlock()
	c.nextRunAt = latest(
		c.lastRunAt.Add(c.MinEventSyncInterval),
		earliest(now.Add(5*time.Second), c.nextRunAt),
	)
}

// ShouldRunOnce reports whether a tick is due, advancing nextRunAt by
// Interval as a side effect when it returns true.
func (c *Controller) ShouldRunOnce(now time.Time) bool {
	c.runAtMutex.Lock()
	defer c.runAtMutex.Unlock()
	if now.Before(c.nextRunAt) {
		return false
	}
	c.nextRunAt = now.Add(c.Interval)
	return true
}

// Run drives the tick loop: a 1s ticker checks ShouldRunOnce, and Source
// nudges call ScheduleRunOnce to pull the next tick forward (coalesced by
// MinEventSyncInterval). It returns when ctx is cancelled, or immediately
// after the first tick if Once is set.
func (c *Controller) Run(ctx context.Context) error {
	if c.Once {
		if err := c.RunOnce(ctx); err != nil {
			return err
		}
		if c.CleanupOnStop {
			due := c.Scheduler.Due(time.Unix(1<<62, 0))
			if len(due) > 0 && !c.DryRun {
				if err := c.Registry.Apply(ctx, &plan.Changes{Delete: due}); err != nil {
					return fmt.Errorf("drain cleanup scheduler: %w", err)
				}
			}
		}
		return nil
	}

	nudges := c.Source.Events(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if c.ShouldRunOnce(time.Now()) {
			if err := c.RunOnce(ctx); err != nil {
				c.log.WithError(err).Error("reconciliation tick failed")
			}
		}
		select {
		case <-ticker.C:
		case _, ok := <-nudges:
			if !ok {
				nudges = nil
				continue
			}
			c.ScheduleRunOnce(time.Now())
		case <-ctx.Done():
			c.log.Info("terminating controller loop")
			return nil
		}
	}
}
