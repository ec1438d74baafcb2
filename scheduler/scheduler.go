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

// Package scheduler implements the delayed-deletion queue the Controller
// uses to avoid churning DNS records during transient container restarts.
package scheduler

import (
	"sync"
	"time"

	"github.com/stedrow/sherpa-dns/endpoint"
)

// Scheduler holds endpoints the Planner wants to delete, deferring them
// until their scheduled time. State is in-memory only: a restart forgets
// every pending deletion, which is acceptable because the next Snapshot/Plan
// cycle re-derives the same deletes from the then-current inputs.
type Scheduler struct {
	mu      sync.Mutex
	pending map[endpoint.Key]pendingDeletion
}

type pendingDeletion struct {
	endpoint    *endpoint.Endpoint
	scheduledAt time.Time
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{pending: make(map[endpoint.Key]pendingDeletion)}
}

// Schedule records e for deletion at scheduledAt, replacing any existing
// pending entry for the same key.
func (s *Scheduler) Schedule(e *endpoint.Endpoint, scheduledAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[e.Key()] = pendingDeletion{endpoint: e, scheduledAt: scheduledAt}
}

// Cancel removes any pending deletion for key, e.g. because the endpoint
// reappeared in the desired set before its scheduled time.
func (s *Scheduler) Cancel(key endpoint.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
}

// Due returns every pending endpoint whose scheduledAt is at or before now,
// removing them from the queue. Order is unspecified; the Controller treats
// due deletes as a flat batch handed to the Registry.
func (s *Scheduler) Due(now time.Time) []*endpoint.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*endpoint.Endpoint
	for key, p := range s.pending {
		if !p.scheduledAt.After(now) {
			due = append(due, p.endpoint)
			delete(s.pending, key)
		}
	}
	return due
}

// Pending reports the current queue depth, for the
// sherpa_dns_scheduler_pending_total gauge.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
