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

// Package source turns a container runtime's inventory into the desired
// endpoint set. The reference implementation in docker.go targets a
// Docker-compatible daemon; Source itself is runtime-agnostic.
package source

import (
	"context"

	"github.com/stedrow/sherpa-dns/endpoint"
)

// Nudge is an opaque "something changed" signal. The Source never computes
// deltas from runtime events itself; it only tells the Controller to
// reconcile sooner than the next scheduled tick.
type Nudge struct{}

// Source produces the current desired endpoint set from a container
// runtime's inventory, and a coalesced stream of nudges when that inventory
// is likely to have changed.
type Source interface {
	// Snapshot lists all running containers, projects their labels into
	// endpoints, and deduplicates by (dns_name, record_type). A runtime
	// connection failure returns an error; the caller must treat that as a
	// no-op tick, never as "delete everything".
	Snapshot(ctx context.Context) ([]*endpoint.Endpoint, error)

	// Events starts (if not already started) a background subscription to
	// the runtime's lifecycle event stream and returns a channel that
	// receives a coalesced Nudge whenever relevant events arrive. The
	// channel is closed when ctx is cancelled.
	Events(ctx context.Context) <-chan Nudge
}
