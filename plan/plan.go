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

// Package plan computes the deterministic delta between a desired and a
// current set of endpoints. It is pure and side-effect free: it never calls
// a Provider and never touches the filesystem or network, which is what
// makes it trivial to property-test in isolation.
package plan

import (
	"sort"

	"github.com/stedrow/sherpa-dns/endpoint"
)

// Changes is the deterministic triple of creates, updates, and deletes that
// turns current into desired. Entries within each list are sorted by
// (dns_name, record_type).
type Changes struct {
	// Create holds endpoints present in desired but absent from current.
	Create []*endpoint.Endpoint
	// Update holds the desired state of endpoints present in both sets whose
	// comparable tuple (targets, ttl, proxied) differs.
	Update []*endpoint.Endpoint
	// Delete holds endpoints present in current but absent from desired.
	Delete []*endpoint.Endpoint
}

// IsEmpty reports whether applying these changes would be a no-op.
func (c *Changes) IsEmpty() bool {
	return c == nil || (len(c.Create) == 0 && len(c.Update) == 0 && len(c.Delete) == 0)
}

// Calculate computes the changes needed to move current towards desired.
// Both desired and current are assumed already deduplicated by
// (dns_name, record_type) - the Source is responsible for deduplicating
// desired, and the Registry for deduplicating current.
func Calculate(desired, current []*endpoint.Endpoint) *Changes {
	desiredByKey := indexByKey(desired)
	currentByKey := indexByKey(current)

	changes := &Changes{}

	for key, d := range desiredByKey {
		c, ok := currentByKey[key]
		if !ok {
			changes.Create = append(changes.Create, d)
			continue
		}
		if recordChanged(d, c) {
			changes.Update = append(changes.Update, d)
		}
	}

	for key, c := range currentByKey {
		if _, ok := desiredByKey[key]; !ok {
			changes.Delete = append(changes.Delete, c)
		}
	}

	sortByKey(changes.Create)
	sortByKey(changes.Update)
	sortByKey(changes.Delete)

	return changes
}

func indexByKey(endpoints []*endpoint.Endpoint) map[endpoint.Key]*endpoint.Endpoint {
	byKey := make(map[endpoint.Key]*endpoint.Endpoint, len(endpoints))
	for _, e := range endpoints {
		byKey[e.Key()] = e
	}
	return byKey
}

// recordChanged reports whether the desired endpoint differs from the
// current one in any property the Provider needs to be told about. The TTL
// sentinel value 1 ("auto") is the same literal value on both sides, so a
// plain integer comparison already treats "1" and "auto" as equal.
func recordChanged(desired, current *endpoint.Endpoint) bool {
	if desired.TTL != current.TTL {
		return true
	}
	if desired.Proxied != current.Proxied {
		return true
	}
	switch desired.RecordType {
	case endpoint.RecordTypeCNAME:
		return !stringTargetsEqual(desired.Targets, current.Targets)
	default:
		return !desired.Targets.Same(current.Targets)
	}
}

func stringTargetsEqual(a, b endpoint.Targets) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortByKey(endpoints []*endpoint.Endpoint) {
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Key().Less(endpoints[j].Key())
	})
}
