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

package endpoint

import (
	"fmt"
	"sort"
	"strings"
)

// RecordType is the DNS record type this daemon understands.
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypeTXT   RecordType = "TXT"
)

// TTLAuto is the sentinel TTL value meaning "let the provider pick its own
// automatic TTL", both on write and on read.
const TTLAuto int64 = 1

// Targets is an ordered list of record targets: IPv4 literals for A records,
// a single FQDN for CNAME records.
type Targets []string

// Same reports whether two target lists are equal as sets, which is the
// comparison the Planner uses for A records.
func (t Targets) Same(other Targets) bool {
	if len(t) != len(other) {
		return false
	}
	c1, c2 := t.sortedCopy(), other.sortedCopy()
	for i := range c1 {
		if c1[i] != c2[i] {
			return false
		}
	}
	return true
}

func (t Targets) sortedCopy() Targets {
	c := make(Targets, len(t))
	copy(c, t)
	sort.Strings(c)
	return c
}

func (t Targets) String() string {
	return strings.Join(t, ";")
}

// SourceRef identifies the container an endpoint was derived from. It is
// opaque to the Provider and Registry; only the Source and CleanupScheduler
// inspect it, and it is never sent over the wire.
type SourceRef struct {
	ContainerID   string
	ContainerName string
}

func (r SourceRef) String() string {
	if r.ContainerID == "" {
		return ""
	}
	id := r.ContainerID
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("%s/%s", id, r.ContainerName)
}

// Key is the Planner's identity tuple for an endpoint: two endpoints with the
// same Key are the same DNS record for planning purposes.
type Key struct {
	DNSName    string
	RecordType RecordType
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.DNSName, k.RecordType)
}

// Less gives Keys a deterministic total order so Plan output is stable.
func (k Key) Less(other Key) bool {
	if k.DNSName != other.DNSName {
		return k.DNSName < other.DNSName
	}
	return k.RecordType < other.RecordType
}

// Endpoint is the unit of desired or observed DNS state, independent of any
// particular Provider's wire representation.
type Endpoint struct {
	DNSName    string
	RecordType RecordType
	Targets    Targets
	TTL        int64
	Proxied    bool

	// OwnerID is populated by the Registry on read; the Source never sets it.
	OwnerID string

	// SourceRef is populated by the Source; it is used only by the
	// CleanupScheduler and is never sent to the Provider.
	SourceRef SourceRef

	// Labels carries the decoded TXT sidecar payload between the Registry's
	// read path and the Planner. Never sent to the Provider directly.
	Labels Labels
}

// NewEndpoint creates an endpoint with a normalized (lowercased, dot-trimmed)
// DNS name.
func NewEndpoint(dnsName string, recordType RecordType, ttl int64, proxied bool, targets ...string) *Endpoint {
	return &Endpoint{
		DNSName:    NormalizeDNSName(dnsName),
		RecordType: recordType,
		Targets:    Targets(targets),
		TTL:        ttl,
		Proxied:    proxied,
		Labels:     NewLabels(),
	}
}

// Key returns the Planner's comparison key for this endpoint.
func (e *Endpoint) Key() Key {
	return Key{DNSName: e.DNSName, RecordType: e.RecordType}
}

// NormalizeDNSName lowercases a name and strips a trailing dot, so that
// "App.Example.com." and "app.example.com" compare equal.
func NormalizeDNSName(dnsName string) string {
	return strings.ToLower(strings.TrimSuffix(dnsName, "."))
}

// IsWildcard reports whether the leftmost label of the (normalized) name is
// a literal "*".
func (e *Endpoint) IsWildcard() bool {
	labels := strings.SplitN(e.DNSName, ".", 2)
	return len(labels) > 0 && labels[0] == "*"
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("%s %s ttl=%d %v proxied=%v", e.DNSName, e.RecordType, e.TTL, e.Targets, e.Proxied)
}
