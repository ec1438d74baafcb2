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

// Package provider defines the narrow facade over a hosted DNS API that the
// Registry drives. It is provider-agnostic; see provider/cloudflare for the
// reference implementation.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/stedrow/sherpa-dns/endpoint"
	"github.com/stedrow/sherpa-dns/plan"
)

// Zone is a DNS zone as reported by the provider.
type Zone struct {
	ID   string
	Name string
}

// Provider is the interface every DNS backend must implement. Records and
// ApplyChanges operate across all zones the provider is configured to see
// (after domain-filter selection); it is the Registry's job to scope
// mutations to owned records.
type Provider interface {
	// Zones returns the zones managed by this instance, after domain-filter
	// selection.
	Zones(ctx context.Context) ([]Zone, error)
	// Records returns every A/CNAME/TXT record across managed zones.
	Records(ctx context.Context) ([]*endpoint.Endpoint, error)
	// ApplyChanges executes the given changes. Each change is independently
	// fallible; a partially applied Changes is acceptable, since the next
	// tick is self-healing.
	ApplyChanges(ctx context.Context, changes *plan.Changes) error
	// DomainFilter returns the filter this provider was constructed with.
	DomainFilter() *endpoint.DomainFilter
}

// Kind classifies a Provider error per the error taxonomy: transient errors
// are retried on the next tick, permanent errors are dropped for this tick,
// and rate-limit errors are backed off within the tick before the remainder
// is deferred.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate-limited"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps a Provider error with its taxonomy Kind so the
// Controller can decide whether to retry, drop, or back off.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient (retry-next-tick) Provider error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a permanent (drop-this-change) Provider error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindPermanent, Err: err}
}

// RateLimited wraps err as a rate-limit (429) Provider error.
func RateLimited(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindRateLimited, Err: err}
}

// IsTransient reports whether err (or something it wraps) was classified as
// transient.
func IsTransient(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Kind == KindTransient
}

// IsPermanent reports whether err (or something it wraps) was classified as
// permanent.
func IsPermanent(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Kind == KindPermanent
}

// IsRateLimited reports whether err (or something it wraps) was classified
// as rate-limited.
func IsRateLimited(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Kind == KindRateLimited
}
