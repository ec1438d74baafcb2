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

// Package registry turns an unowned key-value DNS zone into an owned subset
// by pairing every primary A/CNAME record with a TXT sidecar encoding
// ownership metadata, without requiring external storage.
package registry

import (
	"context"

	"github.com/stedrow/sherpa-dns/endpoint"
	"github.com/stedrow/sherpa-dns/plan"
)

// Registry is the interface the Controller drives. Owned returns the subset
// of provider records this instance may mutate; Apply executes a plan's
// changes against both the primary records and their sidecars.
type Registry interface {
	Owned(ctx context.Context) ([]*endpoint.Endpoint, error)
	Apply(ctx context.Context, changes *plan.Changes) error
}
