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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidHeritage is returned when the heritage token is missing or does
// not match this daemon's heritage string. Records failing this check are
// foreign and must never be touched.
var ErrInvalidHeritage = errors.New("heritage is unknown or not found")

const (
	// heritage is the literal token that must appear in every sidecar this
	// daemon owns.
	heritage = "sherpa-dns"

	// OwnerLabelKey names the label that carries the owning instance's id.
	OwnerLabelKey = "owner"
	// TypeLabelKey names the label that carries the primary record's type.
	TypeLabelKey = "type"
)

// Labels stores the metadata encoded in a TXT sidecar's payload.
type Labels map[string]string

// NewLabels returns an empty Labels map.
func NewLabels() Labels {
	return map[string]string{}
}

// NewLabelsFromString parses a sidecar payload of the form
// `heritage=sherpa-dns,owner=<id>,type=<A|CNAME>`, optionally wrapped in
// double quotes. It returns ErrInvalidHeritage if the heritage token is
// missing or does not match, in which case the record must be treated as
// foreign.
func NewLabelsFromString(payload string) (Labels, error) {
	payload = strings.Trim(payload, `"`)

	labels := Labels{}
	foundHeritage := false
	for _, token := range strings.Split(payload, ",") {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		if key == "heritage" {
			if val != heritage {
				return nil, ErrInvalidHeritage
			}
			foundHeritage = true
			continue
		}
		labels[key] = val
	}

	if !foundHeritage {
		return nil, ErrInvalidHeritage
	}
	return labels, nil
}

// Serialize renders Labels into the canonical sidecar payload string,
// `heritage=sherpa-dns,<key>=<value>,...`, with keys sorted for determinism.
// withQuotes wraps the result in double quotes, matching the TXT string
// convention used on the wire.
func (l Labels) Serialize(withQuotes bool) string {
	tokens := []string{fmt.Sprintf("heritage=%s", heritage)}

	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tokens = append(tokens, fmt.Sprintf("%s=%s", k, l[k]))
	}

	out := strings.Join(tokens, ",")
	if withQuotes {
		return fmt.Sprintf("%q", out)
	}
	return out
}
