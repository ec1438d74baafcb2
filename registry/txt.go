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

package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/stedrow/sherpa-dns/endpoint"
	"github.com/stedrow/sherpa-dns/plan"
	"github.com/stedrow/sherpa-dns/provider"
)

// TXTRegistry implements Registry via a sidecar TXT record per owned
// primary, encoding ownership and record-type metadata in its payload.
type TXTRegistry struct {
	provider provider.Provider
	ownerID  string
	mapper   affixNameMapper

	// encryptKey is nil unless registry.encrypt_txt is enabled, in which
	// case sidecar payloads are AES-GCM encrypted under this
	// PBKDF2-derived key.
	encryptKey []byte

	// orphanSidecars holds TXT records discovered on the last Owned() call
	// that belong to this owner but no longer pair with a primary record;
	// Apply deletes them as a repair pass before executing the plan proper.
	orphanSidecars []*endpoint.Endpoint

	// orphanPrimaries holds primary records discovered on the last Owned()
	// call that have no paired TXT sidecar, keyed by Key(). Apply repairs one
	// by writing just its missing sidecar when an incoming Create matches it
	// exactly in content; any other orphan primary is left alone.
	orphanPrimaries map[endpoint.Key]*endpoint.Endpoint
}

// NewTXTRegistry constructs a TXTRegistry. encryptKey should be the output
// of endpoint.DeriveKey, or nil to disable sidecar encryption.
func NewTXTRegistry(p provider.Provider, txtPrefix, ownerID, wildcardReplacement string, encryptKey []byte) (*TXTRegistry, error) {
	if ownerID == "" {
		return nil, errors.New("registry.txt_owner_id cannot be empty")
	}
	return &TXTRegistry{
		provider:   p,
		ownerID:    ownerID,
		mapper:     newAffixNameMapper(txtPrefix, wildcardReplacement),
		encryptKey: encryptKey,
	}, nil
}

// Owned returns the subset of provider records owned by this instance: every
// A/CNAME record paired with a decodable TXT sidecar whose owner matches.
func (r *TXTRegistry) Owned(ctx context.Context) ([]*endpoint.Endpoint, error) {
	records, err := r.provider.Records(ctx)
	if err != nil {
		return nil, err
	}

	primaries := make([]*endpoint.Endpoint, 0, len(records))
	sidecars := make(map[string]sidecar)

	for _, rec := range records {
		if rec.RecordType != endpoint.RecordTypeTXT {
			primaries = append(primaries, rec)
			continue
		}
		if len(rec.Targets) == 0 {
			continue
		}
		labels, ok := r.decodeSidecar(rec.Targets[0])
		if !ok {
			continue // foreign or corrupt: invisible to the planner
		}
		key := r.mapper.toEndpointName(rec.DNSName)
		sidecars[key] = sidecar{record: rec, labels: labels}
	}

	owned := make([]*endpoint.Endpoint, 0, len(primaries))
	matched := make(map[string]bool, len(primaries))
	r.orphanPrimaries = make(map[endpoint.Key]*endpoint.Endpoint)

	for _, p := range primaries {
		sc, ok := sidecars[p.DNSName]
		if !ok {
			r.orphanPrimaries[p.Key()] = p
			continue // primary without sidecar: tracked for Apply's repair pass
		}
		if sc.labels[endpoint.OwnerLabelKey] != r.ownerID {
			continue // owned by a different instance
		}
		p.OwnerID = sc.labels[endpoint.OwnerLabelKey]
		p.Labels = sc.labels
		owned = append(owned, p)
		matched[p.DNSName] = true
	}

	r.orphanSidecars = nil
	for key, sc := range sidecars {
		if matched[key] {
			continue
		}
		if sc.labels[endpoint.OwnerLabelKey] != r.ownerID {
			continue // not ours to clean up
		}
		r.orphanSidecars = append(r.orphanSidecars, sc.record)
	}

	return owned, nil
}

// Apply executes changes against both primary records and their sidecars:
// Create writes the primary then its sidecar, Update touches only the
// primary (the sidecar already exists and its content is keyed on owner and
// type, neither of which an Update can change), and Delete removes the
// primary then its sidecar. Orphan sidecars found on the last Owned() call
// are repaired first; an orphan primary (one with no sidecar) is
// re-sidecared rather than re-created when an incoming Create matches it
// exactly, and left untouched otherwise.
func (r *TXTRegistry) Apply(ctx context.Context, changes *plan.Changes) error {
	if len(r.orphanSidecars) > 0 {
		if err := r.provider.ApplyChanges(ctx, &plan.Changes{Delete: r.orphanSidecars}); err != nil {
			log.WithError(err).Warn("registry: failed to repair orphan TXT sidecars")
		}
		r.orphanSidecars = nil
	}

	full := &plan.Changes{
		Update: changes.Update,
	}

	for _, e := range changes.Create {
		if orphan, ok := r.orphanPrimaries[e.Key()]; ok && sameContent(orphan, e) {
			txt, err := r.sidecarFor(e)
			if err != nil {
				log.WithError(err).WithField("dns_name", e.DNSName).Error("registry: failed to build sidecar for orphan repair")
				continue
			}
			full.Create = append(full.Create, txt)
			delete(r.orphanPrimaries, e.Key())
			continue
		}
		txt, err := r.sidecarFor(e)
		if err != nil {
			log.WithError(err).WithField("dns_name", e.DNSName).Error("registry: failed to build sidecar for create")
			continue
		}
		full.Create = append(full.Create, e, txt)
	}

	for _, e := range changes.Delete {
		txt, err := r.sidecarFor(e)
		if err != nil {
			log.WithError(err).WithField("dns_name", e.DNSName).Error("registry: failed to build sidecar for delete")
			full.Delete = append(full.Delete, e)
			continue
		}
		full.Delete = append(full.Delete, e, txt)
	}

	return r.provider.ApplyChanges(ctx, full)
}

type sidecar struct {
	record *endpoint.Endpoint
	labels endpoint.Labels
}

// sameContent reports whether a and b describe the same record content,
// used to tell a genuine orphan-primary repair from a coincidentally
// same-named but differing record.
func sameContent(a, b *endpoint.Endpoint) bool {
	return a.Targets.Same(b.Targets) && a.TTL == b.TTL && a.Proxied == b.Proxied
}

func (r *TXTRegistry) decodeSidecar(payload string) (endpoint.Labels, bool) {
	payload = strings.Trim(payload, `"`)
	if r.encryptKey != nil {
		plain, err := endpoint.DecryptText(payload, r.encryptKey)
		if err != nil {
			return nil, false // undecryptable: treat as foreign
		}
		payload = plain
	}
	labels, err := endpoint.NewLabelsFromString(payload)
	if err != nil {
		return nil, false
	}
	return labels, true
}

// sidecarFor builds the TXT endpoint that pairs with a primary endpoint.
func (r *TXTRegistry) sidecarFor(e *endpoint.Endpoint) (*endpoint.Endpoint, error) {
	labels := endpoint.Labels{
		endpoint.OwnerLabelKey: r.ownerID,
		endpoint.TypeLabelKey:  string(e.RecordType),
	}
	plain := labels.Serialize(false)

	payload := fmt.Sprintf("%q", plain)
	if r.encryptKey != nil {
		enc, err := endpoint.EncryptText(plain, r.encryptKey)
		if err != nil {
			return nil, err
		}
		payload = fmt.Sprintf("%q", enc)
	}

	name := r.mapper.toTXTName(e.DNSName)
	return endpoint.NewEndpoint(name, endpoint.RecordTypeTXT, endpoint.TTLAuto, false, payload), nil
}

// affixNameMapper maps between a primary record's DNS name and its sidecar's
// DNS name by prepending/stripping a fixed prefix on the leftmost label,
// substituting a literal "*" for wildcardReplacement so the sidecar name is
// itself a valid DNS label (RFC 1034 §4.3.3).
type affixNameMapper struct {
	prefix              string
	wildcardReplacement string
}

func newAffixNameMapper(prefix, wildcardReplacement string) affixNameMapper {
	return affixNameMapper{prefix: strings.ToLower(prefix), wildcardReplacement: strings.ToLower(wildcardReplacement)}
}

func (m affixNameMapper) toTXTName(dnsName string) string {
	parts := strings.SplitN(dnsName, ".", 2)
	if m.wildcardReplacement != "" && parts[0] == "*" {
		parts[0] = m.wildcardReplacement
	}
	parts[0] = m.prefix + parts[0]
	return strings.Join(parts, ".")
}

func (m affixNameMapper) toEndpointName(txtName string) string {
	parts := strings.SplitN(strings.ToLower(txtName), ".", 2)
	if !strings.HasPrefix(parts[0], m.prefix) {
		return ""
	}
	parts[0] = strings.TrimPrefix(parts[0], m.prefix)
	if m.wildcardReplacement != "" && parts[0] == m.wildcardReplacement {
		parts[0] = "*"
	}
	return strings.Join(parts, ".")
}
