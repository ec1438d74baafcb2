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

// Package cloudflare implements provider.Provider against Cloudflare's DNS
// API v4 via github.com/cloudflare/cloudflare-go.
package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudflare/cloudflare-go"
	log "github.com/sirupsen/logrus"

	"github.com/stedrow/sherpa-dns/endpoint"
	"github.com/stedrow/sherpa-dns/plan"
	"github.com/stedrow/sherpa-dns/provider"
)

const defaultTTL = 1 // Cloudflare's own "automatic" sentinel, which matches this daemon's TTL-auto value byte for byte.

const (
	// rateLimitMaxAttempts bounds the in-tick retry budget for a single
	// change once Cloudflare starts returning 429s. Once exhausted, the
	// rate-limited error is returned for that change, which is picked up
	// again on the next reconciliation; the tick's other changes are still
	// attempted, each with its own budget.
	rateLimitMaxAttempts = 5
	rateLimitBaseDelay   = 200 * time.Millisecond
	rateLimitMaxDelay    = 5 * time.Second
)

// managedRecordTypes are the record types this provider reads and mutates.
// Other Cloudflare record types coexist in the zone untouched.
var managedRecordTypes = []string{"A", "CNAME", "TXT"}

// cloudFlareDNS is the subset of the Cloudflare client this provider uses.
// Kept as an interface so tests can substitute a fake.
type cloudFlareDNS interface {
	ListZonesContext(ctx context.Context, opts ...cloudflare.ReqOption) (cloudflare.ZonesResponse, error)
	ListDNSRecords(ctx context.Context, rc *cloudflare.ResourceContainer, rp cloudflare.ListDNSRecordsParams) ([]cloudflare.DNSRecord, *cloudflare.ResultInfo, error)
	CreateDNSRecord(ctx context.Context, rc *cloudflare.ResourceContainer, rp cloudflare.CreateDNSRecordParams) (cloudflare.DNSRecord, error)
	UpdateDNSRecord(ctx context.Context, rc *cloudflare.ResourceContainer, rp cloudflare.UpdateDNSRecordParams) error
	DeleteDNSRecord(ctx context.Context, rc *cloudflare.ResourceContainer, recordID string) error
}

// Provider implements provider.Provider against Cloudflare.
type Provider struct {
	client           cloudFlareDNS
	domainFilter     *endpoint.DomainFilter
	proxiedByDefault bool

	// recordIDs caches the zone-scoped Cloudflare record id for every
	// (name, type, content) triple seen on the last Records() call, so
	// ApplyChanges can issue Update/Delete calls without a second list round
	// trip per change.
	recordIDs map[recordKey]string
	zoneIDs   map[string]string // zone name -> zone id
}

type recordKey struct {
	name    string
	rtype   string
	content string
}

// NewProvider builds a Cloudflare-backed provider.Provider using an API
// token credential.
func NewProvider(apiToken string, domainFilter *endpoint.DomainFilter, proxiedByDefault bool, httpClient *http.Client) (*Provider, error) {
	opts := []cloudflare.Option{cloudflare.HTTPClient(httpClient)}
	api, err := cloudflare.NewWithAPIToken(apiToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("constructing cloudflare client: %w", err)
	}
	return &Provider{
		client:           api,
		domainFilter:     domainFilter,
		proxiedByDefault: proxiedByDefault,
	}, nil
}

// DomainFilter returns the filter this provider was constructed with.
func (p *Provider) DomainFilter() *endpoint.DomainFilter {
	return p.domainFilter
}

// Zones lists Cloudflare zones, scoped by the domain filter.
func (p *Provider) Zones(ctx context.Context) ([]provider.Zone, error) {
	resp, err := p.client.ListZonesContext(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	var zones []provider.Zone
	for _, z := range resp.Result {
		if !p.domainFilter.Match(z.Name) {
			continue
		}
		zones = append(zones, provider.Zone{ID: z.ID, Name: z.Name})
	}
	return zones, nil
}

// Records lists every managed-type record across the filtered zones and
// maps it into this daemon's Endpoint model. Multiple Cloudflare A records
// sharing a (name, type) are fanned back into one multi-target Endpoint.
func (p *Provider) Records(ctx context.Context) ([]*endpoint.Endpoint, error) {
	zones, err := p.Zones(ctx)
	if err != nil {
		return nil, err
	}

	recordIDs := map[recordKey]string{}
	zoneIDs := map[string]string{}
	grouped := map[endpoint.Key]*endpoint.Endpoint{}

	for _, zone := range zones {
		zoneIDs[zone.Name] = zone.ID
		rc := cloudflare.ZoneIdentifier(zone.ID)

		for _, rtype := range managedRecordTypes {
			records, _, err := p.client.ListDNSRecords(ctx, rc, cloudflare.ListDNSRecordsParams{Type: rtype})
			if err != nil {
				return nil, classifyError(err)
			}
			for _, r := range records {
				recordIDs[recordKey{name: r.Name, rtype: r.Type, content: r.Content}] = r.ID

				key := endpoint.Key{DNSName: endpoint.NormalizeDNSName(r.Name), RecordType: endpoint.RecordType(r.Type)}
				ep, ok := grouped[key]
				if !ok {
					ttl := int64(r.TTL)
					proxied := false
					if r.Proxied != nil {
						proxied = *r.Proxied
					}
					ep = endpoint.NewEndpoint(r.Name, endpoint.RecordType(r.Type), ttl, proxied)
					grouped[key] = ep
				}
				ep.Targets = append(ep.Targets, r.Content)
			}
		}
	}

	p.recordIDs = recordIDs
	p.zoneIDs = zoneIDs

	endpoints := make([]*endpoint.Endpoint, 0, len(grouped))
	for _, ep := range grouped {
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// ApplyChanges executes Create/Update/Delete against Cloudflare. A single
// multi-target A endpoint becomes one Cloudflare record per target.
func (p *Provider) ApplyChanges(ctx context.Context, changes *plan.Changes) error {
	var firstErr error
	record := func(err error) {
		if err != nil {
			log.WithError(err).Error("cloudflare: change failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, ep := range changes.Create {
		for _, target := range ep.Targets {
			record(p.createRecord(ctx, ep, target))
		}
	}
	for _, ep := range changes.Update {
		record(p.updateRecord(ctx, ep))
	}
	for _, ep := range changes.Delete {
		for _, target := range ep.Targets {
			record(p.deleteRecord(ctx, ep, target))
		}
	}
	return firstErr
}

func (p *Provider) zoneIDFor(dnsName string) (string, error) {
	bestID, bestLen := "", -1
	for name, id := range p.zoneIDs {
		if p.domainFilter.Match(dnsName) && (dnsName == name || hasLabelSuffix(dnsName, name)) && len(name) > bestLen {
			bestID, bestLen = id, len(name)
		}
	}
	if bestLen >= 0 {
		return bestID, nil
	}
	return "", fmt.Errorf("no managed zone matches %q", dnsName)
}

func hasLabelSuffix(name, zone string) bool {
	return len(name) > len(zone) && name[len(name)-len(zone):] == zone && name[len(name)-len(zone)-1] == '.'
}

func (p *Provider) createRecord(ctx context.Context, ep *endpoint.Endpoint, target string) error {
	zoneID, err := p.zoneIDFor(ep.DNSName)
	if err != nil {
		return provider.Permanent(err)
	}
	ttl := int(ep.TTL)
	if ttl == 0 {
		ttl = defaultTTL
	}
	params := cloudflare.CreateDNSRecordParams{
		Name:    ep.DNSName,
		Type:    string(ep.RecordType),
		Content: target,
		TTL:     ttl,
	}
	if supportsProxy(ep.RecordType) {
		proxied := ep.Proxied
		params.Proxied = &proxied
	}
	return withRateLimitRetry(ctx, func() error {
		_, err := p.client.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), params)
		return classifyError(err)
	})
}

func (p *Provider) updateRecord(ctx context.Context, ep *endpoint.Endpoint) error {
	zoneID, err := p.zoneIDFor(ep.DNSName)
	if err != nil {
		return provider.Permanent(err)
	}
	ttl := int(ep.TTL)
	if ttl == 0 {
		ttl = defaultTTL
	}

	// A record with multiple targets maps to multiple Cloudflare records
	// sharing (name, type); reconcile each target independently against the
	// ids observed on the last Records() call, creating ones that are new
	// and deleting ones no longer desired.
	wanted := map[string]bool{}
	for _, target := range ep.Targets {
		wanted[target] = true
		id, ok := p.recordIDs[recordKey{name: ep.DNSName, rtype: string(ep.RecordType), content: target}]
		if !ok {
			if err := p.createRecord(ctx, ep, target); err != nil {
				return err
			}
			continue
		}
		params := cloudflare.UpdateDNSRecordParams{
			ID:      id,
			Name:    ep.DNSName,
			Type:    string(ep.RecordType),
			Content: target,
			TTL:     ttl,
		}
		if supportsProxy(ep.RecordType) {
			proxied := ep.Proxied
			params.Proxied = &proxied
		}
		err := withRateLimitRetry(ctx, func() error {
			return classifyError(p.client.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), params))
		})
		if err != nil {
			return err
		}
	}
	for key, id := range p.recordIDs {
		if key.name != ep.DNSName || key.rtype != string(ep.RecordType) || wanted[key.content] {
			continue
		}
		err := withRateLimitRetry(ctx, func() error {
			return classifyError(p.client.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), id))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) deleteRecord(ctx context.Context, ep *endpoint.Endpoint, target string) error {
	zoneID, err := p.zoneIDFor(ep.DNSName)
	if err != nil {
		return provider.Permanent(err)
	}
	id, ok := p.recordIDs[recordKey{name: ep.DNSName, rtype: string(ep.RecordType), content: target}]
	if !ok {
		return nil // already gone; deletes are idempotent
	}
	return withRateLimitRetry(ctx, func() error {
		return classifyError(p.client.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), id))
	})
}

// supportsProxy reports whether Cloudflare's "proxied" knob applies to this
// record type - it does for A and CNAME, not for TXT.
func supportsProxy(rtype endpoint.RecordType) bool {
	return rtype == endpoint.RecordTypeA || rtype == endpoint.RecordTypeCNAME
}

// withRateLimitRetry runs op and, while it keeps failing with a
// rate-limited (429) error, retries it with bounded exponential backoff
// before giving up and returning the last error. This absorbs a short burst
// of Cloudflare rate-limiting within a single tick rather than failing the
// whole reconciliation over one throttled call.
func withRateLimitRetry(ctx context.Context, op func() error) error {
	delay := rateLimitBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if !provider.IsRateLimited(err) || attempt == rateLimitMaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
		if delay > rateLimitMaxDelay {
			delay = rateLimitMaxDelay
		}
	}
}

// classifyError maps a Cloudflare SDK error onto the error taxonomy this
// daemon uses to decide retry/drop/backoff: 4xx (other than 429) is
// permanent, 429 is rate-limited, everything else (5xx, transport errors,
// timeouts) is transient.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *cloudflare.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return provider.RateLimited(err)
		case apiErr.StatusCode >= 500:
			return provider.Transient(err)
		case apiErr.StatusCode >= 400:
			return provider.Permanent(err)
		}
	}
	return provider.Transient(err)
}
