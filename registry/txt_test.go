package registry

import (
	"context"
	"testing"

	"github.com/stedrow/sherpa-dns/endpoint"
	"github.com/stedrow/sherpa-dns/plan"
	"github.com/stedrow/sherpa-dns/provider"
)

type fakeProvider struct {
	records []*endpoint.Endpoint
	applied *plan.Changes
	filter  *endpoint.DomainFilter
}

func (f *fakeProvider) Zones(ctx context.Context) ([]provider.Zone, error) { return nil, nil }

func (f *fakeProvider) Records(ctx context.Context) ([]*endpoint.Endpoint, error) {
	return f.records, nil
}

func (f *fakeProvider) ApplyChanges(ctx context.Context, changes *plan.Changes) error {
	f.applied = changes
	for _, e := range changes.Create {
		f.records = append(f.records, e)
	}
	return nil
}

func (f *fakeProvider) DomainFilter() *endpoint.DomainFilter { return f.filter }

func txtRecord(name, payload string) *endpoint.Endpoint {
	return endpoint.NewEndpoint(name, endpoint.RecordTypeTXT, endpoint.TTLAuto, false, payload)
}

func TestOwnedPairsSidecarWithPrimary(t *testing.T) {
	fp := &fakeProvider{records: []*endpoint.Endpoint{
		endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.5"),
		txtRecord("sherpa-dns-app.example.com", `"heritage=sherpa-dns,owner=default,type=A"`),
	}}
	r, err := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", nil)
	if err != nil {
		t.Fatalf("NewTXTRegistry: %v", err)
	}

	owned, err := r.Owned(context.Background())
	if err != nil {
		t.Fatalf("Owned: %v", err)
	}
	if len(owned) != 1 {
		t.Fatalf("expected 1 owned endpoint, got %d", len(owned))
	}
	if owned[0].OwnerID != "default" {
		t.Errorf("expected owner default, got %q", owned[0].OwnerID)
	}
}

func TestOwnedSkipsForeignRecord(t *testing.T) {
	fp := &fakeProvider{records: []*endpoint.Endpoint{
		endpoint.NewEndpoint("foo.example.com", endpoint.RecordTypeA, 1, false, "1.2.3.4"),
	}}
	r, _ := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", nil)

	owned, err := r.Owned(context.Background())
	if err != nil {
		t.Fatalf("Owned: %v", err)
	}
	if len(owned) != 0 {
		t.Fatalf("foreign record without sidecar must be invisible, got %+v", owned)
	}
}

func TestOwnedSkipsDifferentOwner(t *testing.T) {
	fp := &fakeProvider{records: []*endpoint.Endpoint{
		endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.5"),
		txtRecord("sherpa-dns-app.example.com", `"heritage=sherpa-dns,owner=other-instance,type=A"`),
	}}
	r, _ := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", nil)

	owned, err := r.Owned(context.Background())
	if err != nil {
		t.Fatalf("Owned: %v", err)
	}
	if len(owned) != 0 {
		t.Fatalf("record owned by a different instance must be invisible, got %+v", owned)
	}
}

func TestApplyWritesSidecarOnCreate(t *testing.T) {
	fp := &fakeProvider{}
	r, _ := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", nil)

	ep := endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.5")
	err := r.Apply(context.Background(), &plan.Changes{Create: []*endpoint.Endpoint{ep}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(fp.applied.Create) != 2 {
		t.Fatalf("expected primary + sidecar create, got %d", len(fp.applied.Create))
	}
	if fp.applied.Create[0] != ep {
		t.Error("primary record must be created before its sidecar")
	}
	if fp.applied.Create[1].RecordType != endpoint.RecordTypeTXT {
		t.Error("second create must be the TXT sidecar")
	}
}

func TestApplyEncryptDecryptRoundTrip(t *testing.T) {
	key := endpoint.DeriveKey("correct-horse-battery-staple")
	fp := &fakeProvider{}
	r, _ := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", key)

	ep := endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.5")
	if err := r.Apply(context.Background(), &plan.Changes{Create: []*endpoint.Endpoint{ep}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	owned, err := r.Owned(context.Background())
	if err != nil {
		t.Fatalf("Owned: %v", err)
	}
	if len(owned) != 1 || owned[0].DNSName != "app.example.com" {
		t.Fatalf("expected the encrypted sidecar to decode and re-pair, got %+v", owned)
	}
}

func TestApplyEncryptedSidecarForeignUnderWrongKey(t *testing.T) {
	fp := &fakeProvider{}
	writer, _ := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", endpoint.DeriveKey("correct-key"))
	ep := endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.5")
	if err := writer.Apply(context.Background(), &plan.Changes{Create: []*endpoint.Endpoint{ep}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	reader, _ := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", endpoint.DeriveKey("wrong-key"))
	owned, err := reader.Owned(context.Background())
	if err != nil {
		t.Fatalf("Owned: %v", err)
	}
	if len(owned) != 0 {
		t.Fatalf("sidecar encrypted under a different key must be treated as foreign, got %+v", owned)
	}
}

func TestApplyRepairsOrphanPrimaryWithMissingSidecar(t *testing.T) {
	primary := endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.5")
	fp := &fakeProvider{records: []*endpoint.Endpoint{primary}}
	r, _ := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", nil)

	owned, err := r.Owned(context.Background())
	if err != nil {
		t.Fatalf("Owned: %v", err)
	}
	if len(owned) != 0 {
		t.Fatalf("a primary with no sidecar must not be owned yet, got %+v", owned)
	}

	desired := endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.5")
	if err := r.Apply(context.Background(), &plan.Changes{Create: []*endpoint.Endpoint{desired}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(fp.applied.Create) != 1 {
		t.Fatalf("expected only the missing sidecar to be created, got %d creates", len(fp.applied.Create))
	}
	if fp.applied.Create[0].RecordType != endpoint.RecordTypeTXT {
		t.Fatalf("expected the repair create to be the TXT sidecar, got %v", fp.applied.Create[0].RecordType)
	}
	if _, stillOrphan := r.orphanPrimaries[desired.Key()]; stillOrphan {
		t.Error("repaired orphan primary must be cleared from the tracking map")
	}
}

func TestApplyLeavesNonMatchingOrphanPrimaryAlone(t *testing.T) {
	primary := endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.5")
	fp := &fakeProvider{records: []*endpoint.Endpoint{primary}}
	r, _ := NewTXTRegistry(fp, "sherpa-dns-", "default", "star", nil)

	if _, err := r.Owned(context.Background()); err != nil {
		t.Fatalf("Owned: %v", err)
	}

	// Same name and type, but a different target: this is not the same
	// record, so the orphan primary must be left alone and a normal
	// primary+sidecar create performed instead.
	desired := endpoint.NewEndpoint("app.example.com", endpoint.RecordTypeA, 1, false, "10.0.0.9")
	if err := r.Apply(context.Background(), &plan.Changes{Create: []*endpoint.Endpoint{desired}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(fp.applied.Create) != 2 {
		t.Fatalf("expected a normal primary+sidecar create, got %d", len(fp.applied.Create))
	}
	if fp.applied.Create[0] != desired {
		t.Error("expected the primary record to be created, not skipped")
	}
}

func TestWildcardSidecarName(t *testing.T) {
	r, _ := NewTXTRegistry(&fakeProvider{}, "sherpa-dns-", "default", "star", nil)
	ep := endpoint.NewEndpoint("*.lab.example.com", endpoint.RecordTypeA, 1, false, "192.168.1.1")
	txt, err := r.sidecarFor(ep)
	if err != nil {
		t.Fatalf("sidecarFor: %v", err)
	}
	if txt.DNSName != "sherpa-dns-star.lab.example.com" {
		t.Fatalf("expected wildcard sidecar name, got %q", txt.DNSName)
	}
}
