package scheduler

import (
	"testing"
	"time"

	"github.com/stedrow/sherpa-dns/endpoint"
)

func ep(name string) *endpoint.Endpoint {
	return endpoint.NewEndpoint(name, endpoint.RecordTypeA, endpoint.TTLAuto, false, "10.0.0.1")
}

func TestDueReturnsOnlyExpiredEntries(t *testing.T) {
	s := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Schedule(ep("expired.example.com"), now.Add(-time.Minute))
	s.Schedule(ep("future.example.com"), now.Add(time.Hour))

	due := s.Due(now)
	if len(due) != 1 || due[0].DNSName != "expired.example.com" {
		t.Fatalf("expected only the expired entry to be due, got %+v", due)
	}
	if s.Pending() != 1 {
		t.Fatalf("expected 1 entry left pending, got %d", s.Pending())
	}
}

func TestDueRemovesReturnedEntries(t *testing.T) {
	s := New()
	now := time.Now()
	s.Schedule(ep("a.example.com"), now)

	if got := s.Due(now); len(got) != 1 {
		t.Fatalf("expected 1 due entry, got %d", len(got))
	}
	if got := s.Due(now); len(got) != 0 {
		t.Fatalf("expected entry to be consumed by the first Due call, got %d", len(got))
	}
}

func TestCancelRemovesPendingEntry(t *testing.T) {
	s := New()
	e := ep("a.example.com")
	s.Schedule(e, time.Now().Add(time.Hour))
	s.Cancel(e.Key())

	if s.Pending() != 0 {
		t.Fatalf("expected Cancel to remove the pending entry, got %d pending", s.Pending())
	}
}

func TestScheduleReplacesExistingEntryForSameKey(t *testing.T) {
	s := New()
	now := time.Now()
	e := ep("a.example.com")

	s.Schedule(e, now.Add(time.Hour))
	s.Schedule(e, now.Add(-time.Minute))

	due := s.Due(now)
	if len(due) != 1 {
		t.Fatalf("expected the second Schedule call to replace the first, got %d due", len(due))
	}
}

func TestDueWithInfiniteHorizonDrainsEverything(t *testing.T) {
	s := New()
	far := time.Now().Add(24 * time.Hour)
	s.Schedule(ep("a.example.com"), far)
	s.Schedule(ep("b.example.com"), far)

	due := s.Due(time.Unix(1<<62, 0))
	if len(due) != 2 {
		t.Fatalf("expected draining with a far-future now to return all pending entries, got %d", len(due))
	}
	if s.Pending() != 0 {
		t.Fatalf("expected queue to be empty after drain, got %d pending", s.Pending())
	}
}
