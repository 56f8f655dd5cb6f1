package events

import "testing"

type testEvent string

func (e testEvent) EventType() string { return string(e) }

func TestRingSequencesAndEvicts(t *testing.T) {
	ring := NewRing(3)
	for _, name := range []string{"a.1", "a.2", "a.3", "a.4"} {
		ring.Emit(testEvent(name))
	}
	entries := ring.List("", 0)
	if len(entries) != 3 {
		t.Fatalf("expected capacity 3, got %d entries", len(entries))
	}
	if entries[0].Sequence != 2 || entries[0].Event.EventType() != "a.2" {
		t.Fatalf("expected oldest retained entry a.2/seq 2, got %s/seq %d",
			entries[0].Event.EventType(), entries[0].Sequence)
	}
	if entries[2].Sequence != 4 {
		t.Fatalf("sequences must keep counting across eviction, got %d", entries[2].Sequence)
	}
}

func TestRingPrefixFilterAndLimit(t *testing.T) {
	ring := NewRing(10)
	for _, name := range []string{"escrow.created", "token.minted", "escrow.accepted", "escrow.approved"} {
		ring.Emit(testEvent(name))
	}
	escrowOnly := ring.List("escrow.", 0)
	if len(escrowOnly) != 3 {
		t.Fatalf("expected 3 escrow events, got %d", len(escrowOnly))
	}
	limited := ring.List("escrow.", 2)
	if len(limited) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(limited))
	}
	// The limit keeps the newest matches.
	if limited[1].Event.EventType() != "escrow.approved" {
		t.Fatalf("expected newest event last, got %s", limited[1].Event.EventType())
	}
	if got := ring.List("swap.", 0); len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}
}

func TestRingIgnoresNil(t *testing.T) {
	ring := NewRing(2)
	ring.Emit(nil)
	ring.Emit(testEvent("a.1"))
	if got := ring.List("", 0); len(got) != 1 || got[0].Sequence != 1 {
		t.Fatalf("nil events must not consume sequence numbers: %+v", got)
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	ring := NewRing(0)
	if ring.cap != defaultRingCapacity {
		t.Fatalf("expected default capacity, got %d", ring.cap)
	}
	var nilRing *Ring
	nilRing.Emit(testEvent("a"))
	if got := nilRing.List("", 0); got != nil {
		t.Fatalf("nil ring must list nothing")
	}
}
