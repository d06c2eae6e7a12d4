package buffer

import (
	"testing"
	"time"
)

func TestRecentReturnsOldestFirst(t *testing.T) {
	h := New(3)
	base := time.Now()
	h.Push(Summary{Kind: "a", Average: 1, Timestamp: base})
	h.Push(Summary{Kind: "b", Average: 2, Timestamp: base.Add(time.Second)})
	h.Push(Summary{Kind: "c", Average: 3, Timestamp: base.Add(2 * time.Second)})

	recent := h.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	if recent[0].Kind != "a" || recent[1].Kind != "b" || recent[2].Kind != "c" {
		t.Fatalf("expected oldest-first order a,b,c, got %v", recent)
	}
}

func TestPushEvictsOldestOnOverflow(t *testing.T) {
	h := New(2)
	h.Push(Summary{Kind: "a"})
	h.Push(Summary{Kind: "b"})
	h.Push(Summary{Kind: "c"})

	recent := h.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries after overflow, got %d", len(recent))
	}
	if recent[0].Kind != "b" || recent[1].Kind != "c" {
		t.Fatalf("expected b,c to survive eviction, got %v", recent)
	}
}

func TestEmptyHistory(t *testing.T) {
	h := New(4)
	if got := h.Len(); got != 0 {
		t.Fatalf("expected empty history to have length 0, got %d", got)
	}
	if recent := h.Recent(); len(recent) != 0 {
		t.Fatalf("expected no entries, got %v", recent)
	}
}

func TestNewClampsSizeBelowOne(t *testing.T) {
	h := New(0)
	h.Push(Summary{Kind: "only"})
	h.Push(Summary{Kind: "replaces"})
	recent := h.Recent()
	if len(recent) != 1 || recent[0].Kind != "replaces" {
		t.Fatalf("expected single-slot history to keep only the latest push, got %v", recent)
	}
}
