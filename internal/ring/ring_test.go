package ring

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/dieriver/balrog-go/internal/servicelog"
)

func testCapture() Capture {
	return Capture{Image: image.NewRGBA(image.Rect(0, 0, 1, 1)), Timestamp: time.Now()}
}

func newTestRing(maxBuffers int) *Ring {
	return New(maxBuffers, servicelog.Nop(), false)
}

func TestRoundTripReturnsToWaitingFrame(t *testing.T) {
	r := newTestRing(2) // N = 4
	id, ok := r.ClaimForFrame()
	if !ok {
		t.Fatal("expected claim to succeed")
	}
	r.PublishFrame(id, testCapture())

	cid, ok := r.ClaimForCascade()
	if !ok || cid != id {
		t.Fatalf("expected cascade claim on slot %d, got %d ok=%v", id, cid, ok)
	}
	r.PublishCascade(cid, Result{CatPresent: true})

	aid, ok := r.ClaimForAggregation()
	if !ok || aid != id {
		t.Fatalf("expected aggregation claim on slot %d, got %d ok=%v", id, aid, ok)
	}
	r.Release(aid)

	frame, cascade, aggregation := r.SnapshotCounts()
	if frame != r.N() || cascade != 0 || aggregation != 0 {
		t.Fatalf("expected counters (%d,0,0), got (%d,%d,%d)", r.N(), frame, cascade, aggregation)
	}
}

func TestSameSlotReusedAfterNCycles(t *testing.T) {
	r := newTestRing(2) // N = 4
	first, ok := r.ClaimForFrame()
	if !ok {
		t.Fatal("expected claim to succeed")
	}
	r.PublishFrame(first, testCapture())
	cid, _ := r.ClaimForCascade()
	r.PublishCascade(cid, Result{})
	aid, _ := r.ClaimForAggregation()
	r.Release(aid)

	var last SlotID
	for i := 0; i < r.N(); i++ {
		id, ok := r.ClaimForFrame()
		if !ok {
			t.Fatalf("claim %d should have succeeded", i)
		}
		r.PublishFrame(id, testCapture())
		cid, _ := r.ClaimForCascade()
		r.PublishCascade(cid, Result{})
		aid, _ := r.ClaimForAggregation()
		r.Release(aid)
		last = id
	}
	if last != first {
		t.Fatalf("expected slot %d to be reused N calls later, got %d", first, last)
	}
}

func TestClearAllIsIdempotentAndResetsCounters(t *testing.T) {
	r := newTestRing(3) // N = 6
	for i := 0; i < 3; i++ {
		id, ok := r.ClaimForFrame()
		if !ok {
			t.Fatalf("claim %d should have succeeded", i)
		}
		r.PublishFrame(id, testCapture())
	}
	r.ClearAll()
	r.ClearAll()
	frame, cascade, aggregation := r.SnapshotCounts()
	if frame != r.N() || cascade != 0 || aggregation != 0 {
		t.Fatalf("expected (%d,0,0), got (%d,%d,%d)", r.N(), frame, cascade, aggregation)
	}
}

func TestOverflowReturnsNoneUntilReleaseFreesASlot(t *testing.T) {
	r := newTestRing(1) // N = 2
	ids := make([]SlotID, 0, 2)
	for i := 0; i < 2; i++ {
		id, ok := r.ClaimForFrame()
		if !ok {
			t.Fatalf("expected claim %d to succeed", i)
		}
		r.PublishFrame(id, testCapture())
		ids = append(ids, id)
	}
	for i := 0; i < 5; i++ {
		if _, ok := r.ClaimForFrame(); ok {
			t.Fatalf("expected overflow claim %d to fail", i)
		}
	}
	cid, ok := r.ClaimForCascade()
	if !ok {
		t.Fatal("expected cascade claim to succeed")
	}
	r.PublishCascade(cid, Result{})
	aid, _ := r.ClaimForAggregation()
	r.Release(aid)

	if _, ok := r.ClaimForFrame(); !ok {
		t.Fatal("expected claim to succeed once a slot was released")
	}
}

func TestCascadeClaimsFollowFIFOOrder(t *testing.T) {
	r := newTestRing(4) // N = 8
	var want []SlotID
	for cycle := 0; cycle < 3; cycle++ {
		for i := 0; i < r.N(); i++ {
			id, ok := r.ClaimForFrame()
			if !ok {
				t.Fatalf("cycle %d claim %d should have succeeded", cycle, i)
			}
			r.PublishFrame(id, testCapture())
			want = append(want, id)
		}
		for i := 0; i < r.N(); i++ {
			cid, ok := r.ClaimForCascade()
			if !ok {
				t.Fatalf("cycle %d cascade claim %d should have succeeded", cycle, i)
			}
			if got := want[cycle*r.N()+i]; cid != got {
				t.Fatalf("cascade claims out of FIFO order: got %d, want %d", cid, got)
			}
			r.PublishCascade(cid, Result{})
			aid, _ := r.ClaimForAggregation()
			r.Release(aid)
		}
	}
	for i, id := range want {
		if id != SlotID(i%r.N()) {
			t.Fatalf("claim %d returned slot %d, expected ascending rotation", i, id)
		}
	}
}

func TestCountersPlusInFlightAlwaysSumToN(t *testing.T) {
	r := newTestRing(2) // N = 4
	inFlight := 0
	check := func(step string) {
		t.Helper()
		frame, cascade, aggregation := r.SnapshotCounts()
		if frame+cascade+aggregation+inFlight != r.N() {
			t.Fatalf("%s: %d+%d+%d+%d != %d", step, frame, cascade, aggregation, inFlight, r.N())
		}
	}
	check("initial")

	id, _ := r.ClaimForFrame()
	inFlight++
	check("after claim_for_frame")
	r.PublishFrame(id, testCapture())
	inFlight--
	check("after publish_frame")

	cid, _ := r.ClaimForCascade()
	inFlight++
	check("after claim_for_cascade")
	r.PublishCascade(cid, Result{CatPresent: true})
	inFlight--
	check("after publish_cascade")

	aid, _ := r.ClaimForAggregation()
	inFlight++
	check("after claim_for_aggregation")
	r.Release(aid)
	inFlight--
	check("after release")
}

func TestClaimBeyondCounterReturnsNone(t *testing.T) {
	r := newTestRing(2)
	if _, ok := r.ClaimForCascade(); ok {
		t.Fatal("expected cascade claim on an empty ring to return none")
	}
	if _, ok := r.ClaimForAggregation(); ok {
		t.Fatal("expected aggregation claim on an empty ring to return none")
	}
}

func TestConcurrentClaimsNeverExceedAvailability(t *testing.T) {
	r := newTestRing(8) // N = 16
	var wg sync.WaitGroup
	successes := make(chan SlotID, r.N()*4)
	for i := 0; i < r.N()*4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id, ok := r.ClaimForFrame(); ok {
				successes <- id
			}
		}()
	}
	wg.Wait()
	close(successes)
	seen := map[SlotID]bool{}
	count := 0
	for id := range successes {
		if seen[id] {
			t.Fatalf("slot %d claimed twice", id)
		}
		seen[id] = true
		count++
	}
	if count != r.N() {
		t.Fatalf("expected exactly %d successful claims, got %d", r.N(), count)
	}
}
