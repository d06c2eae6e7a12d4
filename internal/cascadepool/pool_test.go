package cascadepool

import (
	"context"
	"errors"
	"image"
	"os"
	"testing"
	"time"

	"github.com/dieriver/balrog-go/internal/cascade"
	"github.com/dieriver/balrog-go/internal/ring"
	"github.com/dieriver/balrog-go/internal/servicelog"
)

type failingCascade struct{}

func (failingCascade) Run(ctx context.Context, frame image.Image) (ring.Result, error) {
	return ring.Result{}, errors.New("model blew up")
}

func publishOneFrame(t *testing.T, r *ring.Ring) {
	t.Helper()
	id, ok := r.ClaimForFrame()
	if !ok {
		t.Fatal("expected a free slot")
	}
	r.PublishFrame(id, ring.Capture{Image: image.NewRGBA(image.Rect(0, 0, 1, 1)), Timestamp: time.Now()})
}

func TestWorkerPublishesResultForAggregation(t *testing.T) {
	r := ring.New(2, servicelog.Nop(), false)
	publishOneFrame(t, r)

	p := New(r, cascade.Stub{CatPresent: true}, servicelog.Nop(), Options{Size: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, _, agg := pollCounts(r); agg == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the worker to publish a cascade result")
		case <-time.After(5 * time.Millisecond):
		}
	}

	id, ok := r.ClaimForAggregation()
	if !ok {
		t.Fatal("expected an aggregation claim to succeed")
	}
	_, result := r.Payload(id)
	if !result.CatPresent {
		t.Fatal("expected the stub's result to be published into the slot")
	}
	if result.Runtime < 0 || result.Overhead <= 0 {
		t.Fatalf("expected runtime/overhead to be stamped, got %v/%v", result.Runtime, result.Overhead)
	}

	cancel()
	<-done
}

func TestCascadeFailureDumpsFrameAndClearsRing(t *testing.T) {
	r := ring.New(2, servicelog.Nop(), false)
	publishOneFrame(t, r)
	publishOneFrame(t, r)

	debugDir := t.TempDir()
	p := New(r, failingCascade{}, servicelog.Nop(), Options{Size: 1, DebugDir: debugDir})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if frame, _, _ := pollCounts(r); frame == r.N() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the ring to be cleared after a cascade failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	entries, err := os.ReadDir(debugDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("expected the offending frame to be dumped to the debug directory")
	}
}

func pollCounts(r *ring.Ring) (int, int, int) {
	return r.SnapshotCounts()
}
