package mjpeg

import (
	"context"
	"image"
	"testing"
	"time"
)

func TestNextBlocksUntilPublish(t *testing.T) {
	b := NewBroadcaster()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))

	type result struct {
		img image.Image
		seq uint64
		ok  bool
	}
	done := make(chan result, 1)
	go func() {
		got, seq, ok := b.Next(context.Background(), 0)
		done <- result{got, seq, ok}
	}()

	select {
	case <-done:
		t.Fatal("expected Next to block before any Publish")
	case <-time.After(20 * time.Millisecond):
	}

	b.Publish(img)

	select {
	case r := <-done:
		if !r.ok || r.seq != 1 || r.img != img {
			t.Fatalf("expected (img, 1, true), got (%v, %d, %v)", r.img, r.seq, r.ok)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Next to return after Publish")
	}
}

func TestNextReturnsFalseOnContextCancel(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, ok := b.Next(ctx, 0)
	if ok {
		t.Fatal("expected Next to report false for an already-cancelled context")
	}
}

func TestNextReturnsFalseAfterClose(t *testing.T) {
	b := NewBroadcaster()
	b.Close()

	_, _, ok := b.Next(context.Background(), 0)
	if ok {
		t.Fatal("expected Next to report false after Close")
	}
}

func TestNextSkipsStaleSequence(t *testing.T) {
	b := NewBroadcaster()
	first := image.NewRGBA(image.Rect(0, 0, 1, 1))
	second := image.NewRGBA(image.Rect(0, 0, 2, 2))

	b.Publish(first)
	b.Publish(second)

	img, seq, ok := b.Next(context.Background(), 0)
	if !ok || seq != 2 || img != second {
		t.Fatalf("expected caller starting from seq 0 to see the latest frame (seq 2), got (%v, %d, %v)", img, seq, ok)
	}
}
