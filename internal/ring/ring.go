// Package ring implements FrameRing, the bounded, lossy, state-machine
// enforced handoff structure between the camera producer, the cascade
// worker pool and the aggregator.
//
// All operations take a single mutex briefly; none blocks on I/O. Slot
// payloads (capture image, cascade result) are only ever touched by the
// single goroutine that currently owns the slot, conveyed by the slot's
// In* state; the mutex itself never guards payload bytes, only cursors,
// counters and the state field.
package ring

import (
	"image"
	"sync"
	"time"

	"github.com/dieriver/balrog-go/internal/servicelog"
)

// State is a slot's position in its three-phase lifecycle.
type State int

const (
	WaitingFrame State = iota
	InFrame
	WaitingCascade
	InCascade
	WaitingAggregation
	InAggregation
)

func (s State) String() string {
	switch s {
	case WaitingFrame:
		return "WaitingFrame"
	case InFrame:
		return "InFrame"
	case WaitingCascade:
		return "WaitingCascade"
	case InCascade:
		return "InCascade"
	case WaitingAggregation:
		return "WaitingAggregation"
	case InAggregation:
		return "InAggregation"
	default:
		return "Unknown"
	}
}

// Capture is the payload written by the camera producer.
type Capture struct {
	Image     image.Image
	Timestamp time.Time
}

// Result is the payload written by a cascade worker.
type Result struct {
	CatPresent  bool
	FacePresent bool
	// PreyScore is nil when the cascade has no opinion (e.g. no face).
	PreyScore *float32
	Annotated image.Image
	Runtime   time.Duration
	Overhead  time.Duration
}

// Empty reports whether a Capture has not been written.
func (c Capture) Empty() bool { return c.Image == nil }

// Empty reports whether a Result has not been written.
func (r Result) Empty() bool { return r.Annotated == nil && !r.CatPresent && !r.FacePresent && r.PreyScore == nil }

type slot struct {
	capture Capture
	result  Result
	state   State
}

// SlotID identifies one ring element; always in [0, N).
type SlotID int

// Ring holds N = 2*maxBuffers pre-allocated slots, three monotonic
// cursors and three counters, guarded by a single mutex.
type Ring struct {
	mu sync.Mutex

	slots []slot
	n     int

	nextEmpty              int
	nextPendingCascade     int
	nextPendingAggregation int

	availableFrame       int
	availableCascade     int
	availableAggregation int

	logger servicelog.Logger
	logOps bool
}

// New allocates a ring of 2*maxBuffers slots, all WaitingFrame. When
// logOps is set (enable_circular_buffer_logging), every state transition
// is traced at Debug.
func New(maxBuffers int, logger servicelog.Logger, logOps bool) *Ring {
	n := 2 * maxBuffers
	if n <= 0 {
		n = 2
	}
	r := &Ring{
		slots:          make([]slot, n),
		n:              n,
		availableFrame: n,
		logger:         logger,
		logOps:         logOps,
	}
	return r
}

func (r *Ring) logOp(op string, id SlotID, state State) {
	if !r.logOps {
		return
	}
	r.logger.Debug("ring: "+op,
		servicelog.Int("slot", int(id)),
		servicelog.String("state", state.String()))
}

// ClaimForFrame returns the next WaitingFrame slot, or ok=false if the ring
// is saturated (the camera must drop this frame).
func (r *Ring) ClaimForFrame() (id SlotID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.availableFrame <= 0 {
		return 0, false
	}
	idx := r.nextEmpty
	if r.slots[idx].state != WaitingFrame {
		return 0, false
	}
	r.slots[idx].state = InFrame
	r.nextEmpty = (r.nextEmpty + 1) % r.n
	r.availableFrame--
	r.logOp("claim_for_frame", SlotID(idx), InFrame)
	return SlotID(idx), true
}

// PublishFrame writes the capture payload and transitions the slot to
// WaitingCascade. Precondition: the slot is InFrame (caller-owned).
func (r *Ring) PublishFrame(id SlotID, capture Capture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := int(id)
	r.slots[idx].capture = capture
	r.slots[idx].state = WaitingCascade
	r.availableCascade++
	r.logOp("publish_frame", id, WaitingCascade)
}

// ClaimForCascade returns the next WaitingCascade slot, or ok=false.
func (r *Ring) ClaimForCascade() (id SlotID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.availableCascade <= 0 {
		return 0, false
	}
	idx := r.nextPendingCascade
	if r.slots[idx].state != WaitingCascade {
		return 0, false
	}
	r.slots[idx].state = InCascade
	r.nextPendingCascade = (r.nextPendingCascade + 1) % r.n
	r.availableCascade--
	r.logOp("claim_for_cascade", SlotID(idx), InCascade)
	return SlotID(idx), true
}

// Capture returns a copy of the slot's capture payload for an owning
// worker to run the cascade against. Must only be called while the slot is
// InCascade (or InFrame, for symmetry with tests).
func (r *Ring) Capture(id SlotID) Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[id].capture
}

// PublishCascade writes the cascade result and transitions the slot to
// WaitingAggregation. Precondition: the slot is InCascade.
func (r *Ring) PublishCascade(id SlotID, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := int(id)
	r.slots[idx].result = result
	r.slots[idx].state = WaitingAggregation
	r.availableAggregation++
	r.logOp("publish_cascade", id, WaitingAggregation)
}

// ClaimForAggregation returns the next WaitingAggregation slot, or ok=false.
func (r *Ring) ClaimForAggregation() (id SlotID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.availableAggregation <= 0 {
		return 0, false
	}
	idx := r.nextPendingAggregation
	if r.slots[idx].state != WaitingAggregation {
		return 0, false
	}
	r.slots[idx].state = InAggregation
	r.nextPendingAggregation = (r.nextPendingAggregation + 1) % r.n
	r.availableAggregation--
	r.logOp("claim_for_aggregation", SlotID(idx), InAggregation)
	return SlotID(idx), true
}

// Payload returns a copy of the slot's capture and result, for the
// aggregator to clone before releasing the slot.
func (r *Ring) Payload(id SlotID) (Capture, Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[id]
	return s.capture, s.result
}

// Release clears a slot's payload and returns it to WaitingFrame.
// Precondition: the slot is InAggregation.
func (r *Ring) Release(id SlotID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := int(id)
	r.slots[idx].capture = Capture{}
	r.slots[idx].result = Result{}
	r.slots[idx].state = WaitingFrame
	r.availableFrame++
	r.logOp("release", id, WaitingFrame)
}

// ClearAll force-resets every slot to WaitingFrame and resets cursors and
// counters. Called by the cascade worker pool after a failed cascade; the
// operator's clean-queue signal resets only the aggregator's accumulator
// and does not call it.
func (r *Ring) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		r.slots[i] = slot{}
	}
	r.nextEmpty = 0
	r.nextPendingCascade = 0
	r.nextPendingAggregation = 0
	r.availableFrame = r.n
	r.availableCascade = 0
	r.availableAggregation = 0
	if r.logOps {
		r.logger.Debug("ring: clear_all", servicelog.Int("slots", r.n))
	}
}

// SnapshotCounts reports the three availability counters for diagnostics.
func (r *Ring) SnapshotCounts() (frame, cascade, aggregation int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availableFrame, r.availableCascade, r.availableAggregation
}

// N returns the ring's fixed slot count (2 * max_frame_buffers).
func (r *Ring) N() int {
	return r.n
}
