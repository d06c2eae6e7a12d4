// Package aggregator implements the event-accumulator state machine: the
// single consumer that folds per-frame cascade results into at most one
// operator-visible verdict per event.
package aggregator

import (
	"context"
	"image"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dieriver/balrog-go/internal/buffer"
	"github.com/dieriver/balrog-go/internal/ring"
	"github.com/dieriver/balrog-go/internal/servicelog"
)

// VerdictKind is one of the four operator-visible outcomes.
type VerdictKind int

const (
	CatIncoming VerdictKind = iota
	Prey
	NoPrey
	DontKnow
)

func (k VerdictKind) String() string {
	switch k {
	case CatIncoming:
		return "cat incoming"
	case Prey:
		return "prey"
	case NoPrey:
		return "no prey"
	case DontKnow:
		return "don't know"
	default:
		return "unknown"
	}
}

// EventFrame is a retained per-frame result, cloned out of the ring.
type EventFrame struct {
	Result    ring.Result
	Timestamp time.Time
}

// Verdict is handed to the notification dispatch pool. EventFrames is an
// owned copy; the accumulator keeps no reference to it after submit.
type Verdict struct {
	Kind        VerdictKind
	Average     float64
	EventFrames []EventFrame
	// Image is the frame with the minimum PreyScore among EventFrames
	// (the most prey-like), or the latest live frame for CatIncoming.
	Image image.Image
}

// Notifier is the narrow surface the aggregator needs from the message
// sender. A small dispatch pool owns delivery so I/O latency never blocks
// the aggregator loop.
type Notifier interface {
	Notify(ctx context.Context, v Verdict)
	SetLiveImage(img image.Image)
	SetLastCascadeImage(img image.Image)
	SetQueueLength(n int)
	SetOverhead(d time.Duration)
}

// Thresholds mirrors the [model] section of the TOML config.
type Thresholds struct {
	EventResetThreshold    int
	CatCounterThreshold    int
	CumulusPreyThreshold   float64
	CumulusNoPreyThreshold float64
	// PreyValHardThreshold is carried from the config schema; the
	// folding rules do not consult it.
	PreyValHardThreshold          float64
	MinAggregationFramesThreshold int
}

// accumulator is the per-event state, reset on verdict or on external
// clean signal.
type accumulator struct {
	inEvent         bool
	patienceReached bool
	catAnnounced    bool
	faceSeenOnce    bool

	catFrameCount  int
	faceFrameCount int
	missStreak     int
	patienceCount  int

	cumulativeScore int

	eventFrames []EventFrame

	warnedOutOfRange bool
}

func (a *accumulator) reset() {
	*a = accumulator{}
}

var (
	verdictCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balrog_verdicts_total",
		Help: "Verdicts emitted by the aggregator",
	}, []string{"kind"})
	cumulativeScoreGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balrog_cumulative_score",
		Help: "Current in-progress event cumulative score",
	})
)

// Aggregator runs the single-threaded consumer loop.
type Aggregator struct {
	ring       *ring.Ring
	thresholds Thresholds
	logger     servicelog.Logger
	notifier   Notifier
	dispatch   *dispatcher

	acc accumulator

	cleanQueue chan struct{}
	history    *buffer.History
}

// defaultHistorySize bounds the in-memory verdict history exposed to
// operator diagnostics (nodestatus); it is not part of the TOML schema
// since it only feeds an informational command, not pipeline behavior.
const defaultHistorySize = 32

func New(r *ring.Ring, thresholds Thresholds, logger servicelog.Logger, notifier Notifier, senderThreads int) *Aggregator {
	return &Aggregator{
		ring:       r,
		thresholds: thresholds,
		logger:     logger,
		notifier:   notifier,
		dispatch:   newDispatcher(senderThreads, notifier, logger),
		cleanQueue: make(chan struct{}, 1),
		history:    buffer.New(defaultHistorySize),
	}
}

// History returns the bounded recent-verdict ring backing operator
// diagnostics (nodestatus-adjacent commands).
func (a *Aggregator) History() *buffer.History {
	return a.history
}

// RaiseCleanQueue sets the clean-queue signal: "drop the current event and
// start fresh". Only the aggregator loop consumes it.
func (a *Aggregator) RaiseCleanQueue() {
	select {
	case a.cleanQueue <- struct{}{}:
	default:
	}
}

// Run executes the aggregator loop until ctx is cancelled. A clean return
// is the "exit zero, let the supervisor restart" path.
func (a *Aggregator) Run(ctx context.Context) {
	go a.dispatch.run(ctx)
	defer a.dispatch.stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, _, aggAvail := a.ring.SnapshotCounts()
		if aggAvail < a.thresholds.MinAggregationFramesThreshold {
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}

		id, ok := a.ring.ClaimForAggregation()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		capture, result := a.ring.Payload(id)
		a.ring.Release(id)

		a.notifier.SetQueueLength(aggAvail)
		a.notifier.SetOverhead(result.Overhead)

		a.fold(ctx, capture, result)

		select {
		case <-a.cleanQueue:
			a.logger.Info("clean-queue signal observed, discarding in-flight event")
			a.acc.reset()
		default:
		}
	}
}

// fold applies a single frame's cascade result to the accumulator.
func (a *Aggregator) fold(ctx context.Context, capture ring.Capture, result ring.Result) {
	acc := &a.acc

	if !result.CatPresent {
		acc.missStreak++
		if acc.missStreak >= a.thresholds.EventResetThreshold && acc.inEvent {
			avg := float64(acc.cumulativeScore) / float64(maxInt(acc.faceFrameCount, 1))
			a.emit(ctx, DontKnow, avg, acc.eventFrames, nil)
			acc.reset()
		}
		return
	}

	acc.inEvent = true
	acc.eventFrames = append(acc.eventFrames, EventFrame{Result: result, Timestamp: capture.Timestamp})
	acc.missStreak = 0
	acc.catFrameCount++

	if acc.catFrameCount >= a.thresholds.CatCounterThreshold && !acc.catAnnounced {
		acc.catAnnounced = true
		a.emit(ctx, CatIncoming, 0, nil, capture.Image)
	}

	a.notifier.SetLastCascadeImage(result.Annotated)

	if result.FacePresent {
		acc.faceFrameCount++
		score := a.scoreContribution(result.PreyScore)
		acc.cumulativeScore += score
		cumulativeScoreGauge.Set(float64(acc.cumulativeScore))
		acc.faceSeenOnce = true
	}

	// The gate reads the patience flag as it stood before this frame;
	// the flag itself is only updated afterward, for the next frame's
	// gate check.
	if acc.faceFrameCount > 0 && acc.patienceReached {
		avg := float64(acc.cumulativeScore) / float64(acc.faceFrameCount)
		switch {
		case avg > a.thresholds.CumulusNoPreyThreshold:
			a.emit(ctx, NoPrey, avg, acc.eventFrames, nil)
			acc.reset()
			return
		case avg < a.thresholds.CumulusPreyThreshold:
			a.emit(ctx, Prey, avg, acc.eventFrames, nil)
			acc.reset()
			return
		}
	}

	if acc.inEvent && acc.faceSeenOnce {
		acc.patienceCount++
	}
	// Both arms of this disjunction are kept on purpose: the patience
	// counter arm and the face-count arm overlap in the common case but
	// diverge when faces stop appearing mid-event.
	if acc.faceFrameCount > 1 || acc.patienceCount > 2 {
		acc.patienceReached = true
	}
}

// scoreContribution implements 50 - round(100*prey_score). Scores outside
// [0,1] are not clamped; they are logged once per event at Warn. Rejecting
// them would stall the event with no verdict ever emitted.
func (a *Aggregator) scoreContribution(preyScore *float32) int {
	if preyScore == nil {
		return 0
	}
	v := float64(*preyScore)
	if (v < 0 || v > 1) && !a.acc.warnedOutOfRange {
		a.acc.warnedOutOfRange = true
		a.logger.Warn("prey_score outside [0,1]", servicelog.Any("prey_score", v))
	}
	return 50 - int(math.Round(100*v))
}

func (a *Aggregator) emit(ctx context.Context, kind VerdictKind, avg float64, frames []EventFrame, liveImage image.Image) {
	verdictCounter.WithLabelValues(kind.String()).Inc()
	a.history.Push(buffer.Summary{Kind: kind.String(), Average: avg, Timestamp: time.Now()})

	owned := make([]EventFrame, len(frames))
	copy(owned, frames)

	img := liveImage
	if img == nil {
		img = minPreyScoreImage(owned)
	}
	if img != nil {
		a.notifier.SetLiveImage(img)
	}

	a.dispatch.submit(Verdict{Kind: kind, Average: avg, EventFrames: owned, Image: img})
}

// minPreyScoreImage returns the annotated image of the retained event
// frame with the minimum non-null PreyScore (the most prey-like).
func minPreyScoreImage(frames []EventFrame) image.Image {
	var best image.Image
	bestScore := float32(math.MaxFloat32)
	for _, f := range frames {
		if f.Result.PreyScore == nil {
			continue
		}
		if *f.Result.PreyScore < bestScore {
			bestScore = *f.Result.PreyScore
			best = f.Result.Annotated
		}
	}
	return best
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
