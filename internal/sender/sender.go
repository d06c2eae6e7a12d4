// Package sender implements the message sender: text and muteable image
// delivery plus the mutable diagnostic slots the aggregator writes and
// the bot reads. Diagnostic fields sit behind a narrow interface backed
// by atomic pointer swaps, never field-level setters exposed to callers.
package sender

import (
	"image"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dieriver/balrog-go/internal/aggregator"
)

// Sender is the full contract consumed by the aggregator and by operator
// chat commands.
type Sender interface {
	aggregator.Notifier

	SendText(text string)
	SendImage(img image.Image, caption string, force bool)

	// LiveImage, LastCascadeImage, QueueLength and OverheadSeconds are
	// read by operator commands (sendlivepic, sendlastcascpic,
	// nodestatus) without cross-thread coordination beyond the atomic
	// swap/read.
	LiveImage() image.Image
	LastCascadeImage() image.Image
	QueueLength() int
	OverheadSeconds() float64

	Mute(d time.Duration)
	Muted() bool
}

// diagnostics holds the shared mutable state: whole-image fields behind
// atomic.Pointer swaps, scalar counters behind a small mutex. Embedded by
// every Sender implementation so the synchronization discipline lives in
// one place.
type diagnostics struct {
	liveImage        atomic.Pointer[image.Image]
	lastCascadeImage atomic.Pointer[image.Image]

	mu              sync.Mutex
	queueLength     int
	overheadSeconds float64

	muteUntil atomic.Pointer[time.Time]
}

func (d *diagnostics) SetLiveImage(img image.Image) {
	d.liveImage.Store(&img)
}

func (d *diagnostics) SetLastCascadeImage(img image.Image) {
	d.lastCascadeImage.Store(&img)
}

func (d *diagnostics) SetQueueLength(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queueLength = n
}

func (d *diagnostics) SetOverhead(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overheadSeconds = dur.Seconds()
}

func (d *diagnostics) LiveImage() image.Image {
	if p := d.liveImage.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *diagnostics) LastCascadeImage() image.Image {
	if p := d.lastCascadeImage.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *diagnostics) QueueLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueLength
}

func (d *diagnostics) OverheadSeconds() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overheadSeconds
}

// Mute suppresses images (not text) for the given duration. A plain
// deadline checked on every send rather than a timer goroutine.
func (d *diagnostics) Mute(dur time.Duration) {
	until := time.Now().Add(dur)
	d.muteUntil.Store(&until)
}

func (d *diagnostics) Muted() bool {
	p := d.muteUntil.Load()
	if p == nil {
		return false
	}
	return time.Now().Before(*p)
}

// verdictText renders a Verdict into the operator-facing Markdown message.
func verdictText(v aggregator.Verdict) string {
	switch v.Kind {
	case aggregator.CatIncoming:
		return "*Cat incoming*"
	case aggregator.Prey:
		return "*PREY DETECTED* — average score: " + formatAvg(v.Average)
	case aggregator.NoPrey:
		return "No prey — average score: " + formatAvg(v.Average)
	case aggregator.DontKnow:
		return "Don't know — average score: " + formatAvg(v.Average)
	default:
		return "Unknown verdict"
	}
}

func formatAvg(avg float64) string {
	return strconv.FormatFloat(avg, 'f', 2, 64)
}
