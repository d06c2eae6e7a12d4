// Package metrics hosts the pipeline-wide gauges that don't belong to a
// single component's own file: ring occupancy and sender queue depth,
// polled on an interval rather than pushed, since neither the ring nor
// the sender's diagnostic slots want a metrics import of their own.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ringAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "balrog_ring_available_slots",
		Help: "Ring slots currently available in each phase",
	}, []string{"phase"})

	senderQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balrog_sender_queue_length",
		Help: "Frames awaiting aggregation, as last observed by the sender's diagnostic slot",
	})

	senderOverheadSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balrog_sender_overhead_seconds",
		Help: "Capture-to-cascade-completion lag, as last observed by the sender's diagnostic slot",
	})
)

// RingSource reports the three ring availability counters.
type RingSource interface {
	SnapshotCounts() (frame, cascade, aggregation int)
}

// SenderSource reports the sender's diagnostic slots.
type SenderSource interface {
	QueueLength() int
	OverheadSeconds() float64
}

// Collector polls a ring and a sender on an interval and republishes
// their state as prometheus gauges.
type Collector struct {
	ring     RingSource
	sender   SenderSource
	interval time.Duration
}

// NewCollector builds a Collector; interval defaults to one second.
func NewCollector(r RingSource, s SenderSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Second
	}
	return &Collector{ring: r, sender: s, interval: interval}
}

// Run polls until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	frame, cascade, aggregation := c.ring.SnapshotCounts()
	ringAvailable.WithLabelValues("frame").Set(float64(frame))
	ringAvailable.WithLabelValues("cascade").Set(float64(cascade))
	ringAvailable.WithLabelValues("aggregation").Set(float64(aggregation))

	senderQueueLength.Set(float64(c.sender.QueueLength()))
	senderOverheadSeconds.Set(c.sender.OverheadSeconds())
}
