package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dieriver/balrog-go/internal/servicelog"
)

var dispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "balrog_notification_dispatch_seconds",
	Help:    "Time spent delivering a verdict notification",
	Buckets: prometheus.DefBuckets,
})

// dispatcher is the fixed goroutine pool that delivers verdicts, so that
// notification I/O latency never stalls the aggregator loop.
type dispatcher struct {
	tasks    chan Verdict
	notifier Notifier
	logger   servicelog.Logger
	size     int
	wg       sync.WaitGroup
}

func newDispatcher(size int, notifier Notifier, logger servicelog.Logger) *dispatcher {
	if size < 1 {
		size = 1
	}
	return &dispatcher{
		tasks:    make(chan Verdict, 64),
		notifier: notifier,
		logger:   logger,
		size:     size,
	}
}

func (d *dispatcher) run(ctx context.Context) {
	for i := 0; i < d.size; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			d.loop(ctx, worker)
		}(i)
	}
	d.wg.Wait()
}

func (d *dispatcher) loop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-d.tasks:
			if !ok {
				return
			}
			start := time.Now()
			d.notifier.Notify(ctx, v)
			dispatchLatency.Observe(time.Since(start).Seconds())
		}
	}
}

func (d *dispatcher) submit(v Verdict) {
	select {
	case d.tasks <- v:
	default:
		d.logger.Warn("notification dispatch queue full, dropping verdict", servicelog.String("kind", v.Kind.String()))
	}
}

func (d *dispatcher) stop() {
	close(d.tasks)
}
