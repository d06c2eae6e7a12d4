// Package cascadepool runs a fixed pool of cascade workers against a
// ring.Ring: each worker claims a pending frame, runs the detection
// cascade and publishes the result back into the slot it claimed.
package cascadepool

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dieriver/balrog-go/internal/cascade"
	"github.com/dieriver/balrog-go/internal/ring"
	"github.com/dieriver/balrog-go/internal/servicelog"
)

var (
	cascadeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "balrog_cascade_latency_seconds",
		Help:    "Latency of a single cascade invocation",
		Buckets: prometheus.DefBuckets,
	})
	cascadeOverhead = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "balrog_cascade_overhead_seconds",
		Help:    "Wall-clock lag between a frame's capture and its cascade completion",
		Buckets: prometheus.DefBuckets,
	})
	cascadeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balrog_cascade_failures_total",
		Help: "Number of cascade invocations that ended in an exception",
	})
	cascadeStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balrog_cascade_status_total",
		Help: "Outcome of cascade invocations",
	}, []string{"status"})
)

// Options configures a worker pool. DebugLog (enable_cascade_logging)
// traces every cascade invocation's outcome at Debug.
type Options struct {
	Size         int
	DebugDir     string
	TimestampFmt string
	DebugLog     bool
}

// Pool is a fixed set of cascade worker goroutines.
type Pool struct {
	ring    *ring.Ring
	cascade cascade.Cascade
	logger  servicelog.Logger
	opts    Options
}

// New builds a cascade worker pool.
func New(r *ring.Ring, c cascade.Cascade, logger servicelog.Logger, opts Options) *Pool {
	if opts.Size < 1 {
		opts.Size = 1
	}
	return &Pool{ring: r, cascade: c, logger: logger, opts: opts}
}

// Run starts size worker goroutines, warms up the cascade once, and blocks
// until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	warmup, err := cascade.WarmupImage()
	if err != nil {
		p.logger.Warn("cascade warm-up image decode failed", servicelog.Error(err))
	} else if _, err := p.cascade.Run(ctx, warmup); err != nil {
		p.logger.Warn("cascade warm-up invocation failed", servicelog.Error(err))
	}

	done := make(chan struct{}, p.opts.Size)
	for i := 0; i < p.opts.Size; i++ {
		go func(worker int) {
			p.loop(ctx, worker)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.opts.Size; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context, worker int) {
	logger := p.logger.With(servicelog.Int("worker", worker))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		id, ok := p.ring.ClaimForCascade()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		capture := p.ring.Capture(id)
		start := time.Now()
		result, err := p.cascade.Run(ctx, capture.Image)
		runtime := time.Since(start)
		if err != nil {
			cascadeFailures.Inc()
			cascadeStatus.WithLabelValues("error").Inc()
			logger.Error("cascade invocation failed, dumping frame and clearing ring", servicelog.Error(err))
			p.dumpFrame(logger, capture)
			p.ring.ClearAll()
			continue
		}
		cascadeStatus.WithLabelValues("ok").Inc()
		cascadeLatency.Observe(runtime.Seconds())
		result.Runtime = runtime
		result.Overhead = time.Since(capture.Timestamp)
		cascadeOverhead.Observe(result.Overhead.Seconds())
		if p.opts.DebugLog {
			logger.Debug("cascade result",
				servicelog.Bool("cat", result.CatPresent),
				servicelog.Bool("face", result.FacePresent),
				servicelog.Duration("runtime", runtime),
				servicelog.Duration("overhead", result.Overhead))
		}
		p.ring.PublishCascade(id, result)
	}
}

func (p *Pool) dumpFrame(logger servicelog.Logger, capture ring.Capture) {
	if p.opts.DebugDir == "" || capture.Image == nil {
		return
	}
	if err := os.MkdirAll(p.opts.DebugDir, 0o755); err != nil {
		logger.Error("failed to create cascade debug directory", servicelog.Error(err))
		return
	}
	format := p.opts.TimestampFmt
	if format == "" {
		format = "2006-01-02T15-04-05.000"
	}
	name := fmt.Sprintf("%s.jpg", capture.Timestamp.Format(format))
	path := filepath.Join(p.opts.DebugDir, name)
	f, err := os.Create(path)
	if err != nil {
		logger.Error("failed to create cascade debug frame", servicelog.Error(err))
		return
	}
	defer f.Close()
	if err := encode(f, capture.Image); err != nil {
		logger.Error("failed to encode cascade debug frame", servicelog.Error(err))
	}
}

func encode(f *os.File, img image.Image) error {
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}
