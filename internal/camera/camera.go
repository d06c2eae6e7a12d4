// Package camera implements the camera producer: a single dedicated
// goroutine pulling decoded frames from a Source at a fixed rate and
// publishing them into the ring.
package camera

import (
	"context"
	"image"
	"time"

	"github.com/dieriver/balrog-go/internal/ring"
	"github.com/dieriver/balrog-go/internal/servicelog"
)

// Source abstracts a decoded-frame producer: the real MJPEG/HTTP stream or
// the debug fixed-image variant. Both satisfy the same narrow interface so
// the producer loop below never branches on which one it was given.
type Source interface {
	// Open (re)opens the underlying stream. Called at startup and every
	// CleanupFrames frames thereafter as a defensive workaround for
	// driver leaks.
	Open(ctx context.Context) error
	// Next pulls the next decoded frame. A transient read miss is
	// reported as an error and retried on the next tick; it is never
	// fatal.
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Config drives the producer loop's cadence and reopen policy.
type Config struct {
	FPS           int
	CleanupFrames int
}

// Producer runs the camera producer loop on the calling goroutine until
// ctx is cancelled.
type Producer struct {
	ring   *ring.Ring
	source Source
	logger servicelog.Logger
	cfg    Config
}

func New(r *ring.Ring, source Source, logger servicelog.Logger, cfg Config) *Producer {
	if cfg.FPS < 1 {
		cfg.FPS = 1
	}
	return &Producer{ring: r, source: source, logger: logger, cfg: cfg}
}

// Run drives the producer loop: open stream, pull frame, claim a slot,
// publish or drop, sleep 1/fps, reopen the stream every CleanupFrames.
func (p *Producer) Run(ctx context.Context) {
	if err := p.source.Open(ctx); err != nil {
		p.logger.Error("camera: failed to open stream", servicelog.Error(err))
	}
	defer p.source.Close()

	interval := time.Second / time.Duration(p.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frames := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := p.source.Next(ctx)
		if err != nil {
			p.logger.Warn("camera: frame read miss, will retry next tick", servicelog.Error(err))
		} else {
			p.publish(frame)
		}

		frames++
		if p.cfg.CleanupFrames > 0 && frames%p.cfg.CleanupFrames == 0 {
			p.reopen(ctx)
		}
	}
}

func (p *Producer) publish(frame image.Image) {
	id, ok := p.ring.ClaimForFrame()
	if !ok {
		p.logger.Warn("camera: ring saturated, dropping frame")
		return
	}
	p.ring.PublishFrame(id, ring.Capture{Image: frame, Timestamp: time.Now()})
}

func (p *Producer) reopen(ctx context.Context) {
	if err := p.source.Close(); err != nil {
		p.logger.Warn("camera: failed to close stream for reopen", servicelog.Error(err))
	}
	for {
		if err := p.source.Open(ctx); err != nil {
			p.logger.Error("camera: failed to reopen stream, retrying", servicelog.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second / time.Duration(max(p.cfg.FPS, 1))):
				continue
			}
		}
		return
	}
}
