// Package mjpeg streams the pipeline's live-view diagnostic image to an
// operator's browser as a multipart/x-mixed-replace MJPEG feed. One
// shared Broadcaster holds the last published frame; viewers pull by
// sequence number and block until a newer frame arrives.
package mjpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/dieriver/balrog-go/internal/servicelog"
)

// Broadcaster holds the most recently published frame and wakes any
// blocked Next callers when a newer one arrives.
type Broadcaster struct {
	mu    sync.Mutex
	cond  *sync.Cond
	img   image.Image
	seq   uint64
	close bool
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish replaces the current frame and wakes all blocked viewers.
func (b *Broadcaster) Publish(img image.Image) {
	b.mu.Lock()
	b.img = img
	b.seq++
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Close wakes all blocked viewers so they can disconnect; no further
// frames will be delivered.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.close = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Next blocks until a frame newer than after is published, or ctx is
// done.
func (b *Broadcaster) Next(ctx context.Context, after uint64) (image.Image, uint64, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.seq == after && !b.close && ctx.Err() == nil {
		b.cond.Wait()
	}
	if b.close || ctx.Err() != nil {
		return nil, after, false
	}
	return b.img, b.seq, true
}

// Handler streams frames published to b as a multipart/x-mixed-replace
// MJPEG feed, hijacking the raw connection (net/http's ResponseWriter has
// no streaming-multipart primitive of its own).
func Handler(logger servicelog.Logger, b *Broadcaster) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		conn, rw, err := hijacker.Hijack()
		if err != nil {
			http.Error(w, "hijack failed", http.StatusInternalServerError)
			return
		}
		defer conn.Close()

		mimeWriter := multipart.NewWriter(rw)
		defer mimeWriter.Close()

		rw.WriteString(r.Proto + " 200 OK\r\n")
		rw.WriteString("Connection: close\r\n")
		rw.WriteString("Cache-Control: no-store, no-cache\r\n")
		rw.WriteString(fmt.Sprintf("Content-Type: multipart/x-mixed-replace;boundary=%s\r\n\r\n", mimeWriter.Boundary()))
		if err := rw.Flush(); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		var seq uint64
		for {
			img, next, ok := b.Next(ctx, seq)
			if !ok {
				return
			}
			seq = next
			if img == nil {
				continue
			}
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
				logger.Warn("mjpeg: failed to encode frame", servicelog.Error(err))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			header := make(textproto.MIMEHeader)
			header.Set("Content-Type", "image/jpeg")
			partWriter, err := mimeWriter.CreatePart(header)
			if err != nil {
				return
			}
			if _, err := partWriter.Write(buf.Bytes()); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					logger.Warn("mjpeg: client write failed, disconnecting", servicelog.Error(err))
				}
				return
			}
			if err := rw.Flush(); err != nil {
				return
			}
		}
	})
}
