// Package cascade defines the external contract for the multi-stage
// detection cascade (cat-presence -> face localization -> prey
// classifier). The cascade's internal CV stages are out of scope for this
// repository; only the pure per-frame function and its warm-up hook live
// here.
package cascade

import (
	"bytes"
	"context"
	_ "embed"
	"image"
	"image/jpeg"

	"github.com/dieriver/balrog-go/internal/ring"
)

// Cascade runs the detection cascade against a single decoded frame.
// Implementations must be safe for concurrent use by the cascade worker
// pool.
type Cascade interface {
	Run(ctx context.Context, frame image.Image) (ring.Result, error)
}

//go:embed assets/warmup.jpg
var warmupJPEG []byte

// WarmupImage decodes the bundled warm-up asset, used once per cascade
// worker pool startup to amortize one-time model initialization before
// admitting live frames.
func WarmupImage() (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(warmupJPEG))
}
