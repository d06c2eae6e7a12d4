package sender

import (
	"context"
	"image"

	"github.com/dieriver/balrog-go/internal/aggregator"
	"github.com/dieriver/balrog-go/internal/servicelog"
)

// Null is the BALROG_USE_NULL_TELEGRAM debug variant: it logs instead of
// calling out to the real chat API.
type Null struct {
	diagnostics
	logger servicelog.Logger
}

func NewNull(logger servicelog.Logger) *Null {
	return &Null{logger: logger}
}

func (n *Null) SendText(text string) {
	n.logger.Info("debug sender: text", servicelog.String("text", text))
}

func (n *Null) SendImage(img image.Image, caption string, force bool) {
	if n.Muted() && !force {
		n.logger.Debug("debug sender: image suppressed (muted)", servicelog.String("caption", caption))
		return
	}
	n.logger.Info("debug sender: image", servicelog.String("caption", caption), servicelog.Bool("present", img != nil))
}

func (n *Null) Notify(ctx context.Context, v aggregator.Verdict) {
	n.SendText(verdictText(v))
}
