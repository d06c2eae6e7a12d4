package cascade

import (
	"context"
	"image"

	"github.com/dieriver/balrog-go/internal/ring"
)

// Stub is a deterministic Cascade used for tests and for deployments
// where no real model is available. A production cascade (cat-presence ->
// face localization -> prey classifier) only needs to satisfy the same
// interface.
type Stub struct {
	CatPresent  bool
	FacePresent bool
	PreyScore   *float32
}

func (s Stub) Run(ctx context.Context, frame image.Image) (ring.Result, error) {
	return ring.Result{
		CatPresent:  s.CatPresent,
		FacePresent: s.FacePresent,
		PreyScore:   s.PreyScore,
		Annotated:   frame,
	}, nil
}
