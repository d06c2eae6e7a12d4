package camera

import (
	"context"
	"image"
	"image/jpeg"
	"io/fs"
)

// DebugSource substitutes a fixed on-disk image for the camera stream,
// used when BALROG_USE_NULL_CAMERA is set. Same cadence and state
// transitions as the real source.
type DebugSource struct {
	fsys fs.FS
	path string
	img  image.Image
}

func NewDebugSource(fsys fs.FS, path string) *DebugSource {
	return &DebugSource{fsys: fsys, path: path}
}

func (d *DebugSource) Open(ctx context.Context) error {
	f, err := d.fsys.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return err
	}
	d.img = img
	return nil
}

func (d *DebugSource) Next(ctx context.Context) (image.Image, error) {
	return d.img, nil
}

func (d *DebugSource) Close() error {
	return nil
}
