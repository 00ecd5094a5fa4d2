// Package crop extracts face thumbnails from a video frame.
package crop

import (
	"context"
	"errors"
	"time"

	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/disintegration/imaging"
)

// ErrEmptyFrame is returned when there is no image to crop from.
var ErrEmptyFrame = errors.New("frame has no image")

// Cropper cuts each detected box out of the frame and fits it into a
// thumbnail-sized square.
type Cropper struct {
	// Size is the longest edge of a thumbnail in pixels. Zero keeps the crop size.
	Size int
	// Padding grows each box by this fraction of its size before cropping.
	Padding float64
}

func New(size int) *Cropper {
	return &Cropper{Size: size}
}

// Extract returns one thumbnail per box, in box order. Boxes that fall
// entirely outside the frame are skipped.
func (c *Cropper) Extract(ctx context.Context, frame types.Frame, boxes []types.DetectionBox) ([]types.FaceThumbnail, error) {
	if frame.Image == nil {
		return nil, ErrEmptyFrame
	}
	bounds := frame.Image.Bounds()
	now := time.Now()

	out := make([]types.FaceThumbnail, 0, len(boxes))
	for i, box := range boxes {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rect := c.pad(box).Rect().Intersect(bounds)
		if rect.Empty() {
			continue
		}

		img := imaging.Crop(frame.Image, rect)
		if c.Size > 0 {
			img = imaging.Fit(img, c.Size, c.Size, imaging.Lanczos)
		}
		out = append(out, types.FaceThumbnail{
			Cycle:      frame.Seq,
			Index:      i,
			Box:        box,
			Image:      img,
			CapturedAt: now,
		})
	}
	return out, nil
}

func (c *Cropper) pad(b types.DetectionBox) types.DetectionBox {
	if c.Padding <= 0 {
		return b
	}
	dx := b.Width * c.Padding
	dy := b.Height * c.Padding
	return types.DetectionBox{X: b.X - dx, Y: b.Y - dy, Width: b.Width + 2*dx, Height: b.Height + 2*dy, Score: b.Score}
}
