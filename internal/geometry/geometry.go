// Package geometry maps detection boxes from native video pixels into the
// overlay surface's display pixels.
package geometry

import (
	"errors"

	"github.com/andresmejia3/faceframe/internal/types"
)

// ErrUnknownIntrinsicSize is returned when the video's native dimensions are
// not known yet (metadata not loaded) or are zero.
var ErrUnknownIntrinsicSize = errors.New("intrinsic video size unknown")

// NewScaleFactors computes the per-axis ratio of rendered size to intrinsic size.
// The two axes are independent because the display may stretch or letterbox the video.
func NewScaleFactors(displayWidth, displayHeight, intrinsicWidth, intrinsicHeight int) (types.ScaleFactors, error) {
	if intrinsicWidth <= 0 || intrinsicHeight <= 0 {
		return types.ScaleFactors{}, ErrUnknownIntrinsicSize
	}
	return types.ScaleFactors{
		ScaleX: nonNegative(float64(displayWidth)) / float64(intrinsicWidth),
		ScaleY: nonNegative(float64(displayHeight)) / float64(intrinsicHeight),
	}, nil
}

// MapBox converts a box into overlay space. Negative dimensions or scales are
// clamped to zero.
func MapBox(box types.DetectionBox, scale types.ScaleFactors) types.OverlayBox {
	sx := nonNegative(scale.ScaleX)
	sy := nonNegative(scale.ScaleY)
	return types.OverlayBox{
		Left:   box.X * sx,
		Top:    box.Y * sy,
		Width:  nonNegative(box.Width) * sx,
		Height: nonNegative(box.Height) * sy,
	}
}

// MapBoxes maps a whole detection set. The result is never nil.
func MapBoxes(boxes []types.DetectionBox, scale types.ScaleFactors) []types.OverlayBox {
	out := make([]types.OverlayBox, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, MapBox(b, scale))
	}
	return out
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
