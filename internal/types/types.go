package types

import (
	"image"
	"time"
)

// PlaybackState is the logical play/pause state of the loaded video.
type PlaybackState int32

const (
	Stopped PlaybackState = iota
	Playing
	Paused
)

func (s PlaybackState) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// VideoAsset describes the currently loaded video. Width and Height are the
// intrinsic (native) dimensions and are only valid after the metadata probe.
type VideoAsset struct {
	ID          string  `json:"id"`
	Path        string  `json:"path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
}

// Frame is a single decoded video frame. Image MUST NOT be modified after the
// frame has been published by the media element.
type Frame struct {
	Seq       uint64
	Image     *image.RGBA
	Timestamp time.Time
}

// DetectionBox is a face rectangle in native video-pixel coordinates.
type DetectionBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Score  float64 `json:"score,omitempty"`
}

// Rect returns the integer pixel rectangle covered by the box.
func (b DetectionBox) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
}

// ScaleFactors is the ratio of displayed size to intrinsic size, per axis.
type ScaleFactors struct {
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
}

// OverlayBox is a DetectionBox mapped into overlay (display) pixels.
type OverlayBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FaceThumbnail is a cropped face from one detection cycle.
type FaceThumbnail struct {
	Seq        uint64       `json:"seq"`   // Position in the gallery
	Cycle      uint64       `json:"cycle"` // Detection cycle that produced it
	Index      int          `json:"index"` // Face index within that cycle
	Box        DetectionBox `json:"box"`
	Image      image.Image  `json:"-"`
	CapturedAt time.Time    `json:"captured_at"`
}
