package detect

import (
	"context"

	"github.com/andresmejia3/faceframe/internal/media"
	"github.com/andresmejia3/faceframe/internal/types"
)

// Video is the media element as seen by the loop.
type Video interface {
	Present() bool
	Paused() bool
	Ended() bool
	ReadyState() media.ReadyState
	CurrentFrame() (types.Frame, bool)
	Asset() (types.VideoAsset, bool)
	Play() error
	Pause()
	Stop()
}

// Detector is the external face detection capability.
type Detector interface {
	IsReady() bool
	Detect(ctx context.Context, frame types.Frame) ([]types.DetectionBox, error)
}

// Readiness is the first unmet precondition for a detection step, or Ready.
type Readiness int

const (
	Ready Readiness = iota
	NoVideo
	Ended
	Paused
	ModelNotLoaded
	InsufficientData
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case NoVideo:
		return "no_video"
	case Ended:
		return "ended"
	case Paused:
		return "paused"
	case ModelNotLoaded:
		return "model_not_loaded"
	case InsufficientData:
		return "insufficient_data"
	default:
		return "unknown"
	}
}

// FrameReadiness checks, in order, that a video is loaded, has not ended, is
// playing, the model is loaded and a current frame is exposed. Ended is tested
// before Paused because an element that reached the end also reports paused.
func FrameReadiness(v Video, d Detector) Readiness {
	switch {
	case v == nil || !v.Present():
		return NoVideo
	case v.Ended():
		return Ended
	case v.Paused():
		return Paused
	case d == nil || !d.IsReady():
		return ModelNotLoaded
	case v.ReadyState() < media.HaveCurrentData:
		return InsufficientData
	default:
		return Ready
	}
}
