// Package pipeline assembles the media element, overlay, gallery and
// detection loop into one owned unit with a single teardown.
package pipeline

import (
	"github.com/andresmejia3/faceframe/internal/crop"
	"github.com/andresmejia3/faceframe/internal/detect"
	"github.com/andresmejia3/faceframe/internal/gallery"
	"github.com/andresmejia3/faceframe/internal/media"
	"github.com/andresmejia3/faceframe/internal/overlay"
	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/sirupsen/logrus"
)

type Options struct {
	// DisplayWidth and DisplayHeight are the rendered video size. When zero,
	// the overlay follows the intrinsic size until a viewport is reported.
	DisplayWidth  int
	DisplayHeight int
	ThumbnailSize int
	Style         overlay.Style
	Media         media.Options
	Loop          detect.Options
}

type Pipeline struct {
	Player     *media.Player
	Renderer   *overlay.Renderer
	Sizer      *overlay.Sizer
	Gallery    *gallery.Collector
	Cropper    *crop.Cropper
	Controller *detect.Controller
}

func New(detector detect.Detector, opts Options, log *logrus.Entry) *Pipeline {
	style := opts.Style
	if style.StrokeWidth == 0 {
		style = overlay.DefaultStyle
	}

	p := &Pipeline{
		Player:   media.NewPlayer(log, opts.Media),
		Renderer: overlay.NewRenderer(nil, style),
		Gallery:  gallery.New(),
		Cropper:  crop.New(opts.ThumbnailSize),
	}
	p.Sizer = overlay.NewSizer(p.Player, p.Renderer, log)
	// Nothing is loaded yet, so this only records the size
	p.Sizer.Resize(opts.DisplayWidth, opts.DisplayHeight)

	p.Player.OnMetadata(func(asset types.VideoAsset) {
		p.Sizer.Fit(asset.Width, asset.Height)
	})

	p.Controller = detect.NewController(p.Player, detector, p.Cropper, p.Gallery, p.Renderer, opts.Loop, log)
	return p
}

// Close stops the loop, waits for pending gallery work and releases the video.
func (p *Pipeline) Close() {
	p.Controller.Close()
	p.Player.Release()
}
