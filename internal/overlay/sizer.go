package overlay

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Element is the video element the overlay sits on top of.
type Element interface {
	Present() bool
}

// Sizer keeps the overlay surface the same pixel size as the video's rendered
// (display) size, not its intrinsic size.
type Sizer struct {
	element    Element
	renderer   *Renderer
	newSurface func(width, height int) Surface
	log        *logrus.Entry

	mu            sync.Mutex
	width, height int // Last reported viewport
	fitW, fitH    int // Intrinsic size, used until a viewport is reported
}

// NewSizer wires a sizer to the element it tracks and the renderer whose surface it replaces.
func NewSizer(element Element, renderer *Renderer, log *logrus.Entry) *Sizer {
	return &Sizer{
		element:  element,
		renderer: renderer,
		newSurface: func(w, h int) Surface {
			return NewCanvas(w, h)
		},
		log: log.WithField("component", "sizer"),
	}
}

// Resize records the display size and recreates the overlay surface at that size.
// It is a no-op (returns false) when the video element does not exist yet; the
// recorded size is applied on the next trigger.
func (s *Sizer) Resize(displayWidth, displayHeight int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if displayWidth > 0 && displayHeight > 0 {
		s.width, s.height = displayWidth, displayHeight
	}
	return s.applyLocked()
}

// Fit applies the display size for a newly loaded video. The reported
// viewport wins; the intrinsic size is used only when none was reported, and
// is never remembered as a viewport.
func (s *Sizer) Fit(intrinsicWidth, intrinsicHeight int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitW, s.fitH = intrinsicWidth, intrinsicHeight
	return s.applyLocked()
}

// DisplaySize returns the last reported viewport, or zero if none was reported.
func (s *Sizer) DisplaySize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Sizer) applyLocked() bool {
	if s.element == nil || !s.element.Present() {
		s.log.Debug("video element not present, skipping resize")
		return false
	}
	w, h := s.width, s.height
	if w <= 0 || h <= 0 {
		w, h = s.fitW, s.fitH
	}
	if w <= 0 || h <= 0 {
		return false
	}
	s.renderer.SetSurface(s.newSurface(w, h))
	s.log.WithFields(logrus.Fields{"width": w, "height": h}).Debug("overlay resized")
	return true
}
