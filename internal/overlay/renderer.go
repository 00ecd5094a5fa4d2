// Package overlay owns the transparent surface drawn over the video: the
// renderer that repaints detection boxes each cycle and the sizer that keeps
// the surface matched to the displayed video size.
package overlay

import (
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/andresmejia3/faceframe/internal/types"
)

// Renderer repaints the overlay with one detection cycle's boxes.
//
// Render holds the lock for the full clear-then-draw pass, so readers
// (Snapshot, EncodePNG, Boxes) never observe a partially drawn cycle.
type Renderer struct {
	mu        sync.RWMutex
	surface   Surface
	style     Style
	boxes     []types.OverlayBox
	renders   uint64
	observers []func([]types.OverlayBox)
}

// NewRenderer creates a renderer. surface may be nil until the first resize.
func NewRenderer(surface Surface, style Style) *Renderer {
	return &Renderer{surface: surface, style: style}
}

// Render clears the surface and draws every box. Calling it twice with the
// same input leaves the surface in the same state.
func (r *Renderer) Render(boxes []types.OverlayBox) {
	r.mu.Lock()
	snapshot := append([]types.OverlayBox(nil), boxes...)
	if r.surface != nil {
		r.surface.Clear()
		for _, b := range snapshot {
			r.surface.DrawRect(b, r.style)
		}
	}
	r.boxes = snapshot
	r.renders++
	observers := r.observers
	r.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

// OnRender registers fn to receive every rendered box set. fn runs on the
// rendering goroutine and must not block.
func (r *Renderer) OnRender(fn func([]types.OverlayBox)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// SetSurface swaps the drawing surface. Anything drawn on the old one is discarded.
func (r *Renderer) SetSurface(s Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface = s
	r.boxes = nil
}

// Size returns the current surface size, or zero if none is attached.
func (r *Renderer) Size() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.surface == nil {
		return 0, 0
	}
	return r.surface.Size()
}

// Shapes returns the number of rectangles currently on the surface.
func (r *Renderer) Shapes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.surface == nil {
		return 0
	}
	return r.surface.Shapes()
}

// Boxes returns a copy of the last rendered box set.
func (r *Renderer) Boxes() []types.OverlayBox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.OverlayBox(nil), r.boxes...)
}

// Renders counts completed Render calls.
func (r *Renderer) Renders() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.renders
}

// Snapshot copies the overlay pixels. It returns nil if the surface is not a Canvas.
func (r *Renderer) Snapshot() *image.RGBA {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.surface.(*Canvas)
	if !ok {
		return nil
	}
	src := c.Image()
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// EncodePNG writes the current overlay as a transparent PNG.
func (r *Renderer) EncodePNG(w io.Writer) error {
	img := r.Snapshot()
	if img == nil {
		img = image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	return png.Encode(w, img)
}
