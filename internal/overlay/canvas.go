package overlay

import (
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/andresmejia3/faceframe/internal/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Style is the stroke used for every box on the overlay.
type Style struct {
	Stroke      color.RGBA
	StrokeWidth int
	Label       bool // Draw the face index above each box
}

// DefaultStyle is a 2px red outline with a transparent fill.
var DefaultStyle = Style{
	Stroke:      color.RGBA{R: 255, A: 255},
	StrokeWidth: 2,
}

// Surface is the drawing primitive the renderer paints on.
type Surface interface {
	Clear()
	DrawRect(box types.OverlayBox, style Style)
	Size() (width, height int)
	Shapes() int
}

// Canvas is a transparent RGBA surface sized to the displayed video.
type Canvas struct {
	img    *image.RGBA
	shapes int
}

// NewCanvas allocates a fully transparent canvas.
func NewCanvas(width, height int) *Canvas {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (c *Canvas) Size() (int, int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Shapes reports how many rectangles are currently drawn.
func (c *Canvas) Shapes() int { return c.shapes }

// Image exposes the backing buffer. Callers must not retain it across renders.
func (c *Canvas) Image() *image.RGBA { return c.img }

// Clear resets every pixel to transparent.
func (c *Canvas) Clear() {
	clear(c.img.Pix)
	c.shapes = 0
}

// DrawRect strokes the outline of box. The stroke is centered on the edge,
// like a vector canvas does it, and clipped to the canvas bounds.
func (c *Canvas) DrawRect(box types.OverlayBox, style Style) {
	sw := style.StrokeWidth
	if sw < 1 {
		sw = 1
	}
	x0 := int(math.Round(box.Left))
	y0 := int(math.Round(box.Top))
	x1 := int(math.Round(box.Left + box.Width))
	y1 := int(math.Round(box.Top + box.Height))
	in := sw / 2
	out := sw - in

	c.fill(image.Rect(x0-in, y0-in, x1+out, y0+out), style.Stroke) // Top
	c.fill(image.Rect(x0-in, y1-in, x1+out, y1+out), style.Stroke) // Bottom
	c.fill(image.Rect(x0-in, y0-in, x0+out, y1+out), style.Stroke) // Left
	c.fill(image.Rect(x1-in, y0-in, x1+out, y1+out), style.Stroke) // Right

	c.shapes++
	if style.Label {
		c.label(x0, y0-in-2, strconv.Itoa(c.shapes), style.Stroke)
	}
}

func (c *Canvas) fill(rect image.Rectangle, col color.RGBA) {
	rect = rect.Intersect(c.img.Bounds())
	if rect.Empty() {
		return
	}
	stride := c.img.Stride
	pix := c.img.Pix
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := y*stride + rect.Min.X*4
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			pix[off] = col.R
			pix[off+1] = col.G
			pix[off+2] = col.B
			pix[off+3] = col.A
		}
	}
}

func (c *Canvas) label(x, y int, text string, col color.RGBA) {
	face := basicfont.Face7x13
	if y < face.Ascent {
		y = face.Ascent
	}
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
