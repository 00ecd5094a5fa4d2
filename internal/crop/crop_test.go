package crop

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(w, h int) types.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	return types.Frame{Seq: 9, Image: img}
}

func TestExtract_OneThumbnailPerBox(t *testing.T) {
	c := &Cropper{}
	boxes := []types.DetectionBox{
		{X: 10, Y: 10, Width: 20, Height: 30},
		{X: 50, Y: 5, Width: 8, Height: 8},
	}

	got, err := c.Extract(context.Background(), frame(100, 100), boxes)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 20, got[0].Image.Bounds().Dx())
	assert.Equal(t, 30, got[0].Image.Bounds().Dy())
	assert.Equal(t, uint64(9), got[0].Cycle)
	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, boxes[1], got[1].Box)

	// Pixel content comes from the cropped region
	r, g, _, _ := got[0].Image.At(0, 0).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(10), g>>8)
}

func TestExtract_FitsToSize(t *testing.T) {
	c := New(16)
	got, err := c.Extract(context.Background(), frame(200, 200), []types.DetectionBox{{X: 0, Y: 0, Width: 64, Height: 32}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 16, got[0].Image.Bounds().Dx())
	assert.Equal(t, 8, got[0].Image.Bounds().Dy())
}

func TestExtract_ClipsAndSkipsOutOfFrame(t *testing.T) {
	c := &Cropper{}
	boxes := []types.DetectionBox{
		{X: 90, Y: 90, Width: 50, Height: 50},   // partially outside
		{X: 500, Y: 500, Width: 10, Height: 10}, // fully outside
	}
	got, err := c.Extract(context.Background(), frame(100, 100), boxes)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].Image.Bounds().Dx())
}

func TestExtract_Padding(t *testing.T) {
	c := &Cropper{Padding: 0.5}
	got, err := c.Extract(context.Background(), frame(100, 100), []types.DetectionBox{{X: 40, Y: 40, Width: 10, Height: 10}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 20, got[0].Image.Bounds().Dx())
}

func TestExtract_EmptyFrame(t *testing.T) {
	_, err := New(32).Extract(context.Background(), types.Frame{}, []types.DetectionBox{{Width: 1, Height: 1}})
	assert.ErrorIs(t, err, ErrEmptyFrame)
}
