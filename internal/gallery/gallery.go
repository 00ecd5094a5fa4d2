// Package gallery collects the cropped face thumbnails produced by every
// detection cycle.
//
// The collection is append-only: no deduplication, no cap and no identity
// matching across cycles. Long videos grow it without bound.
package gallery

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/faceframe/internal/types"
)

// Collector is an ordered, growing list of thumbnails. Safe for concurrent use.
type Collector struct {
	mu    sync.RWMutex
	items []types.FaceThumbnail
}

func New() *Collector {
	return &Collector{}
}

// Append adds thumbnails to the end of the collection, preserving prior entries.
// Each appended thumbnail gets its gallery position in Seq.
func (c *Collector) Append(thumbs []types.FaceThumbnail) {
	if len(thumbs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range thumbs {
		t.Seq = uint64(len(c.items))
		c.items = append(c.items, t)
	}
}

func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// At returns the thumbnail at position i.
func (c *Collector) At(i int) (types.FaceThumbnail, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.items) {
		return types.FaceThumbnail{}, false
	}
	return c.items[i], true
}

// Snapshot returns a copy of the collection in display order.
func (c *Collector) Snapshot() []types.FaceThumbnail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.FaceThumbnail(nil), c.items...)
}

// Export writes every thumbnail as face_<seq>.jpg under dir and returns how many were written.
func (c *Collector) Export(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create gallery directory: %w", err)
	}
	written := 0
	for _, t := range c.Snapshot() {
		if t.Image == nil {
			continue
		}
		name := filepath.Join(dir, fmt.Sprintf("face_%05d.jpg", t.Seq))
		f, err := os.Create(name)
		if err != nil {
			return written, err
		}
		err = jpeg.Encode(f, t.Image, &jpeg.Options{Quality: 90})
		f.Close()
		if err != nil {
			return written, fmt.Errorf("failed to encode %s: %w", name, err)
		}
		written++
	}
	return written, nil
}
