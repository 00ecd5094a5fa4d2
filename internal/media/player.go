// Package media is the host media element: it loads a local video file,
// decodes it at its native frame rate, and exposes the current frame and
// playback state to the detection loop.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/andresmejia3/faceframe/internal/utils"
	"github.com/sirupsen/logrus"
)

// ReadyState mirrors the HTML media element readiness levels.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// ErrNoAsset is returned by Play when nothing has been loaded.
var ErrNoAsset = errors.New("no video loaded")

// LoadError reports a file that could not be turned into a playable asset.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot play %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Prober reads video metadata.
type Prober func(ctx context.Context, path string) (utils.VideoInfo, error)

// Options configures a Player. Zero values select ffprobe/ffmpeg and real-time pacing.
type Options struct {
	Probe Prober
	Open  SourceOpener
	// NoPacing publishes frames as fast as they decode. Used by tests.
	NoPacing bool
}

// Player owns the loaded VideoAsset and its playback state.
//
// Goroutine topology: one decoder goroutine per loaded asset (restarted when
// playing after the end). All methods are safe for concurrent use.
type Player struct {
	log      *logrus.Entry
	probe    Prober
	open     SourceOpener
	noPacing bool

	loadMu   sync.Mutex // Serializes Load so only one decoder survives
	mu       sync.Mutex
	cond     *sync.Cond // Broadcast on every state change
	asset    *types.VideoAsset
	owned    bool // Delete the file on release (uploads)
	state    types.PlaybackState
	ended    bool
	decoding bool
	current  *types.Frame
	seq      uint64
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	listeners []func(types.VideoAsset)
}

// NewPlayer creates an empty player.
func NewPlayer(log *logrus.Entry, opts Options) *Player {
	p := &Player{
		log:      log.WithField("component", "media"),
		probe:    opts.Probe,
		open:     opts.Open,
		noPacing: opts.NoPacing,
	}
	if p.probe == nil {
		p.probe = utils.ProbeVideo
	}
	if p.open == nil {
		p.open = OpenFFmpeg
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// OnMetadata registers fn to run each time a new asset's metadata is known.
func (p *Player) OnMetadata(fn func(types.VideoAsset)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Load replaces the current asset with the video at path. The previous asset
// is released first. When owned is true the file is deleted on release.
func (p *Player) Load(ctx context.Context, path string, owned bool) (types.VideoAsset, error) {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	info, err := p.probe(ctx, path)
	if err != nil {
		return types.VideoAsset{}, &LoadError{Path: path, Err: err}
	}
	id, err := utils.GenerateAssetID(path)
	if err != nil {
		return types.VideoAsset{}, &LoadError{Path: path, Err: err}
	}
	asset := types.VideoAsset{
		ID:          id,
		Path:        path,
		Width:       info.Width,
		Height:      info.Height,
		FPS:         info.FPS,
		TotalFrames: info.TotalFrames,
	}

	p.Release()

	p.mu.Lock()
	p.asset = &asset
	p.owned = owned
	p.state = types.Stopped
	p.ended = false
	p.current = nil
	p.seq = 0
	if err := p.startDecoderLocked(); err != nil {
		p.asset = nil
		p.mu.Unlock()
		return types.VideoAsset{}, &LoadError{Path: path, Err: err}
	}
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"asset":  asset.ID[:12],
		"width":  asset.Width,
		"height": asset.Height,
		"fps":    fmt.Sprintf("%.2f", asset.FPS),
	}).Info("video loaded")

	for _, fn := range listeners {
		fn(asset)
	}
	return asset, nil
}

// Play starts or resumes playback. Playing after the end restarts from the
// first frame. Returns ErrNoAsset, and changes nothing, if no video is loaded.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asset == nil {
		return ErrNoAsset
	}
	if p.state == types.Playing {
		return nil
	}
	if p.ended || !p.decoding {
		p.stopDecoderLocked()
		p.ended = false
		p.current = nil
		if err := p.startDecoderLocked(); err != nil {
			return err
		}
	}
	p.state = types.Playing
	p.cond.Broadcast()
	return nil
}

// Pause halts playback. It is a no-op unless the video is playing.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != types.Playing {
		return
	}
	p.state = types.Paused
	p.cond.Broadcast()
}

// Stop marks playback stopped without touching the decoder position.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = types.Stopped
	p.cond.Broadcast()
}

// Release stops decoding and forgets the current asset.
func (p *Player) Release() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	asset, owned := p.asset, p.owned
	p.asset = nil
	p.owned = false
	p.current = nil
	p.state = types.Stopped
	p.cond.Broadcast()
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	}
	p.wg.Wait()

	if asset != nil && owned {
		if err := os.Remove(asset.Path); err != nil && !os.IsNotExist(err) {
			p.log.WithError(err).Warn("failed to remove released upload")
		}
	}
}

// State returns the logical playback state.
func (p *Player) State() types.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Present reports whether a video is loaded.
func (p *Player) Present() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asset != nil
}

// Paused reports whether the element is not currently playing.
func (p *Player) Paused() bool {
	return p.State() != types.Playing
}

// Ended reports whether the decoder reached the end of the stream.
func (p *Player) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

func (p *Player) ReadyState() ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.asset == nil:
		return HaveNothing
	case p.current == nil:
		return HaveMetadata
	case p.ended:
		return HaveCurrentData
	default:
		return HaveEnoughData
	}
}

// Asset returns the loaded asset.
func (p *Player) Asset() (types.VideoAsset, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asset == nil {
		return types.VideoAsset{}, false
	}
	return *p.asset, true
}

// CurrentFrame returns the most recently presented frame.
func (p *Player) CurrentFrame() (types.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return types.Frame{}, false
	}
	return *p.current, true
}

// Position returns the sequence number of the current frame.
func (p *Player) Position() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *Player) startDecoderLocked() error {
	ctx, cancel := context.WithCancel(context.Background())
	src, err := p.open(ctx, *p.asset)
	if err != nil {
		cancel()
		return err
	}
	interval := time.Duration(0)
	if !p.noPacing && p.asset.FPS > 0 {
		interval = time.Duration(float64(time.Second) / p.asset.FPS)
	}
	p.cancel = cancel
	p.decoding = true
	p.seq = 0
	p.wg.Add(1)
	go p.decode(ctx, src, interval)
	return nil
}

// stopDecoderLocked cancels the running decoder. The goroutine exits on its
// own once it observes the cancellation; it never blocks on p.mu while holding
// other resources.
func (p *Player) stopDecoderLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.decoding = false
	p.cond.Broadcast()
}

// decode publishes frames into the single-slot current frame. The first frame
// is shown immediately (preload); the rest only advance while playing.
func (p *Player) decode(ctx context.Context, src FrameSource, interval time.Duration) {
	defer p.wg.Done()
	defer func() {
		if err := src.Close(); err != nil {
			p.log.WithError(err).Debug("decoder closed")
		}
	}()

	var next time.Time
	first := true
	for {
		img, err := src.Next()
		if err != nil {
			p.finish(ctx, err)
			return
		}

		if !first {
			if !p.waitPlaying(ctx) {
				return
			}
			if interval > 0 {
				now := time.Now()
				if next.Before(now) {
					next = now
				}
				if !sleepUntil(ctx, next) {
					return
				}
				next = next.Add(interval)
				// Paused while sleeping: hold the frame until resumed
				if !p.waitPlaying(ctx) {
					return
				}
			}
		}
		first = false

		if !p.publish(ctx, img) {
			return
		}
	}
}

// waitPlaying blocks until the state is Playing. Returns false on cancellation.
func (p *Player) waitPlaying(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state != types.Playing {
		if ctx.Err() != nil {
			return false
		}
		p.cond.Wait()
	}
	return ctx.Err() == nil
}

func (p *Player) publish(ctx context.Context, img *image.RGBA) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	p.seq++
	p.current = &types.Frame{Seq: p.seq, Image: img, Timestamp: time.Now()}
	return true
}

func (p *Player) finish(ctx context.Context, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if !errors.Is(err, io.EOF) {
		p.log.WithError(err).Error("decoder failed")
	}
	p.ended = true
	p.decoding = false
	p.cond.Broadcast()
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
