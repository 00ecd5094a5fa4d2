package detect

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/faceframe/internal/gallery"
	"github.com/andresmejia3/faceframe/internal/media"
	"github.com/andresmejia3/faceframe/internal/overlay"
	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVideo struct {
	mu      sync.Mutex
	present bool
	paused  bool
	ended   bool
	ready   media.ReadyState
	asset   types.VideoAsset
	frame   types.Frame
	stopped int
	onFrame func() // Runs before CurrentFrame answers
}

func newFakeVideo() *fakeVideo {
	return &fakeVideo{
		present: true,
		paused:  true,
		ready:   media.HaveEnoughData,
		asset:   types.VideoAsset{ID: "clip", Width: 640, Height: 360, FPS: 30},
		frame:   types.Frame{Seq: 1, Image: image.NewRGBA(image.Rect(0, 0, 640, 360))},
	}
}

func (v *fakeVideo) Present() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.present
}

func (v *fakeVideo) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *fakeVideo) Ended() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ended
}

func (v *fakeVideo) ReadyState() media.ReadyState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ready
}

func (v *fakeVideo) CurrentFrame() (types.Frame, bool) {
	v.mu.Lock()
	hook := v.onFrame
	v.mu.Unlock()
	if hook != nil {
		hook()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame, v.frame.Image != nil
}

func (v *fakeVideo) Asset() (types.VideoAsset, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.asset, v.present
}

func (v *fakeVideo) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.present {
		return media.ErrNoAsset
	}
	v.paused = false
	v.ended = false
	return nil
}

func (v *fakeVideo) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = true
}

func (v *fakeVideo) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = true
	v.stopped++
}

func (v *fakeVideo) set(fn func(v *fakeVideo)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v)
}

type fakeDetector struct {
	ready atomic.Bool
	calls atomic.Int64
	fn    func(ctx context.Context, frame types.Frame) ([]types.DetectionBox, error)
}

func (d *fakeDetector) IsReady() bool { return d.ready.Load() }

func (d *fakeDetector) Detect(ctx context.Context, frame types.Frame) ([]types.DetectionBox, error) {
	d.calls.Add(1)
	if d.fn == nil {
		return nil, nil
	}
	return d.fn(ctx, frame)
}

func boxesDetector(boxes ...types.DetectionBox) *fakeDetector {
	d := &fakeDetector{fn: func(context.Context, types.Frame) ([]types.DetectionBox, error) {
		return boxes, nil
	}}
	d.ready.Store(true)
	return d
}

// oneThumbPerBox stands in for the real cropper so gallery counts are exact.
type oneThumbPerBox struct{}

func (oneThumbPerBox) Extract(_ context.Context, frame types.Frame, boxes []types.DetectionBox) ([]types.FaceThumbnail, error) {
	out := make([]types.FaceThumbnail, len(boxes))
	for i, b := range boxes {
		out[i] = types.FaceThumbnail{Index: i, Box: b}
	}
	return out, nil
}

type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingScheduler) NextFrame(ctx context.Context) error {
	return sleepCtx(ctx, 200*time.Microsecond)
}

func (s *recordingScheduler) Delay(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return sleepCtx(ctx, time.Millisecond)
}

func (s *recordingScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type harness struct {
	video    *fakeVideo
	detector *fakeDetector
	renderer *overlay.Renderer
	gallery  *gallery.Collector
	sched    *recordingScheduler
	ctrl     *Controller
}

func newHarness(t *testing.T, d *fakeDetector, opts Options) *harness {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)

	h := &harness{
		video:    newFakeVideo(),
		detector: d,
		renderer: overlay.NewRenderer(overlay.NewCanvas(320, 180), overlay.DefaultStyle),
		gallery:  gallery.New(),
		sched:    &recordingScheduler{},
	}
	opts.Scheduler = h.sched
	h.ctrl = NewController(h.video, d, oneThumbPerBox{}, h.gallery, h.renderer, opts, logrus.NewEntry(l))
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) stopAndDrain(t *testing.T) {
	t.Helper()
	h.ctrl.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx))
	h.ctrl.WaitGallery()
}

func TestPlay_WithoutVideoIsNoop(t *testing.T) {
	h := newHarness(t, boxesDetector(), Options{})
	h.video.set(func(v *fakeVideo) { v.present = false })

	err := h.ctrl.Play()

	assert.ErrorIs(t, err, media.ErrNoAsset)
	assert.Equal(t, types.Stopped, h.ctrl.Playback())
	assert.Equal(t, Idle, h.ctrl.State())
	assert.NoError(t, h.ctrl.Wait(context.Background()))
	assert.Zero(t, h.detector.calls.Load())
}

func TestMapsBoxesToDisplaySize(t *testing.T) {
	h := newHarness(t, boxesDetector(types.DetectionBox{X: 100, Y: 50, Width: 40, Height: 40}), Options{})

	require.NoError(t, h.ctrl.Play())
	require.Eventually(t, func() bool { return h.renderer.Renders() > 0 }, time.Second, time.Millisecond)
	h.stopAndDrain(t)

	assert.Equal(t, []types.OverlayBox{{Left: 50, Top: 25, Width: 20, Height: 20}}, h.renderer.Boxes())
}

func TestPauseBeforeDetectionResolves(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d := &fakeDetector{fn: func(ctx context.Context, _ types.Frame) ([]types.DetectionBox, error) {
		started <- struct{}{}
		<-release
		return []types.DetectionBox{{X: 1, Y: 1, Width: 5, Height: 5}}, nil
	}}
	d.ready.Store(true)
	h := newHarness(t, d, Options{})

	require.NoError(t, h.ctrl.Play())
	<-started
	h.ctrl.Pause()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx))

	assert.Zero(t, h.renderer.Renders())
	assert.Zero(t, h.gallery.Len())
	assert.Equal(t, Stopped, h.ctrl.State())
	assert.Equal(t, types.Paused, h.ctrl.Playback())
	assert.Equal(t, int64(1), d.calls.Load())
}

func TestNoDetectionAfterPause(t *testing.T) {
	h := newHarness(t, boxesDetector(types.DetectionBox{Width: 10, Height: 10}), Options{})
	assert.Zero(t, h.detector.calls.Load())

	require.NoError(t, h.ctrl.Play())
	require.Eventually(t, func() bool { return h.renderer.Renders() >= 3 }, time.Second, time.Millisecond)
	h.stopAndDrain(t)

	calls, renders := h.detector.calls.Load(), h.renderer.Renders()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, h.detector.calls.Load())
	assert.Equal(t, renders, h.renderer.Renders())
}

func TestPauseAfterReadinessCheckSkipsDetection(t *testing.T) {
	h := newHarness(t, boxesDetector(types.DetectionBox{Width: 10, Height: 10}), Options{})
	var paused atomic.Bool
	h.video.set(func(v *fakeVideo) {
		v.onFrame = func() {
			if paused.CompareAndSwap(false, true) {
				h.ctrl.Pause()
			}
		}
	})

	require.NoError(t, h.ctrl.Play())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx))

	assert.True(t, paused.Load())
	assert.Equal(t, types.Paused, h.ctrl.Playback())
	assert.Zero(t, h.detector.calls.Load())
	assert.Zero(t, h.renderer.Renders())
}

func TestModelNotLoaded_WaitsThenSteps(t *testing.T) {
	d := boxesDetector(types.DetectionBox{Width: 10, Height: 10})
	d.ready.Store(false)
	h := newHarness(t, d, Options{})

	require.NoError(t, h.ctrl.Play())
	require.Eventually(t, func() bool { return h.ctrl.State() == WaitingForModel }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(h.sched.recorded()) >= 3 }, time.Second, time.Millisecond)
	assert.Zero(t, d.calls.Load())
	for _, delay := range h.sched.recorded() {
		assert.Equal(t, 100*time.Millisecond, delay)
	}

	// The play request made before the model loaded is still honoured
	d.ready.Store(true)
	require.Eventually(t, func() bool { return h.renderer.Renders() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, types.Playing, h.ctrl.Playback())
	h.stopAndDrain(t)
}

func TestInsufficientDataRetries(t *testing.T) {
	h := newHarness(t, boxesDetector(), Options{RetryDelay: 5 * time.Millisecond})
	h.video.set(func(v *fakeVideo) { v.ready = media.HaveMetadata })

	require.NoError(t, h.ctrl.Play())
	require.Eventually(t, func() bool { return len(h.sched.recorded()) >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Zero(t, h.detector.calls.Load())
	assert.Equal(t, 5*time.Millisecond, h.sched.recorded()[0])

	h.video.set(func(v *fakeVideo) { v.ready = media.HaveCurrentData })
	require.Eventually(t, func() bool { return h.detector.calls.Load() > 0 }, time.Second, time.Millisecond)
	h.stopAndDrain(t)
}

func TestGalleryLengthEqualsDetections(t *testing.T) {
	for _, serialize := range []bool{false, true} {
		h := newHarness(t, boxesDetector(
			types.DetectionBox{X: 10, Y: 10, Width: 20, Height: 20},
			types.DetectionBox{X: 100, Y: 40, Width: 30, Height: 30},
		), Options{SerializeGallery: serialize})

		require.NoError(t, h.ctrl.Play())
		require.Eventually(t, func() bool { return h.renderer.Renders() >= 5 }, time.Second, time.Millisecond)
		h.stopAndDrain(t)

		assert.Equal(t, 2*int(h.renderer.Renders()), h.gallery.Len(), "serialize=%v", serialize)
		assert.Equal(t, h.renderer.Renders(), h.ctrl.Status().Cycles)
	}
}

func TestDetectionFailureSkipsCycle(t *testing.T) {
	var n atomic.Int64
	d := &fakeDetector{fn: func(context.Context, types.Frame) ([]types.DetectionBox, error) {
		if n.Add(1) <= 2 {
			return nil, errors.New("model crashed")
		}
		return []types.DetectionBox{{Width: 10, Height: 10}}, nil
	}}
	d.ready.Store(true)
	h := newHarness(t, d, Options{})

	require.NoError(t, h.ctrl.Play())
	require.Eventually(t, func() bool { return h.renderer.Renders() > 0 }, time.Second, time.Millisecond)

	status := h.ctrl.Status()
	assert.Equal(t, uint64(2), status.Failures)
	assert.Equal(t, types.Playing, status.Playback)
	h.stopAndDrain(t)
}

func TestDetectTimeoutIsAFailure(t *testing.T) {
	var n atomic.Int64
	d := &fakeDetector{fn: func(ctx context.Context, _ types.Frame) ([]types.DetectionBox, error) {
		if n.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	}}
	d.ready.Store(true)
	h := newHarness(t, d, Options{DetectTimeout: 10 * time.Millisecond})

	require.NoError(t, h.ctrl.Play())
	require.Eventually(t, func() bool { return h.renderer.Renders() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), h.ctrl.Status().Failures)
	h.stopAndDrain(t)
}

func TestEndedStreamStopsPlayback(t *testing.T) {
	h := newHarness(t, boxesDetector(), Options{})

	require.NoError(t, h.ctrl.Play())
	require.Eventually(t, func() bool { return h.detector.calls.Load() > 0 }, time.Second, time.Millisecond)
	h.video.set(func(v *fakeVideo) { v.ended = true })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx))

	assert.Equal(t, types.Stopped, h.ctrl.Playback())
	assert.Equal(t, Stopped, h.ctrl.State())
	h.video.set(func(v *fakeVideo) { assert.Equal(t, 1, v.stopped) })
}

func TestPlayAgainStartsNewSession(t *testing.T) {
	h := newHarness(t, boxesDetector(), Options{})

	require.NoError(t, h.ctrl.Play())
	first := h.ctrl.Status().Session
	require.NoError(t, h.ctrl.Play()) // Already playing: no-op
	assert.Equal(t, first, h.ctrl.Status().Session)
	h.stopAndDrain(t)

	require.NoError(t, h.ctrl.Play())
	second := h.ctrl.Status().Session
	assert.NotEqual(t, first, second)
	require.Eventually(t, func() bool { return h.ctrl.State() == Stepping || h.renderer.Renders() > 0 }, time.Second, time.Millisecond)
	h.stopAndDrain(t)
}

func TestPauseWhenNotPlayingIsNoop(t *testing.T) {
	h := newHarness(t, boxesDetector(), Options{})
	h.ctrl.Pause()
	assert.Equal(t, types.Stopped, h.ctrl.Playback())
	assert.True(t, h.video.Paused())
}

func TestCloseStopsLoop(t *testing.T) {
	h := newHarness(t, boxesDetector(), Options{})
	require.NoError(t, h.ctrl.Play())

	h.ctrl.Close()

	assert.Equal(t, types.Stopped, h.ctrl.Playback())
	assert.Equal(t, Stopped, h.ctrl.State())
	assert.Error(t, h.ctrl.Play())
}

func TestStopFromAnyState(t *testing.T) {
	h := newHarness(t, boxesDetector(), Options{})
	require.NoError(t, h.ctrl.Play())

	h.ctrl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx))
	assert.Equal(t, types.Stopped, h.ctrl.Playback())
	assert.Equal(t, Stopped, h.ctrl.State())
}
