// Package detect runs the detection loop: while the video plays it detects
// faces on the current frame, redraws the overlay and feeds the gallery.
package detect

import (
	"context"
	"sync"
	"time"

	"github.com/andresmejia3/faceframe/internal/geometry"
	"github.com/andresmejia3/faceframe/internal/metrics"
	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Cropper extracts face thumbnails from a frame.
type Cropper interface {
	Extract(ctx context.Context, frame types.Frame, boxes []types.DetectionBox) ([]types.FaceThumbnail, error)
}

// Gallery receives the thumbnails of every cycle.
type Gallery interface {
	Append(thumbs []types.FaceThumbnail)
	Len() int
}

// Renderer draws one cycle's boxes on the overlay surface.
type Renderer interface {
	Render(boxes []types.OverlayBox)
	Size() (int, int)
}

// LoopState is the state of the detection loop.
type LoopState int32

const (
	Idle LoopState = iota
	WaitingForModel
	Stepping
	Stopped
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForModel:
		return "waiting_for_model"
	case Stepping:
		return "stepping"
	default:
		return "stopped"
	}
}

const (
	DefaultRetryDelay    = 100 * time.Millisecond
	DefaultDetectTimeout = 10 * time.Second
)

// Options tunes the loop. Zero values select the defaults.
type Options struct {
	RetryDelay    time.Duration
	DetectTimeout time.Duration
	// SerializeGallery waits for each cycle's crop+append before rescheduling.
	SerializeGallery bool
	Scheduler        Scheduler
	Metrics          *metrics.Metrics
}

// Status is a point-in-time view for the state API.
type Status struct {
	Playback types.PlaybackState
	Loop     LoopState
	Session  string
	Cycles   uint64
	Failures uint64
}

// Controller owns PlaybackState and the loop goroutine of the current play session.
//
// PlaybackState is changed only by Play, Pause and the loop ending itself when
// the stream ends. The loop re-reads it at every iteration boundary and after
// every detection, so a pause drops any in-flight result without rendering it.
type Controller struct {
	video    Video
	detector Detector
	cropper  Cropper
	gallery  Gallery
	renderer Renderer
	sched    Scheduler
	metrics  *metrics.Metrics
	log      *logrus.Entry

	retryDelay    time.Duration
	detectTimeout time.Duration
	serialize     bool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	playback types.PlaybackState
	loop     LoopState
	session  string
	done     chan struct{} // Closed when the current session's loop exits
	cycles   uint64
	failures uint64

	loops   sync.WaitGroup
	pending sync.WaitGroup // In-flight gallery appends
}

// NewController wires the loop to its collaborators. Call Close to stop it.
func NewController(video Video, detector Detector, cropper Cropper, gallery Gallery, renderer Renderer, opts Options, log *logrus.Entry) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		video:         video,
		detector:      detector,
		cropper:       cropper,
		gallery:       gallery,
		renderer:      renderer,
		sched:         opts.Scheduler,
		metrics:       opts.Metrics,
		log:           log.WithField("component", "detect"),
		retryDelay:    opts.RetryDelay,
		detectTimeout: opts.DetectTimeout,
		serialize:     opts.SerializeGallery,
		ctx:           ctx,
		cancel:        cancel,
	}
	if c.sched == nil {
		c.sched = NewTickerScheduler(60)
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.detectTimeout <= 0 {
		c.detectTimeout = DefaultDetectTimeout
	}
	return c
}

// Play starts playback and a new loop session. It returns the media error,
// and changes nothing, when no video is loaded. Playing while already playing
// is a no-op.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	if c.playback == types.Playing && c.done != nil {
		return nil
	}
	if err := c.video.Play(); err != nil {
		return err
	}

	c.playback = types.Playing
	c.session = uuid.NewString()
	c.done = make(chan struct{})
	c.loops.Add(1)
	go c.run(c.session, c.done)
	return nil
}

// Pause stops playback. It is a no-op unless playing. The loop finishes its
// in-flight step, discards the result and stops.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playback != types.Playing {
		return
	}
	c.playback = types.Paused
	c.video.Pause()
}

// Stop ends playback from any state. Used before the loaded video is replaced.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playback = types.Stopped
	c.video.Stop()
}

// Playback returns the current PlaybackState.
func (c *Controller) Playback() types.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playback
}

// State returns the loop state.
func (c *Controller) State() LoopState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Playback: c.playback,
		Loop:     c.loop,
		Session:  c.session,
		Cycles:   c.cycles,
		Failures: c.failures,
	}
}

// Wait blocks until the current session's loop has exited.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitGallery blocks until all in-flight gallery appends are done.
func (c *Controller) WaitGallery() {
	c.pending.Wait()
}

// Close cancels the loop and waits for it and any gallery work to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	c.cancel()
	if c.playback == types.Playing {
		c.playback = types.Stopped
	}
	c.mu.Unlock()

	c.loops.Wait()
	c.pending.Wait()
}

// activeLocked reports whether session may still render and reschedule.
func (c *Controller) activeLocked(session string) bool {
	return c.ctx.Err() == nil && c.playback == types.Playing && c.session == session
}

func (c *Controller) setState(session string, s LoopState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == session {
		c.loop = s
	}
}

func (c *Controller) run(session string, done chan struct{}) {
	defer c.loops.Done()
	defer close(done)

	log := c.log.WithField("session", session)
	log.Debug("detection loop started")
	defer c.setState(session, Stopped)

	for {
		c.mu.Lock()
		active := c.activeLocked(session)
		c.mu.Unlock()
		if !active {
			log.Debug("playback no longer active, loop stopped")
			return
		}

		r := FrameReadiness(c.video, c.detector)
		if r == Ended {
			c.finish(session)
			log.Info("video ended, loop stopped")
			return
		}
		if r != Ready {
			if r == ModelNotLoaded {
				c.setState(session, WaitingForModel)
			} else {
				c.setState(session, Idle)
			}
			c.metrics.ReadinessRetry(r.String())
			if err := c.sched.Delay(c.ctx, c.retryDelay); err != nil {
				return
			}
			continue
		}

		c.setState(session, Stepping)
		c.step(session, log)

		if err := c.sched.NextFrame(c.ctx); err != nil {
			return
		}
	}
}

// finish is the loop's own termination when the stream ends.
func (c *Controller) finish(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked(session) {
		return
	}
	c.playback = types.Stopped
	c.video.Stop()
}

// step runs one detection cycle. Failures are logged and the cycle is skipped.
func (c *Controller) step(session string, log *logrus.Entry) {
	frame, ok := c.video.CurrentFrame()
	if !ok {
		return
	}
	asset, ok := c.video.Asset()
	if !ok {
		return
	}

	// A pause may land between the readiness check and here
	c.mu.Lock()
	active := c.activeLocked(session)
	c.mu.Unlock()
	if !active {
		log.WithField("frame", frame.Seq).Debug("playback changed before detection, cycle skipped")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.detectTimeout)
	start := time.Now()
	boxes, err := c.detector.Detect(ctx, frame)
	cancel()
	c.metrics.ObserveDetect(time.Since(start))

	if err != nil {
		c.mu.Lock()
		c.failures++
		c.mu.Unlock()
		c.metrics.DetectFailed()
		log.WithError(err).WithField("frame", frame.Seq).Warn("detection failed, skipping cycle")
		return
	}

	// Render under the same lock Pause takes: a pause either lands before the
	// check and the result is dropped, or after the render completes.
	c.mu.Lock()
	if !c.activeLocked(session) {
		c.mu.Unlock()
		c.metrics.ResultDiscarded()
		log.WithField("frame", frame.Seq).Debug("playback changed during detection, result discarded")
		return
	}
	w, h := c.renderer.Size()
	scale, err := geometry.NewScaleFactors(w, h, asset.Width, asset.Height)
	if err != nil {
		c.mu.Unlock()
		log.WithError(err).Warn("cannot map boxes, skipping cycle")
		return
	}
	c.renderer.Render(geometry.MapBoxes(boxes, scale))
	c.cycles++
	cycle := c.cycles
	c.mu.Unlock()

	c.metrics.CycleRendered(len(boxes))
	log.WithFields(logrus.Fields{"frame": frame.Seq, "faces": len(boxes)}).Trace("cycle rendered")

	if len(boxes) == 0 {
		return
	}
	c.pending.Add(1)
	if c.serialize {
		c.collect(frame, boxes, cycle, log)
		return
	}
	go c.collect(frame, boxes, cycle, log)
}

// collect crops the detected faces and appends them to the gallery. Under
// load, appends from consecutive cycles may land out of order.
func (c *Controller) collect(frame types.Frame, boxes []types.DetectionBox, cycle uint64, log *logrus.Entry) {
	defer c.pending.Done()
	thumbs, err := c.cropper.Extract(c.ctx, frame, boxes)
	if err != nil {
		log.WithError(err).WithField("frame", frame.Seq).Warn("face crop failed")
		return
	}
	for i := range thumbs {
		thumbs[i].Cycle = cycle
	}
	c.gallery.Append(thumbs)
	c.metrics.GallerySize(c.gallery.Len())
}
