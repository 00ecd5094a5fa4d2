package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/sirupsen/logrus"
)

// ErrWorkerNotReady is returned by Detect while the model is still loading.
var ErrWorkerNotReady = errors.New("detection model not loaded")

// restartBackoff is the pause between a worker dying and the next launch.
const restartBackoff = 2 * time.Second

type spawnFunc func(ctx context.Context, id int) (*PythonWorker, error)

// Detector is the face detection capability backed by a Python worker process.
// The model loads asynchronously: IsReady flips to true once the worker
// completes its handshake. A worker that times out or breaks the protocol is
// killed and relaunched in the background.
type Detector struct {
	log   *logrus.Entry
	spawn spawnFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *PythonWorker
	nextID  int
	loading bool
	model   string

	ready atomic.Bool
}

// NewDetector creates a detector. Call Start to begin loading the model.
func NewDetector(cfg Config, log *logrus.Entry) *Detector {
	return newDetector(func(ctx context.Context, id int) (*PythonWorker, error) {
		return NewPythonWorker(ctx, id, cfg)
	}, log)
}

func newDetector(spawn spawnFunc, log *logrus.Entry) *Detector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Detector{
		log:    log.WithField("component", "detector"),
		spawn:  spawn,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker and loads the model in the background.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launchLocked(0)
}

func (d *Detector) launchLocked(delay time.Duration) {
	if d.loading || d.current != nil || d.ctx.Err() != nil {
		return
	}
	d.loading = true
	id := d.nextID
	d.nextID++

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-d.ctx.Done():
				return
			}
		}
		d.load(id)
	}()
}

func (d *Detector) load(id int) {
	log := d.log.WithField("worker", id)
	log.Info("loading detection model")

	w, err := d.spawn(d.ctx, id)
	if err != nil {
		log.WithError(err).Error("worker startup failed")
		d.mu.Lock()
		d.loading = false
		d.launchLocked(restartBackoff)
		d.mu.Unlock()
		return
	}

	model, err := w.AwaitReady()
	if err != nil {
		log.WithError(err).Error("model failed to load")
		w.Kill()
		w.Close()
		d.mu.Lock()
		d.loading = false
		d.launchLocked(restartBackoff)
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = false
	if d.ctx.Err() != nil {
		w.Kill()
		w.Close()
		return
	}
	d.current = w
	d.model = model
	d.ready.Store(true)
	log.WithField("model", model).Info("detection model ready")
}

// IsReady reports whether the model is loaded.
func (d *Detector) IsReady() bool {
	return d.ready.Load()
}

// Model returns the name the worker reported at handshake.
func (d *Detector) Model() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model
}

type detectResult struct {
	boxes []types.DetectionBox
	err   error
}

// Detect runs detection on one frame. It returns when the worker answers or
// ctx is done; on timeout the worker is discarded and relaunched because its
// pipe is left mid-response.
func (d *Detector) Detect(ctx context.Context, frame types.Frame) ([]types.DetectionBox, error) {
	d.mu.Lock()
	w := d.current
	d.mu.Unlock()
	if w == nil || !d.ready.Load() {
		return nil, ErrWorkerNotReady
	}
	if frame.Image == nil {
		return nil, fmt.Errorf("frame %d has no image", frame.Seq)
	}

	done := make(chan detectResult, 1)
	go func() {
		boxes, err := w.ProcessFrame(frame.Image)
		done <- detectResult{boxes: boxes, err: err}
	}()

	select {
	case <-ctx.Done():
		d.discard(w, ctx.Err())
		return nil, ctx.Err()
	case res := <-done:
		var logicErr *WorkerError
		if res.err != nil && !errors.As(res.err, &logicErr) {
			d.discard(w, res.err)
		}
		return res.boxes, res.err
	}
}

// discard kills a broken worker and schedules a replacement.
func (d *Detector) discard(w *PythonWorker, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != w {
		return
	}
	d.log.WithError(cause).WithField("worker", w.ID).Warn("restarting detection worker")
	d.current = nil
	d.ready.Store(false)
	w.Kill()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		w.Close()
	}()
	d.launchLocked(restartBackoff)
}

// Close stops the worker and any pending relaunch.
func (d *Detector) Close() {
	d.cancel()
	d.mu.Lock()
	w := d.current
	d.current = nil
	d.ready.Store(false)
	d.mu.Unlock()
	if w != nil {
		w.Close()
	}
	d.wg.Wait()
}
