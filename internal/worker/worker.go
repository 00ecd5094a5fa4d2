package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/andresmejia3/faceframe/internal/utils" // Using the SafeCommand wrapper
)

// Response status bytes written by the Python side.
const (
	statusOK    byte = 0
	statusError byte = 1
	statusReady byte = 2
)

// maxResponse bounds a single response so a corrupt length header cannot
// trigger a huge allocation.
const maxResponse = 16 * 1024 * 1024

// Config describes how to launch the detection worker.
type Config struct {
	Python             string
	Script             string
	DetectionThreshold float64
}

// WorkerError is a logic error reported by the Python side. The process is
// still healthy after one of these.
type WorkerError struct {
	Msg string
}

func (e *WorkerError) Error() string { return "python worker error: " + e.Msg }

// ErrUnexpectedStatus means the stream is out of sync with the protocol.
var ErrUnexpectedStatus = errors.New("unexpected response status")

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex // One request in flight per process
}

// NewPythonWorker launches the detection script. The model loads in the
// background on the Python side; call AwaitReady before sending frames.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script,
		"--threshold", strconv.FormatFloat(cfg.DetectionThreshold, 'f', -1, 64))

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// AwaitReady blocks until the worker reports its model loaded and returns the model name.
func (w *PythonWorker) AwaitReady() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	body, err := w.readMessage()
	if err != nil {
		return "", err
	}
	switch body[0] {
	case statusReady:
		return string(body[1:]), nil
	case statusError:
		return "", decodeError(body[1:])
	default:
		return "", fmt.Errorf("%w %d during handshake", ErrUnexpectedStatus, body[0])
	}
}

// ProcessFrame sends one RGBA frame and returns the detected face boxes in
// frame pixel coordinates.
//
// Request:  [Length uint32][Width uint32][Height uint32][RGBA pixels]
// Response: [Length uint32][Status:0][NumFaces uint32] then per face [X Y W H Score float32]
//
//	or [Length uint32][Status:1][MsgLen uint32][Msg]
func (w *PythonWorker) ProcessFrame(img *image.RGBA) ([]types.DetectionBox, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := img.Bounds()
	pix := packedPixels(img)
	header := [3]uint32{uint32(8 + len(pix)), uint32(b.Dx()), uint32(b.Dy())}
	if err := binary.Write(w.Stdin, binary.BigEndian, header); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(pix); err != nil {
		return nil, err
	}

	body, err := w.readMessage()
	if err != nil {
		return nil, err
	}
	switch body[0] {
	case statusOK:
		return decodeBoxes(body[1:])
	case statusError:
		return nil, decodeError(body[1:])
	default:
		return nil, fmt.Errorf("%w %d", ErrUnexpectedStatus, body[0])
	}
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// Kill terminates the process without waiting for a clean exit.
func (w *PythonWorker) Kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
}

func (w *PythonWorker) readMessage() ([]byte, error) {
	// Now we read from our clean DataPipe, so no Magic Byte is needed.
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 || respLen > maxResponse {
		return nil, fmt.Errorf("invalid response length %d", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func decodeBoxes(payload []byte) ([]types.DetectionBox, error) {
	r := bytes.NewReader(payload)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("truncated face count: %w", err)
	}
	if int(n)*20 > r.Len() {
		return nil, fmt.Errorf("response declares %d faces but carries %d bytes", n, r.Len())
	}
	boxes := make([]types.DetectionBox, 0, n)
	for i := uint32(0); i < n; i++ {
		var f [5]float32
		if err := binary.Read(r, binary.BigEndian, &f); err != nil {
			return nil, fmt.Errorf("truncated face %d: %w", i, err)
		}
		if !finite(f[:]) {
			continue
		}
		boxes = append(boxes, types.DetectionBox{
			X:      float64(f[0]),
			Y:      float64(f[1]),
			Width:  float64(f[2]),
			Height: float64(f[3]),
			Score:  float64(f[4]),
		})
	}
	return boxes, nil
}

func decodeError(payload []byte) error {
	r := bytes.NewReader(payload)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil || int(n) > r.Len() {
		return &WorkerError{Msg: "malformed error message"}
	}
	msg := make([]byte, n)
	_, _ = io.ReadFull(r, msg)
	return &WorkerError{Msg: string(msg)}
}

// packedPixels returns the pixel bytes without stride padding or sub-image offsets.
func packedPixels(img *image.RGBA) []byte {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	if img.Stride == rowLen && b.Min == (image.Point{}) {
		return img.Pix[:rowLen*b.Dy()]
	}
	out := make([]byte, 0, rowLen*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[off:off+rowLen]...)
	}
	return out
}

func finite(vals []float32) bool {
	for _, v := range vals {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
