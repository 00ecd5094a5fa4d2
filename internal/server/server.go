// Package server is the HTTP host UI: upload a video, play and pause it,
// report the viewport size, and fetch the overlay, current frame and gallery.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/faceframe/internal/detect"
	"github.com/andresmejia3/faceframe/internal/gallery"
	"github.com/andresmejia3/faceframe/internal/geometry"
	"github.com/andresmejia3/faceframe/internal/media"
	"github.com/andresmejia3/faceframe/internal/metrics"
	"github.com/andresmejia3/faceframe/internal/overlay"
	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

//go:embed static
var staticFiles embed.FS

// ModelStatus reports the detection model's load state.
type ModelStatus interface {
	IsReady() bool
	Model() string
}

// Deps are the components the HTTP surface drives.
type Deps struct {
	Player     *media.Player
	Controller *detect.Controller
	Sizer      *overlay.Sizer
	Renderer   *overlay.Renderer
	Gallery    *gallery.Collector
	Model      ModelStatus
	Metrics    *metrics.Metrics
}

type Options struct {
	UploadDir      string
	MaxUploadBytes int64
}

type Server struct {
	Deps
	opts Options
	log  *logrus.Entry
	hub  *hub

	upgrader websocket.Upgrader
}

// New builds the server and subscribes the websocket hub to the renderer.
func New(deps Deps, opts Options, log *logrus.Entry) *Server {
	s := &Server{
		Deps: deps,
		opts: opts,
		log:  log.WithField("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.hub = newHub(s.log)
	s.Renderer.OnRender(func(boxes []types.OverlayBox) {
		w, h := s.Renderer.Size()
		s.hub.broadcast(overlayMessage{Boxes: boxes, Width: w, Height: h})
	})
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	static, _ := fs.Sub(staticFiles, "static")
	r.Handle("/", http.FileServer(http.FS(static)))

	r.Route("/api", func(r chi.Router) {
		r.Post("/video", s.handleUpload)
		r.Post("/play", s.handlePlay)
		r.Post("/pause", s.handlePause)
		r.Post("/viewport", s.handleViewport)
		r.Get("/state", s.handleState)
		r.Get("/overlay.png", s.handleOverlay)
		r.Get("/frame.jpg", s.handleFrame)
		r.Get("/gallery", s.handleGallery)
		r.Get("/gallery/{index}", s.handleThumbnail)
	})
	r.Get("/ws", s.handleWebsocket)
	r.Handle("/metrics", s.Metrics.Handler())
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

// --- Handlers ---

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing video file: %w", err))
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, "video/") {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Errorf("expected a video/* file, got %q", ct))
		return
	}

	path, err := s.saveUpload(file, filepath.Ext(header.Filename))
	if err != nil {
		s.log.WithError(err).Error("failed to store upload")
		writeError(w, http.StatusInternalServerError, errors.New("failed to store upload"))
		return
	}

	// The previous asset is released by Load; playback starts over as Stopped
	s.Controller.Stop()
	asset, err := s.Player.Load(r.Context(), path, true)
	if err != nil {
		os.Remove(path)
		var loadErr *media.LoadError
		if errors.As(err, &loadErr) {
			writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("cannot play %s: %w", header.Filename, loadErr.Err))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) saveUpload(src io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.opts.UploadDir, 0755); err != nil {
		return "", err
	}
	dst, err := os.CreateTemp(s.opts.UploadDir, "upload-*"+ext)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// handlePlay is a no-op when nothing is loaded; the state tells the client.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Play(); err != nil && !errors.Is(err, media.ErrNoAsset) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.Controller.Pause()
	writeJSON(w, http.StatusOK, s.state())
}

type viewportRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid viewport: %w", err))
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("viewport must be positive, got %dx%d", req.Width, req.Height))
		return
	}
	applied := s.Sizer.Resize(req.Width, req.Height)
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

type stateResponse struct {
	Playback   string              `json:"playback"`
	Loop       string              `json:"loop"`
	Session    string              `json:"session,omitempty"`
	Cycles     uint64              `json:"cycles"`
	Failures   uint64              `json:"failures"`
	ModelReady bool                `json:"model_ready"`
	Model      string              `json:"model,omitempty"`
	Asset      *types.VideoAsset   `json:"asset,omitempty"`
	Position   uint64              `json:"position"`
	Ended      bool                `json:"ended"`
	Display    [2]int              `json:"display"`
	Boxes      []types.OverlayBox  `json:"boxes"`
	Gallery    int                 `json:"gallery"`
	Scale      *types.ScaleFactors `json:"scale,omitempty"`
}

func (s *Server) state() stateResponse {
	st := s.Controller.Status()
	resp := stateResponse{
		Playback: st.Playback.String(),
		Loop:     st.Loop.String(),
		Session:  st.Session,
		Cycles:   st.Cycles,
		Failures: st.Failures,
		Position: s.Player.Position(),
		Ended:    s.Player.Ended(),
		Boxes:    s.Renderer.Boxes(),
		Gallery:  s.Gallery.Len(),
	}
	if s.Model != nil {
		resp.ModelReady = s.Model.IsReady()
		resp.Model = s.Model.Model()
	}
	w, h := s.Renderer.Size()
	resp.Display = [2]int{w, h}
	if asset, ok := s.Player.Asset(); ok {
		resp.Asset = &asset
		if scale, err := geometry.NewScaleFactors(w, h, asset.Width, asset.Height); err == nil {
			resp.Scale = &scale
		}
	}
	if resp.Boxes == nil {
		resp.Boxes = []types.OverlayBox{}
	}
	return resp
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.Renderer.EncodePNG(w); err != nil {
		s.log.WithError(err).Warn("failed to encode overlay")
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.Player.CurrentFrame()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no frame available"))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, frame.Image, &jpeg.Options{Quality: 85}); err != nil {
		s.log.WithError(err).Warn("failed to encode frame")
	}
}

type thumbnailResponse struct {
	types.FaceThumbnail
	URL string `json:"url"`
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	items := s.Gallery.Snapshot()
	out := make([]thumbnailResponse, len(items))
	for i, t := range items {
		out[i] = thumbnailResponse{FaceThumbnail: t, URL: fmt.Sprintf("/api/gallery/%d", t.Seq)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("index must be a number"))
		return
	}
	thumb, ok := s.Gallery.At(i)
	if !ok || thumb.Image == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no thumbnail %d", i))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := jpeg.Encode(w, thumb.Image, &jpeg.Options{Quality: 90}); err != nil {
		s.log.WithError(err).Warn("failed to encode thumbnail")
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s.hub.serve(conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
