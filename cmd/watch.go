package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/faceframe/internal/detect"
	"github.com/andresmejia3/faceframe/internal/pipeline"
	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/andresmejia3/faceframe/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var watchOpts Options

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Play a video headlessly with live face detection",
	Long:  "Plays the video in real time, detecting faces on the current frame while it plays. The overlay is sized to --display, and thumbnails of every detected face are collected.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mergeConfig(cmd, &watchOpts)
		return runWatch(cmd.Context(), entry(cmd), watchOpts)
	},
}

func init() {
	addLoopFlags(watchCmd, &watchOpts)
	watchCmd.Flags().StringVarP(&watchOpts.InputPath, "input", "i", "", "Path to video")
	watchCmd.Flags().StringVarP(&watchOpts.Display, "display", "d", "", "Rendered video size as WIDTHxHEIGHT (default: intrinsic size)")
	watchCmd.Flags().BoolVarP(&watchOpts.Export, "export", "x", false, "Write gallery thumbnails and the last overlay to the output directory")
	watchCmd.Flags().StringVarP(&watchOpts.OutputDir, "output", "o", "", "Output directory for --export (default: $FACEFRAME_OUTPUT_DIR)")

	watchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(watchCmd)
}

// addLoopFlags registers the detection loop flags shared by watch and serve.
func addLoopFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().Float64VarP(&opts.DetectionThreshold, "threshold", "t", 0.5, "Minimum face detection score (0.0 - 1.0)")
	cmd.Flags().DurationVar(&opts.DetectTimeout, "detect-timeout", detect.DefaultDetectTimeout, "Give up on a single detection after this long")
	cmd.Flags().DurationVar(&opts.RetryDelay, "retry-delay", detect.DefaultRetryDelay, "Delay between readiness checks while the video or model is not ready")
	cmd.Flags().IntVar(&opts.RefreshRate, "refresh-rate", 60, "Display refresh rate the loop reschedules on (Hz)")
	cmd.Flags().IntVar(&opts.ThumbnailSize, "thumb-size", 96, "Gallery thumbnail size in pixels")
	cmd.Flags().BoolVar(&opts.SerializeGallery, "serialize-gallery", false, "Wait for each cycle's thumbnails before the next detection")
}

// mergeConfig fills every flag the user did not set from the loaded config.
func mergeConfig(cmd *cobra.Command, opts *Options) {
	flags := cmd.Flags()
	if !flags.Changed("threshold") {
		opts.DetectionThreshold = cfg.DetectionThreshold
	}
	if !flags.Changed("detect-timeout") {
		opts.DetectTimeout = cfg.DetectTimeout
	}
	if !flags.Changed("retry-delay") {
		opts.RetryDelay = cfg.RetryDelay
	}
	if !flags.Changed("refresh-rate") {
		opts.RefreshRate = cfg.RefreshRate
	}
	if !flags.Changed("thumb-size") {
		opts.ThumbnailSize = cfg.ThumbnailSize
	}
	if !flags.Changed("serialize-gallery") {
		opts.SerializeGallery = cfg.SerializeGallery
	}
	if opts.OutputDir == "" {
		opts.OutputDir = cfg.OutputDir
	}
	if opts.Address == "" {
		opts.Address = cfg.Address
	}
	if opts.UploadDir == "" {
		opts.UploadDir = cfg.UploadDir
	}
}

func workerConfig(opts Options) worker.Config {
	return worker.Config{
		Python:             cfg.Python,
		Script:             cfg.WorkerScript,
		DetectionThreshold: opts.DetectionThreshold,
	}
}

func loopOptions(opts Options, sched detect.Scheduler) detect.Options {
	return detect.Options{
		RetryDelay:       opts.RetryDelay,
		DetectTimeout:    opts.DetectTimeout,
		SerializeGallery: opts.SerializeGallery,
		Scheduler:        sched,
	}
}

// runWatch loads the video, starts the detection model, plays to the end (or
// until interrupted) and prints a summary.
func runWatch(ctx context.Context, log *logrus.Entry, opts Options) error {
	width, height, err := validateWatchFlags(&opts)
	if err != nil {
		return err
	}

	// 1. Start loading the model. The loop waits for it, so playback can begin now.
	detector := worker.NewDetector(workerConfig(opts), log)
	detector.Start()
	defer detector.Close()

	sched := detect.NewTickerScheduler(opts.RefreshRate)
	defer sched.Stop()
	p := pipeline.New(detector, pipeline.Options{
		DisplayWidth:  width,
		DisplayHeight: height,
		ThumbnailSize: opts.ThumbnailSize,
		Loop:          loopOptions(opts, sched),
	}, log)
	defer p.Close()

	// 2. Load the video (probe + first frame)
	asset, err := p.Player.Load(ctx, opts.InputPath, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "📼 Watching Video ID: %s (%dx%d @ %.2f fps)\n", asset.ID[:12], asset.Width, asset.Height, asset.FPS)
	if w, h := p.Renderer.Size(); w > 0 {
		fmt.Fprintf(os.Stderr, "🖼️  Overlay: %dx%d\n", w, h)
	}
	if !detector.IsReady() {
		fmt.Fprintf(os.Stderr, "⏳ Detection model loading, playback will be annotated once it is ready...\n")
	}

	// 3. Progress bar follows the playback position
	total := asset.TotalFrames
	if total <= 0 {
		// Fallback to a spinner if ffprobe could not count frames
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("👁️  FaceFrame Watching"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	if err := p.Controller.Play(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Set(int(p.Player.Position()))
			}
		}
	}()

	// 4. Wait for the loop to stop on its own (end of video) or for Ctrl+C
	interrupted := false
	if err := p.Controller.Wait(ctx); err != nil {
		interrupted = errors.Is(err, context.Canceled)
		p.Controller.Pause()
		waitCtx, cancel := context.WithTimeout(context.Background(), opts.DetectTimeout+time.Second)
		p.Controller.Wait(waitCtx)
		cancel()
	}
	close(done)
	bar.Set(int(p.Player.Position()))
	bar.Finish()
	p.Controller.WaitGallery()

	if interrupted {
		fmt.Fprintf(os.Stderr, "\n🛑 Interrupted.\n")
	}
	printWatchSummary(p, asset)

	// 5. Optional export
	if opts.Export {
		if err := exportResults(p, asset, opts.OutputDir); err != nil {
			return err
		}
	}
	return nil
}

func printWatchSummary(p *pipeline.Pipeline, asset types.VideoAsset) {
	st := p.Controller.Status()
	watched := 0.0
	if asset.FPS > 0 {
		watched = float64(p.Player.Position()) / asset.FPS
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 WATCH SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "⏱️  Played:                  %s (%d frames)\n", fmtTime(watched), p.Player.Position())
	fmt.Fprintf(os.Stderr, "🔁 Detection Cycles:        %d\n", st.Cycles)
	fmt.Fprintf(os.Stderr, "⚠️  Failed Cycles:           %d\n", st.Failures)
	fmt.Fprintf(os.Stderr, "👁️  Total Face Detections:   %d\n", p.Gallery.Len())
	fmt.Fprintf(os.Stderr, "🟥 Boxes On Last Overlay:   %d\n", len(p.Renderer.Boxes()))
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

func exportResults(p *pipeline.Pipeline, asset types.VideoAsset, outputDir string) error {
	galleryDir := filepath.Join(outputDir, "gallery", asset.ID[:12])
	n, err := p.Gallery.Export(galleryDir)
	if err != nil {
		return fmt.Errorf("failed to export gallery: %w", err)
	}
	fmt.Fprintf(os.Stderr, "🗂️  Exported %d thumbnails to %s\n", n, galleryDir)

	overlayDir := filepath.Join(outputDir, "overlays")
	if err := os.MkdirAll(overlayDir, 0755); err != nil {
		return fmt.Errorf("failed to create overlay directory: %w", err)
	}
	overlayPath := filepath.Join(overlayDir, asset.ID[:12]+".png")
	f, err := os.Create(overlayPath)
	if err != nil {
		return fmt.Errorf("failed to create overlay file: %w", err)
	}
	defer f.Close()
	if err := p.Renderer.EncodePNG(f); err != nil {
		return fmt.Errorf("failed to write overlay: %w", err)
	}
	fmt.Fprintf(os.Stderr, "🖼️  Last overlay saved to %s\n", overlayPath)
	return nil
}

func validateWatchFlags(opts *Options) (width, height int, err error) {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, fmt.Errorf("input file does not exist: %w", err)
		}
		return 0, 0, fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return 0, 0, fmt.Errorf("input path is a directory, expected a video file")
	}
	if opts.Display != "" {
		if width, height, err = parseDisplay(opts.Display); err != nil {
			return 0, 0, err
		}
	}
	if err := validateLoopFlags(opts); err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

func validateLoopFlags(opts *Options) error {
	if opts.DetectionThreshold < 0 || opts.DetectionThreshold > 1.0 {
		return fmt.Errorf("invalid detection threshold: must be between 0.0 and 1.0, got %f", opts.DetectionThreshold)
	}
	if opts.DetectTimeout <= 0 {
		return fmt.Errorf("invalid detect-timeout: must be positive, got %s", opts.DetectTimeout)
	}
	if opts.RetryDelay <= 0 {
		return fmt.Errorf("invalid retry-delay: must be positive, got %s", opts.RetryDelay)
	}
	if opts.RefreshRate < 1 || opts.RefreshRate > 1000 {
		return fmt.Errorf("invalid refresh-rate: must be between 1 and 1000, got %d", opts.RefreshRate)
	}
	if opts.ThumbnailSize < 0 {
		opts.ThumbnailSize = 0
	}
	return nil
}

// parseDisplay reads a WIDTHxHEIGHT size.
func parseDisplay(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid display size %q: expected WIDTHxHEIGHT", s)
	}
	width, errW := strconv.Atoi(strings.TrimSpace(w))
	height, errH := strconv.Atoi(strings.TrimSpace(h))
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid display size %q: expected positive WIDTHxHEIGHT", s)
	}
	return width, height, nil
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
