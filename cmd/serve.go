package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/andresmejia3/faceframe/internal/detect"
	"github.com/andresmejia3/faceframe/internal/metrics"
	"github.com/andresmejia3/faceframe/internal/pipeline"
	"github.com/andresmejia3/faceframe/internal/server"
	"github.com/andresmejia3/faceframe/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveOpts Options

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the face detection player over HTTP",
	Long:  "Starts a web UI where a video can be uploaded and played with a live face detection overlay and a gallery of detected faces.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mergeConfig(cmd, &serveOpts)
		return runServe(cmd.Context(), entry(cmd), serveOpts)
	},
}

func init() {
	addLoopFlags(serveCmd, &serveOpts)
	serveCmd.Flags().StringVarP(&serveOpts.Address, "addr", "a", "", "Listen address (default: $FACEFRAME_ADDRESS or :8080)")
	serveCmd.Flags().StringVarP(&serveOpts.UploadDir, "upload-dir", "u", "", "Directory for uploaded videos (default: $FACEFRAME_UPLOAD_DIR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, log *logrus.Entry, opts Options) error {
	if err := validateLoopFlags(&opts); err != nil {
		return err
	}

	detector := worker.NewDetector(workerConfig(opts), log)
	detector.Start()
	defer detector.Close()

	m := metrics.New()
	sched := detect.NewTickerScheduler(opts.RefreshRate)
	defer sched.Stop()
	loop := loopOptions(opts, sched)
	loop.Metrics = m

	p := pipeline.New(detector, pipeline.Options{
		ThumbnailSize: opts.ThumbnailSize,
		Loop:          loop,
	}, log)
	defer p.Close()

	srv := server.New(server.Deps{
		Player:     p.Player,
		Controller: p.Controller,
		Sizer:      p.Sizer,
		Renderer:   p.Renderer,
		Gallery:    p.Gallery,
		Model:      detector,
		Metrics:    m,
	}, server.Options{
		UploadDir:      opts.UploadDir,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
	}, log)

	fmt.Fprintf(os.Stderr, "🌐 FaceFrame listening on %s\n", opts.Address)
	if err := srv.ListenAndServe(ctx, opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
