package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/faceframe/internal/config"
	"github.com/andresmejia3/faceframe/internal/logger"
	"github.com/andresmejia3/faceframe/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the watch and serve commands
type Options struct {
	InputPath          string
	Display            string
	DetectionThreshold float64
	DetectTimeout      time.Duration
	RetryDelay         time.Duration
	RefreshRate        int
	ThumbnailSize      int
	SerializeGallery   bool
	Export             bool
	OutputDir          string
	Address            string
	UploadDir          string
}

var (
	// cfg is loaded from the environment before any subcommand runs
	cfg = &config.Config{}
	// log is the process logger, configured from cfg and the log flags
	log = logger.Discard()

	envFile  string
	logLevel string
	logFile  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "faceframe",
	Short:         "Live face detection overlay for video playback",
	Version:       Version, // This enables the --version flag
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		loaded, err := config.Load(files...)
		if err != nil {
			return err
		}
		cfg = loaded

		// Flags win over the environment
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			cfg.LogFile = logFile
		}

		log, err = logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
		return err
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.ShowError("Command failed", err, nil)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load FACEFRAME_* settings from this file (default: .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated")
}

// entry returns the process logger with the command name attached.
func entry(cmd *cobra.Command) *logrus.Entry {
	return log.WithField("command", cmd.Name())
}
