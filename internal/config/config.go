// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting that can come from FACEFRAME_* variables.
// Command-line flags override these after Load.
type Config struct {
	Python             string        `env:"PYTHON" envDefault:"python3"`                        // Interpreter for the detection worker
	WorkerScript       string        `env:"WORKER_SCRIPT" envDefault:"python/detect_worker.py"` // Detection worker entrypoint
	DetectionThreshold float64       `env:"DETECTION_THRESHOLD" envDefault:"0.5"`               // Minimum face score
	DetectTimeout      time.Duration `env:"DETECT_TIMEOUT" envDefault:"10s"`                    // Per-cycle detection timeout
	RetryDelay         time.Duration `env:"RETRY_DELAY" envDefault:"100ms"`                     // Readiness polling interval
	RefreshRate        int           `env:"REFRESH_RATE" envDefault:"60"`                       // Display refresh rate (Hz)
	ThumbnailSize      int           `env:"THUMBNAIL_SIZE" envDefault:"96"`                     // Gallery thumbnail edge (px)
	SerializeGallery   bool          `env:"SERIALIZE_GALLERY" envDefault:"false"`               // Wait for gallery appends each cycle
	Address            string        `env:"ADDRESS" envDefault:":8080"`                         // serve: listen address
	UploadDir          string        `env:"UPLOAD_DIR" envDefault:"/tmp/faceframe/uploads"`     // serve: where uploads are stored
	MaxUploadMB        int64         `env:"MAX_UPLOAD_MB" envDefault:"512"`                     // serve: upload size limit
	OutputDir          string        `env:"OUTPUT_DIR" envDefault:"/data/faceframe"`            // watch/reset: exported gallery and overlays
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"text"` // text | json
	LogFile            string        `env:"LOG_FILE"`                     // Rotated file output, in addition to stderr
}

// Load reads env files into the process environment and then parses
// FACEFRAME_* variables. With no files, ".env" in the working directory is
// tried and may be absent; files named explicitly must exist.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "FACEFRAME_"}); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the numeric ranges the loop relies on.
func (c *Config) Validate() error {
	switch {
	case c.DetectionThreshold < 0 || c.DetectionThreshold > 1:
		return fmt.Errorf("detection threshold must be between 0 and 1, got %v", c.DetectionThreshold)
	case c.DetectTimeout <= 0:
		return fmt.Errorf("detect timeout must be positive, got %v", c.DetectTimeout)
	case c.RetryDelay <= 0:
		return fmt.Errorf("retry delay must be positive, got %v", c.RetryDelay)
	case c.RefreshRate < 1 || c.RefreshRate > 1000:
		return fmt.Errorf("refresh rate must be between 1 and 1000 Hz, got %d", c.RefreshRate)
	case c.ThumbnailSize < 0:
		return fmt.Errorf("thumbnail size cannot be negative, got %d", c.ThumbnailSize)
	case c.MaxUploadMB <= 0:
		return fmt.Errorf("max upload size must be positive, got %d", c.MaxUploadMB)
	}
	return nil
}
