package cmd

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/faceframe/internal/config"
	"github.com/spf13/cobra"
)

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
	}

	for _, tt := range tests {
		if got := fmtTime(tt.seconds); got != tt.want {
			t.Errorf("fmtTime(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestParseDisplay(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"320x180", 320, 180, false},
		{"1280X720", 1280, 720, false},
		{" 640 x 360 ", 640, 360, false},
		{"320", 0, 0, true},
		{"0x180", 0, 0, true},
		{"-1x5", 0, 0, true},
		{"axb", 0, 0, true},
	}

	for _, tt := range tests {
		w, h, err := parseDisplay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDisplay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if w != tt.w || h != tt.h {
			t.Errorf("parseDisplay(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.w, tt.h)
		}
	}
}

func TestValidateWatchFlags(t *testing.T) {
	// Create a temp file for valid input
	tmpFile, err := os.CreateTemp("", "video.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	// Create a temp dir for invalid input
	tmpDir := t.TempDir()

	valid := Options{
		InputPath:          tmpFile.Name(),
		Display:            "320x180",
		DetectionThreshold: 0.5,
		DetectTimeout:      10 * time.Second,
		RetryDelay:         100 * time.Millisecond,
		RefreshRate:        60,
	}

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"Valid options", func(o *Options) {}, false},
		{"No display uses intrinsic size", func(o *Options) { o.Display = "" }, false},
		{"Input file does not exist", func(o *Options) { o.InputPath = "nonexistent.mp4" }, true},
		{"Input is directory", func(o *Options) { o.InputPath = tmpDir }, true},
		{"Bad display", func(o *Options) { o.Display = "wide" }, true},
		{"Invalid threshold", func(o *Options) { o.DetectionThreshold = 1.5 }, true},
		{"Zero detect timeout", func(o *Options) { o.DetectTimeout = 0 }, true},
		{"Zero retry delay", func(o *Options) { o.RetryDelay = 0 }, true},
		{"Refresh rate too high", func(o *Options) { o.RefreshRate = 5000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			if _, _, err := validateWatchFlags(&opts); (err != nil) != tt.wantErr {
				t.Errorf("validateWatchFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMergeConfig_FlagsWin(t *testing.T) {
	old := cfg
	defer func() { cfg = old }()
	cfg = &config.Config{
		DetectionThreshold: 0.3,
		DetectTimeout:      2 * time.Second,
		RetryDelay:         50 * time.Millisecond,
		RefreshRate:        30,
		ThumbnailSize:      64,
		OutputDir:          "/tmp/out",
	}

	var opts Options
	c := &cobra.Command{Use: "watch"}
	addLoopFlags(c, &opts)
	if err := c.Flags().Set("threshold", "0.9"); err != nil {
		t.Fatal(err)
	}
	mergeConfig(c, &opts)

	if opts.DetectionThreshold != 0.9 {
		t.Errorf("Expected flag value 0.9 to win, got %v", opts.DetectionThreshold)
	}
	if opts.RetryDelay != 50*time.Millisecond || opts.RefreshRate != 30 || opts.ThumbnailSize != 64 {
		t.Errorf("Expected unset flags to come from config, got %+v", opts)
	}
	if opts.OutputDir != "/tmp/out" {
		t.Errorf("Expected output dir from config, got %q", opts.OutputDir)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Delete?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Delete? [y/N]") {
			t.Errorf("Expected prompt, got %q", out.String())
		}
	}
}

func TestResetCommand(t *testing.T) {
	dir := t.TempDir()
	testChdir(t, dir)
	outDir := filepath.Join(dir, "out")
	uploads := filepath.Join(dir, "uploads")
	for _, d := range []string{filepath.Join(outDir, "gallery", "abc"), filepath.Join(outDir, "overlays"), uploads} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("FACEFRAME_OUTPUT_DIR", outDir)
	t.Setenv("FACEFRAME_UPLOAD_DIR", uploads)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader("n\n")) // Only consulted for prompts; --yes skips them
	rootCmd.SetArgs([]string{"reset", "--gallery", "--yes"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "gallery")); !os.IsNotExist(err) {
		t.Errorf("Expected gallery exports to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "overlays")); err != nil {
		t.Errorf("Expected overlays to be kept, got %v", err)
	}
	if _, err := os.Stat(uploads); err != nil {
		t.Errorf("Expected uploads to be kept, got %v", err)
	}
	if !strings.Contains(out.String(), "Reset Complete") {
		t.Errorf("Expected completion message, got %q", out.String())
	}
}
