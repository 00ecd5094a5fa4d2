package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps worker logs if a SafeCommand is provided.
// Unlike a hard exit it returns, so callers can unwind and release resources.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEFRAME ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Video Probing ---

// ErrNoVideoStream means ffprobe could read the file but found nothing playable in it.
var ErrNoVideoStream = errors.New("no video stream found")

// VideoInfo is the metadata the media element needs before playback.
type VideoInfo struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		RFrameRate    string `json:"r_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// ProbeVideo reads the intrinsic dimensions, frame rate and (when the container
// records it) the frame count of the first video stream.
func ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=codec_type,width,height,avg_frame_rate,r_frame_rate,nb_frames",
		"-of", "json", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return VideoInfo{}, fmt.Errorf("ffprobe failed: %s", msg)
		}
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return ParseProbeOutput(out)
}

// ParseProbeOutput decodes ffprobe's JSON stream description.
func ParseProbeOutput(out []byte) (VideoInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return VideoInfo{}, ErrNoVideoStream
	}
	s := res.Streams[0]
	if s.CodecType != "" && s.CodecType != "video" {
		return VideoInfo{}, ErrNoVideoStream
	}
	if s.Width <= 0 || s.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}

	fps, err := ParseFrameRate(s.AvgFrameRate)
	if err != nil || fps <= 0 {
		// Some containers only record the base rate
		fps, err = ParseFrameRate(s.RFrameRate)
		if err != nil || fps <= 0 {
			return VideoInfo{}, fmt.Errorf("unable to determine frame rate (avg=%q, r=%q)", s.AvgFrameRate, s.RFrameRate)
		}
	}

	frames, _ := strconv.Atoi(s.NbFrames)
	return VideoInfo{Width: s.Width, Height: s.Height, FPS: fps, TotalFrames: frames}, nil
}

// ParseFrameRate parses ffprobe rates like "30000/1001" or "25".
func ParseFrameRate(rate string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(rate), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q: zero denominator", rate)
	}
	return n / d, nil
}

// GetTotalFrames counts packets with ffprobe for the progress bar.
// It returns 0 if the count fails, allowing callers to fall back to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0
	}
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// --- 3. Video Engine ---

// NewFFmpegRawDecoder creates a decoder pipe that writes raw RGBA frames to Stdout.
// Each frame is exactly width*height*4 bytes.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *SafeCommand {
	// -loglevel error keeps the stderr buffer small on long videos
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-i", inputPath,
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// GenerateAssetID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateAssetID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
