package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/faceframe/internal/types"
	"github.com/andresmejia3/faceframe/internal/utils"
)

// FrameSource yields decoded frames in presentation order. Next returns io.EOF
// at the end of the stream.
type FrameSource interface {
	Next() (*image.RGBA, error)
	Close() error
}

// SourceOpener starts decoding an asset from its first frame.
type SourceOpener func(ctx context.Context, asset types.VideoAsset) (FrameSource, error)

// ffmpegSource reads raw RGBA frames from an ffmpeg child process.
type ffmpegSource struct {
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	width  int
	height int
}

// OpenFFmpeg is the production SourceOpener.
func OpenFFmpeg(ctx context.Context, asset types.VideoAsset) (FrameSource, error) {
	if asset.Width <= 0 || asset.Height <= 0 {
		return nil, fmt.Errorf("cannot decode %s: unknown dimensions", asset.Path)
	}
	cmd := utils.NewFFmpegRawDecoder(ctx, asset.Path)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return &ffmpegSource{cmd: cmd, out: out, width: asset.Width, height: asset.Height}, nil
}

func (s *ffmpegSource) Next() (*image.RGBA, error) {
	// Frames are shared with the detector and cropper after publishing, so
	// every frame gets its own buffer instead of a pooled one.
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if _, err := io.ReadFull(s.out, img.Pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return img, nil
}

func (s *ffmpegSource) Close() error {
	s.out.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()
	if err != nil && s.cmd.Stderr.Len() > 0 {
		return fmt.Errorf("decoder exited: %w: %s", err, s.cmd.Stderr.String())
	}
	return nil
}
