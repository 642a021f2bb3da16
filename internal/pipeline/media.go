package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/keagan/movescope/internal/ffmpeg"
	"github.com/rs/zerolog"
)

// Source yields decoded frames in order. Next returns io.EOF when the
// stream ends.
type Source interface {
	Next(dst *image.RGBA) error
	Close() error
}

// Output receives overlaid frames. Finish finalizes the container; Abort
// discards everything written so far.
type Output interface {
	WriteFrame(img image.Image) error
	Finish(ctx context.Context) error
	Abort()
}

// Media opens the input and output streams of a run.
type Media interface {
	Probe(ctx context.Context, path string) (VideoInfo, error)
	OpenSource(ctx context.Context, path string, info VideoInfo, resample bool) (Source, error)
	CreateOutput(ctx context.Context, path string, info VideoInfo) (Output, error)
}

// FFmpegMedia decodes and encodes through ffmpeg pipes.
type FFmpegMedia struct {
	logger zerolog.Logger
	exec   *ffmpeg.Executor
}

// NewFFmpegMedia wraps exec.
func NewFFmpegMedia(logger zerolog.Logger, exec *ffmpeg.Executor) *FFmpegMedia {
	return &FFmpegMedia{
		logger: logger.With().Str("component", "media").Logger(),
		exec:   exec,
	}
}

// Probe reads stream metadata.
func (m *FFmpegMedia) Probe(ctx context.Context, path string) (VideoInfo, error) {
	info, err := m.exec.ProbeVideo(ctx, path)
	if err != nil {
		return VideoInfo{}, err
	}
	if !info.FrameCountExact {
		m.logger.Debug().
			Str("path", path).
			Int("frames", info.FrameCount).
			Msg("frame count estimated from duration")
	}
	return VideoInfo{
		Path:       path,
		Width:      info.Width,
		Height:     info.Height,
		FPS:        info.FPS,
		FrameCount: info.FrameCount,
		Duration:   info.Duration.Seconds(),
	}, nil
}

// OpenSource starts decoding at info's size. With resample set the
// decoder emits frames at info.FPS through the fps filter.
func (m *FFmpegMedia) OpenSource(ctx context.Context, path string, info VideoInfo, resample bool) (Source, error) {
	opts := ffmpeg.ReaderOptions{Width: info.Width, Height: info.Height}
	if resample {
		opts.Filter = ffmpeg.NewFilterBuilder().FPS(info.FPS)
	}
	reader, err := m.exec.OpenReader(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return reader, nil
}

// CreateOutput encodes into a partial file next to path. Finish moves it
// into place, remuxing for fast start when the executor is configured to.
func (m *FFmpegMedia) CreateOutput(ctx context.Context, path string, info VideoInfo) (Output, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	partial := path + ".partial"
	w, err := m.exec.CreateWriter(ctx, partial, info.Width, info.Height, info.FPS)
	if err != nil {
		return nil, err
	}
	return &ffmpegOutput{media: m, writer: w, partial: partial, final: path}, nil
}

type ffmpegOutput struct {
	media   *FFmpegMedia
	writer  *ffmpeg.FrameWriter
	partial string
	final   string
}

func (o *ffmpegOutput) WriteFrame(img image.Image) error {
	return o.writer.WriteFrame(img)
}

func (o *ffmpegOutput) Finish(ctx context.Context) error {
	if err := o.writer.Close(); err != nil {
		_ = os.Remove(o.partial)
		return err
	}
	defer os.Remove(o.partial)

	if o.media.exec.Options().Faststart {
		return o.media.exec.Faststart(ctx, o.partial, o.final, func(p *ffmpeg.Progress) {
			o.media.logger.Debug().Int("frame", p.Frame).Str("speed", p.Speed).Msg("remuxing output")
		})
	}
	if err := os.Rename(o.partial, o.final); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func (o *ffmpegOutput) Abort() {
	o.writer.Abort()
	_ = os.Remove(o.partial)
	_ = os.Remove(o.final)
}
