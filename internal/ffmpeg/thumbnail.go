package ffmpeg

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"
	"time"
)

// ThumbnailOptions configures GenerateThumbnail.
type ThumbnailOptions struct {
	Timestamp time.Duration
	// MaxWidth downsizes wider frames, keeping the aspect ratio.
	MaxWidth int
	Quality  int
}

// GenerateThumbnail writes a JPEG of the frame at opts.Timestamp.
func (e *Executor) GenerateThumbnail(ctx context.Context, input, output string, opts ThumbnailOptions) error {
	if input == "" {
		return fmt.Errorf("input path is required")
	}
	if output == "" {
		return fmt.Errorf("output path is required")
	}

	info, err := e.ProbeVideo(ctx, input)
	if err != nil {
		return err
	}
	if opts.Timestamp > info.Duration {
		opts.Timestamp = 0
	}

	e.logger.Info().
		Str("input", input).
		Str("output", output).
		Dur("timestamp", opts.Timestamp).
		Msg("generating thumbnail")

	// ffmpeg downsizes while decoding so only the small frame is piped
	width, height := thumbnailSize(info.Width, info.Height, opts.MaxWidth)
	reader, err := e.OpenReader(ctx, input, ReaderOptions{
		Width:     width,
		Height:    height,
		Seek:      opts.Timestamp,
		MaxFrames: 1,
		Filter:    NewFilterBuilder().Scale(width, height),
	})
	if err != nil {
		return err
	}
	frame := image.NewRGBA(image.Rect(0, 0, width, height))
	readErr := reader.Next(frame)
	closeErr := reader.Close()
	if readErr == io.EOF {
		return fmt.Errorf("no frame at %v", opts.Timestamp)
	}
	if readErr != nil {
		return readErr
	}
	if closeErr != nil {
		return closeErr
	}

	return writeThumbnail(frame, output, opts)
}

// thumbnailSize fits width x height into maxWidth, keeping the aspect ratio.
func thumbnailSize(width, height, maxWidth int) (int, int) {
	if maxWidth <= 0 || width <= maxWidth {
		return width, height
	}
	h := int(math.Round(float64(height) * float64(maxWidth) / float64(width)))
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}

func writeThumbnail(img image.Image, output string, opts ThumbnailOptions) error {
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		_ = os.Remove(output)
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return f.Close()
}
