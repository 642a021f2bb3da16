package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/keagan/movescope/pkg/util"
	"github.com/rs/zerolog"
)

// ReaderOptions configures frame decoding.
type ReaderOptions struct {
	Width  int
	Height int
	// Seek starts decoding at this offset.
	Seek time.Duration
	// MaxFrames stops decoding after this many frames when > 0.
	MaxFrames int
	// Filter is an optional -vf chain. Width and Height are the size it
	// produces.
	Filter *FilterBuilder
}

// FrameReader decodes a video into RGBA frames, in order, from an ffmpeg
// rawvideo pipe.
type FrameReader struct {
	logger    zerolog.Logger
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    *stderrTail
	width     int
	height    int
	frameSize int
	read      int
}

// OpenReader starts decoding input.
func (e *Executor) OpenReader(ctx context.Context, input string, opts ReaderOptions) (*FrameReader, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}

	args := e.baseArgs()
	if opts.Seek > 0 {
		args = append(args, "-ss", util.FormatDuration(opts.Seek))
	}
	args = append(args, "-i", input, "-an", "-sn")
	if opts.Filter != nil {
		if vf := opts.Filter.Build(); vf != "" {
			args = append(args, "-vf", vf)
		}
	} else {
		args = append(args, "-vsync", "0")
	}
	if opts.MaxFrames > 0 {
		args = append(args, "-frames:v", fmt.Sprintf("%d", opts.MaxFrames))
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-")

	e.logger.Debug().Strs("args", args).Msg("starting frame reader")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	tail := newStderrTail(e.logger, "decode")
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg decoder: %w", err)
	}

	return &FrameReader{
		logger:    e.logger,
		cmd:       cmd,
		stdout:    stdout,
		stderr:    tail,
		width:     opts.Width,
		height:    opts.Height,
		frameSize: opts.Width * opts.Height * 4,
	}, nil
}

// Next reads the next frame into dst, which must match the reader size.
// It returns io.EOF once the stream is exhausted.
func (r *FrameReader) Next(dst *image.RGBA) error {
	if dst.Rect.Dx() != r.width || dst.Rect.Dy() != r.height || dst.Stride != r.width*4 {
		return fmt.Errorf("destination must be a packed %dx%d image", r.width, r.height)
	}
	if _, err := io.ReadFull(r.stdout, dst.Pix[:r.frameSize]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			r.logger.Warn().Int("frame", r.read).Msg("truncated frame at end of stream")
			return io.EOF
		}
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read frame %d: %w", r.read, err)
	}
	r.read++
	return nil
}

// FramesRead returns the number of complete frames delivered.
func (r *FrameReader) FramesRead() int {
	return r.read
}

// Close stops the decoder. Errors from a decoder that was stopped early
// are ignored.
func (r *FrameReader) Close() error {
	_ = r.stdout.Close()
	if err := r.cmd.Wait(); err != nil {
		if r.read > 0 {
			return nil
		}
		return fmt.Errorf("ffmpeg decoder failed: %w: %s", err, r.stderr.String())
	}
	return nil
}

// FrameWriter encodes RGBA frames into a video file through an ffmpeg
// rawvideo pipe.
type FrameWriter struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *stderrTail
	width   int
	height  int
	written int
	closed  bool
}

// CreateWriter starts an encoder writing to output.
func (e *Executor) CreateWriter(ctx context.Context, output string, width, height int, fps float64) (*FrameWriter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", fps)
	}

	args := e.baseArgs()
	args = append(args,
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", fmt.Sprintf("%f", fps),
		"-i", "-",
		"-c:v", e.opts.VideoCodec,
		"-pix_fmt", pixelFormat(width, height),
	)
	if e.opts.VideoCodec == DefaultVideoCodec {
		args = append(args, "-preset", e.opts.Preset, "-crf", fmt.Sprintf("%d", e.opts.CRF))
	}
	args = append(args, "-f", "mp4", output)

	e.logger.Debug().Strs("args", args).Msg("starting frame writer")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	tail := newStderrTail(e.logger, "encode")
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}

	return &FrameWriter{
		cmd:    cmd,
		stdin:  stdin,
		stderr: tail,
		width:  width,
		height: height,
	}, nil
}

// 4:2:0 needs even dimensions.
func pixelFormat(width, height int) string {
	if width%2 != 0 || height%2 != 0 {
		return "yuv444p"
	}
	return "yuv420p"
}

// WriteFrame appends img to the stream.
func (w *FrameWriter) WriteFrame(img image.Image) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	b := img.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return fmt.Errorf("frame size %dx%d does not match %dx%d", b.Dx(), b.Dy(), w.width, w.height)
	}
	if err := writeRawRGBA(w.stdin, img); err != nil {
		return fmt.Errorf("failed to write frame %d: %w: %s", w.written, err, w.stderr.String())
	}
	w.written++
	return nil
}

// FramesWritten returns the number of frames handed to the encoder.
func (w *FrameWriter) FramesWritten() int {
	return w.written
}

// Close flushes the encoder and waits for it to finish the container.
func (w *FrameWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoder failed: %w: %s", err, w.stderr.String())
	}
	return nil
}

// Abort kills the encoder without finalizing the output.
func (w *FrameWriter) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix[:bounds.Dx()*bounds.Dy()*4])
	return err
}

// stderrTail logs ffmpeg stderr at debug level and keeps the last lines
// for error messages.
type stderrTail struct {
	mu     sync.Mutex
	logger zerolog.Logger
	op     string
	buf    []byte
	lines  []string
}

const stderrTailLines = 8

func newStderrTail(logger zerolog.Logger, op string) *stderrTail {
	return &stderrTail{logger: logger, op: op}
}

func (s *stderrTail) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(s.buf[:i]), "\r")
		s.buf = s.buf[i+1:]
		if line == "" {
			continue
		}
		s.logger.Debug().Str("ffmpeg", line).Msg(s.op)
		s.lines = append(s.lines, line)
		if len(s.lines) > stderrTailLines {
			s.lines = s.lines[1:]
		}
	}
	return len(p), nil
}

func (s *stderrTail) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.lines
	if len(s.buf) > 0 {
		lines = append(append([]string(nil), lines...), string(s.buf))
	}
	return strings.Join(lines, "; ")
}
