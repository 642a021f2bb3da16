package pose

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keagan/movescope/internal/landmark"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrWorkerClosed is returned by Detect once the worker process is gone.
var ErrWorkerClosed = errors.New("pose worker is not running")

// maxMessageSize bounds a single framed message.
const maxMessageSize = 64 << 20

// Worker messages are msgpack documents, each preceded by a 4-byte
// big-endian length.
type workerRequest struct {
	Type string `msgpack:"type"`

	ModelComplexity        int     `msgpack:"model_complexity,omitempty"`
	MinDetectionConfidence float64 `msgpack:"min_detection_confidence,omitempty"`
	MinTrackingConfidence  float64 `msgpack:"min_tracking_confidence,omitempty"`

	Index       int    `msgpack:"index"`
	TimestampMS int64  `msgpack:"timestamp_ms"`
	Width       int    `msgpack:"width,omitempty"`
	Height      int    `msgpack:"height,omitempty"`
	Pixels      []byte `msgpack:"pixels,omitempty"`
}

type workerResponse struct {
	Ready     bool        `msgpack:"ready"`
	Index     int         `msgpack:"index"`
	Detected  bool        `msgpack:"detected"`
	Landmarks [][]float64 `msgpack:"landmarks"`
	Error     string      `msgpack:"error"`
}

// WorkerDetector runs pose inference in a subprocess. Frames are sent as
// raw RGBA over stdin and poses come back on stdout.
type WorkerDetector struct {
	logger  zerolog.Logger
	cfg     Config
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	mu      sync.Mutex
	active  atomic.Bool
	done    chan struct{}
	waitErr error

	frames   atomic.Uint64
	failures atomic.Uint64
}

// StartWorker spawns cfg.WorkerCommand and performs the init handshake.
func StartWorker(ctx context.Context, logger zerolog.Logger, cfg Config) (*WorkerDetector, error) {
	w := &WorkerDetector{
		logger: logger.With().Str("component", "pose-worker").Logger(),
		cfg:    cfg,
		done:   make(chan struct{}),
	}

	w.cmd = exec.Command(cfg.WorkerCommand, cfg.WorkerArgs...)
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	w.stdin, w.stdout = stdin, stdout

	if err := w.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pose worker: %w", err)
	}
	w.active.Store(true)

	go w.logStderr(stderr)
	go w.waitProcess()

	init := workerRequest{
		Type:                   "init",
		ModelComplexity:        cfg.ModelComplexity,
		MinDetectionConfidence: cfg.MinDetectionConfidence,
		MinTrackingConfidence:  cfg.MinTrackingConfidence,
	}
	resp, err := w.roundTrip(ctx, &init)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("pose worker handshake failed: %w", err)
	}
	if !resp.Ready {
		w.Close()
		return nil, fmt.Errorf("pose worker not ready: %s", resp.Error)
	}

	w.logger.Info().
		Str("command", cfg.WorkerCommand).
		Int("model_complexity", cfg.ModelComplexity).
		Float64("min_detection_confidence", cfg.MinDetectionConfidence).
		Msg("pose worker started")

	return w, nil
}

// Detect sends one frame and waits for its pose.
func (w *WorkerDetector) Detect(ctx context.Context, f Frame) (*landmark.Pose, error) {
	if f.Image == nil {
		return nil, fmt.Errorf("frame %d has no image", f.Index)
	}
	b := f.Image.Bounds()
	req := workerRequest{
		Type:        "frame",
		Index:       f.Index,
		TimestampMS: int64(f.Timestamp * 1000),
		Width:       b.Dx(),
		Height:      b.Dy(),
		Pixels:      packedPixels(f),
	}

	w.frames.Add(1)
	resp, err := w.roundTrip(ctx, &req)
	if err != nil {
		w.failures.Add(1)
		return nil, err
	}
	if resp.Error != "" {
		w.failures.Add(1)
		return nil, fmt.Errorf("pose worker frame %d: %s", f.Index, resp.Error)
	}
	if resp.Index != f.Index {
		w.failures.Add(1)
		return nil, fmt.Errorf("pose worker answered frame %d for frame %d", resp.Index, f.Index)
	}
	if !resp.Detected {
		return nil, nil
	}
	return poseFromRows(resp.Landmarks)
}

func packedPixels(f Frame) []byte {
	img := f.Image
	b := img.Bounds()
	if img.Stride == b.Dx()*4 && b.Min == (image.Point{}) {
		return img.Pix[:b.Dx()*b.Dy()*4]
	}
	out := make([]byte, 0, b.Dx()*b.Dy()*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[off:off+b.Dx()*4]...)
	}
	return out
}

func poseFromRows(rows [][]float64) (*landmark.Pose, error) {
	if len(rows) != landmark.Count {
		return nil, fmt.Errorf("%w: got %d", landmark.ErrWrongLandmarkCount, len(rows))
	}
	var p landmark.Pose
	for i, r := range rows {
		if len(r) < 4 {
			return nil, fmt.Errorf("landmark %d has %d values, want 4", i, len(r))
		}
		p[i] = landmark.Landmark{X: r[0], Y: r[1], Z: r[2], Visibility: r[3]}
	}
	return &p, nil
}

// roundTrip writes req and reads one response. A timeout or cancellation
// leaves the stream out of sync, so the worker is stopped.
func (w *WorkerDetector) roundTrip(ctx context.Context, req *workerRequest) (*workerResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active.Load() {
		return nil, ErrWorkerClosed
	}

	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack request: %w", err)
	}

	type result struct {
		resp *workerResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		if err := writeMessage(w.stdin, payload); err != nil {
			ch <- result{err: fmt.Errorf("failed to write to stdin: %w", err)}
			return
		}
		var resp workerResponse
		if err := readMessage(w.stdout, &resp); err != nil {
			ch <- result{err: fmt.Errorf("failed to read from stdout: %w", err)}
			return
		}
		ch <- result{resp: &resp}
	}()

	timeout := w.cfg.FrameTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().FrameTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			w.stop()
		}
		return r.resp, r.err
	case <-timer.C:
		w.stop()
		return nil, fmt.Errorf("pose worker timed out after %v", timeout)
	case <-ctx.Done():
		w.stop()
		return nil, ctx.Err()
	case <-w.done:
		return nil, fmt.Errorf("%w: %v", ErrWorkerClosed, w.waitErr)
	}
}

func writeMessage(wr io.Writer, payload []byte) error {
	if len(payload) > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", len(payload))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := wr.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := wr.Write(payload); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

func writeMessageValue(wr io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack: %w", err)
	}
	return writeMessage(wr, payload)
}

func readMessage(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return msgpack.Unmarshal(data, v)
}

func (w *WorkerDetector) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			w.logger.Error().Str("worker", line).Msg("pose worker")
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			w.logger.Warn().Str("worker", line).Msg("pose worker")
		default:
			w.logger.Debug().Str("worker", line).Msg("pose worker")
		}
	}
}

func (w *WorkerDetector) waitProcess() {
	w.waitErr = w.cmd.Wait()
	w.active.Store(false)
	close(w.done)
	if w.waitErr != nil {
		w.logger.Debug().Err(w.waitErr).Msg("pose worker exited")
	}
}

func (w *WorkerDetector) stop() {
	w.active.Store(false)
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

// Stats returns frames sent and frames that failed.
func (w *WorkerDetector) Stats() (frames, failures uint64) {
	return w.frames.Load(), w.failures.Load()
}

// Close asks the worker to exit by closing stdin and kills it if it has
// not exited within two seconds.
func (w *WorkerDetector) Close() error {
	_ = w.stdin.Close()
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		w.logger.Warn().Msg("pose worker did not exit, killing")
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		<-w.done
	}
	w.active.Store(false)

	frames, failures := w.Stats()
	w.logger.Info().
		Uint64("frames", frames).
		Uint64("failures", failures).
		Msg("pose worker stopped")
	return nil
}
