package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"sync"

	"github.com/keagan/movescope/internal/landmark"
	"github.com/keagan/movescope/internal/pose"
)

// fakeMedia serves synthetic frames and records what is written.
type fakeMedia struct {
	info     VideoInfo
	probeErr error
	// decoded limits how many frames the source yields; <0 means all
	decoded    int
	writeErrAt int
	finishErr  error

	mu      sync.Mutex
	sources []*fakeSource
	outputs []*fakeOutput
}

func newFakeMedia(frames int, fps float64) *fakeMedia {
	return &fakeMedia{
		info:       VideoInfo{Width: 32, Height: 24, FPS: fps, FrameCount: frames, Duration: float64(frames) / fps},
		decoded:    -1,
		writeErrAt: -1,
	}
}

func (m *fakeMedia) Probe(ctx context.Context, path string) (VideoInfo, error) {
	if m.probeErr != nil {
		return VideoInfo{}, m.probeErr
	}
	info := m.info
	info.Path = path
	return info, nil
}

func (m *fakeMedia) OpenSource(ctx context.Context, path string, info VideoInfo, resample bool) (Source, error) {
	limit := m.decoded
	if limit < 0 {
		limit = info.FrameCount
	}
	s := &fakeSource{limit: limit, resample: resample}
	m.mu.Lock()
	m.sources = append(m.sources, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeMedia) CreateOutput(ctx context.Context, path string, info VideoInfo) (Output, error) {
	o := &fakeOutput{writeErrAt: m.writeErrAt, finishErr: m.finishErr, fps: info.FPS}
	m.mu.Lock()
	m.outputs = append(m.outputs, o)
	m.mu.Unlock()
	return o, nil
}

func (m *fakeMedia) lastOutput() *fakeOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs[len(m.outputs)-1]
}

func (m *fakeMedia) lastSource() *fakeSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[len(m.sources)-1]
}

type fakeSource struct {
	limit    int
	next     int
	closed   bool
	resample bool
}

func (s *fakeSource) Next(dst *image.RGBA) error {
	if s.next >= s.limit {
		return io.EOF
	}
	c := color.RGBA{R: uint8(s.next), G: 40, B: 80, A: 255}
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	s.next++
	return nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeOutput struct {
	writeErrAt int
	finishErr  error
	fps        float64

	frames   int
	finished bool
	aborted  bool
}

func (o *fakeOutput) WriteFrame(img image.Image) error {
	if o.frames == o.writeErrAt {
		return errors.New("disk full")
	}
	o.frames++
	return nil
}

func (o *fakeOutput) Finish(ctx context.Context) error {
	if o.finishErr != nil {
		return o.finishErr
	}
	o.finished = true
	return nil
}

func (o *fakeOutput) Abort() {
	o.aborted = true
}

// scriptedDetector returns a deterministic pose per frame index, except
// for frames listed in gaps (no pose) or failures (error).
type scriptedDetector struct {
	gaps     map[int]bool
	failures map[int]bool
	pose     func(i int) *landmark.Pose
	onDetect func(i int)
	closed   bool
}

func (d *scriptedDetector) Detect(ctx context.Context, f pose.Frame) (*landmark.Pose, error) {
	if d.onDetect != nil {
		d.onDetect(f.Index)
	}
	if d.failures[f.Index] {
		return nil, errors.New("inference failed")
	}
	if d.gaps[f.Index] {
		return nil, nil
	}
	return d.pose(f.Index), nil
}

func (d *scriptedDetector) Close() error {
	d.closed = true
	return nil
}

func stillPose(i int) *landmark.Pose {
	var p landmark.Pose
	for j := range p {
		p[j] = landmark.Landmark{X: 0.5, Y: 0.4, Visibility: 0.9}
	}
	return &p
}

// swayPose moves every landmark sideways on a 30-frame period.
func swayPose(i int) *landmark.Pose {
	var p landmark.Pose
	dx := 0.05 * math.Sin(2*math.Pi*float64(i)/30)
	for j := range p {
		p[j] = landmark.Landmark{X: 0.5 + dx, Y: 0.4, Visibility: 0.9}
	}
	return &p
}

func gapSet(idx ...int) map[int]bool {
	m := make(map[int]bool, len(idx))
	for _, i := range idx {
		m[i] = true
	}
	return m
}
