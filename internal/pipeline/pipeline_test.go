package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/keagan/movescope/internal/analysis"
	"github.com/keagan/movescope/internal/landmark"
	"github.com/keagan/movescope/internal/pose"
	"github.com/keagan/movescope/internal/progress"
	"github.com/rs/zerolog"
)

func newTestPipeline(t *testing.T, media Media, det *scriptedDetector, opts Options) *Pipeline {
	t.Helper()
	p, err := New(zerolog.Nop(), media, func(ctx context.Context) (pose.Detector, error) {
		return det, nil
	}, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func request(t *testing.T) Request {
	t.Helper()
	dir := t.TempDir()
	return Request{
		ID:     "test",
		Input:  filepath.Join(dir, "in.mp4"),
		Output: filepath.Join(dir, "out.mp4"),
	}
}

type progressLog struct {
	mu      sync.Mutex
	updates []progress.Update
}

func (l *progressLog) Report(p float64, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, progress.Update{Progress: p, Message: msg})
}

func TestRunEndToEnd(t *testing.T) {
	media := newFakeMedia(300, 30)
	det := &scriptedDetector{gaps: gapSet(10, 50, 51, 200, 299), pose: stillPose}
	p := newTestPipeline(t, media, det, DefaultOptions())

	var stages []Stage
	log := &progressLog{}
	req := request(t)
	req.Progress = log
	req.OnStage = func(s Stage) { stages = append(stages, s) }

	result, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Processing.TotalFrames != 300 {
		t.Errorf("expected 300 frames, got %d", result.Processing.TotalFrames)
	}
	if result.Processing.FramesWithPose != 295 {
		t.Errorf("expected 295 frames with pose, got %d", result.Processing.FramesWithPose)
	}
	if math.Abs(result.Processing.DetectionRate-0.9833) > 0.001 {
		t.Errorf("expected detection rate ~0.983, got %v", result.Processing.DetectionRate)
	}
	if result.Processing.OutputPath != req.Output {
		t.Errorf("expected output path %q, got %q", req.Output, result.Processing.OutputPath)
	}
	if result.RhythmAnalysis.HasRhythm || result.RhythmAnalysis.EstimatedBPM != 0 {
		t.Errorf("expected no rhythm for a still clip, got %+v", result.RhythmAnalysis)
	}
	if result.MovementAnalysis.MovementType != analysis.Standing {
		t.Errorf("expected standing, got %s", result.MovementAnalysis.MovementType)
	}
	if result.SmoothnessScore != 100 {
		t.Errorf("expected smoothness 100, got %v", result.SmoothnessScore)
	}
	if math.Abs(result.PoseAnalysis.AverageConfidence-0.9) > 1e-9 {
		t.Errorf("expected confidence 0.9, got %v", result.PoseAnalysis.AverageConfidence)
	}
	if fr := result.MovementAnalysis.FrameRange; fr.Start != 0 || fr.End != 298 {
		t.Errorf("unexpected frame range %+v", fr)
	}

	out := media.lastOutput()
	if out.frames != 300 || !out.finished || out.aborted {
		t.Errorf("expected 300 frames finished, got %+v", out)
	}
	if !det.closed || !media.lastSource().closed {
		t.Error("expected detector and source to be closed")
	}

	wantStages := []Stage{StageLoading, StageProcessing, StageAnalyzing, StageEncoding, StageDone}
	if !reflect.DeepEqual(stages, wantStages) {
		t.Errorf("expected stages %v, got %v", wantStages, stages)
	}

	last := log.updates[len(log.updates)-1]
	if last.Progress != 1 || last.Message != "Processing complete!" {
		t.Errorf("unexpected final update %+v", last)
	}
	prev := -1.0
	for _, u := range log.updates {
		if u.Progress < prev || u.Progress < 0 || u.Progress > 1 {
			t.Fatalf("progress not monotonic in [0,1]: %v after %v", u.Progress, prev)
		}
		prev = u.Progress
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"processing", "pose_analysis", "movement_analysis", "rhythm_analysis", "smoothness_score", "video_info", "summary"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	var rhythm map[string]interface{}
	if err := json.Unmarshal(doc["rhythm_analysis"], &rhythm); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"has_rhythm", "estimated_bpm", "rhythm_consistency"} {
		if _, ok := rhythm[key]; !ok {
			t.Errorf("missing rhythm key %q", key)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	media := newFakeMedia(120, 30)
	newDet := func() *scriptedDetector {
		return &scriptedDetector{gaps: gapSet(3, 4, 60), pose: swayPose}
	}

	p1 := newTestPipeline(t, media, newDet(), DefaultOptions())
	first, err := p1.Run(context.Background(), request(t))
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	p2 := newTestPipeline(t, media, newDet(), DefaultOptions())
	second, err := p2.Run(context.Background(), request(t))
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	first.Processing.OutputPath, second.Processing.OutputPath = "", ""
	first.VideoInfo.Path, second.VideoInfo.Path = "", ""
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestRunDetectsSwayRhythm(t *testing.T) {
	media := newFakeMedia(300, 30)
	det := &scriptedDetector{pose: swayPose}
	p := newTestPipeline(t, media, det, DefaultOptions())

	result, err := p.Run(context.Background(), request(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := result.RhythmAnalysis
	if !r.HasRhythm {
		t.Fatalf("expected rhythm, got %+v", r)
	}
	// speed peaks twice per 30-frame sway at 30 fps: 120 BPM
	if math.Abs(r.EstimatedBPM-120) > 5 {
		t.Errorf("expected ~120 BPM, got %v", r.EstimatedBPM)
	}
	if r.PeakCount < 3 {
		t.Errorf("expected at least 3 peaks, got %d", r.PeakCount)
	}
	if result.Summary.TotalSequences != 1 || result.Summary.MostActiveBodyPart == "none" {
		t.Errorf("unexpected summary %+v", result.Summary)
	}
}

func TestDetectionRateExtremes(t *testing.T) {
	tests := []struct {
		name string
		gaps map[int]bool
		want float64
	}{
		{"all detected", nil, 1},
		{"none detected", gapSet(0, 1, 2, 3, 4, 5, 6, 7, 8, 9), 0},
		{"half detected", gapSet(0, 2, 4, 6, 8), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media := newFakeMedia(10, 25)
			p := newTestPipeline(t, media, &scriptedDetector{gaps: tt.gaps, pose: stillPose}, DefaultOptions())
			result, err := p.Run(context.Background(), request(t))
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			pr := result.Processing
			if pr.DetectionRate != tt.want {
				t.Errorf("expected rate %v, got %v", tt.want, pr.DetectionRate)
			}
			if float64(pr.FramesWithPose)/float64(pr.TotalFrames) != pr.DetectionRate {
				t.Errorf("rate %v does not match %d/%d", pr.DetectionRate, pr.FramesWithPose, pr.TotalFrames)
			}
		})
	}
}

func TestNoDetectionsDefaults(t *testing.T) {
	media := newFakeMedia(20, 30)
	all := make(map[int]bool)
	for i := 0; i < 20; i++ {
		all[i] = true
	}
	p := newTestPipeline(t, media, &scriptedDetector{gaps: all, pose: stillPose}, DefaultOptions())
	result, err := p.Run(context.Background(), request(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.MovementAnalysis.MovementType != analysis.Standing || result.MovementAnalysis.Intensity != 0 {
		t.Errorf("expected standing/0, got %+v", result.MovementAnalysis)
	}
	if result.Summary.MostActiveBodyPart != "none" || result.Summary.TotalSequences != 0 {
		t.Errorf("unexpected summary %+v", result.Summary)
	}
	if fr := result.MovementAnalysis.FrameRange; fr.Start != -1 || fr.End != -1 {
		t.Errorf("expected empty frame range, got %+v", fr)
	}
}

func TestDetectorErrorsBecomeGaps(t *testing.T) {
	media := newFakeMedia(30, 30)
	det := &scriptedDetector{failures: gapSet(5, 6, 7), pose: stillPose}
	p := newTestPipeline(t, media, det, DefaultOptions())

	result, err := p.Run(context.Background(), request(t))
	if err != nil {
		t.Fatalf("detector errors must not fail the run: %v", err)
	}
	if result.Processing.DetectorErrors != 3 {
		t.Errorf("expected 3 detector errors, got %d", result.Processing.DetectorErrors)
	}
	if result.Processing.FramesWithPose != 27 {
		t.Errorf("expected 27 frames with pose, got %d", result.Processing.FramesWithPose)
	}
}

func TestShortDecodeKeepsLength(t *testing.T) {
	media := newFakeMedia(50, 30)
	media.decoded = 45
	p := newTestPipeline(t, media, &scriptedDetector{pose: stillPose}, DefaultOptions())

	result, err := p.Run(context.Background(), request(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processing.TotalFrames != 50 || result.Processing.FramesWithPose != 45 {
		t.Errorf("expected 45/50, got %d/%d", result.Processing.FramesWithPose, result.Processing.TotalFrames)
	}
	if media.lastOutput().frames != 45 {
		t.Errorf("expected 45 written frames, got %d", media.lastOutput().frames)
	}
}

func TestRunCancellation(t *testing.T) {
	media := newFakeMedia(100, 30)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	det := &scriptedDetector{pose: stillPose, onDetect: func(i int) {
		if i == 10 {
			cancel()
		}
	}}
	p := newTestPipeline(t, media, det, DefaultOptions())

	_, err := p.Run(ctx, request(t))
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("expected RunError, got %v", err)
	}
	if re.Stage != StageProcessing {
		t.Errorf("expected processing stage, got %s", re.Stage)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	out := media.lastOutput()
	if !out.aborted || out.finished {
		t.Errorf("expected aborted output, got %+v", out)
	}
	if out.frames > 11 {
		t.Errorf("expected run to stop within a frame, wrote %d", out.frames)
	}
	if !det.closed || !media.lastSource().closed {
		t.Error("expected resources to be released")
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(m *fakeMedia)
		stage  Stage
		target error
	}{
		{"probe error", func(m *fakeMedia) { m.probeErr = errors.New("moov atom not found") }, StageLoading, nil},
		{"zero frames", func(m *fakeMedia) { m.info.FrameCount = 0 }, StageLoading, ErrNoFrames},
		{"nothing decoded", func(m *fakeMedia) { m.decoded = 0 }, StageProcessing, ErrNoFrames},
		{"write error", func(m *fakeMedia) { m.writeErrAt = 5 }, StageProcessing, nil},
		{"finish error", func(m *fakeMedia) { m.finishErr = errors.New("encoder crashed") }, StageEncoding, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media := newFakeMedia(20, 30)
			tt.setup(media)
			p := newTestPipeline(t, media, &scriptedDetector{pose: stillPose}, DefaultOptions())

			var stages []Stage
			req := request(t)
			req.OnStage = func(s Stage) { stages = append(stages, s) }
			result, err := p.Run(context.Background(), req)
			if result != nil {
				t.Error("expected no result on failure")
			}
			var re *RunError
			if !errors.As(err, &re) {
				t.Fatalf("expected RunError, got %v", err)
			}
			if re.Stage != tt.stage {
				t.Errorf("expected stage %s, got %s", tt.stage, re.Stage)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
			if stages[len(stages)-1] != StageFailed {
				t.Errorf("expected final stage failed, got %v", stages)
			}
			if len(media.outputs) > 0 {
				if out := media.lastOutput(); !out.aborted {
					t.Error("expected partial output to be discarded")
				}
			}
		})
	}
}

func TestDetectorOpenFailure(t *testing.T) {
	media := newFakeMedia(10, 30)
	p, err := New(zerolog.Nop(), media, func(ctx context.Context) (pose.Detector, error) {
		return nil, errors.New("model missing")
	}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), request(t))
	var re *RunError
	if !errors.As(err, &re) || re.Stage != StageLoading {
		t.Fatalf("expected loading RunError, got %v", err)
	}
	if !media.lastSource().closed {
		t.Error("expected source to be closed")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	media := newFakeMedia(10, 30)
	factory := func(ctx context.Context) (pose.Detector, error) { return nil, nil }

	zero := 0.0
	opts := DefaultOptions()
	opts.FPSOverride = &zero
	if _, err := New(zerolog.Nop(), media, factory, opts); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for zero fps, got %v", err)
	}

	opts = DefaultOptions()
	opts.Analysis.Thresholds.Walking = opts.Analysis.Thresholds.Standing
	if _, err := New(zerolog.Nop(), media, factory, opts); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for thresholds, got %v", err)
	}

	opts = DefaultOptions()
	opts.Overlay.MediumConfidence = 0.95
	if _, err := New(zerolog.Nop(), media, factory, opts); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for overlay, got %v", err)
	}

	if _, err := New(zerolog.Nop(), nil, factory, DefaultOptions()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for nil media, got %v", err)
	}
}

func TestFPSOverride(t *testing.T) {
	media := newFakeMedia(60, 30)
	fps := 15.0
	opts := DefaultOptions()
	opts.FPSOverride = &fps
	p := newTestPipeline(t, media, &scriptedDetector{pose: stillPose}, opts)

	result, err := p.Run(context.Background(), request(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.VideoInfo.FPS != 15 || result.Processing.TotalFrames != 30 {
		t.Errorf("expected 30 frames at 15 fps, got %d at %v", result.Processing.TotalFrames, result.VideoInfo.FPS)
	}
	if !media.lastSource().resample {
		t.Error("expected the source to resample")
	}
	if media.lastOutput().fps != 15 {
		t.Errorf("expected output at 15 fps, got %v", media.lastOutput().fps)
	}
}

func TestLandmarkDump(t *testing.T) {
	media := newFakeMedia(12, 24)
	p := newTestPipeline(t, media, &scriptedDetector{gaps: gapSet(2), pose: stillPose}, DefaultOptions())

	req := request(t)
	req.LandmarksPath = filepath.Join(t.TempDir(), "nested", "landmarks.json")
	first, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	seq, err := landmark.LoadFile(req.LandmarksPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if seq.Len() != 12 || seq.DetectedCount() != 11 || seq.FPS != 24 {
		t.Errorf("unexpected dump: %d frames, %d detected, %v fps", seq.Len(), seq.DetectedCount(), seq.FPS)
	}

	replayed, err := p.AnalyzeSequence(seq, req.LandmarksPath)
	if err != nil {
		t.Fatalf("AnalyzeSequence failed: %v", err)
	}
	if !reflect.DeepEqual(first.MovementAnalysis, replayed.MovementAnalysis) || first.RhythmAnalysis != replayed.RhythmAnalysis {
		t.Error("replayed analysis differs from the original run")
	}
	if replayed.Processing.DetectionRate != first.Processing.DetectionRate {
		t.Errorf("expected detection rate %v, got %v", first.Processing.DetectionRate, replayed.Processing.DetectionRate)
	}

	offline, err := AnalyzeLandmarks(zerolog.Nop(), DefaultOptions().Analysis, seq, req.LandmarksPath)
	if err != nil {
		t.Fatalf("AnalyzeLandmarks failed: %v", err)
	}
	if !reflect.DeepEqual(offline, replayed) {
		t.Error("AnalyzeLandmarks differs from AnalyzeSequence")
	}

	bad := DefaultOptions().Analysis
	bad.MinPeaks = 0
	if _, err := AnalyzeLandmarks(zerolog.Nop(), bad, seq, ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConcurrentRuns(t *testing.T) {
	media := newFakeMedia(40, 30)
	p, err := New(zerolog.Nop(), media, func(ctx context.Context) (pose.Detector, error) {
		return &scriptedDetector{pose: swayPose}, nil
	}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]*AnalysisResult, 4)
	errs := make([]error, 4)
	for i := range results {
		req := request(t)
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			results[i], errs[i] = p.Run(context.Background(), req)
		}(i, req)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	for i := 1; i < len(results); i++ {
		if !reflect.DeepEqual(results[0].MovementAnalysis, results[i].MovementAnalysis) {
			t.Errorf("run %d differs from run 0", i)
		}
	}
}

func TestRunErrorMessage(t *testing.T) {
	err := &RunError{Stage: StageEncoding, Err: errors.New("boom")}
	if err.Error() != "encoding stage failed: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
