package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/keagan/movescope/internal/analysis"
	"github.com/keagan/movescope/internal/ffmpeg"
	"github.com/keagan/movescope/internal/landmark"
	"github.com/keagan/movescope/internal/overlays"
	"github.com/keagan/movescope/internal/pose"
	"github.com/keagan/movescope/internal/progress"
	"github.com/rs/zerolog"
)

// DetectorFactory opens a detector for one run. Detectors may carry
// tracking state, so runs never share one.
type DetectorFactory func(ctx context.Context) (pose.Detector, error)

// Pipeline turns a video into an AnalysisResult and an overlaid copy. It
// holds no per-run state and may serve concurrent runs.
type Pipeline struct {
	logger    zerolog.Logger
	opts      Options
	media     Media
	detectors DetectorFactory
	analyzer  *analysis.Analyzer
}

// New validates opts and returns a pipeline.
func New(logger zerolog.Logger, media Media, detectors DetectorFactory, opts Options) (*Pipeline, error) {
	if media == nil {
		return nil, fmt.Errorf("%w: media is required", ErrInvalidConfig)
	}
	if detectors == nil {
		return nil, fmt.Errorf("%w: detector factory is required", ErrInvalidConfig)
	}
	if opts.FPSOverride != nil && *opts.FPSOverride <= 0 {
		return nil, fmt.Errorf("%w: frame rate override must be positive, got %v", ErrInvalidConfig, *opts.FPSOverride)
	}
	if err := opts.Overlay.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	analyzer, err := analysis.New(logger, opts.Analysis)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Pipeline{
		logger:    logger.With().Str("component", "pipeline").Logger(),
		opts:      opts,
		media:     media,
		detectors: detectors,
		analyzer:  analyzer,
	}, nil
}

// run is the state owned by a single execution.
type run struct {
	p        *Pipeline
	req      Request
	logger   zerolog.Logger
	sink     progress.Sink
	stage    Stage
	info     VideoInfo
	source   Source
	output   Output
	detector pose.Detector
	renderer *overlays.Renderer
	seq      *landmark.Sequence
	stats    ProcessingStats
}

// Run executes one request. Cancelling ctx stops the run at the next
// frame boundary; the returned error is then a *RunError wrapping
// ctx.Err(). Any failure removes the partial output.
func (p *Pipeline) Run(ctx context.Context, req Request) (*AnalysisResult, error) {
	if req.Input == "" || req.Output == "" {
		return nil, &RunError{Stage: StageLoading, Err: fmt.Errorf("input and output paths are required")}
	}
	sink := req.Progress
	if sink == nil {
		sink = progress.Nop
	}
	logger := p.logger
	if req.ID != "" {
		logger = logger.With().Str("run", req.ID).Logger()
	}

	r := &run{p: p, req: req, logger: logger, sink: sink}
	start := time.Now()

	result, err := r.execute(ctx)
	r.release()
	if err != nil {
		r.setStage(StageFailed)
		logger.Error().Err(err).Str("input", req.Input).Msg("run failed")
		return nil, err
	}

	r.setStage(StageDone)
	r.sink.Report(1, "Processing complete!")
	logger.Info().
		Str("output", req.Output).
		Int("frames", result.Processing.TotalFrames).
		Float64("detection_rate", result.Processing.DetectionRate).
		Str("movement", string(result.MovementAnalysis.MovementType)).
		Dur("elapsed", time.Since(start)).
		Msg("run complete")
	return result, nil
}

func (r *run) execute(ctx context.Context) (*AnalysisResult, error) {
	if err := r.load(ctx); err != nil {
		return nil, r.fail(err)
	}
	if err := r.process(ctx); err != nil {
		return nil, r.fail(err)
	}
	result, err := r.analyze()
	if err != nil {
		return nil, r.fail(err)
	}
	if err := r.encode(ctx); err != nil {
		return nil, r.fail(err)
	}
	return result, nil
}

func (r *run) setStage(s Stage) {
	r.stage = s
	if r.req.OnStage != nil {
		r.req.OnStage(s)
	}
	r.logger.Debug().Str("stage", string(s)).Msg("stage changed")
}

// fail discards partial output and tags err with the current stage.
func (r *run) fail(err error) error {
	if r.output != nil {
		r.output.Abort()
		r.output = nil
	}
	var re *RunError
	if errors.As(err, &re) {
		return err
	}
	return &RunError{Stage: r.stage, Err: err}
}

// release closes the source and detector. The output is either finished
// or aborted by then.
func (r *run) release() {
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("source close")
		}
		r.source = nil
	}
	if r.detector != nil {
		if err := r.detector.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("detector close failed")
		}
		r.detector = nil
	}
}

func (r *run) load(ctx context.Context) error {
	r.setStage(StageLoading)
	r.sink.Report(0, "Loading video...")

	info, err := r.p.media.Probe(ctx, r.req.Input)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	resample := false
	if fps := r.p.opts.FPSOverride; fps != nil {
		if *fps != info.FPS && info.Duration > 0 {
			resample = true
			info.FrameCount = ffmpeg.EstimateFrameCount(time.Duration(info.Duration*float64(time.Second)), *fps)
		}
		info.FPS = *fps
	}
	if info.FrameCount <= 0 {
		return ErrNoFrames
	}
	if info.FPS <= 0 {
		return fmt.Errorf("video reports frame rate %v", info.FPS)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return fmt.Errorf("video reports size %dx%d", info.Width, info.Height)
	}
	r.info = info

	r.logger.Info().
		Str("input", r.req.Input).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Int("frames", info.FrameCount).
		Bool("resample", resample).
		Msg("video loaded")

	if r.source, err = r.p.media.OpenSource(ctx, r.req.Input, info, resample); err != nil {
		return fmt.Errorf("failed to start decoder: %w", err)
	}
	if r.detector, err = r.p.detectors(ctx); err != nil {
		return fmt.Errorf("failed to open pose detector: %w", err)
	}
	if r.renderer, err = overlays.New(r.p.opts.Overlay); err != nil {
		return err
	}
	if r.output, err = r.p.media.CreateOutput(ctx, r.req.Output, info); err != nil {
		return fmt.Errorf("failed to create output video: %w", err)
	}

	r.seq = landmark.NewSequence(info.FrameCount, info.FPS)
	r.stats.OutputPath = r.req.Output
	return nil
}

// process runs the single decode, detect, draw, encode pass.
func (r *run) process(ctx context.Context) error {
	r.setStage(StageProcessing)

	total := r.info.FrameCount
	frame := image.NewRGBA(image.Rect(0, 0, r.info.Width, r.info.Height))
	status := &overlays.Status{Total: total, FPS: r.info.FPS}

	decoded := 0
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.source.Next(frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to decode frame %d: %w", i, err)
		}
		decoded++

		pf := r.seq.Frame(i)
		p, err := r.detector.Detect(ctx, pose.Frame{Index: i, Timestamp: pf.Timestamp, Image: frame})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.stats.DetectorErrors++
			r.logger.Warn().Err(err).Int("frame", i).Msg("pose detection failed, recording gap")
			p = nil
		}
		if p != nil {
			if err := r.seq.Set(i, p); err != nil {
				return err
			}
			pf = r.seq.Frame(i)
		}

		status.Frame = i
		r.renderer.Draw(frame, pf, status)
		if err := r.output.WriteFrame(frame); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", i, err)
		}

		r.logger.Trace().Int("frame", i).Bool("pose", p != nil).Msg("frame processed")
		r.sink.Report(float64(i+1)/float64(total), fmt.Sprintf("Processing frame %d/%d", i+1, total))
	}

	if decoded == 0 {
		return ErrNoFrames
	}
	if decoded < total {
		r.logger.Warn().
			Int("expected", total).
			Int("decoded", decoded).
			Msg("decoder delivered fewer frames than reported, trailing frames kept as gaps")
	}
	return nil
}

func (r *run) analyze() (*AnalysisResult, error) {
	r.setStage(StageAnalyzing)
	r.sink.Report(1, "Analyzing movements...")

	report, err := r.p.analyzer.Analyze(r.seq)
	if err != nil {
		return nil, err
	}
	result := BuildResult(r.seq, report, r.stats, r.info)

	if r.req.LandmarksPath != "" {
		if err := r.dumpLandmarks(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *run) dumpLandmarks() error {
	if err := os.MkdirAll(filepath.Dir(r.req.LandmarksPath), 0755); err != nil {
		return fmt.Errorf("failed to create landmark directory: %w", err)
	}
	if err := r.seq.SaveFile(r.req.LandmarksPath); err != nil {
		return fmt.Errorf("failed to write landmarks: %w", err)
	}
	r.logger.Debug().Str("path", r.req.LandmarksPath).Msg("landmarks written")
	return nil
}

func (r *run) encode(ctx context.Context) error {
	r.setStage(StageEncoding)
	r.sink.Report(1, "Finalizing video...")

	out := r.output
	r.output = nil
	if err := out.Finish(ctx); err != nil {
		out.Abort()
		return fmt.Errorf("failed to finalize output video: %w", err)
	}
	return nil
}

// AnalyzeSequence runs the analysis passes on an existing sequence, with
// no video involved.
func (p *Pipeline) AnalyzeSequence(seq *landmark.Sequence, source string) (*AnalysisResult, error) {
	return analyzeSequence(p.analyzer, seq, source)
}

// AnalyzeLandmarks is AnalyzeSequence without a pipeline, for callers
// that have a landmark dump but no media toolchain.
func AnalyzeLandmarks(logger zerolog.Logger, cfg analysis.Config, seq *landmark.Sequence, source string) (*AnalysisResult, error) {
	analyzer, err := analysis.New(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return analyzeSequence(analyzer, seq, source)
}

func analyzeSequence(analyzer *analysis.Analyzer, seq *landmark.Sequence, source string) (*AnalysisResult, error) {
	report, err := analyzer.Analyze(seq)
	if err != nil {
		return nil, &RunError{Stage: StageAnalyzing, Err: err}
	}
	info := VideoInfo{Path: source, FPS: seq.FPS, FrameCount: seq.Len()}
	if seq.FPS > 0 {
		info.Duration = float64(seq.Len()) / seq.FPS
	}
	return BuildResult(seq, report, ProcessingStats{}, info), nil
}
