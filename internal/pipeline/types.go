package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/keagan/movescope/internal/analysis"
	"github.com/keagan/movescope/internal/landmark"
	"github.com/keagan/movescope/internal/overlays"
	"github.com/keagan/movescope/internal/progress"
)

// Stage is a step of the run state machine.
type Stage string

const (
	StageLoading    Stage = "loading"
	StageProcessing Stage = "processing"
	StageAnalyzing  Stage = "analyzing"
	StageEncoding   Stage = "encoding"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

var (
	// ErrNoFrames is returned when the source reports no frames.
	ErrNoFrames = errors.New("video contains no frames")
	// ErrInvalidConfig is wrapped by construction failures.
	ErrInvalidConfig = errors.New("invalid pipeline config")
)

// RunError reports the stage at which a run failed.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Options configures a Pipeline. It is shared by every run.
type Options struct {
	Analysis analysis.Config
	Overlay  overlays.Config
	// FPSOverride replaces the probed frame rate when non-nil.
	FPSOverride *float64
}

// DefaultOptions returns the default analysis and overlay settings.
func DefaultOptions() Options {
	return Options{
		Analysis: analysis.DefaultConfig(),
		Overlay:  overlays.DefaultConfig(),
	}
}

// Request describes one run.
type Request struct {
	ID     string
	Input  string
	Output string
	// LandmarksPath, when set, receives the full landmark sequence as JSON.
	LandmarksPath string
	Progress      progress.Sink
	// OnStage is called on every state transition.
	OnStage func(Stage)
}

// VideoInfo describes the source clip.
type VideoInfo struct {
	Path       string  `json:"path"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Duration   float64 `json:"duration"`
}

// ProcessingStats covers the frame pass.
type ProcessingStats struct {
	TotalFrames    int     `json:"total_frames"`
	FramesWithPose int     `json:"frames_with_pose"`
	DetectionRate  float64 `json:"detection_rate"`
	DetectorErrors int     `json:"detector_errors"`
	OutputPath     string  `json:"output_path"`
}

// PoseAnalysis summarizes detection quality.
type PoseAnalysis struct {
	AverageConfidence float64 `json:"average_confidence"`
	KeypointsDetected int     `json:"keypoints_detected"`
}

// FrameRange is the first and last detected frame, -1 when none.
type FrameRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// MovementAnalysis is the movement part of a result.
type MovementAnalysis struct {
	MovementType     analysis.MovementType     `json:"movement_type"`
	Intensity        float64                   `json:"intensity"`
	Velocity         float64                   `json:"velocity"`
	BodyPartActivity analysis.BodyPartActivity `json:"body_part_activity"`
	FrameRange       FrameRange                `json:"frame_range"`
}

// RhythmAnalysis is the rhythm part of a result.
type RhythmAnalysis struct {
	HasRhythm         bool    `json:"has_rhythm"`
	EstimatedBPM      float64 `json:"estimated_bpm"`
	RhythmConsistency float64 `json:"rhythm_consistency"`
	PeakCount         int     `json:"peak_count"`
}

// Summary condenses the result for listings.
type Summary struct {
	TotalSequences       int                           `json:"total_sequences"`
	AverageIntensity     float64                       `json:"average_intensity"`
	MovementDistribution map[analysis.MovementType]int `json:"movement_distribution"`
	MostActiveBodyPart   string                        `json:"most_active_body_part"`
}

// AnalysisResult is the record produced by a successful run.
type AnalysisResult struct {
	VideoInfo        VideoInfo        `json:"video_info"`
	Processing       ProcessingStats  `json:"processing"`
	PoseAnalysis     PoseAnalysis     `json:"pose_analysis"`
	MovementAnalysis MovementAnalysis `json:"movement_analysis"`
	RhythmAnalysis   RhythmAnalysis   `json:"rhythm_analysis"`
	SmoothnessScore  float64          `json:"smoothness_score"`
	Summary          Summary          `json:"summary"`
}

// BuildResult assembles a result from a finished sequence and its report.
// It is shared by video runs and landmark-only runs.
func BuildResult(seq *landmark.Sequence, report *analysis.Report, stats ProcessingStats, info VideoInfo) *AnalysisResult {
	stats.TotalFrames = seq.Len()
	stats.FramesWithPose = seq.DetectedCount()
	if stats.TotalFrames > 0 {
		stats.DetectionRate = float64(stats.FramesWithPose) / float64(stats.TotalFrames)
	}

	first, last := seq.DetectedRange()
	m := report.Movement

	summary := Summary{
		MovementDistribution: map[analysis.MovementType]int{},
		MostActiveBodyPart:   "none",
	}
	if report.ValidSamples > 0 {
		summary.TotalSequences = 1
		summary.AverageIntensity = round(m.Intensity, 2)
		summary.MovementDistribution[m.MovementType] = 1
		if r := m.Activity.MostActive(); r != "" {
			summary.MostActiveBodyPart = string(r)
		}
	}

	return &AnalysisResult{
		VideoInfo:  info,
		Processing: stats,
		PoseAnalysis: PoseAnalysis{
			AverageConfidence: seq.MeanConfidence(),
			KeypointsDetected: stats.FramesWithPose,
		},
		MovementAnalysis: MovementAnalysis{
			MovementType:     m.MovementType,
			Intensity:        m.Intensity,
			Velocity:         m.MeanVelocity,
			BodyPartActivity: m.Activity,
			FrameRange:       FrameRange{Start: first, End: last},
		},
		RhythmAnalysis: RhythmAnalysis{
			HasRhythm:         report.Rhythm.HasRhythm,
			EstimatedBPM:      report.Rhythm.BPM,
			RhythmConsistency: report.Rhythm.Consistency,
			PeakCount:         len(report.Rhythm.Peaks),
		},
		SmoothnessScore: m.Smoothness,
		Summary:         summary,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
