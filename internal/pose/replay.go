package pose

import (
	"context"
	"fmt"

	"github.com/keagan/movescope/internal/landmark"
	"github.com/rs/zerolog"
)

// ReplayDetector serves poses from a saved landmark dump, keyed by
// frame index. It lets an analysis be re-run without inference.
type ReplayDetector struct {
	logger zerolog.Logger
	seq    *landmark.Sequence
}

// NewReplayDetector loads the dump at path.
func NewReplayDetector(logger zerolog.Logger, path string) (*ReplayDetector, error) {
	seq, err := landmark.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load landmark dump: %w", err)
	}
	logger = logger.With().Str("component", "pose-replay").Logger()
	logger.Info().
		Str("path", path).
		Int("frames", seq.Len()).
		Int("detected", seq.DetectedCount()).
		Msg("landmark dump loaded")
	return &ReplayDetector{logger: logger, seq: seq}, nil
}

// Detect returns the stored pose for f.Index. Frames past the end of the
// dump have no pose.
func (r *ReplayDetector) Detect(ctx context.Context, f Frame) (*landmark.Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Index < 0 || f.Index >= r.seq.Len() {
		return nil, nil
	}
	pf := r.seq.Frame(f.Index)
	if pf.Pose == nil {
		return nil, nil
	}
	p := *pf.Pose
	return &p, nil
}

// FPS is the frame rate recorded in the dump.
func (r *ReplayDetector) FPS() float64 {
	return r.seq.FPS
}

// Close is a no-op.
func (r *ReplayDetector) Close() error {
	return nil
}
