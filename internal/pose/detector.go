package pose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/keagan/movescope/internal/landmark"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is wrapped by Config.Validate failures.
var ErrInvalidConfig = errors.New("invalid pose config")

// Frame is one decoded video frame handed to a detector.
type Frame struct {
	Index     int
	Timestamp float64
	Image     *image.RGBA
}

// Detector turns a frame into a pose. A nil pose with a nil error means
// nothing was detected.
type Detector interface {
	Detect(ctx context.Context, f Frame) (*landmark.Pose, error)
	Close() error
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, f Frame) (*landmark.Pose, error)

// Detect calls fn.
func (fn DetectorFunc) Detect(ctx context.Context, f Frame) (*landmark.Pose, error) {
	return fn(ctx, f)
}

// Close is a no-op.
func (fn DetectorFunc) Close() error {
	return nil
}

// Backends
const (
	BackendWorker = "worker"
	BackendONNX   = "onnx"
	BackendReplay = "replay"
)

// Config selects and configures a detector backend.
type Config struct {
	Backend string `yaml:"backend"`

	// 0 lite, 1 full, 2 heavy
	ModelComplexity        int     `yaml:"model_complexity"`
	MinDetectionConfidence float64 `yaml:"min_detection_confidence"`
	MinTrackingConfidence  float64 `yaml:"min_tracking_confidence"`

	WorkerCommand string        `yaml:"worker_command"`
	WorkerArgs    []string      `yaml:"worker_args"`
	FrameTimeout  time.Duration `yaml:"frame_timeout"`

	ModelPath   string `yaml:"model_path"`
	ModelDir    string `yaml:"model_dir"`
	LibraryPath string `yaml:"library_path"`
	InputSize   int    `yaml:"input_size"`

	ReplayPath string `yaml:"replay_path"`
}

// DefaultConfig returns the worker backend at full complexity.
func DefaultConfig() Config {
	return Config{
		Backend:                BackendWorker,
		ModelComplexity:        1,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
		WorkerCommand:          "models/run_pose_worker.sh",
		FrameTimeout:           5 * time.Second,
		ModelDir:               "./models",
		InputSize:              256,
	}
}

// Validate checks ranges and backend-specific requirements.
func (c Config) Validate() error {
	if c.ModelComplexity < 0 || c.ModelComplexity > 2 {
		return fmt.Errorf("%w: model_complexity must be 0, 1 or 2", ErrInvalidConfig)
	}
	if c.MinDetectionConfidence < 0 || c.MinDetectionConfidence > 1 {
		return fmt.Errorf("%w: min_detection_confidence must be in [0,1]", ErrInvalidConfig)
	}
	if c.MinTrackingConfidence < 0 || c.MinTrackingConfidence > 1 {
		return fmt.Errorf("%w: min_tracking_confidence must be in [0,1]", ErrInvalidConfig)
	}
	switch c.Backend {
	case BackendWorker:
		if c.WorkerCommand == "" {
			return fmt.Errorf("%w: worker_command is required", ErrInvalidConfig)
		}
	case BackendONNX:
		if c.ModelPath == "" && c.ModelDir == "" {
			return fmt.Errorf("%w: model_path or model_dir is required", ErrInvalidConfig)
		}
		if c.InputSize <= 0 {
			return fmt.Errorf("%w: input_size must be positive", ErrInvalidConfig)
		}
	case BackendReplay:
		if c.ReplayPath == "" {
			return fmt.Errorf("%w: replay_path is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	return nil
}

var modelFiles = [...]string{"pose_landmark_lite.onnx", "pose_landmark_full.onnx", "pose_landmark_heavy.onnx"}

// ResolvedModelPath returns ModelPath, or the model for ModelComplexity in ModelDir.
func (c Config) ResolvedModelPath() string {
	if c.ModelPath != "" {
		return c.ModelPath
	}
	return filepath.Join(c.ModelDir, modelFiles[c.ModelComplexity])
}

// Open builds the configured detector. The caller owns it and must Close it.
func Open(ctx context.Context, logger zerolog.Logger, cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		det Detector
		err error
	)
	switch cfg.Backend {
	case BackendONNX:
		det, err = NewONNXDetector(logger, cfg)
	case BackendReplay:
		det, err = NewReplayDetector(logger, cfg.ReplayPath)
	default:
		det, err = StartWorker(ctx, logger, cfg)
	}
	if err != nil {
		return nil, err
	}
	return det, nil
}
