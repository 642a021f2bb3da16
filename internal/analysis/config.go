package analysis

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid analysis config")

// Thresholds are the velocity band edges, in normalized distance per frame.
type Thresholds struct {
	Standing float64 `yaml:"standing"`
	Walking  float64 `yaml:"walking"`
	Dancing  float64 `yaml:"dancing"`
	Jumping  float64 `yaml:"jumping"`
}

// Config holds every tunable used by the scorers. It is passed by value and
// never mutated after construction.
type Config struct {
	Thresholds Thresholds `yaml:"thresholds"`

	// Crouching: torso centroid y above CrouchHeight (lower in the image)
	// for more than CrouchMajority of detected frames.
	CrouchHeight   float64 `yaml:"crouch_height"`
	CrouchMajority float64 `yaml:"crouch_majority"`

	JerkScale         float64 `yaml:"jerk_scale"`
	NeutralSmoothness float64 `yaml:"neutral_smoothness"`

	SmoothingWindow  int     `yaml:"smoothing_window"`
	NoisePercentile  float64 `yaml:"noise_percentile"`
	MinPeaks         int     `yaml:"min_peaks"`
	MinBeatInterval  float64 `yaml:"min_beat_interval"`
	MinRhythmSamples int     `yaml:"min_rhythm_samples"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			Standing: 0.01,
			Walking:  0.03,
			Dancing:  0.06,
			Jumping:  0.12,
		},
		CrouchHeight:      0.65,
		CrouchMajority:    0.6,
		JerkScale:         0.005,
		NeutralSmoothness: 50,
		SmoothingWindow:   3,
		NoisePercentile:   0.7,
		MinPeaks:          3,
		MinBeatInterval:   0.25,
		MinRhythmSamples:  10,
	}
}

// Validate rejects contradictory or out-of-range settings.
func (c Config) Validate() error {
	t := c.Thresholds
	if t.Standing <= 0 {
		return fmt.Errorf("%w: standing threshold must be positive", ErrInvalidConfig)
	}
	if !(t.Standing < t.Walking && t.Walking < t.Dancing && t.Dancing < t.Jumping) {
		return fmt.Errorf("%w: velocity thresholds must be strictly increasing (got %v, %v, %v, %v)",
			ErrInvalidConfig, t.Standing, t.Walking, t.Dancing, t.Jumping)
	}
	if c.CrouchHeight <= 0 || c.CrouchHeight >= 1 {
		return fmt.Errorf("%w: crouch_height must be in (0,1)", ErrInvalidConfig)
	}
	if c.CrouchMajority <= 0 || c.CrouchMajority > 1 {
		return fmt.Errorf("%w: crouch_majority must be in (0,1]", ErrInvalidConfig)
	}
	if c.JerkScale <= 0 {
		return fmt.Errorf("%w: jerk_scale must be positive", ErrInvalidConfig)
	}
	if c.NeutralSmoothness < 0 || c.NeutralSmoothness > 100 {
		return fmt.Errorf("%w: neutral_smoothness must be in [0,100]", ErrInvalidConfig)
	}
	if c.SmoothingWindow < 1 {
		return fmt.Errorf("%w: smoothing_window must be at least 1", ErrInvalidConfig)
	}
	if c.NoisePercentile < 0 || c.NoisePercentile >= 1 {
		return fmt.Errorf("%w: noise_percentile must be in [0,1)", ErrInvalidConfig)
	}
	if c.MinPeaks < 2 {
		return fmt.Errorf("%w: min_peaks must be at least 2", ErrInvalidConfig)
	}
	if c.MinRhythmSamples < 3 {
		return fmt.Errorf("%w: min_rhythm_samples must be at least 3", ErrInvalidConfig)
	}
	if c.MinBeatInterval < 0 {
		return fmt.Errorf("%w: min_beat_interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
