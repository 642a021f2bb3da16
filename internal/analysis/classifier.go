package analysis

import (
	"github.com/keagan/movescope/internal/landmark"
	"gonum.org/v1/gonum/stat"
)

// MovementType is the whole-clip movement category.
type MovementType string

const (
	Standing  MovementType = "standing"
	Walking   MovementType = "walking"
	Dancing   MovementType = "dancing"
	Jumping   MovementType = "jumping"
	Crouching MovementType = "crouching"
)

// Classification is the classifier output for one clip.
type Classification struct {
	Type         MovementType
	Intensity    float64
	MeanVelocity float64
}

// Classifier maps a velocity signal and posture to a MovementType.
type Classifier struct {
	cfg Config
}

// NewClassifier returns a classifier bound to cfg.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify labels the whole clip. Posture overrides velocity when the
// crouch predicate holds. With no valid velocity samples the clip is
// Standing with zero intensity.
func (c *Classifier) Classify(samples []Sample, seq *landmark.Sequence) Classification {
	values := ValidValues(samples)
	if len(values) == 0 {
		return Classification{Type: Standing}
	}

	mean := stat.Mean(values, nil)
	out := Classification{
		Type:         c.VelocityBand(mean),
		Intensity:    c.Intensity(mean),
		MeanVelocity: mean,
	}
	if seq != nil && c.IsCrouching(seq) {
		out.Type = Crouching
	}
	return out
}

// VelocityBand applies the ordered threshold bands to a mean velocity.
// The band between Dancing and Jumping also reports Dancing.
func (c *Classifier) VelocityBand(mean float64) MovementType {
	t := c.cfg.Thresholds
	switch {
	case mean < t.Standing:
		return Standing
	case mean < t.Walking:
		return Walking
	case mean < t.Dancing:
		return Dancing
	case mean < t.Jumping:
		return Dancing
	default:
		return Jumping
	}
}

// Intensity scales a velocity linearly against the jumping threshold.
func (c *Classifier) Intensity(v float64) float64 {
	return clampScore(v / c.cfg.Thresholds.Jumping * 100)
}

// IsCrouching reports whether the torso centroid sits lower than
// CrouchHeight for more than CrouchMajority of detected frames.
func (c *Classifier) IsCrouching(seq *landmark.Sequence) bool {
	detected, low := 0, 0
	for _, f := range seq.Frames() {
		if !f.Detected() {
			continue
		}
		detected++
		if f.Pose.TorsoCentroidY() > c.cfg.CrouchHeight {
			low++
		}
	}
	if detected == 0 {
		return false
	}
	return float64(low)/float64(detected) > c.cfg.CrouchMajority
}
