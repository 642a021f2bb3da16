package analysis

import (
	"github.com/keagan/movescope/internal/landmark"
	"gonum.org/v1/gonum/stat"
)

// BodyPartActivity holds a 0-100 activity score per region.
type BodyPartActivity struct {
	Head     float64 `json:"head"`
	Torso    float64 `json:"torso"`
	LeftArm  float64 `json:"left_arm"`
	RightArm float64 `json:"right_arm"`
	LeftLeg  float64 `json:"left_leg"`
	RightLeg float64 `json:"right_leg"`
}

// Get returns the score for r.
func (a BodyPartActivity) Get(r landmark.Region) float64 {
	switch r {
	case landmark.Head:
		return a.Head
	case landmark.Torso:
		return a.Torso
	case landmark.LeftArm:
		return a.LeftArm
	case landmark.RightArm:
		return a.RightArm
	case landmark.LeftLeg:
		return a.LeftLeg
	case landmark.RightLeg:
		return a.RightLeg
	}
	return 0
}

func (a *BodyPartActivity) set(r landmark.Region, v float64) {
	switch r {
	case landmark.Head:
		a.Head = v
	case landmark.Torso:
		a.Torso = v
	case landmark.LeftArm:
		a.LeftArm = v
	case landmark.RightArm:
		a.RightArm = v
	case landmark.LeftLeg:
		a.LeftLeg = v
	case landmark.RightLeg:
		a.RightLeg = v
	}
}

// MostActive returns the region with the highest score. Ties resolve to
// the earlier region in landmark.Regions; an all-zero clip returns "".
func (a BodyPartActivity) MostActive() landmark.Region {
	var best landmark.Region
	bestScore := 0.0
	for _, r := range landmark.Regions {
		if s := a.Get(r); s > bestScore {
			best, bestScore = r, s
		}
	}
	return best
}

// ScoreActivity computes the per-region activity of seq on the same scale
// as the classifier intensity.
func ScoreActivity(seq *landmark.Sequence, cfg Config) BodyPartActivity {
	c := NewClassifier(cfg)
	var out BodyPartActivity
	for _, r := range landmark.Regions {
		values := ValidValues(RegionVelocities(seq, r.Indices()))
		if len(values) == 0 {
			continue
		}
		out.set(r, c.Intensity(stat.Mean(values, nil)))
	}
	return out
}
