package analysis

import (
	"math"

	"github.com/keagan/movescope/internal/landmark"
)

// Sample is one frame-to-frame velocity. Valid is false when either frame
// of the transition was a detection gap.
type Sample struct {
	Value float64
	Valid bool
}

var allIndices = func() []int {
	idx := make([]int, landmark.Count)
	for i := range idx {
		idx[i] = i
	}
	return idx
}()

// Velocities returns the mean displacement of all landmarks between
// consecutive frames. The result is one shorter than the sequence.
func Velocities(seq *landmark.Sequence) []Sample {
	return transitions(seq, func(a, b *landmark.Pose) (float64, bool) {
		return meanDisplacement(a, b, allIndices)
	})
}

// RegionVelocities is Velocities averaged over indices only. Visibility is
// not consulted, matching Velocities.
func RegionVelocities(seq *landmark.Sequence, indices []int) []Sample {
	return transitions(seq, func(a, b *landmark.Pose) (float64, bool) {
		return meanDisplacement(a, b, indices)
	})
}

func transitions(seq *landmark.Sequence, fn func(a, b *landmark.Pose) (float64, bool)) []Sample {
	frames := seq.Frames()
	if len(frames) < 2 {
		return nil
	}
	out := make([]Sample, len(frames)-1)
	for i := 1; i < len(frames); i++ {
		prev, cur := frames[i-1].Pose, frames[i].Pose
		if prev == nil || cur == nil {
			continue
		}
		v, ok := fn(prev, cur)
		out[i-1] = Sample{Value: v, Valid: ok}
	}
	return out
}

func meanDisplacement(a, b *landmark.Pose, indices []int) (float64, bool) {
	if len(indices) == 0 {
		return 0, false
	}
	var sum float64
	for _, i := range indices {
		sum += math.Hypot(b[i].X-a[i].X, b[i].Y-a[i].Y)
	}
	return sum / float64(len(indices)), true
}

// ValidValues returns the values of the valid samples in order.
func ValidValues(samples []Sample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Valid {
			out = append(out, s.Value)
		}
	}
	return out
}
