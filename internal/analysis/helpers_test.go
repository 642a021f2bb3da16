package analysis

import (
	"math"

	"github.com/keagan/movescope/internal/landmark"
)

func standingPose() *landmark.Pose {
	var p landmark.Pose
	for i := range p {
		p[i] = landmark.Landmark{X: 0.5, Y: 0.5, Visibility: 0.9}
	}
	return &p
}

// oscillatingSequence moves every landmark in indices by step along x,
// alternating direction, so each transition has displacement step for
// those landmarks.
func oscillatingSequence(frames int, step float64, indices []int) *landmark.Sequence {
	seq := landmark.NewSequence(frames, 30)
	for i := 0; i < frames; i++ {
		p := standingPose()
		if i%2 == 1 {
			for _, idx := range indices {
				p[idx].X += step
			}
		}
		seq.Set(i, p)
	}
	return seq
}

func constantSamples(n int, v float64) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{Value: v, Valid: true}
	}
	return out
}

var jitterPattern = []int{0, 1, -1, 1, -1, 1, -1, 1, -1, 1, -1, 1, -1, 1, -1, 1, -1, 0}

// pulseTrain builds a velocity signal with one pulse per beat. Beat i is
// shifted by jitterPattern[i]*jitter frames.
func pulseTrain(n, period, jitter int) []Sample {
	out := constantSamples(n, 0.01)
	for i, j := range jitterPattern {
		pos := 10 + i*period + j*jitter
		if pos >= n {
			break
		}
		out[pos].Value = 0.05
	}
	return out
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
