package analysis

import "gonum.org/v1/gonum/floats"

// Jerk returns the second differences of velocity over every run of
// three consecutive valid samples.
func Jerk(samples []Sample) []float64 {
	var out []float64
	for i := 1; i+1 < len(samples); i++ {
		a, b, c := samples[i-1], samples[i], samples[i+1]
		if !a.Valid || !b.Valid || !c.Valid {
			continue
		}
		out = append(out, c.Value-2*b.Value+a.Value)
	}
	return out
}

// Smoothness maps mean absolute jerk to 0-100 as 100/(1+jerk/JerkScale).
// A still clip scores 100; a clip without three consecutive valid samples
// scores NeutralSmoothness.
func Smoothness(samples []Sample, cfg Config) float64 {
	jerk := Jerk(samples)
	if len(jerk) == 0 {
		return cfg.NeutralSmoothness
	}
	// L1 norm over the count is the mean absolute jerk.
	mean := floats.Norm(jerk, 1) / float64(len(jerk))
	return clampScore(100 / (1 + mean/cfg.JerkScale))
}
