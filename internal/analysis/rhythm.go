package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Rhythm is the periodicity estimate for a clip. BPM and Consistency are
// zero when HasRhythm is false.
type Rhythm struct {
	HasRhythm   bool
	BPM         float64
	Consistency float64
	// Peaks are velocity-sample indices of the detected beats.
	Peaks []int
}

// DetectRhythm finds evenly spaced velocity peaks. Interior gaps are
// bridged by linear interpolation and leading or trailing gaps are
// dropped, so peak indices refer to the original sample positions.
func DetectRhythm(samples []Sample, fps float64, cfg Config) Rhythm {
	series, offset := bridgeGaps(samples)
	if fps <= 0 || len(series) < cfg.MinRhythmSamples {
		return Rhythm{}
	}

	smoothed := movingAverage(series, cfg.SmoothingWindow)
	floor := percentile(smoothed, cfg.NoisePercentile)

	minSpacing := int(math.Round(cfg.MinBeatInterval * fps))
	if minSpacing < 1 {
		minSpacing = 1
	}
	peaks := findPeaks(smoothed, floor, minSpacing)
	if len(peaks) < cfg.MinPeaks {
		return Rhythm{}
	}

	intervals := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals[i-1] = float64(peaks[i] - peaks[i-1])
	}
	mean, std := stat.PopMeanStdDev(intervals, nil)
	if mean <= 0 {
		return Rhythm{}
	}

	for i := range peaks {
		peaks[i] += offset
	}
	return Rhythm{
		HasRhythm:   true,
		BPM:         60 * fps / mean,
		Consistency: clampScore(100 * (1 - std/mean)),
		Peaks:       peaks,
	}
}

// bridgeGaps returns the valid span of samples with interior gaps filled
// by linear interpolation, and the index of the first valid sample.
func bridgeGaps(samples []Sample) ([]float64, int) {
	first, last := -1, -1
	for i, s := range samples {
		if s.Valid {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil, 0
	}

	out := make([]float64, last-first+1)
	prev := first
	for i := first; i <= last; i++ {
		if !samples[i].Valid {
			continue
		}
		out[i-first] = samples[i].Value
		if gap := i - prev; gap > 1 {
			a, b := samples[prev].Value, samples[i].Value
			for k := 1; k < gap; k++ {
				out[prev-first+k] = a + (b-a)*float64(k)/float64(gap)
			}
		}
		prev = i
	}
	return out, first
}

// movingAverage is a centred mean of width w that shrinks at the edges so
// the output has the same length as the input.
func movingAverage(x []float64, w int) []float64 {
	if w <= 1 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}
	half := w / 2
	out := make([]float64, len(x))
	for i := range x {
		lo, hi := i-half, i+half
		if w%2 == 0 {
			hi--
		}
		if lo < 0 {
			lo = 0
		}
		if hi > len(x)-1 {
			hi = len(x) - 1
		}
		out[i] = stat.Mean(x[lo:hi+1], nil)
	}
	return out
}

func percentile(x []float64, p float64) float64 {
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// findPeaks returns local maxima above floor. A plateau reports its first
// sample. Peaks closer than minSpacing keep only the larger one.
func findPeaks(x []float64, floor float64, minSpacing int) []int {
	var peaks []int
	for i := 1; i+1 < len(x); i++ {
		if !(x[i] > x[i-1] && x[i] >= x[i+1] && x[i] > floor) {
			continue
		}
		if n := len(peaks); n > 0 && i-peaks[n-1] < minSpacing {
			if x[i] > x[peaks[n-1]] {
				peaks[n-1] = i
			}
			continue
		}
		peaks = append(peaks, i)
	}
	return peaks
}
