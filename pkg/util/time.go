package util

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned by ParseTimestamp for malformed input.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// FormatDuration renders d as an ffmpeg HH:MM:SS.mmm position. Negative
// durations clamp to zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Round(time.Millisecond).Milliseconds()
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// ParseTimestamp accepts SS.mmm, MM:SS.mmm or HH:MM:SS.mmm. Only the last
// field may carry a fraction, and fields after the first must be below 60.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		last := i == len(parts)-1
		if !last && v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		total = total*60 + v
	}
	return time.Duration(math.Round(total * float64(time.Second))), nil
}

// ParseFrameRate reads an ffprobe rate such as "30000/1001" or "25".
// Unknown rates ("0/0") and garbage give 0.
func ParseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return n / d
}
