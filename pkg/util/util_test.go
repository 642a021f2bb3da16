package util

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00.000"},
		{1500 * time.Millisecond, "00:00:01.500"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03.000"},
		{59999600 * time.Microsecond, "00:01:00.000"},
		{-time.Second, "00:00:00.000"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"45.5", 45500 * time.Millisecond, false},
		{"01:30", 90 * time.Second, false},
		{"1:00:02", time.Hour + 2*time.Second, false},
		{" 2:05.25 ", 2*time.Minute + 5250*time.Millisecond, false},
		{"a:b", 0, true},
		{"1:2:3:4", 0, true},
		{"1:75", 0, true},
		{"1.5:00", 0, true},
		{"-3", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("ParseTimestamp(%q) error %v does not wrap ErrInvalidTimestamp", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFrameRate(t *testing.T) {
	if got := ParseFrameRate("30000/1001"); got < 29.97 || got > 29.98 {
		t.Errorf("expected ~29.97, got %v", got)
	}
	if got := ParseFrameRate("25"); got != 25 {
		t.Errorf("expected 25 for a bare rate, got %v", got)
	}
	for _, bad := range []string{"0/0", "30/0", "x/1", ""} {
		if got := ParseFrameRate(bad); got != 0 {
			t.Errorf("ParseFrameRate(%q) = %v, want 0", bad, got)
		}
	}
}

func TestPaths(t *testing.T) {
	if got := SiblingPath("out", "thumb_", "/in/take.2.mov", ".jpg"); got != filepath.Join("out", "thumb_take.2.jpg") {
		t.Errorf("SiblingPath = %q", got)
	}
	want := filepath.Join("out", "analyzed_clip.mp4")
	if got := SiblingPath("out", "analyzed_", "/in/clip.mov", ".mp4"); got != want {
		t.Errorf("SiblingPath = %q, want %q", got, want)
	}
	dir := filepath.Join(t.TempDir(), "x", "y")
	if err := EnsureDir(dir); err != nil || !FileExists(dir) {
		t.Errorf("EnsureDir failed: %v", err)
	}
}
