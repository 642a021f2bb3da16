package ffmpeg

import "time"

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath string
	Duration time.Duration
	// Width and Height are the displayed size, after applying Rotation.
	// Decoded frames come out at this size since ffmpeg auto-rotates.
	Width      int
	Height     int
	Rotation   int
	FPS        float64
	FrameCount int
	// FrameCountExact is false when FrameCount was estimated from duration
	FrameCountExact bool
	Bitrate         int64
	VideoCodec      string
	HasAudio        bool
	AudioCodec      string
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// Default encoding settings
const (
	DefaultCRF        = 23
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
)

// ProgressFunc is a callback for progress updates during ffmpeg operations.
// Called periodically with progress information as the operation executes.
type ProgressFunc func(*Progress)

// Options configures the executor.
type Options struct {
	BinaryPath string `yaml:"binary_path"`
	ProbePath  string `yaml:"ffprobe_path"`
	Threads    int    `yaml:"threads"`
	Preset     string `yaml:"preset"`
	CRF        int    `yaml:"crf"`
	VideoCodec string `yaml:"video_codec"`
	// Faststart remuxes finished outputs with the index at the front.
	Faststart bool `yaml:"faststart"`
}

// DefaultOptions returns options that find ffmpeg and ffprobe on PATH.
func DefaultOptions() Options {
	return Options{
		BinaryPath: "ffmpeg",
		ProbePath:  "ffprobe",
		Preset:     DefaultPreset,
		CRF:        DefaultCRF,
		VideoCodec: DefaultVideoCodec,
		Faststart:  true,
	}
}
