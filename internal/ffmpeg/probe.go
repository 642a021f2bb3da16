package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"

	"github.com/keagan/movescope/pkg/util"
)

// ErrNoVideoStream is returned when a container has no video stream.
var ErrNoVideoStream = errors.New("no video stream found")

// ProbeVideo extracts metadata from a video file
func (e *Executor) ProbeVideo(ctx context.Context, filePath string) (*VideoInfo, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbe(filePath, output)
}

func parseProbe(filePath string, output []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{
		FilePath: filePath,
	}

	// Parse duration
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}

	// Parse bitrate
	if br, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	foundVideo := false
	for _, stream := range probe.Streams {
		if stream.CodecType == "video" && !foundVideo {
			foundVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.VideoCodec = stream.CodecName
			info.Rotation = streamRotation(stream.SideDataList, stream.Tags.Rotate)
			if info.Rotation == 90 || info.Rotation == 270 {
				info.Width, info.Height = info.Height, info.Width
			}

			// Prefer the average rate; r_frame_rate is a timebase guess for VFR input
			info.FPS = util.ParseFrameRate(stream.AvgFrameRate)
			if info.FPS <= 0 {
				info.FPS = util.ParseFrameRate(stream.RFrameRate)
			}

			if n, err := strconv.Atoi(stream.NbFrames); err == nil && n > 0 {
				info.FrameCount = n
				info.FrameCountExact = true
			}
			if info.Duration == 0 {
				if dur, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
					info.Duration = time.Duration(dur * float64(time.Second))
				}
			}
		} else if stream.CodecType == "audio" {
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
		}
	}

	if !foundVideo {
		return nil, fmt.Errorf("%s: %w", filePath, ErrNoVideoStream)
	}

	if info.FrameCount == 0 {
		info.FrameCount = EstimateFrameCount(info.Duration, info.FPS)
	}

	return info, nil
}

// streamRotation normalizes the display rotation to 0, 90, 180 or 270.
// Display matrix side data wins over the legacy rotate tag.
func streamRotation(sideData []probeSideData, tag string) int {
	deg := 0.0
	found := false
	for _, sd := range sideData {
		if sd.Rotation != nil {
			deg, found = *sd.Rotation, true
			break
		}
	}
	if !found && tag != "" {
		if v, err := strconv.ParseFloat(tag, 64); err == nil {
			deg = v
		}
	}
	r := int(math.Round(deg/90)) * 90 % 360
	if r < 0 {
		r += 360
	}
	return r
}

// EstimateFrameCount rounds duration × fps to whole frames.
func EstimateFrameCount(d time.Duration, fps float64) int {
	if d <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * fps))
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []probeSideData `json:"side_data_list"`
	} `json:"streams"`
}

type probeSideData struct {
	Rotation *float64 `json:"rotation"`
}
