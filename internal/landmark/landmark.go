package landmark

import (
	"errors"
	"fmt"
)

// Count is the number of landmarks in a full-body pose.
const Count = 33

// ErrWrongLandmarkCount is returned when a pose does not carry exactly Count landmarks.
var ErrWrongLandmarkCount = errors.New("pose must have exactly 33 landmarks")

// Landmark is a single tracked body point. X and Y are normalized to the
// frame size, Z is a relative depth estimate.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Pose is the full set of landmarks for one detected person.
type Pose [Count]Landmark

// PoseFromSlice copies lms into a Pose.
func PoseFromSlice(lms []Landmark) (*Pose, error) {
	if len(lms) != Count {
		return nil, fmt.Errorf("%w: got %d", ErrWrongLandmarkCount, len(lms))
	}
	var p Pose
	copy(p[:], lms)
	return &p, nil
}

// Confidence is the mean visibility across all landmarks.
func (p *Pose) Confidence() float64 {
	var sum float64
	for _, lm := range p {
		sum += lm.Visibility
	}
	return sum / Count
}

// TorsoCentroidY averages the y-coordinate of both shoulders and hips.
func (p *Pose) TorsoCentroidY() float64 {
	return (p[LeftShoulder].Y + p[RightShoulder].Y + p[LeftHip].Y + p[RightHip].Y) / 4
}

// PoseFrame is the detector output for one video frame. A nil Pose marks a gap.
type PoseFrame struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
	Pose      *Pose   `json:"landmarks"`
}

// Detected reports whether the detector returned a usable pose.
func (f PoseFrame) Detected() bool {
	return f.Pose != nil
}

// Sequence is the per-frame pose history of one video. Its length is fixed
// when created; frames that never receive a pose stay as gaps.
type Sequence struct {
	FPS    float64
	frames []PoseFrame
}

// NewSequence allocates total gap frames with timestamps derived from fps.
func NewSequence(total int, fps float64) *Sequence {
	if total < 0 {
		total = 0
	}
	frames := make([]PoseFrame, total)
	for i := range frames {
		frames[i].Index = i
		if fps > 0 {
			frames[i].Timestamp = float64(i) / fps
		}
	}
	return &Sequence{FPS: fps, frames: frames}
}

// Set records the pose for frame i. A nil pose keeps the frame as a gap.
func (s *Sequence) Set(i int, pose *Pose) error {
	if i < 0 || i >= len(s.frames) {
		return fmt.Errorf("frame index %d out of range [0,%d)", i, len(s.frames))
	}
	s.frames[i].Pose = pose
	return nil
}

// Len returns the declared frame count.
func (s *Sequence) Len() int {
	return len(s.frames)
}

// Frame returns frame i.
func (s *Sequence) Frame(i int) PoseFrame {
	return s.frames[i]
}

// Frames returns the underlying frames. Callers must not modify them.
func (s *Sequence) Frames() []PoseFrame {
	return s.frames
}

// DetectedCount returns the number of frames with a pose.
func (s *Sequence) DetectedCount() int {
	n := 0
	for _, f := range s.frames {
		if f.Detected() {
			n++
		}
	}
	return n
}

// MeanConfidence averages Pose.Confidence over detected frames, 0 if none.
func (s *Sequence) MeanConfidence() float64 {
	var sum float64
	n := 0
	for _, f := range s.frames {
		if f.Detected() {
			sum += f.Pose.Confidence()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// DetectedRange returns the first and last frame indices with a pose,
// or -1, -1 when there are none.
func (s *Sequence) DetectedRange() (first, last int) {
	first, last = -1, -1
	for _, f := range s.frames {
		if !f.Detected() {
			continue
		}
		if first < 0 {
			first = f.Index
		}
		last = f.Index
	}
	return first, last
}
