package landmark

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type dumpFile struct {
	FPS         float64     `json:"fps"`
	TotalFrames int         `json:"total_frames"`
	Frames      []dumpFrame `json:"frames"`
}

type dumpFrame struct {
	Index     int        `json:"index"`
	Timestamp float64    `json:"timestamp"`
	Landmarks []Landmark `json:"landmarks,omitempty"`
}

// WriteJSON serializes the sequence. Gap frames are written without landmarks.
func (s *Sequence) WriteJSON(w io.Writer) error {
	out := dumpFile{
		FPS:         s.FPS,
		TotalFrames: len(s.frames),
		Frames:      make([]dumpFrame, len(s.frames)),
	}
	for i, f := range s.frames {
		out.Frames[i] = dumpFrame{Index: f.Index, Timestamp: f.Timestamp}
		if f.Pose != nil {
			out.Frames[i].Landmarks = f.Pose[:]
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ReadJSON parses a sequence written by WriteJSON. Frames missing from the
// document stay as gaps.
func ReadJSON(r io.Reader) (*Sequence, error) {
	var in dumpFile
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode landmark dump: %w", err)
	}
	total := in.TotalFrames
	for _, f := range in.Frames {
		if f.Index+1 > total {
			total = f.Index + 1
		}
	}

	seq := NewSequence(total, in.FPS)
	for _, f := range in.Frames {
		if f.Index < 0 {
			return nil, fmt.Errorf("negative frame index %d", f.Index)
		}
		seq.frames[f.Index].Timestamp = f.Timestamp
		if len(f.Landmarks) == 0 {
			continue
		}
		pose, err := PoseFromSlice(f.Landmarks)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", f.Index, err)
		}
		seq.frames[f.Index].Pose = pose
	}
	return seq, nil
}

// SaveFile writes the sequence to path.
func (s *Sequence) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a sequence from path.
func LoadFile(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}
