// Package jobs tracks analysis runs: where their files live, how far they
// got and what they produced.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/keagan/movescope/internal/pipeline"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one submitted analysis.
type Job struct {
	ID            string                   `json:"id"`
	Filename      string                   `json:"filename"`
	InputPath     string                   `json:"input_path"`
	OutputPath    string                   `json:"output_path"`
	ResultsPath   string                   `json:"results_path"`
	LandmarksPath string                   `json:"landmarks_path,omitempty"`
	Status        Status                   `json:"status"`
	Stage         pipeline.Stage           `json:"stage,omitempty"`
	Progress      float64                  `json:"progress"`
	Message       string                   `json:"message"`
	Error         string                   `json:"error,omitempty"`
	Result        *pipeline.AnalysisResult `json:"result,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// Files returns every file the job may have produced.
func (j *Job) Files() []string {
	var files []string
	for _, f := range []string{j.OutputPath, j.ResultsPath, j.LandmarksPath} {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// Store persists jobs. Update applies fn to the current state atomically.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Job, error)
	Close() error
}
