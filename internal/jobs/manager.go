package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/movescope/internal/pipeline"
	"github.com/keagan/movescope/internal/progress"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Runner executes one pipeline request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.AnalysisResult, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	OutputDir   string
	Concurrency int
	// KeepLandmarks writes landmarks_<id>.json next to the results.
	KeepLandmarks bool
	// Progress throttling applied before any sink.
	MinInterval time.Duration
	Milestones  []float64
	Buffer      int
	// Sinks returns extra progress sinks for a job, or nil.
	Sinks func(jobID string) progress.Sink
}

// Manager submits pipeline runs with bounded concurrency and records
// their lifecycle in a Store.
type Manager struct {
	logger zerolog.Logger
	store  Store
	runner Runner
	opts   ManagerOptions
	sem    *semaphore.Weighted

	mu      sync.Mutex
	running map[string]*handle
	wg      sync.WaitGroup
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a manager writing into opts.OutputDir.
func NewManager(logger zerolog.Logger, store Store, runner Runner, opts ManagerOptions) (*Manager, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{
		logger:  logger.With().Str("component", "jobs").Logger(),
		store:   store,
		runner:  runner,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		running: make(map[string]*handle),
	}, nil
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

// Submit records a queued job for input and starts it in the background.
func (m *Manager) Submit(ctx context.Context, input string) (*Job, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("input not readable: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	job := &Job{
		ID:          id,
		Filename:    filepath.Base(input),
		InputPath:   input,
		OutputPath:  filepath.Join(m.opts.OutputDir, fmt.Sprintf("analyzed_%s.mp4", id)),
		ResultsPath: filepath.Join(m.opts.OutputDir, fmt.Sprintf("results_%s.json", id)),
		Status:      StatusQueued,
		Message:     "Queued",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if m.opts.KeepLandmarks {
		job.LandmarksPath = filepath.Join(m.opts.OutputDir, fmt.Sprintf("landmarks_%s.json", id))
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.running[id] = h
	m.mu.Unlock()

	m.logger.Info().Str("job", id).Str("input", input).Msg("job submitted")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(h.done)
		defer cancel()
		m.execute(runCtx, job.clone())
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
	}()

	return job, nil
}

// Run submits input and waits for the job to finish.
func (m *Manager) Run(ctx context.Context, input string) (*Job, error) {
	job, err := m.Submit(ctx, input)
	if err != nil {
		return nil, err
	}
	return m.Wait(ctx, job.ID)
}

// Wait blocks until the job leaves the running set and returns its final
// state. A ctx cancellation cancels the job too.
func (m *Manager) Wait(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	h, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-h.done:
		case <-ctx.Done():
			h.cancel()
			<-h.done
		}
	}
	return m.store.Get(context.WithoutCancel(ctx), id)
}

// Cancel stops a queued or running job at the next frame boundary.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	h, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not running", id)
	}
	h.cancel()
	m.logger.Info().Str("job", id).Msg("job cancellation requested")
	return nil
}

// Delete cancels the job if needed, removes its files and its record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	h, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		h.cancel()
		<-h.done
	}

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	removeFiles(m.logger, job)
	return m.store.Delete(ctx, id)
}

// Shutdown cancels every running job and waits for them to stop.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, h := range m.running {
		h.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) execute(ctx context.Context, job *Job) {
	logger := m.logger.With().Str("job", job.ID).Logger()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(job.ID, nil, &pipeline.RunError{Stage: pipeline.StageLoading, Err: err})
		return
	}
	defer m.sem.Release(1)

	m.update(job.ID, func(j *Job) error {
		j.Status = StatusProcessing
		j.Message = "Starting"
		return nil
	})

	sinks := progress.Multi{progress.Func(func(p float64, msg string) {
		m.update(job.ID, func(j *Job) error {
			j.Progress = p
			j.Message = msg
			return nil
		})
	})}
	if m.opts.Sinks != nil {
		if extra := m.opts.Sinks(job.ID); extra != nil {
			sinks = append(sinks, extra)
		}
	}
	nb := progress.NewNonBlocking(progress.NewThrottled(sinks, m.opts.MinInterval, m.opts.Milestones), m.opts.Buffer)

	start := time.Now()
	result, err := m.runner.Run(ctx, pipeline.Request{
		ID:            job.ID,
		Input:         job.InputPath,
		Output:        job.OutputPath,
		LandmarksPath: job.LandmarksPath,
		Progress:      nb,
		OnStage: func(s pipeline.Stage) {
			m.update(job.ID, func(j *Job) error {
				j.Stage = s
				return nil
			})
		},
	})
	nb.Close()

	if stats := nb.Stats(); stats.Dropped > 0 {
		logger.Debug().Uint64("sent", stats.Sent).Uint64("dropped", stats.Dropped).Msg("progress updates dropped")
	}

	if err == nil {
		if werr := writeResults(job.ResultsPath, result); werr != nil {
			err = &pipeline.RunError{Stage: pipeline.StageDone, Err: werr}
			_ = os.Remove(job.OutputPath)
		}
	}
	m.finish(job.ID, result, err)

	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("job did not complete")
		return
	}
	logger.Info().Dur("elapsed", time.Since(start)).Str("results", job.ResultsPath).Msg("job completed")
}

func (m *Manager) finish(id string, result *pipeline.AnalysisResult, err error) {
	m.update(id, func(j *Job) error {
		switch {
		case err == nil:
			j.Status = StatusCompleted
			j.Progress = 1
			j.Message = "Processing complete!"
			j.Result = result
		case errors.Is(err, context.Canceled):
			j.Status = StatusCancelled
			j.Message = "Cancelled"
			j.Error = err.Error()
		default:
			j.Status = StatusFailed
			j.Message = "Failed"
			j.Error = err.Error()
		}
		return nil
	})
}

// update writes through the store on a context that outlives the job.
func (m *Manager) update(id string, fn func(*Job) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.store.Update(ctx, id, fn); err != nil {
		m.logger.Warn().Err(err).Str("job", id).Msg("job update failed")
	}
}

func writeResults(path string, result *pipeline.AnalysisResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// ReadResults loads a results file written by a completed job.
func ReadResults(path string) (*pipeline.AnalysisResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r pipeline.AnalysisResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &r, nil
}

func removeFiles(logger zerolog.Logger, job *Job) {
	for _, f := range job.Files() {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("file", f).Msg("failed to remove job file")
		}
	}
}
