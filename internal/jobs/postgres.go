package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keagan/movescope/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS movescope_jobs (
	id             TEXT PRIMARY KEY,
	filename       TEXT NOT NULL,
	input_path     TEXT NOT NULL,
	output_path    TEXT NOT NULL,
	results_path   TEXT NOT NULL,
	landmarks_path TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	stage          TEXT NOT NULL DEFAULT '',
	progress       DOUBLE PRECISION NOT NULL DEFAULT 0,
	message        TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	result         JSONB,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
)`

const jobColumns = `id, filename, input_path, output_path, results_path, landmarks_path,
	status, stage, progress, message, error, result, created_at, updated_at`

// PostgresStore keeps jobs in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to url and creates the jobs table if needed.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j      Job
		status string
		stage  string
		result []byte
	)
	err := row.Scan(&j.ID, &j.Filename, &j.InputPath, &j.OutputPath, &j.ResultsPath, &j.LandmarksPath,
		&status, &stage, &j.Progress, &j.Message, &j.Error, &result, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	j.Status = Status(status)
	j.Stage = pipeline.Stage(stage)
	if len(result) > 0 {
		j.Result = &pipeline.AnalysisResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func encodeResult(r *pipeline.AnalysisResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	result, err := encodeResult(job.Result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO movescope_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.Filename, job.InputPath, job.OutputPath, job.ResultsPath, job.LandmarksPath,
		string(job.Status), string(job.Stage), job.Progress, job.Message, job.Error, result,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM movescope_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// Update locks the row for the duration of fn.
func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM movescope_jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	j.ID = id
	j.UpdatedAt = time.Now().UTC()

	result, err := encodeResult(j.Result)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE movescope_jobs SET filename = $2, input_path = $3, output_path = $4, results_path = $5,
		landmarks_path = $6, status = $7, stage = $8, progress = $9, message = $10, error = $11,
		result = $12, updated_at = $13 WHERE id = $1`,
		j.ID, j.Filename, j.InputPath, j.OutputPath, j.ResultsPath, j.LandmarksPath,
		string(j.Status), string(j.Stage), j.Progress, j.Message, j.Error, result, j.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM movescope_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM movescope_jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
