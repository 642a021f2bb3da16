package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner deletes finished jobs, and their files, once they are older
// than MaxAge.
type Cleaner struct {
	logger   zerolog.Logger
	store    Store
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewCleaner returns a cleaner that runs every interval.
func NewCleaner(logger zerolog.Logger, store Store, maxAge, interval time.Duration) *Cleaner {
	return &Cleaner{
		logger:   logger.With().Str("component", "cleanup").Logger(),
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
	}
}

// RunOnce deletes every expired job that is not running and returns how
// many were removed.
func (c *Cleaner) RunOnce(ctx context.Context) (int, error) {
	jobs, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := c.now().Add(-c.maxAge)

	removed := 0
	for _, j := range jobs {
		if !j.Status.Terminal() || !j.CreatedAt.Before(cutoff) {
			continue
		}
		removeFiles(c.logger, j)
		if err := c.store.Delete(ctx, j.ID); err != nil {
			c.logger.Warn().Err(err).Str("job", j.ID).Msg("failed to delete expired job")
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info().Int("removed", removed).Dur("max_age", c.maxAge).Msg("expired jobs removed")
	}
	return removed, nil
}

// Start runs RunOnce on every tick until ctx is done.
func (c *Cleaner) Start(ctx context.Context) {
	c.logger.Info().Dur("interval", c.interval).Dur("max_age", c.maxAge).Msg("cleanup service started")
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("cleanup service stopped")
			return
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				c.logger.Error().Err(err).Msg("cleanup failed")
			}
		}
	}
}
