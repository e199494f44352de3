package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// Interval between sweeps (default: 1 minute).
	Interval time.Duration

	// Timeout bounds a single sweep (default: Interval).
	Timeout time.Duration
}

// SweeperStats is a snapshot of the work a Sweeper has done.
type SweeperStats struct {
	Runs       int         `json:"runs"`
	Purged     int         `json:"purged"`
	Failures   int         `json:"failures"`
	LastRun    time.Time   `json:"last_run"`
	LastResult SweepResult `json:"last_result"`
	LastError  string      `json:"last_error,omitempty"`
}

// Sweeper removes expired entries periodically. Reads already hide expired
// entries; sweeping only reclaims storage for keys that are never read again.
type Sweeper struct {
	repo   *Repository
	cfg    SweeperConfig
	logger zerolog.Logger

	mu    sync.Mutex
	stats SweeperStats
}

// NewSweeper creates a sweeper for repo.
func NewSweeper(repo *Repository, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	return &Sweeper{
		repo:   repo,
		cfg:    cfg,
		logger: repo.logger.With().Str("task", "sweeper").Logger(),
	}
}

// Run sweeps every Interval until ctx is cancelled. It returns ctx.Err().
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			// Failures are recorded in Stats; the loop keeps going.
			_, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := s.repo.PurgeExpired(ctx)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.Purged += res.Deleted
	s.stats.LastRun = start
	s.stats.LastResult = res
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Int("failed", res.Failed).Msg("Sweep incomplete")
	}
	if res.Deleted > 0 {
		s.logger.Info().
			Int("purged", res.Deleted).
			Dur("took", time.Since(start)).
			Msg("Sweep finished")
	}

	return res, err
}

// Stats returns a snapshot of the sweeper counters.
func (s *Sweeper) Stats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
