package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweeperConfig configures the background sweep loop.
type SweeperConfig struct {
	// RetentionDays is the age past which closed sessions are deleted.
	RetentionDays int

	// Interval is how often the sweep runs. Default: 24h.
	Interval time.Duration
}

// DefaultSweeperConfig returns sensible defaults: one year of retention,
// swept daily.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		RetentionDays: 365,
		Interval:      24 * time.Hour,
	}
}

// Sweeper runs the retention job on a timer. A failed sweep is logged
// and retried at the next tick; it never stops the loop.
type Sweeper struct {
	job    *Job
	config SweeperConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper around a retention job.
func NewSweeper(job *Job, config SweeperConfig, logger *zap.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		job:    job,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the background sweep loop.
func (s *Sweeper) Start() {
	s.logger.Info("Starting retention sweeper",
		zap.Int("retention_days", s.config.RetentionDays),
		zap.Duration("interval", s.config.Interval),
	)
	s.wg.Add(1)
	go s.loop()
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Retention sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.job.Run(s.ctx, s.config.RetentionDays); err != nil {
				s.logger.Error("Retention sweep failed", zap.Error(err))
			}
		}
	}
}
