package services

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/metrics"
)

const (
	retentionPollInterval = 1 * time.Hour
	retentionSweepTimeout = 2 * time.Minute
)

type ActivityPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionSweeper periodically deletes activity records older than the
// configured retention.
type RetentionSweeper struct {
	purger    ActivityPurger
	retention time.Duration
	clock     quartz.Clock
	logger    zerolog.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewRetentionSweeper(purger ActivityPurger, retention time.Duration, clock quartz.Clock, logger zerolog.Logger) *RetentionSweeper {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &RetentionSweeper{
		purger:    purger,
		retention: retention,
		clock:     clock,
		logger:    logger,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every hour. It is a no-op when
// retention is disabled.
func (s *RetentionSweeper) Start() bool {
	if s.purger == nil || s.retention <= 0 {
		close(s.done)
		return false
	}
	go s.loop()
	s.logger.Info().Dur("retention", s.retention).Msg("Retention sweeper started")
	return true
}

// Stop ends the loop and waits for an in-progress sweep.
func (s *RetentionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

func (s *RetentionSweeper) loop() {
	defer close(s.done)

	s.sweep()

	ticker := s.clock.NewTicker(retentionPollInterval, "retention")
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *RetentionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), retentionSweepTimeout)
	defer cancel()

	cutoff := s.clock.Now().UTC().Add(-s.retention)
	deleted, err := s.purger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("Retention sweep failed")
		return
	}
	metrics.ActivitiesPurged.Add(float64(deleted))
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Purged old activity")
	}
}
