package membershipsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gear-foundation/one-of-us/internal/metrics"
)

// =============================================================================
// Lifecycle
// =============================================================================

// Start refreshes the member gauges once and schedules periodic refreshes.
func (s *Service) Start(ctx context.Context) error {
	if s.cron != nil {
		return fmt.Errorf("%s already started", ServiceName)
	}
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.RefreshGauges(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule gauge refresh: %w", err)
	}
	s.cron = c
	s.cancel = cancel

	s.RefreshGauges(ctx)
	c.Start()

	if s.limiter != nil {
		s.limiter.StartCleanup(ctx, time.Minute)
	}
	s.logger.Info().Str("schedule", s.schedule).Msg("membership service started")
	return nil
}

// Stop cancels background work and waits for a running job to finish.
func (s *Service) Stop() error {
	if s.cron == nil {
		return nil
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info().Msg("membership service stopped")
	return nil
}

// RefreshGauges updates the store and chain member gauges.
func (s *Service) RefreshGauges(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	count, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to count members")
	} else {
		metrics.SetStoreMembers(count)
	}

	if s.chainCount != nil {
		metrics.SetChainMembers(s.chainCount.Count(ctx))
	}
}
