package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper deletes expired tokens on a cron schedule.
type Sweeper struct {
	store Store
	cron  *cron.Cron
	now   func() time.Time
}

func NewSweeper(store Store, schedule string) (*Sweeper, error) {
	s := &Sweeper{store: store, cron: cron.New(), now: time.Now}
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Warn().Err(err).Msg("token sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("token sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run sweeps once, then on schedule until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		log.Warn().Err(err).Msg("token sweep failed")
	}
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpiredTokens(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("purged", n).Msg("expired auth tokens removed")
	}
	return n, nil
}
