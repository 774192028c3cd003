package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/beat-store/internal/clock"
	"github.com/rl1809/beat-store/internal/metrics"
	"github.com/rl1809/beat-store/internal/port"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultSweepDelay    = 30 * time.Second
)

// Sweeper periodically clears holds past their expiry. It is purely a
// safety net: every read path performs lazy expiry, so correctness never
// depends on the sweeper running promptly. It only bounds how long a stale
// "currently held" view can linger in catalog renders.
type Sweeper struct {
	store        port.InventoryStore
	clock        clock.Clock
	interval     time.Duration
	initialDelay time.Duration
}

func NewSweeper(store port.InventoryStore, clk clock.Clock, interval, initialDelay time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if initialDelay < 0 {
		initialDelay = defaultSweepDelay
	}
	return &Sweeper{
		store:        store,
		clock:        clk,
		interval:     interval,
		initialDelay: initialDelay,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.initialDelay):
	}
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.store.ReleaseExpired(ctx, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if n > 0 {
		metrics.ExpiredHoldsReleased.Add(float64(n))
		log.Info().Int64("released", n).Msg("expired holds cleared")
	}
}
