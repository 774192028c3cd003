package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/beat-store/internal/clock"
	"github.com/rl1809/beat-store/internal/core/domain"
	"github.com/rl1809/beat-store/internal/metrics"
	"github.com/rl1809/beat-store/internal/port"
)

var (
	ErrBeatNotFound        = errors.New("beat not found")
	ErrBundleNotFound      = errors.New("bundle not found")
	ErrHeldByOther         = errors.New("held by another buyer")
	ErrAlreadyHoldingOther = errors.New("already holding another beat")
)

// Reason is a user-facing-safe availability category. Callers localize it;
// it is never free text.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonHeld             Reason = "held"
	ReasonSold             Reason = "sold"
	ReasonBundleInProgress Reason = "bundle-in-progress"
)

const (
	defaultHoldTTL      = 10 * time.Minute
	defaultBundleWindow = 15 * time.Minute
)

// HoldService owns the hold lifecycle for exclusive beats. Every state
// change goes through the store's atomic conditional write; availability
// reads are advisory UX only.
type HoldService struct {
	store        port.InventoryStore
	clock        clock.Clock
	holdTTL      time.Duration
	bundleWindow time.Duration
}

type HoldServiceOption func(*HoldService)

// WithHoldTTL overrides the default 10-minute hold lifetime.
func WithHoldTTL(d time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// WithBundleWindow overrides the window during which a completed bundle
// order keeps its member beats unavailable.
func WithBundleWindow(d time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if d > 0 {
			s.bundleWindow = d
		}
	}
}

func NewHoldService(store port.InventoryStore, clk clock.Clock, opts ...HoldServiceOption) *HoldService {
	svc := &HoldService{
		store:        store,
		clock:        clk,
		holdTTL:      defaultHoldTTL,
		bundleWindow: defaultBundleWindow,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Acquire claims a beat for holderID. Non-exclusive beats succeed with no
// state change. Re-acquiring a beat the holder already holds resets the
// expiry. Denials come back as ErrHeldByOther or ErrAlreadyHoldingOther.
func (s *HoldService) Acquire(ctx context.Context, beatID, holderID int64) error {
	beat, err := s.store.GetBeat(ctx, beatID)
	if err != nil {
		return fmt.Errorf("load beat: %w", err)
	}
	if beat == nil {
		return ErrBeatNotFound
	}
	if !beat.Exclusive {
		return nil
	}

	now := s.clock.Now()
	outcome, err := s.store.AcquireHold(ctx, beatID, holderID, []int64{beatID}, now, now.Add(s.holdTTL))
	if err != nil {
		return fmt.Errorf("acquire hold: %w", err)
	}

	switch outcome {
	case domain.AcquireGranted, domain.AcquireRenewed:
		metrics.HoldsGranted.Inc()
		log.Info().Int64("beat_id", beatID).Int64("holder_id", holderID).
			Bool("renewed", outcome == domain.AcquireRenewed).Msg("hold acquired")
		return nil
	case domain.AcquireHolderBusy:
		metrics.HoldsDenied.WithLabelValues("already_holding").Inc()
		return ErrAlreadyHoldingOther
	case domain.AcquireHeldByOther:
		metrics.HoldsDenied.WithLabelValues("held_by_other").Inc()
		return ErrHeldByOther
	default:
		return fmt.Errorf("unexpected acquire outcome: %d", outcome)
	}
}

// Release clears holderID's hold on a beat. holderID 0 releases regardless
// of the current holder. Releasing a beat that is not held is a no-op, so
// every navigation-away path can call this unconditionally.
func (s *HoldService) Release(ctx context.Context, beatID, holderID int64) error {
	if err := s.store.ReleaseHold(ctx, beatID, holderID); err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	return nil
}

// Availability reports whether requesterID could buy the beat right now and,
// if not, why. It is consulted before showing a purchase link and again
// before finalizing it, but the atomic acquire remains the final authority.
func (s *HoldService) Availability(ctx context.Context, beatID, requesterID int64) (bool, Reason, error) {
	beat, err := s.store.GetBeat(ctx, beatID)
	if err != nil {
		return false, ReasonNone, fmt.Errorf("load beat: %w", err)
	}
	if beat == nil {
		return false, ReasonNone, ErrBeatNotFound
	}
	if !beat.Exclusive {
		return true, ReasonNone, nil
	}

	now := s.clock.Now()

	hold, err := s.store.HoldOn(ctx, beatID, now)
	if err != nil {
		return false, ReasonNone, fmt.Errorf("load hold: %w", err)
	}
	if hold != nil && hold.HolderID != requesterID {
		return false, ReasonHeld, nil
	}

	sold, err := s.store.HasCompletedOrder(ctx, beatID)
	if err != nil {
		return false, ReasonNone, fmt.Errorf("load sale state: %w", err)
	}
	if sold {
		return false, ReasonSold, nil
	}

	recent, err := s.store.RecentBundleOrder(ctx, beatID, now.Add(-s.bundleWindow))
	if err != nil {
		return false, ReasonNone, fmt.Errorf("load bundle orders: %w", err)
	}
	if recent {
		return false, ReasonBundleInProgress, nil
	}

	return true, ReasonNone, nil
}

// CurrentHold returns holderID's live hold and its remaining lifetime, or
// nil when the holder holds nothing.
func (s *HoldService) CurrentHold(ctx context.Context, holderID int64) (*domain.Hold, time.Duration, error) {
	now := s.clock.Now()
	hold, err := s.store.ActiveHold(ctx, holderID, now)
	if err != nil {
		return nil, 0, fmt.Errorf("load active hold: %w", err)
	}
	if hold == nil {
		return nil, 0, nil
	}
	return hold, hold.Remaining(now), nil
}
