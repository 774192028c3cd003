package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/beat-store/internal/clock"
	"github.com/rl1809/beat-store/internal/core/domain"
	"github.com/rl1809/beat-store/internal/metrics"
	"github.com/rl1809/beat-store/internal/port"
)

const (
	defaultRetryAttempts = 3
	defaultBackoffBase   = 100 * time.Millisecond
	defaultBackoffStep   = 200 * time.Millisecond
	backoffJitter        = 100 * time.Millisecond
)

// BundleUnavailableError reports which beats blocked a bundle acquisition.
type BundleUnavailableError struct {
	Beats []int64
}

func (e *BundleUnavailableError) Error() string {
	return fmt.Sprintf("bundle unavailable, blocked by beats %v", e.Beats)
}

// BundleService acquires holds on every exclusive member of a bundle as one
// logical claim. Partial acquisition is always compensated: the buyer ends
// up holding all members or none of the fresh ones.
type BundleService struct {
	store port.InventoryStore
	holds *HoldService
	clock clock.Clock

	retryAttempts int
	backoffBase   time.Duration
	backoffStep   time.Duration
}

type BundleServiceOption func(*BundleService)

// WithRetry overrides the bounded retry policy applied to transient
// storage contention.
func WithRetry(attempts int, base, step time.Duration) BundleServiceOption {
	return func(s *BundleService) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
		if base > 0 {
			s.backoffBase = base
		}
		if step > 0 {
			s.backoffStep = step
		}
	}
}

func NewBundleService(store port.InventoryStore, holds *HoldService, clk clock.Clock, opts ...BundleServiceOption) *BundleService {
	svc := &BundleService{
		store:         store,
		holds:         holds,
		clock:         clk,
		retryAttempts: defaultRetryAttempts,
		backoffBase:   defaultBackoffBase,
		backoffStep:   defaultBackoffStep,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// AcquireBundle claims every exclusive member of the bundle for holderID.
// Transient storage contention is retried with jittered backoff; definitive
// denials (ErrAlreadyHoldingOther, BundleUnavailableError) return
// immediately, since retrying a business-rule denial cannot change the
// outcome.
func (s *BundleService) AcquireBundle(ctx context.Context, bundleID, holderID int64) error {
	bundle, err := s.store.GetBundle(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("load bundle: %w", err)
	}
	if bundle == nil || !bundle.Active {
		return ErrBundleNotFound
	}

	members := bundle.ExclusiveBeatIDs()
	if len(members) == 0 {
		return nil
	}

	for attempt := 0; ; attempt++ {
		err := s.acquireOnce(ctx, members, holderID)
		if err == nil || !errors.Is(err, port.ErrContention) {
			return err
		}
		if attempt == s.retryAttempts-1 {
			return fmt.Errorf("bundle %d: retries exhausted: %w", bundleID, err)
		}

		wait := s.backoffBase + time.Duration(attempt)*s.backoffStep +
			time.Duration(rand.Int63n(int64(backoffJitter)))
		log.Warn().Int64("bundle_id", bundleID).Int64("holder_id", holderID).
			Int("attempt", attempt+1).Dur("backoff", wait).Msg("bundle acquisition contended, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// acquireOnce walks the members in ascending id order. Holds granted in
// this attempt are released on failure; holds that were renewals of a
// pre-existing claim are left untouched.
func (s *BundleService) acquireOnce(ctx context.Context, members []int64, holderID int64) error {
	now := s.clock.Now()
	expiresAt := now.Add(s.holds.holdTTL)

	// Fail fast before touching anything. The per-beat conditional write
	// re-checks this under lock; this read only saves pointless work.
	held, err := s.store.ActiveHold(ctx, holderID, now)
	if err != nil {
		return fmt.Errorf("check holder: %w", err)
	}
	if held != nil && !containsID(members, held.BeatID) {
		metrics.HoldsDenied.WithLabelValues("already_holding").Inc()
		return ErrAlreadyHoldingOther
	}

	var granted []int64
	for _, beatID := range members {
		outcome, err := s.store.AcquireHold(ctx, beatID, holderID, members, now, expiresAt)
		if err != nil {
			s.compensate(ctx, granted, holderID)
			return fmt.Errorf("acquire beat %d: %w", beatID, err)
		}

		switch outcome {
		case domain.AcquireGranted:
			granted = append(granted, beatID)
		case domain.AcquireRenewed:
			// Pre-existing claim by this holder; not ours to release on failure.
		case domain.AcquireHeldByOther:
			s.compensate(ctx, granted, holderID)
			metrics.HoldsDenied.WithLabelValues("held_by_other").Inc()
			return &BundleUnavailableError{Beats: []int64{beatID}}
		case domain.AcquireHolderBusy:
			s.compensate(ctx, granted, holderID)
			metrics.HoldsDenied.WithLabelValues("already_holding").Inc()
			return ErrAlreadyHoldingOther
		}
	}

	metrics.HoldsGranted.Inc()
	log.Info().Int64("holder_id", holderID).Ints64("beats", members).Msg("bundle holds acquired")
	return nil
}

func (s *BundleService) compensate(ctx context.Context, granted []int64, holderID int64) {
	for _, beatID := range granted {
		if err := s.store.ReleaseHold(ctx, beatID, holderID); err != nil {
			log.Error().Err(err).Int64("beat_id", beatID).Int64("holder_id", holderID).
				Msg("compensating release failed, hold will lapse at expiry")
		}
	}
}

// ReleaseBundle clears holderID's holds on the bundle's exclusive members.
// Safe to call redundantly from every navigation path.
func (s *BundleService) ReleaseBundle(ctx context.Context, bundleID, holderID int64) error {
	bundle, err := s.store.GetBundle(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("load bundle: %w", err)
	}
	if bundle == nil {
		return ErrBundleNotFound
	}

	for _, beatID := range bundle.ExclusiveBeatIDs() {
		if err := s.store.ReleaseHold(ctx, beatID, holderID); err != nil {
			return fmt.Errorf("release beat %d: %w", beatID, err)
		}
	}
	return nil
}

// Availability reports whether requesterID could buy the bundle right now:
// purchasable iff every exclusive member is individually available.
func (s *BundleService) Availability(ctx context.Context, bundleID, requesterID int64) (bool, Reason, error) {
	bundle, err := s.store.GetBundle(ctx, bundleID)
	if err != nil {
		return false, ReasonNone, fmt.Errorf("load bundle: %w", err)
	}
	if bundle == nil || !bundle.Active {
		return false, ReasonNone, ErrBundleNotFound
	}

	now := s.clock.Now()
	ordered, err := s.store.BundleOrderedSince(ctx, bundleID, now.Add(-s.holds.bundleWindow))
	if err != nil {
		return false, ReasonNone, fmt.Errorf("load bundle orders: %w", err)
	}
	if ordered {
		return false, ReasonBundleInProgress, nil
	}

	for _, beatID := range bundle.ExclusiveBeatIDs() {
		ok, reason, err := s.holds.Availability(ctx, beatID, requesterID)
		if err != nil {
			return false, ReasonNone, err
		}
		if !ok {
			return false, reason, nil
		}
	}
	return true, ReasonNone, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
