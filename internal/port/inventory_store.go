package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/beat-store/internal/core/domain"
)

// ErrContention marks transient lock-wait/deadlock failures that are safe
// to retry with backoff. Definitive denials are never wrapped in it.
var ErrContention = errors.New("storage contention")

// ErrOrderExists marks an order insert for a transaction id that already
// has a sale fact recorded.
var ErrOrderExists = errors.New("order already recorded")

// InventoryStore is the only shared mutable state in the core. Hold fields
// must never be read-then-written by callers; AcquireHold is a single
// atomic conditional write and is the final authority on who holds what.
type InventoryStore interface {
	// GetBeat retrieves a beat by id, nil when absent
	GetBeat(ctx context.Context, beatID int64) (*domain.Beat, error)

	// GetBundle retrieves a bundle with its member beats, nil when absent
	GetBundle(ctx context.Context, bundleID int64) (*domain.Bundle, error)

	// AcquireHold atomically claims a beat for holderID until expiresAt.
	// A live hold by holderID on a beat outside sameClaim denies with
	// AcquireHolderBusy; re-acquiring a beat already held by holderID
	// resets the expiry and reports AcquireRenewed. Expired holds are
	// cleared by the same write.
	AcquireHold(ctx context.Context, beatID, holderID int64, sameClaim []int64, now, expiresAt time.Time) (domain.AcquireOutcome, error)

	// ReleaseHold clears the hold on a beat. When holderID is non-zero the
	// hold is cleared only if that holder owns it. Releasing a beat with no
	// matching hold is a no-op, not an error.
	ReleaseHold(ctx context.Context, beatID, holderID int64) error

	// ActiveHold returns holderID's live hold, nil when there is none
	ActiveHold(ctx context.Context, holderID int64, now time.Time) (*domain.Hold, error)

	// HoldOn returns the live hold on a beat, nil when there is none
	HoldOn(ctx context.Context, beatID int64, now time.Time) (*domain.Hold, error)

	// ReleaseExpired clears every hold past its expiry, returns the count
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)

	// HasCompletedOrder reports whether a completed order references the beat
	HasCompletedOrder(ctx context.Context, beatID int64) (bool, error)

	// BundleOrderedSince reports whether the bundle has a completed order
	// at or after since
	BundleOrderedSince(ctx context.Context, bundleID int64, since time.Time) (bool, error)

	// RecentBundleOrder reports whether any active bundle containing the
	// beat has a completed order at or after since
	RecentBundleOrder(ctx context.Context, beatID int64, since time.Time) (bool, error)

	// CreateOrder persists a sale fact; a duplicate transaction id returns
	// ErrOrderExists
	CreateOrder(ctx context.Context, order domain.Order) error
}
