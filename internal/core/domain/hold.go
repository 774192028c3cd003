package domain

import "time"

// Hold is a time-bounded exclusivity claim on one beat. A hold is active
// iff ExpiresAt is in the future; an expired hold must be treated as absent
// by every reader, whether or not it has been physically cleared.
type Hold struct {
	BeatID     int64
	HolderID   int64
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (h Hold) Active(now time.Time) bool {
	return h.ExpiresAt.After(now)
}

func (h Hold) Remaining(now time.Time) time.Duration {
	if !h.Active(now) {
		return 0
	}
	return h.ExpiresAt.Sub(now)
}

// AcquireOutcome is the result of the storage-level conditional write that
// backs hold acquisition.
type AcquireOutcome int

const (
	// AcquireGranted means a fresh hold was written.
	AcquireGranted AcquireOutcome = iota
	// AcquireRenewed means the holder already held this beat and the
	// expiry was reset.
	AcquireRenewed
	// AcquireHeldByOther means another holder has an active hold.
	AcquireHeldByOther
	// AcquireHolderBusy means the holder has an active hold on a beat
	// outside the claim being acquired.
	AcquireHolderBusy
)
