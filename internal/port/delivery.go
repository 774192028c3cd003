package port

import (
	"context"

	"github.com/rl1809/beat-store/internal/core/domain"
)

// Delivery hands a purchased beat to its buyer (signed-URL generation and
// the actual file transfer live behind this port). Failures are per-beat
// and never abort delivery of the rest of a bundle.
type Delivery interface {
	Deliver(ctx context.Context, beat domain.Beat, buyerID int64, transactionID string) error
}

// Notifier sends buyer-facing chat messages around fulfillment.
type Notifier interface {
	// PaymentReceived sends the single "payment received" acknowledgment
	PaymentReceived(ctx context.Context, buyerID int64, transactionID string) error
}
