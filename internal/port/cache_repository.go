package port

import "context"

// CacheRepository backs the idempotency ledger and the fulfillment markers.
// Entries live in the shared cache, not in process memory, so the core stays
// correct when more than one service instance handles webhooks.
type CacheRepository interface {
	// MarkTransaction records a transaction id, returns false if it was
	// already seen within the retention window
	MarkTransaction(ctx context.Context, transactionID string) (bool, error)

	// MarkProcessing records "fulfillment in flight" for (holder, orderKey),
	// returns false if the marker was already set
	MarkProcessing(ctx context.Context, holderID int64, orderKey string) (bool, error)

	// MarkDelivered records "fulfillment completed" for (holder, orderKey)
	MarkDelivered(ctx context.Context, holderID int64, orderKey string) error

	// WasDelivered reports whether a delivered marker is set for (holder, orderKey)
	WasDelivered(ctx context.Context, holderID int64, orderKey string) (bool, error)
}
