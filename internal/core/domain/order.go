package domain

import "time"

// Order is an immutable sale fact recorded when a payment is confirmed.
// Exactly one of BeatID or BundleID is set. Item "sold" state is derived
// from the existence of orders, never from a mutable flag.
type Order struct {
	ID            string
	TransactionID string
	BuyerID       int64
	BeatID        int64
	BundleID      int64
	Amount        float64
	Currency      string
	PayerEmail    string
	CreatedAt     time.Time
}
