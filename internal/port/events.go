package port

import "time"

// OrderFulfilledEvent describes the terminal state of one fulfillment attempt.
type OrderFulfilledEvent struct {
	TransactionID string
	BuyerID       int64
	BeatID        int64
	BundleID      int64
	Outcome       string
	Delivered     []int64
	Failed        []int64
	OccurredAt    time.Time
}

// EventPublisher emits fulfillment events for downstream consumers
// (analytics, the storefront bot). Publishing is fire-and-forget; a slow or
// absent broker must not fail a fulfillment.
type EventPublisher interface {
	OrderFulfilled(event OrderFulfilledEvent)
}
