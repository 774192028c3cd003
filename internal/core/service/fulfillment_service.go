package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/beat-store/internal/clock"
	"github.com/rl1809/beat-store/internal/core/domain"
	"github.com/rl1809/beat-store/internal/metrics"
	"github.com/rl1809/beat-store/internal/port"
)

type FulfillmentOutcome string

const (
	FulfillmentCompleted        FulfillmentOutcome = "completed"
	FulfillmentPartial          FulfillmentOutcome = "partially_completed"
	FulfillmentFailed           FulfillmentOutcome = "failed"
	FulfillmentAlreadyProcessed FulfillmentOutcome = "already_processed"
)

// PaymentEvent is the confirmed-payment trigger delivered by the provider
// webhook. Exactly one of BeatID or BundleID is set.
type PaymentEvent struct {
	TransactionID string
	BuyerID       int64
	BeatID        int64
	BundleID      int64
	PayerEmail    string
	Amount        float64
	Currency      string
}

type FulfillmentResult struct {
	Outcome   FulfillmentOutcome
	Delivered []int64
	Failed    []int64
}

// FulfillmentService turns confirmed payments into deliveries exactly once
// per transaction id. Per-beat delivery failures are collected, never
// escalated to the whole batch.
type FulfillmentService struct {
	store     port.InventoryStore
	cache     port.CacheRepository
	delivery  port.Delivery
	notifier  port.Notifier
	publisher port.EventPublisher
	clock     clock.Clock
}

// NewFulfillmentService wires the orchestrator. publisher may be nil when
// no broker is configured.
func NewFulfillmentService(store port.InventoryStore, cache port.CacheRepository, delivery port.Delivery, notifier port.Notifier, publisher port.EventPublisher, clk clock.Clock) *FulfillmentService {
	return &FulfillmentService{
		store:     store,
		cache:     cache,
		delivery:  delivery,
		notifier:  notifier,
		publisher: publisher,
		clock:     clk,
	}
}

// ProcessPayment fulfills one confirmed payment. A repeated transaction id
// is absorbed as FulfillmentAlreadyProcessed with no side effects; the
// trigger source never sees a duplicate as an error.
func (s *FulfillmentService) ProcessPayment(ctx context.Context, event PaymentEvent) (FulfillmentResult, error) {
	first, err := s.cache.MarkTransaction(ctx, event.TransactionID)
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("idempotency check: %w", err)
	}
	if !first {
		log.Info().Str("transaction_id", event.TransactionID).Msg("duplicate payment trigger absorbed")
		return FulfillmentResult{Outcome: FulfillmentAlreadyProcessed}, nil
	}

	beats, orderKey, err := s.resolvePurchase(ctx, event)
	if err != nil {
		return FulfillmentResult{}, err
	}

	now := s.clock.Now()
	order := domain.Order{
		ID:            uuid.NewString(),
		TransactionID: event.TransactionID,
		BuyerID:       event.BuyerID,
		BeatID:        event.BeatID,
		BundleID:      event.BundleID,
		Amount:        event.Amount,
		Currency:      event.Currency,
		PayerEmail:    event.PayerEmail,
		CreatedAt:     now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil && !errors.Is(err, port.ErrOrderExists) {
		return FulfillmentResult{}, fmt.Errorf("record sale: %w", err)
	}

	// Ack once: suppressed when the pre-payment "preparing" notice already
	// went out for the same (buyer, order) within its validity window.
	ackDue, err := s.cache.MarkProcessing(ctx, event.BuyerID, orderKey)
	if err != nil {
		log.Error().Err(err).Str("order_key", orderKey).Msg("processing marker unavailable, sending ack anyway")
		ackDue = true
	}
	if ackDue {
		if err := s.notifier.PaymentReceived(ctx, event.BuyerID, event.TransactionID); err != nil {
			log.Error().Err(err).Int64("buyer_id", event.BuyerID).Msg("payment ack failed")
		}
	}

	result := s.deliverAll(ctx, beats, event, orderKey)

	metrics.Fulfillments.WithLabelValues(string(result.Outcome)).Inc()
	log.Info().Str("transaction_id", event.TransactionID).
		Str("outcome", string(result.Outcome)).
		Ints64("delivered", result.Delivered).
		Ints64("failed", result.Failed).
		Msg("fulfillment finished")

	if s.publisher != nil {
		s.publisher.OrderFulfilled(port.OrderFulfilledEvent{
			TransactionID: event.TransactionID,
			BuyerID:       event.BuyerID,
			BeatID:        event.BeatID,
			BundleID:      event.BundleID,
			Outcome:       string(result.Outcome),
			Delivered:     result.Delivered,
			Failed:        result.Failed,
			OccurredAt:    s.clock.Now(),
		})
	}
	return result, nil
}

func (s *FulfillmentService) resolvePurchase(ctx context.Context, event PaymentEvent) ([]domain.Beat, string, error) {
	if event.BundleID != 0 {
		bundle, err := s.store.GetBundle(ctx, event.BundleID)
		if err != nil {
			return nil, "", fmt.Errorf("load bundle: %w", err)
		}
		if bundle == nil {
			return nil, "", ErrBundleNotFound
		}
		return bundle.Beats, bundleOrderKey(event.BundleID), nil
	}

	beat, err := s.store.GetBeat(ctx, event.BeatID)
	if err != nil {
		return nil, "", fmt.Errorf("load beat: %w", err)
	}
	if beat == nil {
		return nil, "", ErrBeatNotFound
	}
	return []domain.Beat{*beat}, beatOrderKey(event.BeatID), nil
}

// deliverAll hands every beat to the delivery collaborator independently.
// Each delivered exclusive beat has its hold released on the spot: the beat
// is sold, the hold's purpose is moot. Failed beats keep their holds until
// natural expiry or a manual retry.
func (s *FulfillmentService) deliverAll(ctx context.Context, beats []domain.Beat, event PaymentEvent, orderKey string) FulfillmentResult {
	var result FulfillmentResult

	for _, beat := range beats {
		if err := s.delivery.Deliver(ctx, beat, event.BuyerID, event.TransactionID); err != nil {
			log.Error().Err(err).Int64("beat_id", beat.ID).
				Str("transaction_id", event.TransactionID).Msg("delivery failed")
			result.Failed = append(result.Failed, beat.ID)
			continue
		}

		if len(result.Delivered) == 0 {
			if err := s.cache.MarkDelivered(ctx, event.BuyerID, orderKey); err != nil {
				log.Error().Err(err).Str("order_key", orderKey).Msg("delivered marker write failed")
			}
		}
		result.Delivered = append(result.Delivered, beat.ID)

		if beat.Exclusive {
			if err := s.store.ReleaseHold(ctx, beat.ID, 0); err != nil {
				log.Error().Err(err).Int64("beat_id", beat.ID).
					Msg("post-delivery release failed, hold will lapse at expiry")
			}
		}
	}

	switch {
	case len(result.Failed) == 0:
		result.Outcome = FulfillmentCompleted
	case len(result.Delivered) == 0:
		result.Outcome = FulfillmentFailed
	default:
		result.Outcome = FulfillmentPartial
	}
	return result
}

// CheckoutNotice decides whether the ephemeral "order confirmed, preparing"
// pre-payment notice should be sent for a beat or bundle checkout. It
// returns false when fulfillment already finished (stale notice) or when
// the notice already went out within its validity window; sending it sets
// the processing marker so the later payment ack is suppressed.
func (s *FulfillmentService) CheckoutNotice(ctx context.Context, buyerID, beatID, bundleID int64) (bool, error) {
	orderKey := beatOrderKey(beatID)
	if bundleID != 0 {
		orderKey = bundleOrderKey(bundleID)
	}

	delivered, err := s.cache.WasDelivered(ctx, buyerID, orderKey)
	if err != nil {
		return false, fmt.Errorf("delivered marker: %w", err)
	}
	if delivered {
		return false, nil
	}

	first, err := s.cache.MarkProcessing(ctx, buyerID, orderKey)
	if err != nil {
		return false, fmt.Errorf("processing marker: %w", err)
	}
	return first, nil
}

func beatOrderKey(beatID int64) string {
	return fmt.Sprintf("beat:%d", beatID)
}

func bundleOrderKey(bundleID int64) string {
	return fmt.Sprintf("bundle:%d", bundleID)
}
