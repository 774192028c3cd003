package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rl1809/beat-store/internal/core/domain"
	"github.com/rl1809/beat-store/internal/port"
)

type mockCache struct {
	mu           sync.Mutex
	transactions map[string]bool
	processing   map[string]bool
	delivered    map[string]bool
}

func newMockCache() *mockCache {
	return &mockCache{
		transactions: make(map[string]bool),
		processing:   make(map[string]bool),
		delivered:    make(map[string]bool),
	}
}

func cacheKey(holderID int64, orderKey string) string {
	return fmt.Sprintf("%d:%s", holderID, orderKey)
}

func (m *mockCache) MarkTransaction(_ context.Context, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transactions[transactionID] {
		return false, nil
	}
	m.transactions[transactionID] = true
	return true, nil
}

func (m *mockCache) MarkProcessing(_ context.Context, holderID int64, orderKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cacheKey(holderID, orderKey)
	if m.processing[k] {
		return false, nil
	}
	m.processing[k] = true
	return true, nil
}

func (m *mockCache) MarkDelivered(_ context.Context, holderID int64, orderKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[cacheKey(holderID, orderKey)] = true
	return nil
}

func (m *mockCache) WasDelivered(_ context.Context, holderID int64, orderKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered[cacheKey(holderID, orderKey)], nil
}

type mockDelivery struct {
	mu        sync.Mutex
	failBeats map[int64]bool
	delivered []int64
}

func newMockDelivery(failBeats ...int64) *mockDelivery {
	fail := make(map[int64]bool, len(failBeats))
	for _, id := range failBeats {
		fail[id] = true
	}
	return &mockDelivery{failBeats: fail}
}

func (m *mockDelivery) Deliver(_ context.Context, beat domain.Beat, _ int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBeats[beat.ID] {
		return errors.New("file transfer failed")
	}
	m.delivered = append(m.delivered, beat.ID)
	return nil
}

func (m *mockDelivery) deliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

type mockNotifier struct {
	mu   sync.Mutex
	acks int
}

func (m *mockNotifier) PaymentReceived(_ context.Context, _ int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	return nil
}

func (m *mockNotifier) ackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks
}

type capturePublisher struct {
	mu     sync.Mutex
	events []port.OrderFulfilledEvent
}

func (p *capturePublisher) OrderFulfilled(event port.OrderFulfilledEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type fulfillmentFixture struct {
	store     *mockStore
	cache     *mockCache
	delivery  *mockDelivery
	notifier  *mockNotifier
	publisher *capturePublisher
	clk       *fakeClock
	svc       *FulfillmentService
}

func newFulfillmentFixture(failBeats ...int64) *fulfillmentFixture {
	f := &fulfillmentFixture{
		store:     newMockStore(),
		cache:     newMockCache(),
		delivery:  newMockDelivery(failBeats...),
		notifier:  &mockNotifier{},
		publisher: &capturePublisher{},
		clk:       newFakeClock(),
	}
	f.svc = NewFulfillmentService(f.store, f.cache, f.delivery, f.notifier, f.publisher, f.clk)
	return f
}

func TestProcessPayment_SingleBeat(t *testing.T) {
	f := newFulfillmentFixture()
	f.store.addBeat(exclusiveBeat(1))
	ctx := context.Background()

	holds := NewHoldService(f.store, f.clk)
	if err := holds.Acquire(ctx, 1, 100); err != nil {
		t.Fatalf("seed hold: %v", err)
	}

	result, err := f.svc.ProcessPayment(ctx, PaymentEvent{
		TransactionID: "tx-1", BuyerID: 100, BeatID: 1,
		PayerEmail: "buyer@example.com", Amount: 299, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}

	if result.Outcome != FulfillmentCompleted {
		t.Errorf("expected completed, got %q", result.Outcome)
	}
	if len(result.Delivered) != 1 || result.Delivered[0] != 1 {
		t.Errorf("expected beat 1 delivered, got %v", result.Delivered)
	}
	if f.notifier.ackCount() != 1 {
		t.Errorf("expected 1 payment ack, got %d", f.notifier.ackCount())
	}
	if f.store.holdCount() != 0 {
		t.Errorf("hold must be released after delivery, got %d holds", f.store.holdCount())
	}
	if sold, _ := f.store.HasCompletedOrder(ctx, 1); !sold {
		t.Error("expected a sale fact recorded")
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].TransactionID != "tx-1" {
		t.Errorf("expected one published event for tx-1, got %+v", f.publisher.events)
	}
}

func TestProcessPayment_DuplicateAbsorbed(t *testing.T) {
	f := newFulfillmentFixture()
	f.store.addBeat(exclusiveBeat(1))
	ctx := context.Background()

	event := PaymentEvent{TransactionID: "tx-1", BuyerID: 100, BeatID: 1, Amount: 299, Currency: "USD"}
	if _, err := f.svc.ProcessPayment(ctx, event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	result, err := f.svc.ProcessPayment(ctx, event)
	if err != nil {
		t.Fatalf("duplicate must not error, got: %v", err)
	}
	if result.Outcome != FulfillmentAlreadyProcessed {
		t.Errorf("expected already_processed, got %q", result.Outcome)
	}
	if f.delivery.deliveredCount() != 1 {
		t.Errorf("duplicate must not re-deliver, got %d deliveries", f.delivery.deliveredCount())
	}
	if f.notifier.ackCount() != 1 {
		t.Errorf("duplicate must not re-ack, got %d acks", f.notifier.ackCount())
	}
}

func TestProcessPayment_BundlePartialDelivery(t *testing.T) {
	f := newFulfillmentFixture(2)
	f.store.addBundle(domain.Bundle{
		ID: 10, Name: "pack", Active: true,
		Beats: []domain.Beat{exclusiveBeat(1), exclusiveBeat(2), exclusiveBeat(3)},
	})
	ctx := context.Background()

	holds := NewHoldService(f.store, f.clk)
	bundles := NewBundleService(f.store, holds, f.clk)
	if err := bundles.AcquireBundle(ctx, 10, 100); err != nil {
		t.Fatalf("seed bundle holds: %v", err)
	}

	result, err := f.svc.ProcessPayment(ctx, PaymentEvent{
		TransactionID: "tx-2", BuyerID: 100, BundleID: 10, Amount: 699, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}

	if result.Outcome != FulfillmentPartial {
		t.Errorf("expected partially_completed, got %q", result.Outcome)
	}
	if len(result.Delivered) != 2 || result.Delivered[0] != 1 || result.Delivered[1] != 3 {
		t.Errorf("expected beats 1,3 delivered, got %v", result.Delivered)
	}
	if len(result.Failed) != 1 || result.Failed[0] != 2 {
		t.Errorf("expected beat 2 failed, got %v", result.Failed)
	}

	// Delivered beats lose their holds; the failed one keeps its hold until
	// expiry or a manual retry.
	if h, _ := f.store.HoldOn(ctx, 1, f.clk.Now()); h != nil {
		t.Errorf("delivered beat 1 must have no hold, got %+v", h)
	}
	if h, _ := f.store.HoldOn(ctx, 3, f.clk.Now()); h != nil {
		t.Errorf("delivered beat 3 must have no hold, got %+v", h)
	}
	if h, _ := f.store.HoldOn(ctx, 2, f.clk.Now()); h == nil {
		t.Error("failed beat 2 must keep its hold")
	}
}

func TestProcessPayment_AllDeliveriesFail(t *testing.T) {
	f := newFulfillmentFixture(1)
	f.store.addBeat(exclusiveBeat(1))

	result, err := f.svc.ProcessPayment(context.Background(), PaymentEvent{
		TransactionID: "tx-3", BuyerID: 100, BeatID: 1, Amount: 299, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if result.Outcome != FulfillmentFailed {
		t.Errorf("expected failed, got %q", result.Outcome)
	}
	if len(result.Failed) != 1 || result.Failed[0] != 1 {
		t.Errorf("expected beat 1 in failed list, got %v", result.Failed)
	}
}

func TestProcessPayment_UnknownBeat(t *testing.T) {
	f := newFulfillmentFixture()

	_, err := f.svc.ProcessPayment(context.Background(), PaymentEvent{
		TransactionID: "tx-4", BuyerID: 100, BeatID: 99, Amount: 299, Currency: "USD",
	})
	if !errors.Is(err, ErrBeatNotFound) {
		t.Errorf("expected ErrBeatNotFound, got: %v", err)
	}
}

func TestProcessPayment_AckSuppressedAfterNotice(t *testing.T) {
	f := newFulfillmentFixture()
	f.store.addBeat(exclusiveBeat(1))
	ctx := context.Background()

	send, err := f.svc.CheckoutNotice(ctx, 100, 1, 0)
	if err != nil || !send {
		t.Fatalf("first notice must send, got send=%v err=%v", send, err)
	}

	if _, err := f.svc.ProcessPayment(ctx, PaymentEvent{
		TransactionID: "tx-5", BuyerID: 100, BeatID: 1, Amount: 299, Currency: "USD",
	}); err != nil {
		t.Fatalf("process payment: %v", err)
	}

	if f.notifier.ackCount() != 0 {
		t.Errorf("ack must be suppressed after a checkout notice, got %d acks", f.notifier.ackCount())
	}
}

func TestCheckoutNotice_DroppedAfterDelivery(t *testing.T) {
	f := newFulfillmentFixture()
	f.store.addBeat(exclusiveBeat(1))
	ctx := context.Background()

	if _, err := f.svc.ProcessPayment(ctx, PaymentEvent{
		TransactionID: "tx-6", BuyerID: 100, BeatID: 1, Amount: 299, Currency: "USD",
	}); err != nil {
		t.Fatalf("process payment: %v", err)
	}

	send, err := f.svc.CheckoutNotice(ctx, 100, 1, 0)
	if err != nil {
		t.Fatalf("checkout notice: %v", err)
	}
	if send {
		t.Error("notice arriving after delivery must be dropped")
	}
}

func TestCheckoutNotice_SecondNoticeSuppressed(t *testing.T) {
	f := newFulfillmentFixture()
	f.store.addBundle(domain.Bundle{ID: 10, Name: "pack", Active: true, Beats: []domain.Beat{exclusiveBeat(1)}})
	ctx := context.Background()

	send, err := f.svc.CheckoutNotice(ctx, 100, 0, 10)
	if err != nil || !send {
		t.Fatalf("first notice must send, got send=%v err=%v", send, err)
	}
	send, err = f.svc.CheckoutNotice(ctx, 100, 0, 10)
	if err != nil {
		t.Fatalf("second notice: %v", err)
	}
	if send {
		t.Error("repeated notice within the window must be suppressed")
	}
}
