package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/rl1809/beat-store/internal/port"
)

const (
	TopicOrderFulfilled = "orders.fulfilled"

	EventOrderFulfilled = "OrderFulfilled"
)

// Envelope wraps every published event.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	Payload      json.RawMessage `json:"payload"`
}

type OrderFulfilledPayload struct {
	TransactionID string  `json:"transaction_id"`
	BuyerID       int64   `json:"buyer_id"`
	BeatID        int64   `json:"beat_id,omitempty"`
	BundleID      int64   `json:"bundle_id,omitempty"`
	Outcome       string  `json:"outcome"`
	Delivered     []int64 `json:"delivered,omitempty"`
	Failed        []int64 `json:"failed,omitempty"`
}

// KafkaPublisher is an async publisher: OrderFulfilled enqueues into a
// buffered inbox and a single goroutine writes to the broker, so a slow
// broker never blocks a fulfillment request.
type KafkaPublisher struct {
	writer   *kafka.Writer
	producer string
	inbox    chan kafka.Message
	closeCh  chan struct{}
}

func NewKafkaPublisher(brokers []string, producer string, buf int) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        TopicOrderFulfilled,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		producer: producer,
		inbox:    make(chan kafka.Message, buf),
		closeCh:  make(chan struct{}),
	}
}

func (p *KafkaPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.writer.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *KafkaPublisher) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			_ = p.writer.Close()
			return
		}
	}
}

func (p *KafkaPublisher) write(m kafka.Message) {
	if err := p.writer.WriteMessages(context.Background(), m); err != nil {
		log.Error().Err(err).Str("topic", p.writer.Topic).Msg("event publish failed")
	}
}

func (p *KafkaPublisher) OrderFulfilled(event port.OrderFulfilledEvent) {
	payload, err := json.Marshal(OrderFulfilledPayload{
		TransactionID: event.TransactionID,
		BuyerID:       event.BuyerID,
		BeatID:        event.BeatID,
		BundleID:      event.BundleID,
		Outcome:       event.Outcome,
		Delivered:     event.Delivered,
		Failed:        event.Failed,
	})
	if err != nil {
		log.Error().Err(err).Msg("event payload marshal failed")
		return
	}

	value, err := json.Marshal(Envelope{
		EventID:      uuid.NewString(),
		EventType:    EventOrderFulfilled,
		EventVersion: 1,
		OccurredAt:   event.OccurredAt,
		Producer:     p.producer,
		Payload:      payload,
	})
	if err != nil {
		log.Error().Err(err).Msg("event envelope marshal failed")
		return
	}

	msg := kafka.Message{
		// Partition key = transaction id so retries of one order stay ordered.
		Key:   []byte(event.TransactionID),
		Value: value,
		Time:  event.OccurredAt,
	}

	select {
	case p.inbox <- msg:
	default:
		log.Warn().Str("transaction_id", event.TransactionID).Msg("event inbox full, dropping event")
	}
}

// WaitClosed blocks until the publish goroutine has drained and exited.
func (p *KafkaPublisher) WaitClosed() {
	<-p.closeCh
}
