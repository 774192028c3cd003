package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ledger:tx:{transaction_id} -> 1, first-observation dedup for webhooks
	transactionKeyPrefix = "ledger:tx:"

	// fulfillment:processing:{holder_id}:{order_key} -> 1
	processingKeyPrefix = "fulfillment:processing:"

	// fulfillment:delivered:{holder_id}:{order_key} -> 1
	deliveredKeyPrefix = "fulfillment:delivered:"
)

type RedisAdapter struct {
	client        *redis.Client
	ledgerTTL     time.Duration
	processingTTL time.Duration
	deliveredTTL  time.Duration
}

func NewRedisAdapter(client *redis.Client, ledgerTTL, processingTTL, deliveredTTL time.Duration) *RedisAdapter {
	return &RedisAdapter{
		client:        client,
		ledgerTTL:     ledgerTTL,
		processingTTL: processingTTL,
		deliveredTTL:  deliveredTTL,
	}
}

// MarkTransaction is an atomic check-and-set per transaction id: two
// concurrent webhook deliveries cannot both observe "new".
func (r *RedisAdapter) MarkTransaction(ctx context.Context, transactionID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, transactionKeyPrefix+transactionID, 1, r.ledgerTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) MarkProcessing(ctx context.Context, holderID int64, orderKey string) (bool, error) {
	ok, err := r.client.SetNX(ctx, markerKey(processingKeyPrefix, holderID, orderKey), 1, r.processingTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) MarkDelivered(ctx context.Context, holderID int64, orderKey string) error {
	return r.client.Set(ctx, markerKey(deliveredKeyPrefix, holderID, orderKey), 1, r.deliveredTTL).Err()
}

func (r *RedisAdapter) WasDelivered(ctx context.Context, holderID int64, orderKey string) (bool, error) {
	n, err := r.client.Exists(ctx, markerKey(deliveredKeyPrefix, holderID, orderKey)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func markerKey(prefix string, holderID int64, orderKey string) string {
	return fmt.Sprintf("%s%d:%s", prefix, holderID, orderKey)
}
