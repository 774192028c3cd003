package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rl1809/beat-store/internal/core/domain"
)

// BotAdapter fulfills the Delivery and Notifier ports by calling the
// storefront bot's internal HTTP endpoints. The bot owns signed-URL
// generation and the chat transport; this side only reports what to send
// and to whom.
type BotAdapter struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewBotAdapter(baseURL, token string) *BotAdapter {
	return &BotAdapter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type deliverRequest struct {
	BuyerID       int64  `json:"buyer_id"`
	BeatID        int64  `json:"beat_id"`
	BeatTitle     string `json:"beat_title"`
	Exclusive     bool   `json:"exclusive"`
	TransactionID string `json:"transaction_id"`
}

type notifyRequest struct {
	BuyerID       int64  `json:"buyer_id"`
	TransactionID string `json:"transaction_id"`
}

func (a *BotAdapter) Deliver(ctx context.Context, beat domain.Beat, buyerID int64, transactionID string) error {
	return a.post(ctx, "/internal/deliver", deliverRequest{
		BuyerID:       buyerID,
		BeatID:        beat.ID,
		BeatTitle:     beat.Title,
		Exclusive:     beat.Exclusive,
		TransactionID: transactionID,
	})
}

func (a *BotAdapter) PaymentReceived(ctx context.Context, buyerID int64, transactionID string) error {
	return a.post(ctx, "/internal/notify", notifyRequest{
		BuyerID:       buyerID,
		TransactionID: transactionID,
	})
}

func (a *BotAdapter) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("X-Internal-Token", a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("call bot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bot returned status %d for %s", resp.StatusCode, path)
	}
	return nil
}
