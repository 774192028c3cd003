package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/beat-store/internal/core/service"
	"github.com/rl1809/beat-store/internal/port"
)

type HTTPHandler struct {
	holds       *service.HoldService
	bundles     *service.BundleService
	fulfillment *service.FulfillmentService
}

func NewHTTPHandler(holds *service.HoldService, bundles *service.BundleService, fulfillment *service.FulfillmentService) *HTTPHandler {
	return &HTTPHandler{
		holds:       holds,
		bundles:     bundles,
		fulfillment: fulfillment,
	}
}

func (h *HTTPHandler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/holds", h.AcquireHold)
	r.Delete("/api/holds", h.ReleaseHold)
	r.Get("/api/holds/current", h.CurrentHold)
	r.Get("/api/availability", h.Availability)
	r.Post("/api/checkout-notice", h.CheckoutNotice)
	r.Post("/api/payments/webhook", h.PaymentWebhook)
	return r
}

type holdRequest struct {
	HolderID int64 `json:"holder_id"`
	BeatID   int64 `json:"beat_id,omitempty"`
	BundleID int64 `json:"bundle_id,omitempty"`
}

type holdResponse struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

func (h *HTTPHandler) AcquireHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if !decodeHoldRequest(w, r, &req) {
		return
	}

	var err error
	if req.BundleID != 0 {
		err = h.bundles.AcquireBundle(r.Context(), req.BundleID, req.HolderID)
	} else {
		err = h.holds.Acquire(r.Context(), req.BeatID, req.HolderID)
	}
	if err != nil {
		writeHoldError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holdResponse{Granted: true})
}

func (h *HTTPHandler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if !decodeHoldRequest(w, r, &req) {
		return
	}

	// Release is called from every navigation-away path; a missing hold is
	// not an error.
	var err error
	if req.BundleID != 0 {
		err = h.bundles.ReleaseBundle(r.Context(), req.BundleID, req.HolderID)
	} else {
		err = h.holds.Release(r.Context(), req.BeatID, req.HolderID)
	}
	if err != nil && !errors.Is(err, service.ErrBundleNotFound) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type currentHoldResponse struct {
	BeatID           int64 `json:"beat_id"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

func (h *HTTPHandler) CurrentHold(w http.ResponseWriter, r *http.Request) {
	holderID, err := queryInt64(r, "holder_id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid holder_id"})
		return
	}

	hold, remaining, err := h.holds.CurrentHold(r.Context(), holderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if hold == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active hold"})
		return
	}
	writeJSON(w, http.StatusOK, currentHoldResponse{
		BeatID:           hold.BeatID,
		RemainingSeconds: int64(remaining.Seconds()),
	})
}

type availabilityResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func (h *HTTPHandler) Availability(w http.ResponseWriter, r *http.Request) {
	holderID, err := queryInt64(r, "holder_id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid holder_id"})
		return
	}

	var available bool
	var reason service.Reason
	if bundleID, bErr := queryInt64(r, "bundle_id"); bErr == nil {
		available, reason, err = h.bundles.Availability(r.Context(), bundleID, holderID)
	} else if beatID, iErr := queryInt64(r, "beat_id"); iErr == nil {
		available, reason, err = h.holds.Availability(r.Context(), beatID, holderID)
	} else {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "beat_id or bundle_id required"})
		return
	}

	if err != nil {
		if errors.Is(err, service.ErrBeatNotFound) || errors.Is(err, service.ErrBundleNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Available: available, Reason: string(reason)})
}

type noticeResponse struct {
	Send bool `json:"send"`
}

func (h *HTTPHandler) CheckoutNotice(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if !decodeHoldRequest(w, r, &req) {
		return
	}

	send, err := h.fulfillment.CheckoutNotice(r.Context(), req.HolderID, req.BeatID, req.BundleID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, noticeResponse{Send: send})
}

type webhookRequest struct {
	TransactionID string  `json:"transaction_id"`
	BuyerID       int64   `json:"buyer_id"`
	BeatID        int64   `json:"beat_id,omitempty"`
	BundleID      int64   `json:"bundle_id,omitempty"`
	PayerEmail    string  `json:"payer_email"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

type webhookResponse struct {
	Outcome   string  `json:"outcome"`
	Delivered []int64 `json:"delivered,omitempty"`
	Failed    []int64 `json:"failed,omitempty"`
}

func (h *HTTPHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.TransactionID == "" || req.BuyerID == 0 || (req.BeatID == 0) == (req.BundleID == 0) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields"})
		return
	}

	result, err := h.fulfillment.ProcessPayment(r.Context(), service.PaymentEvent{
		TransactionID: req.TransactionID,
		BuyerID:       req.BuyerID,
		BeatID:        req.BeatID,
		BundleID:      req.BundleID,
		PayerEmail:    req.PayerEmail,
		Amount:        req.Amount,
		Currency:      req.Currency,
	})
	if err != nil {
		if errors.Is(err, service.ErrBeatNotFound) || errors.Is(err, service.ErrBundleNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Outcome:   string(result.Outcome),
		Delivered: result.Delivered,
		Failed:    result.Failed,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func decodeHoldRequest(w http.ResponseWriter, r *http.Request, req *holdRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if req.HolderID == 0 || (req.BeatID == 0) == (req.BundleID == 0) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "holder_id and exactly one of beat_id or bundle_id required"})
		return false
	}
	return true
}

func writeHoldError(w http.ResponseWriter, err error) {
	var unavailable *service.BundleUnavailableError
	switch {
	case errors.Is(err, service.ErrHeldByOther):
		writeJSON(w, http.StatusConflict, holdResponse{Granted: false, Reason: "held"})
	case errors.Is(err, service.ErrAlreadyHoldingOther):
		writeJSON(w, http.StatusConflict, holdResponse{Granted: false, Reason: "already-holding"})
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusConflict, holdResponse{Granted: false, Reason: "bundle-unavailable"})
	case errors.Is(err, service.ErrBeatNotFound), errors.Is(err, service.ErrBundleNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, port.ErrContention):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage contention, try again"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func queryInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
