package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-shop-api/internal/models"
	"github.com/safar/go-shop-api/internal/payment"
	"github.com/safar/go-shop-api/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "X-Webhook-Signature"

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID  int64  `json:"order_id"`
		Provider string `json:"provider"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	order, err := store.GetOrder(r.Context(), h.db, req.OrderID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	claims := claimsFrom(r.Context())
	if order.UserID != claims.UserID && claims.Role != models.RoleAdmin {
		respondError(w, http.StatusForbidden, "not your order")
		return
	}

	outcome, err := h.settlement.Initiate(r.Context(), req.OrderID, req.Provider, req.Currency)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, outcome)
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid payment ID")
		return
	}

	// Ownership check before contacting the provider.
	p, err := store.GetPayment(r.Context(), h.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	order, err := store.GetOrder(r.Context(), h.db, p.OrderID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	claims := claimsFrom(r.Context())
	if order.UserID != claims.UserID && claims.Role != models.RoleAdmin {
		respondError(w, http.StatusForbidden, "not your payment")
		return
	}

	updated, err := h.settlement.Verify(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid payment ID")
		return
	}

	var req struct {
		Amount json.Number `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		d, err := decodeMoney(req.Amount)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid amount")
			return
		}
		amount = &d
	}

	updated, err := h.settlement.Refund(r.Context(), id, amount)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// Webhook is the ingress for provider notifications. The raw body and the
// signature header go to the provider untouched; nothing is parsed before the
// signature checks out. Responses follow the acknowledgment contract: bad
// signature is a client error, an event matching no payment is still a 200 so
// the provider stops retrying, and a genuine settlement failure is a 500
// unless the ack-errors policy is enabled.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	provider, err := h.registry.Resolve(providerName)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	verifier, ok := provider.(payment.WebhookVerifier)
	if !ok {
		respondError(w, http.StatusBadRequest, "provider does not deliver signed webhooks")
		return
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		respondError(w, http.StatusBadRequest, "missing signature header")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	event, err := verifier.ConstructEvent(body, sig)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Verified but unusable payload (unknown event type, bad JSON):
		// acknowledge so the provider does not redeliver it forever.
		h.log.Warn("discarding verified but unusable webhook",
			zap.String("provider", providerName), zap.Error(err))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.settlement.HandleEvent(r.Context(), event); err != nil {
		if h.cfg.Webhook.AckSettlementErrors {
			h.log.Error("settlement failed, acknowledging per policy",
				zap.String("provider", providerName),
				zap.String("event_id", event.ID),
				zap.Error(err))
			respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
			return
		}
		h.log.Error("settlement failed",
			zap.String("provider", providerName),
			zap.String("event_id", event.ID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "settlement failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
