package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/safar/go-shop-api/internal/models"
	"github.com/safar/go-shop-api/internal/store"
)

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req struct {
		Items []struct {
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "order must contain at least one item")
		return
	}

	var items []store.OrderItemRequest
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "quantity must be positive")
			return
		}
		items = append(items, store.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := store.CreateOrder(r.Context(), h.db, store.CreateOrderRequest{
		UserID: claims.UserID,
		Items:  items,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

// getOwnedOrder loads the order and enforces that the caller owns it or is an
// admin.
func (h *Handler) getOwnedOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return nil, false
	}

	order, err := store.GetOrder(r.Context(), h.db, id)
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}

	claims := claimsFrom(r.Context())
	if order.UserID != claims.UserID && claims.Role != models.RoleAdmin {
		respondError(w, http.StatusForbidden, "not your order")
		return nil, false
	}

	return order, true
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.getOwnedOrder(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	cursor := r.URL.Query().Get("cursor")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListOrdersCursor(r.Context(), h.db, claims.UserID, cursor, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.getOwnedOrder(w, r)
	if !ok {
		return
	}

	updated, err := store.UpdateOrderStatus(r.Context(), h.db, order.ID, models.OrderStatusCanceled)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := store.UpdateOrderStatus(r.Context(), h.db, id, req.Status)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}
