package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/safar/go-shop-api/internal/config"
	"github.com/safar/go-shop-api/internal/database"
	"github.com/safar/go-shop-api/internal/models"
	"github.com/safar/go-shop-api/internal/payment"
	"github.com/safar/go-shop-api/internal/store"
	"github.com/shopspring/decimal"
)

func successEvent(externalPaymentID, txnID string) *payment.Event {
	return &payment.Event{
		ID:         "evt_" + externalPaymentID,
		Kind:       payment.EventSucceeded,
		Provider:   models.ProviderStripe,
		ExternalID: externalPaymentID,
		TxnID:      txnID,
	}
}

func TestSettlementSuccess(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := newSettlementService(db, config.ProvidersConfig{})

	user := mustCreateUser(t, db, "settle@example.com")
	product := mustCreateProduct(t, db, "SETTLE-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 3})
	p := mustCreatePayment(t, db, order.ID, "pi_settle_1")

	if err := svc.HandleEvent(ctx, successEvent("pi_settle_1", "ch_1")); err != nil {
		t.Fatalf("Handle event: %v", err)
	}

	settled, err := store.GetPayment(ctx, db, p.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	if settled.Status != models.PaymentStatusSuccess {
		t.Errorf("Expected payment SUCCESS, got %s", settled.Status)
	}
	if settled.ExternalTxnID != "ch_1" {
		t.Errorf("Expected external txn id ch_1, got %q", settled.ExternalTxnID)
	}
	if len(settled.Audit) < 2 {
		t.Errorf("Expected audit log to grow, got %d entries", len(settled.Audit))
	}

	updated, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if updated.Status != models.OrderStatusPaid {
		t.Errorf("Expected order PAID, got %s", updated.Status)
	}

	if stock := getStock(t, db, product.ID); stock != 7 {
		t.Errorf("Expected stock 7, got %d", stock)
	}
}

func TestSettlementDuplicateDelivery(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := newSettlementService(db, config.ProvidersConfig{})

	user := mustCreateUser(t, db, "dup@example.com")
	product := mustCreateProduct(t, db, "DUP-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 3})
	mustCreatePayment(t, db, order.ID, "pi_dup_1")

	for i := 0; i < 5; i++ {
		if err := svc.HandleEvent(ctx, successEvent("pi_dup_1", "ch_1")); err != nil {
			t.Fatalf("Handle event delivery %d: %v", i+1, err)
		}
	}

	if stock := getStock(t, db, product.ID); stock != 7 {
		t.Errorf("Expected stock 7 after 5 duplicate deliveries, got %d", stock)
	}
}

func TestSettlementTerminalStateImmutable(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := newSettlementService(db, config.ProvidersConfig{})

	user := mustCreateUser(t, db, "terminal@example.com")
	product := mustCreateProduct(t, db, "TERM-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 2})
	p := mustCreatePayment(t, db, order.ID, "pi_term_1")

	if err := svc.HandleEvent(ctx, successEvent("pi_term_1", "ch_1")); err != nil {
		t.Fatalf("Handle success event: %v", err)
	}

	// Late failure and cancellation events for an already-settled payment
	// must change nothing.
	for _, kind := range []payment.EventKind{payment.EventFailed, payment.EventCanceled} {
		err := svc.HandleEvent(ctx, &payment.Event{
			ID: "evt_late", Kind: kind, Provider: models.ProviderStripe, ExternalID: "pi_term_1",
		})
		if err != nil {
			t.Fatalf("Handle late %s event: %v", kind, err)
		}
	}

	settled, err := store.GetPayment(ctx, db, p.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	if settled.Status != models.PaymentStatusSuccess {
		t.Errorf("Payment left SUCCESS, got %s", settled.Status)
	}

	updated, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if updated.Status != models.OrderStatusPaid {
		t.Errorf("Order left PAID, got %s", updated.Status)
	}
}

func TestSettlementInsufficientStockRollsBackEverything(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := newSettlementService(db, config.ProvidersConfig{})

	user := mustCreateUser(t, db, "rollback@example.com")
	covered := mustCreateProduct(t, db, "RB-OK", 100, 50)
	short := mustCreateProduct(t, db, "RB-SHORT", 100, 10)
	order := mustCreateOrder(t, db, user.ID,
		store.OrderItemRequest{ProductID: covered.ID, Quantity: 5},
		store.OrderItemRequest{ProductID: short.ID, Quantity: 20},
	)
	p := mustCreatePayment(t, db, order.ID, "pi_rb_1")

	err := svc.HandleEvent(ctx, successEvent("pi_rb_1", "ch_1"))
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock error, got %v", err)
	}

	var stockErr *database.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected InsufficientStockError, got %T", err)
	}
	if stockErr.Available != 10 || stockErr.Required != 20 {
		t.Errorf("Expected available 10 required 20, got %d/%d", stockErr.Available, stockErr.Required)
	}

	// Both products untouched, including the one that was decrementable.
	if stock := getStock(t, db, covered.ID); stock != 50 {
		t.Errorf("Covered product stock changed: expected 50, got %d", stock)
	}
	if stock := getStock(t, db, short.ID); stock != 10 {
		t.Errorf("Short product stock changed: expected 10, got %d", stock)
	}

	after, err := store.GetPayment(ctx, db, p.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	if after.Status != models.PaymentStatusPending {
		t.Errorf("Payment should stay PENDING, got %s", after.Status)
	}

	updated, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if updated.Status != models.OrderStatusPending {
		t.Errorf("Order should stay PENDING, got %s", updated.Status)
	}
}

func TestSettlementUnknownExternalIDIsAcceptedNoOp(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := newSettlementService(db, config.ProvidersConfig{})

	user := mustCreateUser(t, db, "unknown@example.com")
	product := mustCreateProduct(t, db, "UNK-001", 100, 10)
	mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 1})

	if err := svc.HandleEvent(ctx, successEvent("pi_never_existed", "ch_x")); err != nil {
		t.Fatalf("Unknown external id must be swallowed, got %v", err)
	}

	if stock := getStock(t, db, product.ID); stock != 10 {
		t.Errorf("Stock changed on unknown event: expected 10, got %d", stock)
	}
}

func TestSettlementCanceledEvent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := newSettlementService(db, config.ProvidersConfig{})

	user := mustCreateUser(t, db, "cancel@example.com")
	product := mustCreateProduct(t, db, "CXL-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 2})
	p := mustCreatePayment(t, db, order.ID, "pi_cxl_1")

	err := svc.HandleEvent(ctx, &payment.Event{
		ID: "evt_cxl", Kind: payment.EventCanceled, Provider: models.ProviderStripe, ExternalID: "pi_cxl_1",
	})
	if err != nil {
		t.Fatalf("Handle canceled event: %v", err)
	}

	after, err := store.GetPayment(ctx, db, p.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	if after.Status != models.PaymentStatusFailed {
		t.Errorf("Expected payment FAILED, got %s", after.Status)
	}

	updated, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if updated.Status != models.OrderStatusCanceled {
		t.Errorf("Expected order CANCELED, got %s", updated.Status)
	}
	if stock := getStock(t, db, product.ID); stock != 10 {
		t.Errorf("Stock changed on cancel: expected 10, got %d", stock)
	}
}

func TestSettlementFailedThenSuccess(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	svc := newSettlementService(db, config.ProvidersConfig{})

	user := mustCreateUser(t, db, "retry@example.com")
	product := mustCreateProduct(t, db, "RETRY-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 4})
	p := mustCreatePayment(t, db, order.ID, "pi_retry_1")

	err := svc.HandleEvent(ctx, &payment.Event{
		ID: "evt_f", Kind: payment.EventFailed, Provider: models.ProviderStripe, ExternalID: "pi_retry_1",
	})
	if err != nil {
		t.Fatalf("Handle failed event: %v", err)
	}

	after, _ := store.GetPayment(ctx, db, p.ID)
	if after.Status != models.PaymentStatusFailed {
		t.Fatalf("Expected payment FAILED, got %s", after.Status)
	}

	// A later success (out-of-order delivery) still settles.
	if err := svc.HandleEvent(ctx, successEvent("pi_retry_1", "ch_1")); err != nil {
		t.Fatalf("Handle success after failure: %v", err)
	}

	after, _ = store.GetPayment(ctx, db, p.ID)
	if after.Status != models.PaymentStatusSuccess {
		t.Errorf("Expected payment SUCCESS, got %s", after.Status)
	}
	if stock := getStock(t, db, product.ID); stock != 6 {
		t.Errorf("Expected stock 6, got %d", stock)
	}
}

func TestRefundPreconditions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Provider base URL points nowhere: any remote contact would fail loudly,
	// proving preconditions reject before the provider is reached.
	svc := newSettlementService(db, config.ProvidersConfig{
		Stripe: config.StripeConfig{BaseURL: "http://127.0.0.1:1"},
	})

	user := mustCreateUser(t, db, "refundpre@example.com")
	product := mustCreateProduct(t, db, "RFPRE-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 1})
	p := mustCreatePayment(t, db, order.ID, "pi_rfpre_1")

	_, err := svc.Refund(ctx, p.ID, nil)
	if !errors.Is(err, database.ErrRefundNotAllowed) {
		t.Fatalf("Expected refund rejection for PENDING payment, got %v", err)
	}
}

func TestRefundFlow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" {
			t.Errorf("Unexpected provider call: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "re_1", "status": "succeeded"})
	}))
	defer server.Close()

	svc := newSettlementService(db, config.ProvidersConfig{
		Stripe: config.StripeConfig{BaseURL: server.URL},
	})

	user := mustCreateUser(t, db, "refund@example.com")
	product := mustCreateProduct(t, db, "RF-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 3})
	p := mustCreatePayment(t, db, order.ID, "pi_rf_1")

	if err := svc.HandleEvent(ctx, successEvent("pi_rf_1", "ch_rf")); err != nil {
		t.Fatalf("Settle payment: %v", err)
	}

	refunded, err := svc.Refund(ctx, p.ID, nil)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}

	if refunded.Status != models.PaymentStatusFailed {
		t.Errorf("Expected payment FAILED after refund, got %s", refunded.Status)
	}

	last := refunded.Audit[len(refunded.Audit)-1]
	if last.Kind != models.AuditKindRefunded {
		t.Errorf("Expected last audit entry %s, got %s", models.AuditKindRefunded, last.Kind)
	}
	if last.Detail["refund_id"] != "re_1" {
		t.Errorf("Expected refund_id re_1, got %q", last.Detail["refund_id"])
	}
	if !decimal.RequireFromString(last.Detail["amount"]).Equal(decimal.NewFromInt(300)) {
		t.Errorf("Expected refund amount 300, got %s", last.Detail["amount"])
	}

	// Refund does not touch the order: the pair (order PAID, payment FAILED)
	// is the documented terminal shape of a refunded order.
	if refunded.Order == nil || refunded.Order.Status != models.OrderStatusPaid {
		t.Errorf("Expected embedded order to stay PAID")
	}
	if stock := getStock(t, db, product.ID); stock != 7 {
		t.Errorf("Refund must not restock: expected 7, got %d", stock)
	}
}

// Both refund calls may pass the unlocked precondition before either commits;
// the locked re-check must let exactly one of them return the money.
func TestConcurrentRefundSingleWinner(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "re_race", "status": "succeeded"})
	}))
	defer server.Close()

	svc := newSettlementService(db, config.ProvidersConfig{
		Stripe: config.StripeConfig{BaseURL: server.URL},
	})

	user := mustCreateUser(t, db, "refundrace@example.com")
	product := mustCreateProduct(t, db, "RFRACE-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 1})
	p := mustCreatePayment(t, db, order.ID, "pi_rfrace_1")

	if err := svc.HandleEvent(ctx, successEvent("pi_rfrace_1", "ch_rfrace")); err != nil {
		t.Fatalf("Settle payment: %v", err)
	}

	const callers = 2
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refund(ctx, p.ID, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, database.ErrRefundNotAllowed):
			rejected++
		default:
			t.Errorf("Unexpected refund error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Errorf("Expected exactly one refund to win, got %d succeeded / %d rejected", succeeded, rejected)
	}

	after, err := store.GetPayment(ctx, db, p.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	var refundEntries int
	for _, entry := range after.Audit {
		if entry.Kind == models.AuditKindRefunded {
			refundEntries++
		}
	}
	if refundEntries != 1 {
		t.Errorf("Expected exactly one refund audit entry, got %d", refundEntries)
	}
}

func TestVerifyPathSettles(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "pi_vf_1", "status": "succeeded", "latest_charge": "ch_vf", "amount": 10000,
		})
	}))
	defer server.Close()

	svc := newSettlementService(db, config.ProvidersConfig{
		Stripe: config.StripeConfig{BaseURL: server.URL},
	})

	user := mustCreateUser(t, db, "verify@example.com")
	product := mustCreateProduct(t, db, "VF-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 1})
	p := mustCreatePayment(t, db, order.ID, "pi_vf_1")

	verified, err := svc.Verify(ctx, p.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if verified.Status != models.PaymentStatusSuccess {
		t.Errorf("Expected payment SUCCESS, got %s", verified.Status)
	}
	if verified.ExternalTxnID != "ch_vf" {
		t.Errorf("Expected external txn id ch_vf, got %q", verified.ExternalTxnID)
	}
	if verified.Order == nil || verified.Order.Status != models.OrderStatusPaid {
		t.Errorf("Expected embedded order PAID")
	}
	if stock := getStock(t, db, product.ID); stock != 9 {
		t.Errorf("Expected stock 9, got %d", stock)
	}
}

func TestInitiateRejectsSecondPayment(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"id": "pi_new", "client_secret": "cs_new", "status": "requires_payment_method",
		})
	}))
	defer server.Close()

	svc := newSettlementService(db, config.ProvidersConfig{
		Stripe: config.StripeConfig{BaseURL: server.URL},
	})

	user := mustCreateUser(t, db, "initiate@example.com")
	product := mustCreateProduct(t, db, "INIT-001", 100, 10)
	order := mustCreateOrder(t, db, user.ID, store.OrderItemRequest{ProductID: product.ID, Quantity: 1})

	outcome, err := svc.Initiate(ctx, order.ID, "stripe", "USD")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if outcome.ClientSecret != "cs_new" {
		t.Errorf("Expected client secret cs_new, got %q", outcome.ClientSecret)
	}

	_, err = svc.Initiate(ctx, order.ID, "stripe", "USD")
	if !errors.Is(err, database.ErrPaymentExists) {
		t.Fatalf("Expected second initiation to be rejected, got %v", err)
	}
}
