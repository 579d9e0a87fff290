// Package settlement reconciles provider payment outcomes with local Order,
// Payment and Product state. Every settlement attempt runs in a single
// serializable transaction: the idempotency check, both status transitions and
// the inventory adjustment commit together or not at all.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/safar/go-shop-api/internal/database"
	"github.com/safar/go-shop-api/internal/models"
	"github.com/safar/go-shop-api/internal/payment"
	"github.com/safar/go-shop-api/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	db       *sql.DB
	registry *payment.Registry
	log      *zap.Logger
}

func NewService(db *sql.DB, registry *payment.Registry, log *zap.Logger) *Service {
	return &Service{db: db, registry: registry, log: log}
}

// InitiateOutcome carries the client-side continuation back to the caller.
type InitiateOutcome struct {
	PaymentID    int64           `json:"payment_id"`
	Provider     string          `json:"provider"`
	Amount       decimal.Decimal `json:"amount"`
	ClientSecret string          `json:"client_secret,omitempty"`
	RedirectURL  string          `json:"redirect_url,omitempty"`
}

// Initiate opens a payment with the named provider for a pending order. A
// second initiation for an order that already has a payment record is rejected
// regardless of that payment's status.
func (s *Service) Initiate(ctx context.Context, orderID int64, providerName, currency string) (*InitiateOutcome, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, database.ErrOrderNotPayable)
	}

	provider, err := s.registry.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM payments WHERE order_id = $1)", orderID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check existing payment: %w", err)
	}
	if exists {
		return nil, database.ErrPaymentExists
	}

	result, err := provider.Initiate(ctx, payment.InitiateRequest{
		OrderID:  orderID,
		Amount:   order.TotalAmount,
		Currency: currency,
		Metadata: map[string]string{"order_number": order.OrderNumber},
	})
	if err != nil {
		return nil, err
	}

	audit := models.AuditLog{}.Append(models.AuditKindInitiated, map[string]string{
		"external_payment_id": result.ExternalPaymentID,
		"amount":              order.TotalAmount.String(),
		"currency":            currency,
	})

	created, err := store.CreatePayment(ctx, s.db, orderID, provider.Name(), result.ExternalPaymentID, audit)
	if err != nil {
		return nil, err
	}

	return &InitiateOutcome{
		PaymentID:    created.ID,
		Provider:     created.Provider,
		Amount:       order.TotalAmount,
		ClientSecret: result.ClientSecret,
		RedirectURL:  result.RedirectURL,
	}, nil
}

// HandleEvent drives a signature-verified provider notification through the
// state machine. A nil return means the notification is settled or safely
// ignored and the caller should acknowledge it; an event whose external id
// matches no local payment is logged and swallowed so the provider stops
// redelivering it.
func (s *Service) HandleEvent(ctx context.Context, ev *payment.Event) error {
	return database.WithRetry(ctx, s.db, database.SettlementTxOptions(), func(tx *sql.Tx) error {
		p, err := store.GetPaymentByExternalIDTx(ctx, tx, ev.Provider, ev.ExternalID)
		if err != nil {
			if errors.Is(err, database.ErrPaymentNotFound) {
				s.log.Warn("webhook event matches no payment, acknowledging anyway",
					zap.String("provider", ev.Provider),
					zap.String("event_id", ev.ID),
					zap.String("external_id", ev.ExternalID),
					zap.String("kind", string(ev.Kind)))
				return nil
			}
			return err
		}

		detail := map[string]string{"event_id": ev.ID, "kind": string(ev.Kind)}
		if ev.TxnID != "" {
			detail["txn_id"] = ev.TxnID
		}

		return s.apply(ctx, tx, p, ev.Kind, ev.TxnID, models.AuditKindEvent, detail)
	})
}

// Verify polls the provider for the payment's current state and folds the
// answer through the same state machine as a webhook notification. The remote
// call happens before the transaction opens; only local reconciliation runs
// inside it.
func (s *Service) Verify(ctx context.Context, paymentID int64) (*models.Payment, error) {
	p, err := store.GetPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}

	provider, err := s.registry.Resolve(p.Provider)
	if err != nil {
		return nil, err
	}

	result, err := provider.Verify(ctx, p.ExternalPaymentID)
	if err != nil {
		return nil, err
	}

	kind := payment.EventFailed
	if result.Verified {
		kind = payment.EventSucceeded
	}

	err = database.WithRetry(ctx, s.db, database.SettlementTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.GetPaymentForUpdateTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		return s.apply(ctx, tx, locked, kind, result.TxnID, models.AuditKindVerified, map[string]string{
			"provider_status": result.Status,
			"verified":        strconv.FormatBool(result.Verified),
		})
	})
	if err != nil {
		return nil, err
	}

	return store.GetPaymentWithOrder(ctx, s.db, paymentID)
}

// Refund returns money for a settled payment. A nil amount refunds the full
// order total. Preconditions are checked before the provider is contacted.
// The payment is forced to FAILED as a terminal "money returned" marker; the
// order status is deliberately left untouched, so a refunded order reads as
// (order PAID, payment FAILED) downstream.
func (s *Service) Refund(ctx context.Context, paymentID int64, amount *decimal.Decimal) (*models.Payment, error) {
	p, err := store.GetPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusSuccess || p.ExternalTxnID == "" {
		return nil, database.ErrRefundNotAllowed
	}

	provider, err := s.registry.Resolve(p.Provider)
	if err != nil {
		return nil, err
	}

	result, err := provider.Refund(ctx, p.ExternalTxnID, amount)
	if err != nil {
		return nil, err
	}

	refunded := amount
	if refunded == nil {
		order, err := store.GetOrder(ctx, s.db, p.OrderID)
		if err != nil {
			return nil, err
		}
		refunded = &order.TotalAmount
	}

	err = database.WithRetry(ctx, s.db, database.SettlementTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.GetPaymentForUpdateTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		// The precondition ran on an unlocked read; a concurrent refund may
		// have won the row lock first. Decide on the locked state.
		if locked.Status != models.PaymentStatusSuccess {
			return database.ErrRefundNotAllowed
		}

		locked.Audit = locked.Audit.Append(models.AuditKindRefunded, map[string]string{
			"refund_id": result.RefundID,
			"amount":    refunded.String(),
		})
		locked.Status = models.PaymentStatusFailed
		return store.UpdatePaymentTx(ctx, tx, locked)
	})
	if err != nil {
		return nil, err
	}

	return store.GetPaymentWithOrder(ctx, s.db, paymentID)
}

// apply dispatches one event kind against the locked payment row. The switch
// is exhaustive over the closed EventKind set.
func (s *Service) apply(ctx context.Context, tx *sql.Tx, p *models.Payment, kind payment.EventKind, txnID, auditKind string, detail map[string]string) error {
	// Terminal-state short-circuit, inside the same transaction that would
	// mutate: once SUCCESS, no event of any kind changes payment or order.
	if p.Status == models.PaymentStatusSuccess {
		s.log.Info("payment already settled, ignoring event",
			zap.Int64("payment_id", p.ID),
			zap.String("kind", string(kind)))
		return nil
	}

	if txnID != "" && p.ExternalTxnID == "" {
		p.ExternalTxnID = txnID
	}
	p.Audit = p.Audit.Append(auditKind, detail)

	switch kind {
	case payment.EventSucceeded:
		if err := s.settleInventory(ctx, tx, p.OrderID); err != nil {
			return err
		}
		if err := store.SetOrderStatusTx(ctx, tx, p.OrderID, models.OrderStatusPaid); err != nil {
			return err
		}
		p.Status = models.PaymentStatusSuccess

	case payment.EventFailed:
		p.Status = models.PaymentStatusFailed

	case payment.EventCanceled:
		p.Status = models.PaymentStatusFailed
		if err := store.SetOrderStatusTx(ctx, tx, p.OrderID, models.OrderStatusCanceled); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unhandled event kind %q", kind)
	}

	return store.UpdatePaymentTx(ctx, tx, p)
}

// settleInventory validates and decrements stock for every line item of the
// order, sequentially, inside the enclosing transaction. Any failure aborts
// the whole settlement attempt: earlier in-transaction decrements roll back
// with it.
func (s *Service) settleInventory(ctx context.Context, tx *sql.Tx, orderID int64) error {
	items, err := store.GetOrderItemsTx(ctx, tx, orderID)
	if err != nil {
		return err
	}

	for _, item := range items {
		product, err := store.GetProductForUpdate(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}

		if product.StockQuantity < item.Quantity {
			return &database.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.StockQuantity,
				Required:    item.Quantity,
			}
		}

		if err := store.DecrementStock(ctx, tx, product, item.Quantity); err != nil {
			return err
		}
		if err := store.RecordStockMovement(ctx, tx, orderID, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	return nil
}
