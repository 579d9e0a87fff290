package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-shop-api/internal/database"
	"github.com/safar/go-shop-api/internal/models"
)

const paymentColumns = `id, order_id, provider, external_payment_id, external_txn_id, status, audit, created_at, updated_at`

func scanPayment(row scanner) (*models.Payment, error) {
	payment := &models.Payment{}
	var externalPaymentID, externalTxnID sql.NullString

	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Provider,
		&externalPaymentID,
		&externalTxnID,
		&payment.Status,
		&payment.Audit,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	payment.ExternalPaymentID = externalPaymentID.String
	payment.ExternalTxnID = externalTxnID.String
	return payment, nil
}

// CreatePayment inserts the PENDING payment row. The unique index on order_id
// rejects a second initiation for the same order regardless of the existing
// payment's status.
func CreatePayment(ctx context.Context, db *sql.DB, orderID int64, provider, externalPaymentID string, audit models.AuditLog) (*models.Payment, error) {
	query := `
		INSERT INTO payments (order_id, provider, external_payment_id, status, audit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + paymentColumns

	payment, err := scanPayment(db.QueryRowContext(ctx, query,
		orderID, provider, externalPaymentID, models.PaymentStatusPending, audit))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, database.ErrPaymentExists
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return payment, nil
}

func GetPayment(ctx context.Context, db *sql.DB, id int64) (*models.Payment, error) {
	return scanPayment(db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetPaymentForUpdateTx locks the payment row by local id for the duration of
// the settlement transaction.
func GetPaymentForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Payment, error) {
	return scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

// GetPaymentByExternalIDTx locks the payment row matching either provider-side
// identifier. Webhook events may carry the payment id or the transaction id
// depending on the event kind.
func GetPaymentByExternalIDTx(ctx context.Context, tx *sql.Tx, provider, externalID string) (*models.Payment, error) {
	return scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE provider = $1 AND (external_payment_id = $2 OR external_txn_id = $2)
		 FOR UPDATE`, provider, externalID))
}

// UpdatePaymentTx writes the new status, the external transaction id when
// newly learned, and the grown audit log, all inside the settlement
// transaction.
func UpdatePaymentTx(ctx context.Context, tx *sql.Tx, payment *models.Payment) error {
	var externalTxnID sql.NullString
	if payment.ExternalTxnID != "" {
		externalTxnID = sql.NullString{String: payment.ExternalTxnID, Valid: true}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1, external_txn_id = $2, audit = $3, updated_at = NOW()
		 WHERE id = $4`,
		payment.Status, externalTxnID, payment.Audit, payment.ID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrPaymentNotFound
	}
	return nil
}

// GetPaymentWithOrder returns the payment with its order and items embedded,
// the shape the manual-verify and refund entry points respond with.
func GetPaymentWithOrder(ctx context.Context, db *sql.DB, id int64) (*models.Payment, error) {
	payment, err := GetPayment(ctx, db, id)
	if err != nil {
		return nil, err
	}

	order, err := GetOrder(ctx, db, payment.OrderID)
	if err != nil {
		return nil, err
	}
	payment.Order = order

	return payment, nil
}
