package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentLedgerRepository handles payment ledger persistence.
// The transaction_ref column carries a UNIQUE constraint; that constraint is
// the idempotency enforcement point for the whole settlement pipeline.
type PaymentLedgerRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentLedgerRepository creates a new payment ledger repository
func NewPaymentLedgerRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentLedgerRepository {
	return &PaymentLedgerRepository{
		db:     db,
		logger: logger,
	}
}

// InsertPending inserts the optimistic pending entry created at checkout time
func (r *PaymentLedgerRepository) InsertPending(ctx context.Context, entry *models.PaymentLedgerEntry) error {
	query := `
		INSERT INTO payment_ledger (
			id, booking_id, amount, gateway, status,
			transaction_ref, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.BookingID, entry.Amount, entry.Gateway, entry.Status,
		entry.TransactionRef, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending ledger entry: %w", err)
	}

	return nil
}

// GetByTransactionRef retrieves a ledger entry by its gateway transaction
// reference. Returns nil if none exists.
func (r *PaymentLedgerRepository) GetByTransactionRef(ctx context.Context, transactionRef string) (*models.PaymentLedgerEntry, error) {
	var entry models.PaymentLedgerEntry
	query := `SELECT * FROM payment_ledger WHERE transaction_ref = $1`

	err := r.db.GetContext(ctx, &entry, query, transactionRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return &entry, nil
}
