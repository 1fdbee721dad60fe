package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// SettlementRepository owns the atomic settlement write: the conditional
// booking status transition and the ledger upsert happen in one database
// transaction. No other component may write booking or ledger status while a
// callback is in flight.
type SettlementRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *sqlx.DB, logger *logrus.Logger) *SettlementRepository {
	return &SettlementRepository{
		db:     db,
		logger: logger,
	}
}

// upsertLedgerTx writes the ledger entry by transaction reference. Retries
// converge on the same row instead of duplicating it, and a callback for a
// payment whose pending insert was lost at checkout time still lands.
func (r *SettlementRepository) upsertLedgerTx(ctx context.Context, tx *sqlx.Tx, entry *models.PaymentLedgerEntry) error {
	query := `
		INSERT INTO payment_ledger (
			id, booking_id, amount, gateway, status,
			transaction_ref, raw_payload, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (transaction_ref) DO UPDATE SET
			status      = EXCLUDED.status,
			amount      = EXCLUDED.amount,
			raw_payload = EXCLUDED.raw_payload,
			updated_at  = NOW()`

	_, err := tx.ExecContext(ctx, query,
		entry.ID, entry.BookingID, entry.Amount, entry.Gateway, entry.Status,
		entry.TransactionRef, entry.RawPayload,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}

	return nil
}

// SettleSuccess atomically confirms the booking and records the successful
// charge. The booking update is conditioned on awaiting_payment so a booking
// another process has already moved (manual cancellation, a competing
// callback) is never clobbered. Returns whether the booking row transitioned.
func (r *SettlementRepository) SettleSuccess(ctx context.Context, bookingID int64, entry *models.PaymentLedgerEntry) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.BookingStatusConfirmed, bookingID, models.BookingStatusAwaitingPayment,
	)
	if err != nil {
		return false, fmt.Errorf("failed to confirm booking: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := r.upsertLedgerTx(ctx, tx, entry); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id":      bookingID,
		"transaction_ref": entry.TransactionRef,
		"transitioned":    affected > 0,
	}).Info("Settlement success committed")

	return affected > 0, nil
}

// SettleFailure atomically cancels the booking (reason payment_failed) and
// records the failed charge. The cancel is conditioned on awaiting_payment: a
// booking a different successful callback already confirmed is left untouched.
// Returns whether the booking row was cancelled.
func (r *SettlementRepository) SettleFailure(ctx context.Context, bookingID int64, entry *models.PaymentLedgerEntry) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, cancel_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.BookingStatusCancelled, models.CancelReasonPaymentFailed,
		bookingID, models.BookingStatusAwaitingPayment,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := r.upsertLedgerTx(ctx, tx, entry); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"booking_id":      bookingID,
		"transaction_ref": entry.TransactionRef,
		"cancelled":       affected > 0,
	}).Info("Settlement failure committed")

	return affected > 0, nil
}
