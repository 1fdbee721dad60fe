package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingRepository handles booking persistence
type BookingRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *sqlx.DB, logger *logrus.Logger) *BookingRepository {
	return &BookingRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new booking in awaiting_payment state
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (
			payer_id, counselor_id, modality, status,
			scheduled_at, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		booking.PayerID, booking.CounselorID, booking.Modality, booking.Status,
		booking.ScheduledAt, booking.ExpiresAt,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	return nil
}

// GetByID retrieves a booking by its ID. Returns nil if not found.
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT * FROM bookings WHERE id = $1`

	err := r.db.GetContext(ctx, &booking, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	return &booking, nil
}

// GetForSettlement retrieves the booking together with the counselor's rates
// so the payment pipeline can resolve the price server-side.
// Returns nil if the booking does not exist.
func (r *BookingRepository) GetForSettlement(ctx context.Context, id int64) (*models.BookingForSettlement, error) {
	var booking models.BookingForSettlement
	query := `
		SELECT b.id, b.payer_id, b.counselor_id, b.modality, b.status,
		       c.online_rate, c.offline_rate
		FROM bookings b
		JOIN counselors c ON c.id = b.counselor_id
		WHERE b.id = $1`

	err := r.db.GetContext(ctx, &booking, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking for settlement: %w", err)
	}

	return &booking, nil
}

// ListByPayer retrieves a payer's bookings, newest first
func (r *BookingRepository) ListByPayer(ctx context.Context, payerID uuid.UUID) ([]*models.Booking, error) {
	var bookings []*models.Booking
	query := `SELECT * FROM bookings WHERE payer_id = $1 ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &bookings, query, payerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	return bookings, nil
}

// Cancel marks a booking cancelled with the given reason, but only while it is
// still awaiting payment. Returns false when the booking was already paid,
// cancelled, or never existed.
func (r *BookingRepository) Cancel(ctx context.Context, id int64, reason string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $1, cancel_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query,
		models.BookingStatusCancelled, reason, id, models.BookingStatusAwaitingPayment,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check cancel result: %w", err)
	}

	return affected > 0, nil
}

// CancelExpired cancels awaiting_payment bookings whose payment window has
// elapsed. Returns the IDs of the bookings that were cancelled so callers can
// release any held resources.
func (r *BookingRepository) CancelExpired(ctx context.Context, now time.Time) ([]int64, error) {
	query := `
		UPDATE bookings
		SET status = $1, cancel_reason = $2, updated_at = NOW()
		WHERE status = $3 AND expires_at < $4
		RETURNING id`

	rows, err := r.db.QueryContext(ctx, query,
		models.BookingStatusCancelled, models.CancelReasonPaymentExpired,
		models.BookingStatusAwaitingPayment, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel expired bookings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cancelled booking id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cancelled booking ids: %w", err)
	}

	return ids, nil
}
