package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle status of a counseling booking
// Matches PostgreSQL ENUM: booking_status
type BookingStatus string

const (
	BookingStatusAwaitingPayment BookingStatus = "awaiting_payment" // Created, payment not yet settled
	BookingStatusConfirmed       BookingStatus = "confirmed"        // Payment settled successfully
	BookingStatusInProgress      BookingStatus = "in_progress"      // Session currently running
	BookingStatusCompleted       BookingStatus = "completed"        // Session finished
	BookingStatusCancelled       BookingStatus = "cancelled"        // Cancelled (see CancelReason)
)

// Cancellation reason codes persisted on cancelled bookings
const (
	CancelReasonPaymentFailed  = "payment_failed"  // Gateway reported a failed payment
	CancelReasonPaymentExpired = "payment_expired" // No callback arrived within the payment window
	CancelReasonUserRequested  = "user_requested"
)

// BookingModality determines where the session takes place and which rate applies
type BookingModality string

const (
	ModalityOnline  BookingModality = "online"
	ModalityOffline BookingModality = "offline"
)

// Booking represents a counseling session booking.
// Booking IDs are integers (bigserial) because the gateway transaction
// reference embeds the booking ID as a digit prefix.
type Booking struct {
	ID           int64           `json:"id" db:"id"`
	PayerID      uuid.UUID       `json:"payer_id" db:"payer_id"`
	CounselorID  uuid.UUID       `json:"counselor_id" db:"counselor_id"`
	Modality     BookingModality `json:"modality" db:"modality"`
	Status       BookingStatus   `json:"status" db:"status"`
	CancelReason *string         `json:"cancel_reason,omitempty" db:"cancel_reason"`
	ScheduledAt  time.Time       `json:"scheduled_at" db:"scheduled_at"`
	ExpiresAt    time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// BookingForSettlement carries the booking fields the payment pipeline needs,
// with the counselor's rates joined in so the price is always resolved
// server-side.
type BookingForSettlement struct {
	ID          int64           `db:"id"`
	PayerID     uuid.UUID       `db:"payer_id"`
	CounselorID uuid.UUID       `db:"counselor_id"`
	Modality    BookingModality `db:"modality"`
	Status      BookingStatus   `db:"status"`
	OnlineRate  int64           `db:"online_rate"`
	OfflineRate int64           `db:"offline_rate"`
}

// Price resolves the charge amount from the booking's modality and the
// counselor's rates. Client-supplied amounts are never trusted.
func (b *BookingForSettlement) Price() int64 {
	if b.Modality == ModalityOffline {
		return b.OfflineRate
	}
	return b.OnlineRate
}

// CreateBookingRequest is the request body for creating a booking
type CreateBookingRequest struct {
	CounselorID string `json:"counselor_id" binding:"required"`
	Modality    string `json:"modality" binding:"required"`
	ScheduledAt string `json:"scheduled_at" binding:"required"` // RFC3339
}

// Validate checks the request fields beyond binding tags
func (r *CreateBookingRequest) Validate() error {
	if r.Modality != string(ModalityOnline) && r.Modality != string(ModalityOffline) {
		return fmt.Errorf("modality must be %q or %q", ModalityOnline, ModalityOffline)
	}
	if _, err := uuid.Parse(r.CounselorID); err != nil {
		return fmt.Errorf("invalid counselor_id")
	}
	if _, err := time.Parse(time.RFC3339, r.ScheduledAt); err != nil {
		return fmt.Errorf("scheduled_at must be RFC3339")
	}
	return nil
}
