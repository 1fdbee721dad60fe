package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerStatus represents the settlement status of a payment ledger entry
// Matches PostgreSQL ENUM: ledger_status
type LedgerStatus string

const (
	LedgerStatusPending LedgerStatus = "pending" // Created when the payment URL is issued
	LedgerStatusSuccess LedgerStatus = "success" // Gateway confirmed the charge
	LedgerStatusFailed  LedgerStatus = "failed"  // Gateway reported a failed/cancelled charge
)

// GatewayVNPay is the only gateway this platform settles against
const GatewayVNPay = "vnpay"

// PaymentLedgerEntry records one payment attempt against a booking.
// TransactionRef is the gateway-issued idempotency key: the table enforces a
// unique constraint on it, and at most one entry per reference ever reaches
// LedgerStatusSuccess.
type PaymentLedgerEntry struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	BookingID      int64        `json:"booking_id" db:"booking_id"`
	Amount         int64        `json:"amount" db:"amount"` // charged units (VND)
	Gateway        string       `json:"gateway" db:"gateway"`
	Status         LedgerStatus `json:"status" db:"status"`
	TransactionRef string       `json:"transaction_ref" db:"transaction_ref"`
	RawPayload     *string      `json:"raw_payload,omitempty" db:"raw_payload"` // opaque callback query, kept for audit
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// NewPendingLedgerEntry builds the optimistic pending entry inserted when a
// signed payment request is issued. The user may never complete the payment;
// the expiry sweep reaps the booking in that case.
func NewPendingLedgerEntry(bookingID int64, amount int64, transactionRef string) *PaymentLedgerEntry {
	now := time.Now()
	return &PaymentLedgerEntry{
		ID:             uuid.New(),
		BookingID:      bookingID,
		Amount:         amount,
		Gateway:        GatewayVNPay,
		Status:         LedgerStatusPending,
		TransactionRef: transactionRef,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
