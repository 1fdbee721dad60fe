package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventCheckoutInitiated      PaymentEventType = "checkout_initiated"
	PaymentEventIPNReceived            PaymentEventType = "ipn_received"
	PaymentEventReturnReceived         PaymentEventType = "return_received"
	PaymentEventSignatureInvalid       PaymentEventType = "signature_invalid"
	PaymentEventUnroutableCallback     PaymentEventType = "unroutable_callback"
	PaymentEventSettlementSuccess      PaymentEventType = "settlement_success"
	PaymentEventSettlementFailed       PaymentEventType = "settlement_failed"
	PaymentEventDuplicateDelivery      PaymentEventType = "duplicate_delivery"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventError                  PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceIPN     PaymentEventSource = "vnpay_ipn"
	PaymentSourceReturn  PaymentEventSource = "vnpay_return"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID             uuid.UUID `json:"id" db:"id"`
	BookingID      *int64    `json:"booking_id,omitempty" db:"booking_id"`
	TransactionRef *string   `json:"transaction_ref,omitempty" db:"transaction_ref"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking for reconciliation
	ExpectedAmount *int64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *int64 `json:"received_amount,omitempty" db:"received_amount"`
	AmountsMatch   *bool  `json:"amounts_match,omitempty" db:"amounts_match"`

	ResponseCode *string `json:"response_code,omitempty" db:"response_code"`
	RawPayload   *string `json:"raw_payload,omitempty" db:"raw_payload"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	IsDuplicate  bool    `json:"is_duplicate" db:"is_duplicate"`

	// Request metadata
	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceInfo JSONB   `json:"device_info,omitempty" db:"device_info"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the resolved booking ID
func (pa *PaymentAudit) SetBooking(bookingID int64) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetTransactionRef sets the gateway transaction reference
func (pa *PaymentAudit) SetTransactionRef(ref string) *PaymentAudit {
	pa.TransactionRef = &ref
	return pa
}

// SetAmounts records expected vs received amounts - returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received int64) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetResponseCode records the gateway response code
func (pa *PaymentAudit) SetResponseCode(code string) *PaymentAudit {
	pa.ResponseCode = &code
	return pa
}

// SetRawPayload stores the raw callback query string before parsing
func (pa *PaymentAudit) SetRawPayload(raw string) *PaymentAudit {
	pa.RawPayload = &raw
	return pa
}

// SetError records error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// MarkAsDuplicate flags this event as a duplicate delivery
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}

// SetMetadata records request metadata, including parsed device info
func (pa *PaymentAudit) SetMetadata(ip, userAgent string, deviceInfo map[string]interface{}) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if deviceInfo != nil {
		pa.DeviceInfo = JSONB(deviceInfo)
	}
	return pa
}
