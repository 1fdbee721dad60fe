package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mindhaven/counseling-backend/internal/database"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// Business precondition failures surfaced to the checkout caller
var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrBookingNotOwned   = errors.New("booking does not belong to the requesting payer")
	ErrBookingNotPayable = errors.New("booking is not awaiting payment")
	ErrInvalidPrice      = errors.New("booking price could not be resolved")
)

// SideEffectDispatcher is invoked best-effort after a settlement write.
// Implementations must never block longer than their own internal bound and
// must swallow their own errors.
type SideEffectDispatcher interface {
	PaymentSucceeded(booking *models.BookingForSettlement, amount int64, transactionRef string)
	PaymentFailed(booking *models.BookingForSettlement, transactionRef string)
}

// CheckoutResponse carries the signed redirect URL issued to the payer
type CheckoutResponse struct {
	PaymentURL     string `json:"payment_url"`
	TransactionRef string `json:"transaction_ref"`
	Amount         int64  `json:"amount"`
}

// SettleInput is one verified, resolved callback handed to the state machine
type SettleInput struct {
	BookingID      int64
	TransactionRef string
	ResponseCode   string
	Amount         int64  // charged units, already descaled from the wire
	RawPayload     string // original callback query string, kept for audit
	Source         models.PaymentEventSource
}

// SettleResult reports what the state machine did with a callback
type SettleResult struct {
	Succeeded bool // gateway verdict
	Duplicate bool // idempotency gate short-circuit: nothing was written
	BookingID int64
}

// PaymentService drives the settlement pipeline: it issues signed payment
// requests and performs the exactly-once settlement transition for verified
// callbacks. Correctness under concurrent duplicate delivery relies on the
// ledger idempotency gate plus conditional status-scoped writes, not on any
// in-process lock.
type PaymentService struct {
	bookingRepo    *database.BookingRepository
	ledgerRepo     *database.PaymentLedgerRepository
	settlementRepo *database.SettlementRepository
	auditRepo      *database.PaymentAuditRepository
	vnpay          *VNPayService
	dispatcher     SideEffectDispatcher
	logger         *logrus.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	bookingRepo *database.BookingRepository,
	ledgerRepo *database.PaymentLedgerRepository,
	settlementRepo *database.SettlementRepository,
	auditRepo *database.PaymentAuditRepository,
	vnpay *VNPayService,
	dispatcher SideEffectDispatcher,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		bookingRepo:    bookingRepo,
		ledgerRepo:     ledgerRepo,
		settlementRepo: settlementRepo,
		auditRepo:      auditRepo,
		vnpay:          vnpay,
		dispatcher:     dispatcher,
		logger:         logger,
	}
}

// Checkout validates the booking, resolves the price server-side and returns
// the signed gateway redirect URL. A pending ledger entry is inserted
// best-effort; settlement recovers via upsert if that insert is lost.
func (s *PaymentService) Checkout(ctx context.Context, payerID uuid.UUID, bookingID int64, bankCode, clientIP string) (*CheckoutResponse, error) {
	booking, err := s.bookingRepo.GetForSettlement(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}
	if booking.PayerID != payerID {
		return nil, ErrBookingNotOwned
	}
	if booking.Status != models.BookingStatusAwaitingPayment {
		return nil, ErrBookingNotPayable
	}

	amount := booking.Price()
	if amount <= 0 {
		return nil, ErrInvalidPrice
	}

	now := time.Now()
	transactionRef := NewTransactionRef(bookingID, now)

	// Best-effort: a lost pending row must not block the redirect URL, the
	// settlement upsert converges on the callback either way.
	entry := models.NewPendingLedgerEntry(bookingID, amount, transactionRef)
	if err := s.ledgerRepo.InsertPending(ctx, entry); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":      bookingID,
			"transaction_ref": transactionRef,
		}).Warn("Failed to insert pending ledger entry, continuing")
	}

	paymentURL := s.vnpay.BuildPaymentURL(BuildPaymentParams{
		BookingID:      bookingID,
		TransactionRef: transactionRef,
		Amount:         amount,
		ClientIP:       clientIP,
		BankCode:       bankCode,
		OrderInfo:      EncodeOrderInfo(bookingID),
		CreatedAt:      now,
	})

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventCheckoutInitiated, models.PaymentSourceBackend).
		SetBooking(bookingID).
		SetTransactionRef(transactionRef))

	return &CheckoutResponse{
		PaymentURL:     paymentURL,
		TransactionRef: transactionRef,
		Amount:         amount,
	}, nil
}

// Settle performs the idempotent state transition for one verified, resolved
// callback. It is safe to call concurrently with a duplicate of itself, via
// either transport, in any order.
func (s *PaymentService) Settle(ctx context.Context, input SettleInput) (*SettleResult, error) {
	// Idempotency gate: a transaction reference that already settled
	// successfully is acknowledged again without any write or side effect.
	existing, err := s.ledgerRepo.GetByTransactionRef(ctx, input.TransactionRef)
	if err != nil {
		return nil, fmt.Errorf("failed to check ledger for idempotency: %w", err)
	}
	if existing != nil && existing.Status == models.LedgerStatusSuccess {
		s.logger.WithFields(logrus.Fields{
			"transaction_ref": input.TransactionRef,
			"booking_id":      input.BookingID,
		}).Info("Duplicate settlement callback, already settled")

		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventDuplicateDelivery, input.Source).
			SetBooking(input.BookingID).
			SetTransactionRef(input.TransactionRef).
			MarkAsDuplicate())

		return &SettleResult{Succeeded: true, Duplicate: true, BookingID: input.BookingID}, nil
	}

	booking, err := s.bookingRepo.GetForSettlement(ctx, input.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}

	// Reconciliation: the pending entry recorded what we asked the gateway to
	// charge. A mismatch is recorded for audit; the gateway remains
	// authoritative for the amount actually charged.
	if existing != nil && existing.Amount != input.Amount {
		s.logger.WithFields(logrus.Fields{
			"transaction_ref": input.TransactionRef,
			"expected":        existing.Amount,
			"received":        input.Amount,
		}).Warn("Callback amount does not match pending ledger entry")

		audit := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, input.Source).
			SetBooking(input.BookingID).
			SetTransactionRef(input.TransactionRef)
		audit.SetAmounts(existing.Amount, input.Amount)
		s.audit(ctx, audit)
	}

	entry := &models.PaymentLedgerEntry{
		ID:             uuid.New(),
		BookingID:      input.BookingID,
		Amount:         input.Amount,
		Gateway:        models.GatewayVNPay,
		TransactionRef: input.TransactionRef,
		RawPayload:     &input.RawPayload,
	}
	if existing != nil {
		entry.ID = existing.ID
	}

	if input.ResponseCode == ResponseCodeSuccess {
		entry.Status = models.LedgerStatusSuccess

		transitioned, err := s.settlementRepo.SettleSuccess(ctx, input.BookingID, entry)
		if err != nil {
			return nil, err
		}

		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventSettlementSuccess, input.Source).
			SetBooking(input.BookingID).
			SetTransactionRef(input.TransactionRef).
			SetResponseCode(input.ResponseCode).
			SetRawPayload(input.RawPayload))

		if transitioned {
			s.dispatcher.PaymentSucceeded(booking, input.Amount, input.TransactionRef)
		}

		return &SettleResult{Succeeded: true, BookingID: input.BookingID}, nil
	}

	entry.Status = models.LedgerStatusFailed

	cancelled, err := s.settlementRepo.SettleFailure(ctx, input.BookingID, entry)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventSettlementFailed, input.Source).
		SetBooking(input.BookingID).
		SetTransactionRef(input.TransactionRef).
		SetResponseCode(input.ResponseCode).
		SetRawPayload(input.RawPayload))

	if cancelled {
		s.dispatcher.PaymentFailed(booking, input.TransactionRef)
	}

	return &SettleResult{Succeeded: false, BookingID: input.BookingID}, nil
}

// audit writes a payment audit row best-effort; the settlement outcome never
// depends on the audit trail being writable.
func (s *PaymentService) audit(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.auditRepo.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).
			Warn("Failed to record payment audit event")
	}
}
