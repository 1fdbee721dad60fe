package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mindhaven/counseling-backend/internal/database"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/mindhaven/counseling-backend/pkg/mailer"
	"github.com/sirupsen/logrus"
)

// sideEffectTimeout bounds each downstream call so side effects can never
// stall the acknowledgement owed to the gateway.
const sideEffectTimeout = 10 * time.Second

// NotificationService dispatches best-effort side effects after settlement:
// in-app notifications for payer and counselor plus a settlement email.
// Every error here is logged and swallowed; settlement outcome never depends
// on notification health.
type NotificationService struct {
	notificationRepo *database.NotificationRepository
	userRepo         *database.UserRepository
	counselorRepo    *database.CounselorRepository
	mailer           mailer.Mailer
	logger           *logrus.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	notificationRepo *database.NotificationRepository,
	userRepo *database.UserRepository,
	counselorRepo *database.CounselorRepository,
	m mailer.Mailer,
	logger *logrus.Logger,
) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		userRepo:         userRepo,
		counselorRepo:    counselorRepo,
		mailer:           m,
		logger:           logger,
	}
}

// PaymentSucceeded notifies payer and counselor and emails the payer a
// booking confirmation
func (s *NotificationService) PaymentSucceeded(booking *models.BookingForSettlement, amount int64, transactionRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	metadata := map[string]interface{}{
		"booking_id":      booking.ID,
		"transaction_ref": transactionRef,
		"amount":          amount,
	}

	payerMsg := fmt.Sprintf("Your payment of %d VND was received. Booking #%d is confirmed.", amount, booking.ID)
	s.insert(ctx, models.NewNotification(booking.PayerID, "Booking confirmed", payerMsg, metadata))

	counselor, err := s.counselorRepo.GetByID(ctx, booking.CounselorID)
	if err != nil || counselor == nil {
		s.logger.WithError(err).WithField("counselor_id", booking.CounselorID).
			Warn("Could not load counselor for settlement notification")
	} else {
		counselorMsg := fmt.Sprintf("Booking #%d has been paid and confirmed.", booking.ID)
		s.insert(ctx, models.NewNotification(counselor.UserID, "New confirmed booking", counselorMsg, metadata))
	}

	s.emailPayer(ctx, booking, "Your booking is confirmed",
		fmt.Sprintf("Payment of %d VND received for booking #%d. See you at your session.", amount, booking.ID))
}

// PaymentFailed notifies the payer that the booking was cancelled because the
// payment did not go through
func (s *NotificationService) PaymentFailed(booking *models.BookingForSettlement, transactionRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	metadata := map[string]interface{}{
		"booking_id":      booking.ID,
		"transaction_ref": transactionRef,
	}

	msg := fmt.Sprintf("Payment for booking #%d failed, so the booking was cancelled. You have not been charged.", booking.ID)
	s.insert(ctx, models.NewNotification(booking.PayerID, "Booking cancelled", msg, metadata))

	s.emailPayer(ctx, booking, "Booking cancelled",
		fmt.Sprintf("The payment for booking #%d did not complete and the booking was cancelled.", booking.ID))
}

func (s *NotificationService) insert(ctx context.Context, n *models.Notification) {
	if err := s.notificationRepo.Insert(ctx, n); err != nil {
		s.logger.WithError(err).WithField("user_id", n.UserID).Warn("Failed to insert notification")
	}
}

func (s *NotificationService) emailPayer(ctx context.Context, booking *models.BookingForSettlement, subject, body string) {
	payer, err := s.userRepo.GetByID(ctx, booking.PayerID)
	if err != nil || payer == nil {
		s.logger.WithError(err).WithField("payer_id", booking.PayerID).
			Warn("Could not load payer for settlement email")
		return
	}

	if err := s.mailer.Send(ctx, payer.Email, subject, body); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"email":      payer.Email,
		}).Warn("Failed to send settlement email")
	}
}
