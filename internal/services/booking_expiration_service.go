package services

import (
	"context"
	"time"

	"github.com/mindhaven/counseling-backend/internal/database"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingExpirationService reaps awaiting_payment bookings whose payment
// window elapsed without any gateway callback. The signed request carries the
// same window gateway-side, so a booking this sweep cancels can no longer be
// paid for.
type BookingExpirationService struct {
	bookingRepo      *database.BookingRepository
	notificationRepo *database.NotificationRepository
	logger           *logrus.Logger
}

// NewBookingExpirationService creates a new booking expiration service
func NewBookingExpirationService(
	bookingRepo *database.BookingRepository,
	notificationRepo *database.NotificationRepository,
	logger *logrus.Logger,
) *BookingExpirationService {
	return &BookingExpirationService{
		bookingRepo:      bookingRepo,
		notificationRepo: notificationRepo,
		logger:           logger,
	}
}

// ProcessExpiredBookings cancels every awaiting_payment booking past its
// payment deadline. Returns the number of bookings cancelled.
func (s *BookingExpirationService) ProcessExpiredBookings() int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := s.bookingRepo.CancelExpired(ctx, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("Failed to cancel expired bookings")
		return 0
	}

	if len(ids) == 0 {
		return 0
	}

	s.logger.WithFields(logrus.Fields{
		"count":       len(ids),
		"booking_ids": ids,
	}).Info("Cancelled expired awaiting-payment bookings")

	// Cancelled-for-expiry bookings get a payer-facing record too; done here
	// best-effort because the sweep must keep making progress.
	for _, id := range ids {
		booking, err := s.bookingRepo.GetByID(ctx, id)
		if err != nil || booking == nil {
			continue
		}
		n := models.NewNotification(booking.PayerID, "Booking expired",
			"Your booking was cancelled because the payment was not completed in time.",
			map[string]interface{}{"booking_id": id})
		if err := s.notificationRepo.Insert(ctx, n); err != nil {
			s.logger.WithError(err).WithField("booking_id", id).Warn("Failed to notify payer of expired booking")
		}
	}

	return len(ids)
}
