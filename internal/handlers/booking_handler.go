package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mindhaven/counseling-backend/internal/database"
	"github.com/mindhaven/counseling-backend/internal/middleware"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingHandler handles booking CRUD operations
type BookingHandler struct {
	bookingRepo   *database.BookingRepository
	counselorRepo *database.CounselorRepository
	paymentExpiry time.Duration
	logger        *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(
	bookingRepo *database.BookingRepository,
	counselorRepo *database.CounselorRepository,
	paymentExpiry time.Duration,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		bookingRepo:   bookingRepo,
		counselorRepo: counselorRepo,
		paymentExpiry: paymentExpiry,
		logger:        logger,
	}
}

// CreateBooking creates a booking in awaiting_payment with a payment deadline
// POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	counselorID, _ := uuid.Parse(req.CounselorID)
	scheduledAt, _ := time.Parse(time.RFC3339, req.ScheduledAt)

	counselor, err := h.counselorRepo.GetByID(c.Request.Context(), counselorID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up counselor")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create booking"})
		return
	}
	if counselor == nil || !counselor.Active {
		c.JSON(http.StatusNotFound, gin.H{"error": "counselor not found"})
		return
	}

	now := time.Now()
	booking := &models.Booking{
		PayerID:     userCtx.UserID,
		CounselorID: counselorID,
		Modality:    models.BookingModality(req.Modality),
		Status:      models.BookingStatusAwaitingPayment,
		ScheduledAt: scheduledAt,
		ExpiresAt:   now.Add(h.paymentExpiry),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.bookingRepo.Create(c.Request.Context(), booking); err != nil {
		h.logger.WithError(err).Error("Failed to create booking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create booking"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"payer_id":     userCtx.UserID,
		"counselor_id": counselorID,
	}).Info("Booking created")

	c.JSON(http.StatusCreated, booking)
}

// GetBooking returns a single booking owned by the authenticated payer
// GET /api/v1/bookings/:booking_id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	bookingID, err := strconv.ParseInt(c.Param("booking_id"), 10, 64)
	if err != nil || bookingID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	booking, err := h.bookingRepo.GetByID(c.Request.Context(), bookingID)
	if err != nil {
		h.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to fetch booking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch booking"})
		return
	}
	if booking == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}
	if booking.PayerID != userCtx.UserID && userCtx.Role != string(models.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "booking does not belong to you"})
		return
	}

	c.JSON(http.StatusOK, booking)
}

// CancelBooking cancels an awaiting-payment booking at the payer's request.
// Bookings that already settled keep their paid state and must go through
// support instead.
// POST /api/v1/bookings/:booking_id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	bookingID, err := strconv.ParseInt(c.Param("booking_id"), 10, 64)
	if err != nil || bookingID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	booking, err := h.bookingRepo.GetByID(c.Request.Context(), bookingID)
	if err != nil {
		h.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to fetch booking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel booking"})
		return
	}
	if booking == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}
	if booking.PayerID != userCtx.UserID && userCtx.Role != string(models.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "booking does not belong to you"})
		return
	}

	cancelled, err := h.bookingRepo.Cancel(c.Request.Context(), bookingID, models.CancelReasonUserRequested)
	if err != nil {
		h.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to cancel booking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel booking"})
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "booking can no longer be cancelled"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"payer_id":   userCtx.UserID,
	}).Info("Booking cancelled by payer")

	c.JSON(http.StatusOK, gin.H{"message": "booking cancelled"})
}

// ListMyBookings returns the authenticated payer's bookings, newest first
// GET /api/v1/bookings
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	bookings, err := h.bookingRepo.ListByPayer(c.Request.Context(), userCtx.UserID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list bookings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bookings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// ListCounselors returns all counselors currently accepting bookings
// GET /api/v1/counselors
func (h *BookingHandler) ListCounselors(c *gin.Context) {
	counselors, err := h.counselorRepo.ListActive(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list counselors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list counselors"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"counselors": counselors,
		"count":      len(counselors),
	})
}
