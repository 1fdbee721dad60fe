package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mindhaven/counseling-backend/internal/database"
	"github.com/mindhaven/counseling-backend/internal/middleware"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/mindhaven/counseling-backend/internal/services"
	"github.com/mindhaven/counseling-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// Browser-facing result page statuses. The browser path never sees internal
// error detail, only one of these.
const (
	resultStatusSuccess = "success"
	resultStatusFailed  = "failed"
	resultStatusError   = "error"
)

// PaymentHandler handles checkout and the two gateway callback transports
type PaymentHandler struct {
	paymentService *services.PaymentService
	vnpay          *services.VNPayService
	auditRepo      *database.PaymentAuditRepository
	logger         *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	paymentService *services.PaymentService,
	vnpay *services.VNPayService,
	auditRepo *database.PaymentAuditRepository,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		vnpay:          vnpay,
		auditRepo:      auditRepo,
		logger:         logger,
	}
}

// CheckoutRequest is the optional request body for checkout
type CheckoutRequest struct {
	BankCode string `json:"bank_code"`
}

// Checkout issues a signed gateway redirect URL for an awaiting-payment
// booking owned by the authenticated payer
// POST /api/v1/payments/bookings/:booking_id/checkout
func (h *PaymentHandler) Checkout(c *gin.Context) {
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

	var req CheckoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}

	response, err := h.paymentService.Checkout(c.Request.Context(), userCtx.UserID, bookingID, req.BankCode, utils.GetRealIP(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBookingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		case errors.Is(err, services.ErrBookingNotOwned):
			c.JSON(http.StatusForbidden, gin.H{"error": "booking does not belong to you"})
		case errors.Is(err, services.ErrBookingNotPayable):
			c.JSON(http.StatusBadRequest, gin.H{"error": "booking is not awaiting payment"})
		case errors.Is(err, services.ErrInvalidPrice):
			c.JSON(http.StatusBadRequest, gin.H{"error": "booking price could not be resolved"})
		default:
			h.logger.WithError(err).WithField("booking_id", bookingID).Error("Checkout failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initiate payment"})
		}
		return
	}

	c.JSON(http.StatusOK, response)
}

// IPN is the server-to-server notification endpoint. The gateway retries
// anything it cannot parse as acknowledged, so this handler always answers
// 200 with a machine-readable RspCode, even on unexpected faults.
// GET /api/v1/payments/vnpay/ipn
func (h *PaymentHandler) IPN(c *gin.Context) {
	rawQuery := c.Request.URL.RawQuery
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("panic", r).Error("Panic while processing IPN")
			h.auditError(c, models.PaymentSourceIPN, "", rawQuery, fmt.Errorf("panic: %v", r))
			h.ipnRespond(c, services.IPNCodeInternalError, "Unknown error")
		}
	}()

	params, signature := services.NormalizeCallback(c.Request.URL.Query())
	fields := services.ParseCallback(params)

	h.auditCallback(c, models.PaymentEventIPNReceived, models.PaymentSourceIPN, fields.TransactionRef, rawQuery)

	if !h.vnpay.VerifyCallback(params, signature) {
		h.logger.WithField("transaction_ref", fields.TransactionRef).Warn("IPN signature verification failed")
		h.auditCallback(c, models.PaymentEventSignatureInvalid, models.PaymentSourceIPN, fields.TransactionRef, rawQuery)
		h.ipnRespond(c, services.IPNCodeInvalidSignature, "Invalid signature")
		return
	}

	bookingID, err := services.ResolveBookingReference(fields.OrderInfo, fields.TransactionRef)
	if err != nil {
		h.logger.WithError(err).Warn("IPN callback is unroutable")
		h.auditCallback(c, models.PaymentEventUnroutableCallback, models.PaymentSourceIPN, fields.TransactionRef, rawQuery)
		h.ipnRespond(c, services.IPNCodeOrderNotFound, "Order not found")
		return
	}

	result, err := h.paymentService.Settle(c.Request.Context(), services.SettleInput{
		BookingID:      bookingID,
		TransactionRef: fields.TransactionRef,
		ResponseCode:   fields.ResponseCode,
		Amount:         fields.Amount,
		RawPayload:     rawQuery,
		Source:         models.PaymentSourceIPN,
	})
	if err != nil {
		if errors.Is(err, services.ErrBookingNotFound) {
			h.ipnRespond(c, services.IPNCodeOrderNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":      bookingID,
			"transaction_ref": fields.TransactionRef,
		}).Error("IPN settlement failed")
		h.auditError(c, models.PaymentSourceIPN, fields.TransactionRef, rawQuery, err)
		h.ipnRespond(c, services.IPNCodeInternalError, "Unknown error")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id": result.BookingID,
		"succeeded":  result.Succeeded,
		"duplicate":  result.Duplicate,
	}).Info("IPN processed")

	h.ipnRespond(c, services.IPNCodeAccepted, "Confirm Success")
}

// Return is the browser-redirect callback endpoint. It always ends in a
// redirect to the result page with a coarse status, never a raw status code
// or internal error detail.
// GET /api/v1/payments/vnpay/return
func (h *PaymentHandler) Return(c *gin.Context) {
	rawQuery := c.Request.URL.RawQuery
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("panic", r).Error("Panic while processing payment return")
			h.auditError(c, models.PaymentSourceReturn, "", rawQuery, fmt.Errorf("panic: %v", r))
			h.redirectResult(c, resultStatusError, 0)
		}
	}()

	params, signature := services.NormalizeCallback(c.Request.URL.Query())
	fields := services.ParseCallback(params)

	h.auditCallback(c, models.PaymentEventReturnReceived, models.PaymentSourceReturn, fields.TransactionRef, rawQuery)

	if !h.vnpay.VerifyCallback(params, signature) {
		h.logger.WithField("transaction_ref", fields.TransactionRef).Warn("Return signature verification failed")
		h.auditCallback(c, models.PaymentEventSignatureInvalid, models.PaymentSourceReturn, fields.TransactionRef, rawQuery)
		h.redirectResult(c, resultStatusError, 0)
		return
	}

	bookingID, err := services.ResolveBookingReference(fields.OrderInfo, fields.TransactionRef)
	if err != nil {
		h.logger.WithError(err).Warn("Return callback is unroutable")
		h.auditCallback(c, models.PaymentEventUnroutableCallback, models.PaymentSourceReturn, fields.TransactionRef, rawQuery)
		h.redirectResult(c, resultStatusError, 0)
		return
	}

	result, err := h.paymentService.Settle(c.Request.Context(), services.SettleInput{
		BookingID:      bookingID,
		TransactionRef: fields.TransactionRef,
		ResponseCode:   fields.ResponseCode,
		Amount:         fields.Amount,
		RawPayload:     rawQuery,
		Source:         models.PaymentSourceReturn,
	})
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":      bookingID,
			"transaction_ref": fields.TransactionRef,
		}).Error("Return settlement failed")
		h.auditError(c, models.PaymentSourceReturn, fields.TransactionRef, rawQuery, err)
		h.redirectResult(c, resultStatusError, 0)
		return
	}

	if result.Succeeded {
		h.redirectResult(c, resultStatusSuccess, result.BookingID)
		return
	}
	h.redirectResult(c, resultStatusFailed, result.BookingID)
}

// ipnRespond writes the machine-readable IPN acknowledgement
func (h *PaymentHandler) ipnRespond(c *gin.Context, code, message string) {
	c.JSON(http.StatusOK, gin.H{
		"RspCode": code,
		"Message": message,
	})
}

// redirectResult sends the browser to the fixed result page
func (h *PaymentHandler) redirectResult(c *gin.Context, status string, bookingID int64) {
	values := url.Values{}
	values.Set("status", status)
	if bookingID > 0 {
		values.Set("bookingId", strconv.FormatInt(bookingID, 10))
	}
	c.Redirect(http.StatusFound, fmt.Sprintf("%s?%s", h.vnpay.ResultURL(), values.Encode()))
}

// auditCallback records a callback event best-effort with request metadata
func (h *PaymentHandler) auditCallback(c *gin.Context, eventType models.PaymentEventType, source models.PaymentEventSource, transactionRef, rawQuery string) {
	audit := models.NewPaymentAudit(eventType, source).
		SetRawPayload(rawQuery).
		SetMetadata(utils.GetRealIP(c), utils.GetUserAgent(c), utils.ParseUserAgent(utils.GetUserAgent(c)))
	if transactionRef != "" {
		audit.SetTransactionRef(transactionRef)
	}

	if err := h.auditRepo.Log(c.Request.Context(), audit); err != nil {
		h.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to audit callback event")
	}
}

// auditError records an internal fault best-effort so unexpected failures stay
// traceable even though the gateway only sees a generic acknowledgement
func (h *PaymentHandler) auditError(c *gin.Context, source models.PaymentEventSource, transactionRef, rawQuery string, cause error) {
	audit := models.NewPaymentAudit(models.PaymentEventError, source).
		SetRawPayload(rawQuery).
		SetError(cause.Error()).
		SetMetadata(utils.GetRealIP(c), utils.GetUserAgent(c), utils.ParseUserAgent(utils.GetUserAgent(c)))
	if transactionRef != "" {
		audit.SetTransactionRef(transactionRef)
	}

	if err := h.auditRepo.Log(c.Request.Context(), audit); err != nil {
		h.logger.WithError(err).WithField("event_type", models.PaymentEventError).Warn("Failed to audit error event")
	}
}
