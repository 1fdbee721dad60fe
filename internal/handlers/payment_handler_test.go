package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mindhaven/counseling-backend/internal/config"
	"github.com/mindhaven/counseling-backend/internal/database"
	"github.com/mindhaven/counseling-backend/internal/models"
	"github.com/mindhaven/counseling-backend/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopDispatcher struct{}

func (noopDispatcher) PaymentSucceeded(*models.BookingForSettlement, int64, string) {}
func (noopDispatcher) PaymentFailed(*models.BookingForSettlement, string)           {}

func testVNPayConfig() config.VNPayConfig {
	return config.VNPayConfig{
		TmnCode:       "TESTTMN1",
		HashSecret:    "TESTSECRETTESTSECRETTESTSECRET12",
		PayURL:        "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:     "https://api.example.com/api/v1/payments/vnpay/return",
		ResultURL:     "https://app.example.com/payment/result",
		Version:       "2.1.0",
		Locale:        "vn",
		PaymentExpiry: 15 * time.Minute,
	}
}

func newPaymentHandlerTest(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *services.VNPayService, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	vnpay := services.NewVNPayService(testVNPayConfig(), logger)
	auditRepo := database.NewPaymentAuditRepository(sqlxDB, logger)
	paymentService := services.NewPaymentService(
		database.NewBookingRepository(sqlxDB, logger),
		database.NewPaymentLedgerRepository(sqlxDB, logger),
		database.NewSettlementRepository(sqlxDB, logger),
		auditRepo,
		vnpay,
		noopDispatcher{},
		logger,
	)
	handler := NewPaymentHandler(paymentService, vnpay, auditRepo, logger)

	router := gin.New()
	router.GET("/api/v1/payments/vnpay/ipn", handler.IPN)
	router.GET("/api/v1/payments/vnpay/return", handler.Return)

	return router, mock, vnpay, func() { db.Close() }
}

// signedCallbackQuery builds a callback query string the way the gateway
// does: canonical params plus the HMAC over them.
func signedCallbackQuery(vnpay *services.VNPayService, params map[string]string) string {
	signature := vnpay.Sign(params)
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("vnp_SecureHash", signature)
	return values.Encode()
}

func ipnResponse(t *testing.T, recorder *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		RspCode string `json:"RspCode"`
		Message string `json:"Message"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body.RspCode, body.Message
}

var ledgerColumns = []string{
	"id", "booking_id", "amount", "gateway", "status",
	"transaction_ref", "raw_payload", "created_at", "updated_at",
}

var settlementBookingColumns = []string{
	"id", "payer_id", "counselor_id", "modality", "status",
	"online_rate", "offline_rate",
}

func expectSuccessfulSettlement(mock sqlmock.Sqlmock, ref string) {
	// Received-callback audit
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Idempotency check, no prior entry
	mock.ExpectQuery("SELECT \\* FROM payment_ledger").
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows(ledgerColumns))
	mock.ExpectQuery("FROM bookings b").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(settlementBookingColumns).AddRow(
			int64(42), uuid.New(), uuid.New(), "online", "awaiting_payment",
			int64(500000), int64(700000),
		))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payment_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	// Settlement outcome audit
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestIPN_Success(t *testing.T) {
	router, mock, vnpay, cleanup := newPaymentHandlerTest(t)
	defer cleanup()

	ref := "421756700000000"
	query := signedCallbackQuery(vnpay, map[string]string{
		"vnp_TxnRef":       ref,
		"vnp_OrderInfo":    `{"bookingId":42}`,
		"vnp_ResponseCode": "00",
		"vnp_Amount":       "50000000",
	})

	expectSuccessfulSettlement(mock, ref)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/ipn?"+query, nil)
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	code, message := ipnResponse(t, recorder)
	assert.Equal(t, "00", code)
	assert.Equal(t, "Confirm Success", message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIPN_InvalidSignature(t *testing.T) {
	router, mock, _, cleanup := newPaymentHandlerTest(t)
	defer cleanup()

	// Received-callback audit then signature-invalid audit; nothing else
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))

	query := url.Values{}
	query.Set("vnp_TxnRef", "421756700000000")
	query.Set("vnp_ResponseCode", "00")
	query.Set("vnp_Amount", "50000000")
	query.Set("vnp_SecureHash", "DEADBEEF")

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/ipn?"+query.Encode(), nil)
	router.ServeHTTP(recorder, req)

	// Still HTTP 200: the rejection is carried in the ack code
	assert.Equal(t, http.StatusOK, recorder.Code)
	code, _ := ipnResponse(t, recorder)
	assert.Equal(t, "97", code)
	// No ledger or booking statement ran
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIPN_Unroutable(t *testing.T) {
	router, mock, vnpay, cleanup := newPaymentHandlerTest(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))

	// Valid signature, but nothing resolvable to a booking
	query := signedCallbackQuery(vnpay, map[string]string{
		"vnp_TxnRef":       "garbage",
		"vnp_OrderInfo":    "no reference here",
		"vnp_ResponseCode": "00",
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/ipn?"+query, nil)
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	code, _ := ipnResponse(t, recorder)
	assert.Equal(t, "01", code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIPN_BookingNotFound(t *testing.T) {
	router, mock, vnpay, cleanup := newPaymentHandlerTest(t)
	defer cleanup()

	ref := "991756700000000"
	query := signedCallbackQuery(vnpay, map[string]string{
		"vnp_TxnRef":       ref,
		"vnp_OrderInfo":    `{"bookingId":99}`,
		"vnp_ResponseCode": "00",
		"vnp_Amount":       "50000000",
	})

	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM payment_ledger").
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows(ledgerColumns))
	mock.ExpectQuery("FROM bookings b").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(settlementBookingColumns))

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/ipn?"+query, nil)
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	code, _ := ipnResponse(t, recorder)
	assert.Equal(t, "01", code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// newFaultingPaymentHandlerTest wires a handler whose settlement layer panics,
// so the callback endpoints' fault handling can be exercised end to end.
func newFaultingPaymentHandlerTest(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *services.VNPayService, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	vnpay := services.NewVNPayService(testVNPayConfig(), logger)
	auditRepo := database.NewPaymentAuditRepository(sqlxDB, logger)
	handler := NewPaymentHandler(nil, vnpay, auditRepo, logger)

	router := gin.New()
	router.GET("/api/v1/payments/vnpay/ipn", handler.IPN)
	router.GET("/api/v1/payments/vnpay/return", handler.Return)

	return router, mock, vnpay, func() { db.Close() }
}

func TestIPN_PanicAnswersInternalError(t *testing.T) {
	router, mock, vnpay, cleanup := newFaultingPaymentHandlerTest(t)
	defer cleanup()

	// Received-callback audit then the fault audit
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))

	query := signedCallbackQuery(vnpay, map[string]string{
		"vnp_TxnRef":       "421756700000000",
		"vnp_OrderInfo":    `{"bookingId":42}`,
		"vnp_ResponseCode": "00",
		"vnp_Amount":       "50000000",
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/ipn?"+query, nil)
	router.ServeHTTP(recorder, req)

	// The gateway still gets a well-formed ack it will not retry forever on
	assert.Equal(t, http.StatusOK, recorder.Code)
	code, _ := ipnResponse(t, recorder)
	assert.Equal(t, "99", code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_PanicRedirectsError(t *testing.T) {
	router, mock, vnpay, cleanup := newFaultingPaymentHandlerTest(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))

	query := signedCallbackQuery(vnpay, map[string]string{
		"vnp_TxnRef":       "421756700000000",
		"vnp_OrderInfo":    `{"bookingId":42}`,
		"vnp_ResponseCode": "00",
		"vnp_Amount":       "50000000",
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+query, nil)
	router.ServeHTTP(recorder, req)

	// The browser gets the result redirect, never a raw 500
	assert.Equal(t, http.StatusFound, recorder.Code)
	location := recorder.Header().Get("Location")
	assert.Contains(t, location, "https://app.example.com/payment/result")
	assert.Contains(t, location, "status=error")
	assert.NotContains(t, location, "bookingId=")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_SuccessRedirect(t *testing.T) {
	router, mock, vnpay, cleanup := newPaymentHandlerTest(t)
	defer cleanup()

	ref := "421756700000000"
	query := signedCallbackQuery(vnpay, map[string]string{
		"vnp_TxnRef":       ref,
		"vnp_OrderInfo":    `{"bookingId":42}`,
		"vnp_ResponseCode": "00",
		"vnp_Amount":       "50000000",
	})

	expectSuccessfulSettlement(mock, ref)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+query, nil)
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusFound, recorder.Code)
	location := recorder.Header().Get("Location")
	assert.Contains(t, location, "https://app.example.com/payment/result")
	assert.Contains(t, location, "status=success")
	assert.Contains(t, location, "bookingId=42")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_FailedRedirect(t *testing.T) {
	router, mock, vnpay, cleanup := newPaymentHandlerTest(t)
	defer cleanup()

	ref := "421756700000000"
	query := signedCallbackQuery(vnpay, map[string]string{
		"vnp_TxnRef":       ref,
		"vnp_OrderInfo":    `{"bookingId":42}`,
		"vnp_ResponseCode": "24",
		"vnp_Amount":       "50000000",
	})

	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM payment_ledger").
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows(ledgerColumns))
	mock.ExpectQuery("FROM bookings b").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(settlementBookingColumns).AddRow(
			int64(42), uuid.New(), uuid.New(), "online", "awaiting_payment",
			int64(500000), int64(700000),
		))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payment_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+query, nil)
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusFound, recorder.Code)
	location := recorder.Header().Get("Location")
	assert.Contains(t, location, "status=failed")
	assert.Contains(t, location, "bookingId=42")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_InvalidSignatureRedirect(t *testing.T) {
	router, mock, _, cleanup := newPaymentHandlerTest(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payment_audits").
		WillReturnResult(sqlmock.NewResult(1, 1))

	query := url.Values{}
	query.Set("vnp_TxnRef", "421756700000000")
	query.Set("vnp_ResponseCode", "00")
	query.Set("vnp_SecureHash", "DEADBEEF")

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+query.Encode(), nil)
	router.ServeHTTP(recorder, req)

	// The browser never sees an error page from us, only the result redirect
	assert.Equal(t, http.StatusFound, recorder.Code)
	location := recorder.Header().Get("Location")
	assert.Contains(t, location, "status=error")
	assert.NotContains(t, location, "bookingId=")
	assert.NoError(t, mock.ExpectationsWereMet())
}
