package services

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mindhaven/counseling-backend/internal/config"
	"github.com/sirupsen/logrus"
)

// VNPay parameter names used by this integration
const (
	vnpVersion        = "vnp_Version"
	vnpCommand        = "vnp_Command"
	vnpTmnCode        = "vnp_TmnCode"
	vnpAmount         = "vnp_Amount"
	vnpCurrCode       = "vnp_CurrCode"
	vnpTxnRef         = "vnp_TxnRef"
	vnpOrderInfo      = "vnp_OrderInfo"
	vnpOrderType      = "vnp_OrderType"
	vnpLocale         = "vnp_Locale"
	vnpReturnURL      = "vnp_ReturnUrl"
	vnpIPAddr         = "vnp_IpAddr"
	vnpCreateDate     = "vnp_CreateDate"
	vnpExpireDate     = "vnp_ExpireDate"
	vnpBankCode       = "vnp_BankCode"
	vnpResponseCode   = "vnp_ResponseCode"
	vnpSecureHash     = "vnp_SecureHash"
	vnpSecureHashType = "vnp_SecureHashType"
)

// ResponseCodeSuccess is the vnp_ResponseCode value denoting a successful
// charge. Any other value is a failure.
const ResponseCodeSuccess = "00"

// IPN acknowledgement codes. The gateway retries anything it cannot parse as
// acknowledged, so every IPN request must be answered with one of these.
const (
	IPNCodeAccepted         = "00"
	IPNCodeOrderNotFound    = "01"
	IPNCodeInvalidSignature = "97"
	IPNCodeInternalError    = "99"
)

// vnpDateFormat is the gateway's timestamp layout (yyyyMMddHHmmss)
const vnpDateFormat = "20060102150405"

// VNPayService builds signed payment URLs and verifies callback signatures.
// Request signing and callback verification share one encoding function so
// the two directions can never diverge.
type VNPayService struct {
	config   config.VNPayConfig
	logger   *logrus.Logger
	location *time.Location
}

// NewVNPayService creates a new VNPay gateway service
func NewVNPayService(cfg config.VNPayConfig, logger *logrus.Logger) *VNPayService {
	// Gateway timestamps are interpreted in Vietnam time
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		logger.WithError(err).Warn("Failed to load gateway timezone, using local time")
		loc = time.Local
	}

	return &VNPayService{
		config:   cfg,
		logger:   logger,
		location: loc,
	}
}

// hashPayload builds the canonical `key=value&...` string over which the
// signature is computed: keys sorted lexicographically, values percent-encoded
// with the gateway's space-to-plus convention (url.QueryEscape).
func hashPayload(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

// Sign computes the HMAC-SHA512 signature over the canonical payload and
// returns the upper-cased hex digest.
func (s *VNPayService) Sign(params map[string]string) string {
	mac := hmac.New(sha512.New, []byte(s.config.HashSecret))
	mac.Write([]byte(hashPayload(params)))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// VerifyCallback recomputes the signature over the canonical parameter set
// (signature fields already stripped) and compares it to the gateway-supplied
// one, case-insensitively. No callback may reach settlement unverified.
func (s *VNPayService) VerifyCallback(params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	expected := s.Sign(params)
	return hmac.Equal([]byte(strings.ToUpper(signature)), []byte(expected))
}

// NewTransactionRef generates the external transaction reference for one
// payment attempt: the booking ID followed by a 13-digit millisecond
// timestamp. The suffix width is what the reference resolver's fallback
// heuristic strips.
func NewTransactionRef(bookingID int64, now time.Time) string {
	return fmt.Sprintf("%d%013d", bookingID, now.UnixMilli())
}

// BuildPaymentParams carries everything needed to build a signed payment URL
type BuildPaymentParams struct {
	BookingID      int64
	TransactionRef string
	Amount         int64 // charge amount in whole VND; scaled x100 on the wire
	ClientIP       string
	BankCode       string // optional bank-routing hint
	OrderInfo      string // structured booking reference, see EncodeOrderInfo
	CreatedAt      time.Time
}

// BuildPaymentURL assembles, signs and encodes the gateway redirect URL
func (s *VNPayService) BuildPaymentURL(p BuildPaymentParams) string {
	createdAt := p.CreatedAt.In(s.location)
	expiresAt := createdAt.Add(s.config.PaymentExpiry)

	params := map[string]string{
		vnpVersion:    s.config.Version,
		vnpCommand:    "pay",
		vnpTmnCode:    s.config.TmnCode,
		vnpAmount:     fmt.Sprintf("%d", p.Amount*100),
		vnpCurrCode:   "VND",
		vnpTxnRef:     p.TransactionRef,
		vnpOrderInfo:  p.OrderInfo,
		vnpOrderType:  "other",
		vnpLocale:     s.config.Locale,
		vnpReturnURL:  s.config.ReturnURL,
		vnpIPAddr:     p.ClientIP,
		vnpCreateDate: createdAt.Format(vnpDateFormat),
		vnpExpireDate: expiresAt.Format(vnpDateFormat),
	}
	if p.BankCode != "" {
		params[vnpBankCode] = p.BankCode
	}

	signature := s.Sign(params)

	// The query string reuses the exact canonical encoding that was signed,
	// so what the gateway receives is byte-for-byte what was hashed.
	query := hashPayload(params)

	s.logger.WithFields(logrus.Fields{
		"booking_id":      p.BookingID,
		"transaction_ref": p.TransactionRef,
		"amount":          p.Amount,
		"expire_date":     expiresAt.Format(vnpDateFormat),
	}).Info("VNPay payment URL built")

	return fmt.Sprintf("%s?%s&%s=%s", s.config.PayURL, query, vnpSecureHash, signature)
}

// NormalizeCallback reduces a gateway callback query, arriving via either
// transport, to one canonical parameter set. The signature field and its type
// indicator are stripped from the set and the signature is returned
// separately. No state is touched here.
func NormalizeCallback(query url.Values) (map[string]string, string) {
	params := make(map[string]string, len(query))
	for k := range query {
		params[k] = query.Get(k)
	}

	signature := params[vnpSecureHash]
	delete(params, vnpSecureHash)
	delete(params, vnpSecureHashType)

	return params, signature
}

// CallbackFields are the typed fields settlement needs from a verified
// callback parameter set
type CallbackFields struct {
	TransactionRef string
	OrderInfo      string
	ResponseCode   string
	Amount         int64 // descaled back to whole VND
}

// ParseCallback extracts the settlement-relevant fields from a canonical
// callback parameter set. Missing or malformed numeric fields parse to zero;
// downstream checks reject what cannot be routed or reconciled.
func ParseCallback(params map[string]string) CallbackFields {
	fields := CallbackFields{
		TransactionRef: params[vnpTxnRef],
		OrderInfo:      params[vnpOrderInfo],
		ResponseCode:   params[vnpResponseCode],
	}

	if raw := params[vnpAmount]; raw != "" {
		if scaled, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fields.Amount = scaled / 100
		}
	}

	return fields
}

// PaymentExpiry exposes the configured validity window of a signed request
func (s *VNPayService) PaymentExpiry() time.Duration {
	return s.config.PaymentExpiry
}

// ResultURL exposes the configured frontend result page
func (s *VNPayService) ResultURL() string {
	return s.config.ResultURL
}
