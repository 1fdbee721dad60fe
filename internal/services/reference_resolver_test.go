package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOrderInfo(t *testing.T) {
	assert.Equal(t, `{"bookingId":42}`, EncodeOrderInfo(42))
}

func TestResolveBookingReference_StructuredOrderInfo(t *testing.T) {
	id, err := ResolveBookingReference(`{"bookingId":42}`, "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestResolveBookingReference_OrderInfoDigitFallback(t *testing.T) {
	// The gateway sometimes mangles the order info into free text
	id, err := ResolveBookingReference("Thanh toan don 42", "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestResolveBookingReference_OrderInfoWithTimestampSuffix(t *testing.T) {
	// A digit run longer than the suffix width carries the 13-digit
	// timestamp; it must be stripped to recover the booking ID.
	id, err := ResolveBookingReference("421756700000000", "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestResolveBookingReference_TransactionRefFallback(t *testing.T) {
	id, err := ResolveBookingReference("no digits here", "71756700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestResolveBookingReference_StructuredWinsOverDigits(t *testing.T) {
	// When the JSON parses, the digit heuristics never run
	id, err := ResolveBookingReference(`{"bookingId":42}`, "991756700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestResolveBookingReference_Unroutable(t *testing.T) {
	_, err := ResolveBookingReference("no digits at all", "also nothing")
	assert.Error(t, err)
}

func TestResolveBookingReference_ZeroBookingID(t *testing.T) {
	// A structured payload with a non-positive ID falls through to the
	// heuristics; if those also fail the callback is unroutable.
	_, err := ResolveBookingReference(`{"bookingId":0}`, "")
	assert.Error(t, err)
}

func TestResolveFromDigits_ShortRunKeptWhole(t *testing.T) {
	// Runs at or below the suffix width have nothing to strip
	assert.Equal(t, int64(1234567890123), resolveFromDigits("1234567890123"))
}
