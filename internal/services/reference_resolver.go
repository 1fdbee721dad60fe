package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// txnRefSuffixWidth is the number of digits NewTransactionRef appends after
// the booking ID (a millisecond timestamp). The fallback heuristics below
// strip exactly this many trailing digits.
const txnRefSuffixWidth = 13

var digitRun = regexp.MustCompile(`[0-9]+`)

// orderInfoPayload is the structured booking reference carried through the
// gateway round-trip in the order-info field.
type orderInfoPayload struct {
	BookingID int64 `json:"bookingId"`
}

// EncodeOrderInfo serializes the booking reference for the order-info field
func EncodeOrderInfo(bookingID int64) string {
	payload, _ := json.Marshal(orderInfoPayload{BookingID: bookingID})
	return string(payload)
}

// ResolveBookingReference extracts the booking ID from a callback.
//
// Resolution order:
//  1. structured JSON parse of the order-info field (the primary path);
//  2. first digit run of the order-info field, stripping the 13-digit
//     timestamp suffix when present (compatibility fallback for payloads the
//     gateway mangled);
//  3. the same heuristic applied to the transaction reference itself.
//
// Returns an error when no strategy yields a positive integer; such callbacks
// are unroutable and must be rejected without writes.
func ResolveBookingReference(orderInfo, transactionRef string) (int64, error) {
	var payload orderInfoPayload
	if err := json.Unmarshal([]byte(orderInfo), &payload); err == nil && payload.BookingID > 0 {
		return payload.BookingID, nil
	}

	if id := resolveFromDigits(orderInfo); id > 0 {
		return id, nil
	}

	if id := resolveFromDigits(transactionRef); id > 0 {
		return id, nil
	}

	return 0, fmt.Errorf("no booking reference in order info %q or transaction ref %q", orderInfo, transactionRef)
}

// resolveFromDigits extracts the first digit run from s and strips the
// timestamp suffix when the run is long enough to carry one. Returns 0 when
// nothing parseable remains.
func resolveFromDigits(s string) int64 {
	run := digitRun.FindString(s)
	if run == "" {
		return 0
	}
	if len(run) > txnRefSuffixWidth {
		run = run[:len(run)-txnRefSuffixWidth]
	}
	id, err := strconv.ParseInt(run, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
