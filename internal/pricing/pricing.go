// Package pricing resolves referral codes into discounts and computes the final payable price of a course.
package pricing

import (
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
)

// FacultyDiscountPercent is the platform-wide discount granted by any active faculty referral code.
const FacultyDiscountPercent = 60

var (
	// ErrInvalidInput is returned for a malformed price or code before any authority is queried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCodeNotFound is returned when neither authority recognises the code.
	ErrCodeNotFound = errors.New("referral code not found")
	// ErrAuthorityUnavailable is returned when an authority could not answer. Retryable.
	ErrAuthorityUnavailable = errors.New("referral authority unavailable")
	// ErrNoMatch is returned by authorities for unknown or inactive codes.
	ErrNoMatch = errors.New("no match")
)

// Source identifies which authority granted a discount.
type Source string

const (
	SourceNone        Source = ""
	SourceFaculty     Source = "faculty"
	SourcePromotional Source = "promotional"
)

// Resolution is the outcome of validating a code against a list price.
// It carries at most one discount source.
type Resolution struct {
	Valid           bool       `json:"valid"`
	Code            string     `json:"code,omitempty"`
	Source          Source     `json:"source,omitempty"`
	DiscountPercent float64    `json:"discount_percent"`
	DiscountAmount  int64      `json:"discount_amount"`
	ListPrice       int64      `json:"list_price"`
	FinalPrice      int64      `json:"final_price"`
	FacultyID       *uuid.UUID `json:"faculty_id,omitempty"`
}

// Invalid returns the resolution for "no discount applied".
func Invalid(listPrice int64) Resolution {
	return Resolution{ListPrice: listPrice, FinalPrice: listPrice}
}

// NormalizeCode trims whitespace and uppercases a referral code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Compute applies percent to listPrice, rounding the discount half away from zero
// to the smallest currency unit. The discount is clamped to [0, listPrice].
func Compute(listPrice int64, percent float64) (discountAmount, finalPrice int64) {
	discountAmount = int64(math.Round(float64(listPrice) * percent / 100))
	if discountAmount < 0 {
		discountAmount = 0
	}
	if discountAmount > listPrice {
		discountAmount = listPrice
	}
	return discountAmount, listPrice - discountAmount
}

// Resolve projects a resolution onto the price actually charged.
// It never recomputes, so applying it repeatedly yields the same price.
func Resolve(listPrice int64, r Resolution) int64 {
	if !r.Valid {
		return listPrice
	}
	return r.FinalPrice
}
