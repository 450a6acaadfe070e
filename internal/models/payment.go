package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentProvider values.
const (
	PaymentProviderRazorpay = "razorpay"
	PaymentProviderManual   = "manual"
)

// PaymentConfirmation is what the gateway reported for a completed checkout.
type PaymentConfirmation struct {
	Provider      string `json:"provider"`
	Method        string `json:"method"`
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id,omitempty"`
	Signature     string `json:"signature,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

// CheckoutOrder is the gateway order created at checkout. It pins who pays how much for
// which course, so a payment confirmation can only enroll what was actually bought.
type CheckoutOrder struct {
	OrderID      string    `json:"order_id"`
	StudentID    uuid.UUID `json:"student_id"`
	CourseID     uuid.UUID `json:"course_id"`
	ReferralCode string    `json:"referral_code,omitempty"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
}
