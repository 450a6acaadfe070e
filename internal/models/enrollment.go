package models

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment is the append-only record of one verified course purchase.
// TransactionID is the payment provider's id and doubles as the idempotency key.
type Enrollment struct {
	ID             uuid.UUID  `json:"id"`
	StudentID      uuid.UUID  `json:"student_id"`
	CourseID       uuid.UUID  `json:"course_id"`
	AmountPaid     int64      `json:"amount_paid"`
	ListPrice      int64      `json:"list_price"`
	Currency       string     `json:"currency"`
	ReferralCode   *string    `json:"referral_code,omitempty"`
	DiscountSource string     `json:"discount_source,omitempty"`
	DiscountAmount int64      `json:"discount_amount"`
	FacultyID      *uuid.UUID `json:"faculty_id,omitempty"`
	Provider       string     `json:"provider"`
	Method         string     `json:"method,omitempty"`
	TransactionID  string     `json:"transaction_id"`
	OrderID        string     `json:"order_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// EnrollmentReceipt points at the archived receipt of an enrollment.
type EnrollmentReceipt struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	ObjectKey    string    `json:"object_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// CourseSales aggregates enrollments for one course.
type CourseSales struct {
	CourseID         uuid.UUID `json:"course_id"`
	TotalEnrollments int       `json:"total_enrollments"`
	Revenue          int64     `json:"revenue"`
	DiscountGiven    int64     `json:"discount_given"`
	FacultyReferrals int       `json:"faculty_referrals"`
	PromoReferrals   int       `json:"promo_referrals"`
}
