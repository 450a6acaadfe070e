package models

import (
	"time"

	"github.com/google/uuid"
)

// CommissionStatus values.
const (
	CommissionStatusEarned = "earned"
	CommissionStatusPaid   = "paid"
)

// Faculty is an affiliate who owns exactly one referral code.
type Faculty struct {
	ID           uuid.UUID  `json:"id"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	ReferralCode string     `json:"referral_code"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Commission is accrued to a faculty member for one enrollment made with their code.
type Commission struct {
	ID           uuid.UUID  `json:"id"`
	FacultyID    uuid.UUID  `json:"faculty_id"`
	EnrollmentID uuid.UUID  `json:"enrollment_id"`
	Amount       int64      `json:"amount"`
	Percent      float64    `json:"percent"`
	Status       string     `json:"status"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CommissionSummary totals a faculty member's commissions.
type CommissionSummary struct {
	FacultyID   uuid.UUID `json:"faculty_id"`
	Referrals   int       `json:"referrals"`
	TotalEarned int64     `json:"total_earned"`
	TotalPaid   int64     `json:"total_paid"`
	Outstanding int64     `json:"outstanding"`
}
