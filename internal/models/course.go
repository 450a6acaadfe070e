package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCurrency is the single currency courses are sold in.
const DefaultCurrency = "INR"

// Course is a catalog entry. Price is in the smallest currency unit (paise).
type Course struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Currency    string    `json:"currency"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PromoCode is a promotional referral code not owned by any person.
type PromoCode struct {
	Code            string    `json:"code"`
	DiscountPercent float64   `json:"discount_percent"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}
