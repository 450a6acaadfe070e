package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FacultyMatch is an active faculty referral code.
type FacultyMatch struct {
	FacultyID uuid.UUID
	Code      string
}

// PromoMatch is an active promotional code.
type PromoMatch struct {
	Code            string
	DiscountPercent float64
}

// FacultyAuthority answers whether a code belongs to an active faculty member.
type FacultyAuthority interface {
	LookupFacultyCode(ctx context.Context, code string) (FacultyMatch, error)
}

// PromoAuthority answers whether a code is an active promotional code.
type PromoAuthority interface {
	LookupPromoCode(ctx context.Context, code string) (PromoMatch, error)
}

// Observer receives one outcome per validation.
type Observer interface {
	ObserveReferral(source, outcome string)
}

// Validation outcomes reported to the Observer.
const (
	OutcomeValid       = "valid"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeBadInput    = "bad_input"
)

// Validator resolves a referral code against the faculty authority first and the promotional authority second.
type Validator struct {
	faculty  FacultyAuthority
	promo    PromoAuthority
	observer Observer
	logger   *zap.Logger
}

// NewValidator creates a validator. promo may be nil for a faculty-only validator.
func NewValidator(faculty FacultyAuthority, promo PromoAuthority, observer Observer, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{faculty: faculty, promo: promo, observer: observer, logger: logger}
}

// Validate resolves code against listPrice. On ErrCodeNotFound and ErrAuthorityUnavailable the
// returned resolution is Invalid(listPrice), so callers can always fall back to the list price.
func (v *Validator) Validate(ctx context.Context, code string, listPrice int64) (Resolution, error) {
	code = NormalizeCode(code)
	if listPrice <= 0 {
		v.observe(SourceNone, OutcomeBadInput)
		return Invalid(listPrice), fmt.Errorf("%w: list price must be positive, got %d", ErrInvalidInput, listPrice)
	}
	if code == "" {
		v.observe(SourceNone, OutcomeBadInput)
		return Invalid(listPrice), fmt.Errorf("%w: referral code is empty", ErrInvalidInput)
	}

	if v.faculty != nil {
		m, err := v.faculty.LookupFacultyCode(ctx, code)
		switch {
		case err == nil:
			facultyID := m.FacultyID
			res := v.valid(code, listPrice, FacultyDiscountPercent, SourceFaculty)
			res.FacultyID = &facultyID
			return res, nil
		case !errors.Is(err, ErrNoMatch):
			v.logger.Warn("faculty authority lookup failed", zap.String("code", code), zap.Error(err))
			v.observe(SourceFaculty, OutcomeUnavailable)
			return Invalid(listPrice), fmt.Errorf("%w: faculty: %v", ErrAuthorityUnavailable, err)
		}
	}

	if v.promo != nil {
		m, err := v.promo.LookupPromoCode(ctx, code)
		switch {
		case err == nil:
			if m.DiscountPercent < 0 || m.DiscountPercent > 100 {
				v.logger.Error("promo code has out of range discount", zap.String("code", code), zap.Float64("percent", m.DiscountPercent))
				v.observe(SourcePromotional, OutcomeUnavailable)
				return Invalid(listPrice), fmt.Errorf("%w: promo %s has discount %.2f", ErrAuthorityUnavailable, code, m.DiscountPercent)
			}
			return v.valid(code, listPrice, m.DiscountPercent, SourcePromotional), nil
		case !errors.Is(err, ErrNoMatch):
			v.logger.Warn("promo authority lookup failed", zap.String("code", code), zap.Error(err))
			v.observe(SourcePromotional, OutcomeUnavailable)
			return Invalid(listPrice), fmt.Errorf("%w: promo: %v", ErrAuthorityUnavailable, err)
		}
	}

	v.observe(SourceNone, OutcomeNotFound)
	return Invalid(listPrice), ErrCodeNotFound
}

// Optional resolves an optional code: an empty code yields Invalid(listPrice) without error.
func (v *Validator) Optional(ctx context.Context, code string, listPrice int64) (Resolution, error) {
	if NormalizeCode(code) == "" {
		if listPrice <= 0 {
			return Invalid(listPrice), fmt.Errorf("%w: list price must be positive, got %d", ErrInvalidInput, listPrice)
		}
		return Invalid(listPrice), nil
	}
	return v.Validate(ctx, code, listPrice)
}

func (v *Validator) valid(code string, listPrice int64, percent float64, source Source) Resolution {
	discount, final := Compute(listPrice, percent)
	v.observe(source, OutcomeValid)
	return Resolution{
		Valid:           true,
		Code:            code,
		Source:          source,
		DiscountPercent: percent,
		DiscountAmount:  discount,
		ListPrice:       listPrice,
		FinalPrice:      final,
	}
}

func (v *Validator) observe(source Source, outcome string) {
	if v.observer == nil {
		return
	}
	s := string(source)
	if s == "" {
		s = "none"
	}
	v.observer.ObserveReferral(s, outcome)
}
