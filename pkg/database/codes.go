package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrCodeTaken is returned when a referral code already exists in the shared namespace.
var ErrCodeTaken = errors.New("referral code already taken")

// Referral code kinds stored in the registry.
const (
	CodeKindFaculty = "faculty"
	CodeKindPromo   = "promotional"
)

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ViolatedConstraint returns the constraint named by a Postgres unique violation.
func ViolatedConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// RegisterReferralCode claims code in the single referral namespace shared by faculty and
// promotional codes. Must run in the same transaction that creates the owning row.
func RegisterReferralCode(ctx context.Context, tx pgx.Tx, code, kind string) error {
	_, err := tx.Exec(ctx, `INSERT INTO referral_codes (code, kind) VALUES ($1, $2)`, code, kind)
	if IsUniqueViolation(err) {
		return ErrCodeTaken
	}
	return err
}
