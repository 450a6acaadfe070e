package faculty

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
	"github.com/coursehub/backend/pkg/database"
)

var (
	// ErrNotFound is returned when no faculty member matches.
	ErrNotFound = errors.New("faculty not found")
	// ErrEmailTaken is returned when another faculty member already uses the email.
	ErrEmailTaken = errors.New("faculty email already registered")
)

const (
	codePrefix   = "FAC"
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts = 3
)

const facultyEmailConstraint = "faculty_email_key"

const facultyColumns = `id, user_id, name, email, referral_code, active, created_at, updated_at`

// Repository handles faculty, referral code and commission persistence.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a faculty repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// LookupFacultyCode implements pricing.FacultyAuthority. Inactive faculty codes do not match.
func (r *Repository) LookupFacultyCode(ctx context.Context, code string) (pricing.FacultyMatch, error) {
	const q = `SELECT id, referral_code FROM faculty WHERE referral_code = $1 AND active`
	var m pricing.FacultyMatch
	err := r.pool.QueryRow(ctx, q, code).Scan(&m.FacultyID, &m.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return pricing.FacultyMatch{}, pricing.ErrNoMatch
	}
	if err != nil {
		return pricing.FacultyMatch{}, err
	}
	return m, nil
}

// Create inserts a faculty member. An empty ReferralCode is generated; a generated code that
// collides is retried, a requested one fails with database.ErrCodeTaken.
func (r *Repository) Create(ctx context.Context, f *models.Faculty) error {
	return r.createWithCode(f.ReferralCode, func(code string) error { return r.create(ctx, f, code) })
}

// createWithCode runs insert with the requested code, or with fresh generated codes until one
// is free. Only code collisions are retried.
func (r *Repository) createWithCode(requestedCode string, insert func(code string) error) error {
	requested := pricing.NormalizeCode(requestedCode)
	for attempt := 1; ; attempt++ {
		code := requested
		if code == "" {
			generated, err := GenerateCode()
			if err != nil {
				return err
			}
			code = generated
		}
		err := insert(code)
		if errors.Is(err, database.ErrCodeTaken) && requested == "" && attempt < codeAttempts {
			r.logger.Warn("generated referral code collided", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}
		return err
	}
}

func (r *Repository) create(ctx context.Context, f *models.Faculty, code string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Error("failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := database.RegisterReferralCode(ctx, tx, code, database.CodeKindFaculty); err != nil {
		return err
	}
	const q = `INSERT INTO faculty (id, user_id, name, email, referral_code, active)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, TRUE)
		RETURNING ` + facultyColumns
	if err := scanFaculty(tx.QueryRow(ctx, q, f.UserID, f.Name, f.Email, code), f); err != nil {
		if constraint, ok := database.ViolatedConstraint(err); ok {
			if constraint == facultyEmailConstraint {
				return fmt.Errorf("%w: %s", ErrEmailTaken, f.Email)
			}
			return fmt.Errorf("faculty code %s: %w", code, database.ErrCodeTaken)
		}
		return fmt.Errorf("insert faculty: %w", err)
	}
	if f.UserID != nil {
		// admins keep their role; anyone else linked to a profile becomes faculty
		tag, err := tx.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1 AND role <> $3`,
			*f.UserID, string(models.RoleFaculty), string(models.RoleAdmin))
		if err != nil {
			return fmt.Errorf("grant faculty role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			r.logger.Info("faculty linked to an admin or missing user, role unchanged", zap.String("user_id", f.UserID.String()))
		}
	}
	return tx.Commit(ctx)
}

// GetByID returns a faculty member by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Faculty, error) {
	var f models.Faculty
	err := scanFaculty(r.pool.QueryRow(ctx, `SELECT `+facultyColumns+` FROM faculty WHERE id = $1`, id), &f)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetByUserID returns the faculty profile linked to a user account.
func (r *Repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Faculty, error) {
	var f models.Faculty
	err := scanFaculty(r.pool.QueryRow(ctx, `SELECT `+facultyColumns+` FROM faculty WHERE user_id = $1`, userID), &f)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// List returns all faculty members.
func (r *Repository) List(ctx context.Context) ([]models.Faculty, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+facultyColumns+` FROM faculty ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Faculty{}
	for rows.Next() {
		var f models.Faculty
		if err := scanFaculty(rows, &f); err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

// SetActive activates or deactivates a faculty member and with it their referral code.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE faculty SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AccrueCommission records the commission for one enrollment. Returns false when it already exists.
func (r *Repository) AccrueCommission(ctx context.Context, facultyID, enrollmentID uuid.UUID, amount int64, percent float64) (bool, error) {
	const q = `INSERT INTO faculty_commissions (id, faculty_id, enrollment_id, amount, percent, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (enrollment_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, facultyID, enrollmentID, amount, percent, models.CommissionStatusEarned)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListCommissions returns a faculty member's commissions, newest first.
func (r *Repository) ListCommissions(ctx context.Context, facultyID uuid.UUID) ([]models.Commission, error) {
	const q = `SELECT id, faculty_id, enrollment_id, amount, percent, status, paid_at, created_at
		FROM faculty_commissions WHERE faculty_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Commission{}
	for rows.Next() {
		var c models.Commission
		if err := rows.Scan(&c.ID, &c.FacultyID, &c.EnrollmentID, &c.Amount, &c.Percent, &c.Status, &c.PaidAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// CommissionSummary totals earned and paid commissions.
func (r *Repository) CommissionSummary(ctx context.Context, facultyID uuid.UUID) (*models.CommissionSummary, error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(amount) FILTER (WHERE status = 'paid'), 0)
		FROM faculty_commissions WHERE faculty_id = $1`
	s := models.CommissionSummary{FacultyID: facultyID}
	if err := r.pool.QueryRow(ctx, q, facultyID).Scan(&s.Referrals, &s.TotalEarned, &s.TotalPaid); err != nil {
		return nil, err
	}
	s.Outstanding = s.TotalEarned - s.TotalPaid
	return &s, nil
}

// MarkCommissionsPaid settles every earned commission of a faculty member. Returns the amount settled.
func (r *Repository) MarkCommissionsPaid(ctx context.Context, facultyID uuid.UUID) (int64, error) {
	const q = `WITH settled AS (
			UPDATE faculty_commissions SET status = 'paid', paid_at = NOW()
			WHERE faculty_id = $1 AND status = 'earned' RETURNING amount
		) SELECT COALESCE(SUM(amount), 0) FROM settled`
	var total int64
	err := r.pool.QueryRow(ctx, q, facultyID).Scan(&total)
	return total, err
}

// GenerateCode returns a fresh faculty referral code such as FAC7KQ2MX.
func GenerateCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}
	out := make([]byte, codeLength)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return codePrefix + string(out), nil
}

func scanFaculty(row pgx.Row, f *models.Faculty) error {
	return row.Scan(&f.ID, &f.UserID, &f.Name, &f.Email, &f.ReferralCode, &f.Active, &f.CreatedAt, &f.UpdatedAt)
}
