package courses

import (
	"context"
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
	// ErrNotFound is returned when a course does not exist.
	ErrNotFound = errors.New("course not found")
	// ErrPromoNotFound is returned when a promotional code does not exist.
	ErrPromoNotFound = errors.New("promo code not found")
)

const courseColumns = `id, title, description, price, currency, published, created_at, updated_at`

// Repository handles course and promotional code persistence.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a course repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Create inserts a new course.
func (r *Repository) Create(ctx context.Context, c *models.Course) error {
	if c.Currency == "" {
		c.Currency = models.DefaultCurrency
	}
	const q = `INSERT INTO courses (id, title, description, price, currency, published)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, c.Title, c.Description, c.Price, c.Currency, c.Published).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetByID returns a course by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var c models.Course
	err := scanCourse(r.pool.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns courses, newest first. When publishedOnly is set drafts are skipped.
func (r *Repository) List(ctx context.Context, publishedOnly bool) ([]models.Course, error) {
	q := `SELECT ` + courseColumns + ` FROM courses`
	if publishedOnly {
		q += ` WHERE published`
	}
	rows, err := r.pool.Query(ctx, q+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Course{}
	for rows.Next() {
		var c models.Course
		if err := scanCourse(rows, &c); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// CourseUpdate holds the fields PATCH /courses/:id may change. Nil fields are kept.
type CourseUpdate struct {
	Title       *string
	Description *string
	Price       *int64
	Published   *bool
}

// Update applies u to a course and returns the updated row.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, u CourseUpdate) (*models.Course, error) {
	const q = `UPDATE courses SET
			title = COALESCE($1, title),
			description = COALESCE($2, description),
			price = COALESCE($3, price),
			published = COALESCE($4, published),
			updated_at = NOW()
		WHERE id = $5
		RETURNING ` + courseColumns
	var c models.Course
	err := scanCourse(r.pool.QueryRow(ctx, q, u.Title, u.Description, u.Price, u.Published, id), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LookupPromoCode implements pricing.PromoAuthority. Inactive codes do not match.
func (r *Repository) LookupPromoCode(ctx context.Context, code string) (pricing.PromoMatch, error) {
	const q = `SELECT code, discount_percent FROM promo_codes WHERE code = $1 AND active`
	var m pricing.PromoMatch
	err := r.pool.QueryRow(ctx, q, code).Scan(&m.Code, &m.DiscountPercent)
	if errors.Is(err, pgx.ErrNoRows) {
		return pricing.PromoMatch{}, pricing.ErrNoMatch
	}
	if err != nil {
		return pricing.PromoMatch{}, err
	}
	return m, nil
}

// CreatePromo registers a promotional code. Returns database.ErrCodeTaken when the code
// is already used by a faculty member or another promotion.
func (r *Repository) CreatePromo(ctx context.Context, p *models.PromoCode) error {
	p.Code = pricing.NormalizeCode(p.Code)
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Error("failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := database.RegisterReferralCode(ctx, tx, p.Code, database.CodeKindPromo); err != nil {
		return err
	}
	const q = `INSERT INTO promo_codes (code, discount_percent, active) VALUES ($1, $2, TRUE)
		RETURNING active, created_at`
	if err := tx.QueryRow(ctx, q, p.Code, p.DiscountPercent).Scan(&p.Active, &p.CreatedAt); err != nil {
		return fmt.Errorf("insert promo code: %w", err)
	}
	return tx.Commit(ctx)
}

// ListPromos returns all promotional codes.
func (r *Repository) ListPromos(ctx context.Context) ([]models.PromoCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, discount_percent, active, created_at FROM promo_codes ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.PromoCode{}
	for rows.Next() {
		var p models.PromoCode
		if err := rows.Scan(&p.Code, &p.DiscountPercent, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// SetPromoActive enables or disables a promotional code.
func (r *Repository) SetPromoActive(ctx context.Context, code string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE promo_codes SET active = $1 WHERE code = $2`, active, pricing.NormalizeCode(code))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPromoNotFound
	}
	return nil
}

func scanCourse(row pgx.Row, c *models.Course) error {
	return row.Scan(&c.ID, &c.Title, &c.Description, &c.Price, &c.Currency, &c.Published, &c.CreatedAt, &c.UpdatedAt)
}
