package enrollments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursehub/backend/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, amount_paid, list_price, currency, referral_code,
	COALESCE(discount_source,''), discount_amount, faculty_id, provider, COALESCE(method,''), transaction_id,
	COALESCE(order_id,''), created_at`

// Repository handles enrollment and receipt persistence. Enrollments are insert-only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an enrollments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends an enrollment. Returns ErrDuplicateTransaction when the transaction id exists.
func (r *Repository) Insert(ctx context.Context, e *models.Enrollment) error {
	const q = `INSERT INTO enrollments (id, student_id, course_id, amount_paid, list_price, currency, referral_code,
		discount_source, discount_amount, faculty_id, provider, method, transaction_id, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), $9, $10, $11, NULLIF($12,''), $13, NULLIF($14,''), $15)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING created_at`
	err := r.pool.QueryRow(ctx, q, e.ID, e.StudentID, e.CourseID, e.AmountPaid, e.ListPrice, e.Currency, e.ReferralCode,
		e.DiscountSource, e.DiscountAmount, e.FacultyID, e.Provider, e.Method, e.TransactionID, e.OrderID, e.CreatedAt).
		Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateTransaction
	}
	return err
}

// GetByTransactionID returns the enrollment recorded for a payment transaction.
func (r *Repository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Enrollment, error) {
	return r.getOne(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE transaction_id = $1`, transactionID)
}

// GetByID returns an enrollment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	return r.getOne(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)
}

// ListByStudent returns a student's enrollments, newest first.
func (r *Repository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Enrollment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE student_id = $1 ORDER BY created_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// IsEnrolled reports whether the student already has an enrollment for the course.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, courseID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, studentID, courseID).Scan(&ok)
	return ok, err
}

// SaveReceipt stores the receipt object key for an enrollment once.
func (r *Repository) SaveReceipt(ctx context.Context, enrollmentID uuid.UUID, objectKey string) error {
	const q = `INSERT INTO enrollment_receipts (enrollment_id, object_key) VALUES ($1, $2)
		ON CONFLICT (enrollment_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, enrollmentID, objectKey)
	return err
}

// GetReceipt returns the receipt pointer for an enrollment.
func (r *Repository) GetReceipt(ctx context.Context, enrollmentID uuid.UUID) (*models.EnrollmentReceipt, error) {
	const q = `SELECT enrollment_id, object_key, created_at FROM enrollment_receipts WHERE enrollment_id = $1`
	var rc models.EnrollmentReceipt
	err := r.pool.QueryRow(ctx, q, enrollmentID).Scan(&rc.EnrollmentID, &rc.ObjectKey, &rc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// SaveOrder stores the checkout order a gateway payment must match. Saving the same order twice is a no-op.
func (r *Repository) SaveOrder(ctx context.Context, o *models.CheckoutOrder) error {
	const q = `INSERT INTO checkout_orders (order_id, student_id, course_id, referral_code, amount, currency)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6)
		ON CONFLICT (order_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, o.OrderID, o.StudentID, o.CourseID, o.ReferralCode, o.Amount, o.Currency)
	return err
}

// GetOrder returns the checkout order created for a gateway order id.
func (r *Repository) GetOrder(ctx context.Context, orderID string) (*models.CheckoutOrder, error) {
	const q = `SELECT order_id, student_id, course_id, COALESCE(referral_code,''), amount, currency, created_at
		FROM checkout_orders WHERE order_id = $1`
	var o models.CheckoutOrder
	err := r.pool.QueryRow(ctx, q, orderID).Scan(&o.OrderID, &o.StudentID, &o.CourseID, &o.ReferralCode, &o.Amount, &o.Currency, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// SalesByCourse aggregates enrollments for a course.
func (r *Repository) SalesByCourse(ctx context.Context, courseID uuid.UUID) (*models.CourseSales, error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(amount_paid), 0), COALESCE(SUM(discount_amount), 0),
		COUNT(*) FILTER (WHERE discount_source = 'faculty'), COUNT(*) FILTER (WHERE discount_source = 'promotional')
		FROM enrollments WHERE course_id = $1`
	s := models.CourseSales{CourseID: courseID}
	err := r.pool.QueryRow(ctx, q, courseID).Scan(&s.TotalEnrollments, &s.Revenue, &s.DiscountGiven, &s.FacultyReferrals, &s.PromoReferrals)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) getOne(ctx context.Context, q string, arg any) (*models.Enrollment, error) {
	e, err := scanEnrollment(r.pool.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func scanEnrollment(row pgx.Row) (*models.Enrollment, error) {
	var e models.Enrollment
	err := row.Scan(&e.ID, &e.StudentID, &e.CourseID, &e.AmountPaid, &e.ListPrice, &e.Currency, &e.ReferralCode,
		&e.DiscountSource, &e.DiscountAmount, &e.FacultyID, &e.Provider, &e.Method, &e.TransactionID, &e.OrderID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
