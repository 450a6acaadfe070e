package enrollments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/metrics"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
)

var (
	// ErrAmountMismatch blocks recording when the paid amount differs from the server-computed final price.
	ErrAmountMismatch = errors.New("payment amount does not match final price")
	// ErrDuplicateTransaction signals that the transaction id is already recorded. Recording is a no-op.
	ErrDuplicateTransaction = errors.New("duplicate transaction ignored")
	// ErrTransactionConflict is returned when a transaction id is replayed for a different student or course.
	ErrTransactionConflict = errors.New("transaction already recorded for another enrollment")
	// ErrNotFound is returned by the store for missing rows.
	ErrNotFound = errors.New("enrollment not found")
)

// Session is the authenticated caller on whose behalf an enrollment is recorded.
type Session struct {
	StudentID uuid.UUID
	Email     string
	Role      models.Role
}

// Store persists enrollment records. Insert must return ErrDuplicateTransaction when the
// transaction id already exists.
type Store interface {
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Enrollment, error)
	Insert(ctx context.Context, e *models.Enrollment) error
}

// EnrollmentObserver receives one outcome per Record call.
type EnrollmentObserver interface {
	ObserveEnrollment(outcome string)
}

// Recorder creates enrollment records after a payment confirmation.
type Recorder struct {
	store    Store
	observer EnrollmentObserver
	logger   *zap.Logger
	now      func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(store Store, observer EnrollmentObserver, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, observer: observer, logger: logger, now: time.Now}
}

// Record appends the enrollment for a confirmed payment. created is false when the
// transaction id was already recorded, in which case the existing record is returned.
func (r *Recorder) Record(ctx context.Context, s Session, course models.Course, p models.PaymentConfirmation, res pricing.Resolution) (*models.Enrollment, bool, error) {
	txnID := strings.TrimSpace(p.TransactionID)
	if txnID == "" {
		return nil, false, fmt.Errorf("%w: transaction id is required", pricing.ErrInvalidInput)
	}
	if p.Amount < 0 {
		return nil, false, fmt.Errorf("%w: payment amount must not be negative", pricing.ErrInvalidInput)
	}

	if existing, found, err := r.Recorded(ctx, s, course.ID, txnID); err != nil || found {
		return existing, false, err
	}

	if res.Valid && res.ListPrice != course.Price {
		return nil, false, fmt.Errorf("%w: resolution priced %d, course lists %d", pricing.ErrInvalidInput, res.ListPrice, course.Price)
	}
	finalPrice := pricing.Resolve(course.Price, res)
	if p.Amount != finalPrice {
		r.observe(metrics.EnrollmentMismatch)
		r.logger.Error("payment amount mismatch",
			zap.String("transaction_id", txnID),
			zap.String("student_id", s.StudentID.String()),
			zap.String("course_id", course.ID.String()),
			zap.Int64("paid", p.Amount),
			zap.Int64("expected", finalPrice),
		)
		return nil, false, fmt.Errorf("%w: paid %d, expected %d", ErrAmountMismatch, p.Amount, finalPrice)
	}

	e := newEnrollment(s, course, p, res, txnID)
	e.CreatedAt = r.now().UTC()
	if err := r.store.Insert(ctx, e); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			existing, getErr := r.store.GetByTransactionID(ctx, txnID)
			if getErr != nil {
				r.observe(metrics.EnrollmentFailed)
				return nil, false, fmt.Errorf("load duplicate transaction: %w", getErr)
			}
			return r.replay(existing, s, course.ID)
		}
		r.observe(metrics.EnrollmentFailed)
		return nil, false, fmt.Errorf("insert enrollment: %w", err)
	}

	r.observe(metrics.EnrollmentRecorded)
	r.logger.Info("enrollment recorded",
		zap.String("enrollment_id", e.ID.String()),
		zap.String("transaction_id", txnID),
		zap.Int64("amount_paid", e.AmountPaid),
		zap.String("discount_source", e.DiscountSource),
	)
	return e, true, nil
}

// Recorded returns the enrollment already stored for txnID. found is false when the
// transaction is new; a transaction recorded for another student or course is ErrTransactionConflict.
func (r *Recorder) Recorded(ctx context.Context, s Session, courseID uuid.UUID, txnID string) (e *models.Enrollment, found bool, err error) {
	existing, err := r.store.GetByTransactionID(ctx, strings.TrimSpace(txnID))
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	case err != nil:
		r.observe(metrics.EnrollmentFailed)
		return nil, false, fmt.Errorf("lookup transaction: %w", err)
	}
	e, _, err = r.replay(existing, s, courseID)
	return e, err == nil, err
}

func (r *Recorder) replay(existing *models.Enrollment, s Session, courseID uuid.UUID) (*models.Enrollment, bool, error) {
	if existing.StudentID != s.StudentID || existing.CourseID != courseID {
		r.observe(metrics.EnrollmentFailed)
		return nil, false, fmt.Errorf("%w: %s", ErrTransactionConflict, existing.TransactionID)
	}
	r.observe(metrics.EnrollmentReplayed)
	r.logger.Info("duplicate transaction ignored", zap.String("transaction_id", existing.TransactionID))
	return existing, false, nil
}

func (r *Recorder) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveEnrollment(outcome)
	}
}

func newEnrollment(s Session, course models.Course, p models.PaymentConfirmation, res pricing.Resolution, txnID string) *models.Enrollment {
	provider := p.Provider
	if provider == "" {
		provider = models.PaymentProviderRazorpay
	}
	currency := p.Currency
	if currency == "" {
		currency = course.Currency
	}
	e := &models.Enrollment{
		ID:            uuid.New(),
		StudentID:     s.StudentID,
		CourseID:      course.ID,
		AmountPaid:    p.Amount,
		ListPrice:     course.Price,
		Currency:      currency,
		Provider:      provider,
		Method:        p.Method,
		TransactionID: txnID,
		OrderID:       p.OrderID,
	}
	if res.Valid {
		code := res.Code
		e.ReferralCode = &code
		e.DiscountSource = string(res.Source)
		e.DiscountAmount = res.DiscountAmount
		e.FacultyID = res.FacultyID
	}
	return e
}
