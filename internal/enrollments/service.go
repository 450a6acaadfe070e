package enrollments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/courses"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
	"github.com/coursehub/backend/pkg/queue"
)

var (
	// ErrCourseNotFound is returned when the course to enroll in does not exist or is not for sale.
	ErrCourseNotFound = errors.New("course not found")
	// ErrOrderNotFound is returned when a gateway payment names no checkout order created by the server.
	ErrOrderNotFound = errors.New("checkout order not found")
	// ErrOrderMismatch is returned when a payment is presented for a different student or course than its order.
	ErrOrderMismatch = errors.New("payment does not match its checkout order")
)

// CourseGetter loads catalog entries.
type CourseGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

// CodeValidator resolves an optional referral code against a list price.
type CodeValidator interface {
	Optional(ctx context.Context, code string, listPrice int64) (pricing.Resolution, error)
}

// OrderStore reads the checkout orders saved when gateway orders were created.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*models.CheckoutOrder, error)
}

// JobEnqueuer schedules post-enrollment work.
type JobEnqueuer interface {
	EnqueueEnrollmentRecorded(ctx context.Context, payload queue.EnrollmentPayload) error
}

// EnrollRequest is one verified purchase to record.
type EnrollRequest struct {
	CourseID     uuid.UUID
	ReferralCode string
	Payment      models.PaymentConfirmation
}

// Service recomputes the price server-side and records the enrollment.
type Service struct {
	courses   CourseGetter
	validator CodeValidator
	recorder  *Recorder
	orders    OrderStore
	jobs      JobEnqueuer
	logger    *zap.Logger
}

// NewService creates an enrollment service. jobs may be nil. Without orders every
// gateway payment is rejected; only manual enrollments can be recorded.
func NewService(catalog CourseGetter, validator CodeValidator, recorder *Recorder, orders OrderStore, jobs JobEnqueuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{courses: catalog, validator: validator, recorder: recorder, orders: orders, jobs: jobs, logger: logger}
}

// Enroll records the purchase described by req for the session's student.
// A transaction already recorded is returned as is. Gateway payments must match the
// checkout order they were made against, and the order's amount is what was paid.
// An unknown referral code prices the course at list price; an unavailable authority aborts.
func (s *Service) Enroll(ctx context.Context, sess Session, req EnrollRequest) (*models.Enrollment, bool, error) {
	course, err := s.courses.GetByID(ctx, req.CourseID)
	if errors.Is(err, courses.ErrNotFound) || (err == nil && course == nil) {
		return nil, false, fmt.Errorf("%w: %s", ErrCourseNotFound, req.CourseID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("load course %s: %w", req.CourseID, err)
	}

	if existing, found, err := s.recorder.Recorded(ctx, sess, course.ID, req.Payment.TransactionID); err != nil || found {
		return existing, false, err
	}

	var order *models.CheckoutOrder
	if req.Payment.Provider != models.PaymentProviderManual {
		if order, err = s.bindOrder(ctx, sess, course.ID, &req); err != nil {
			return nil, false, err
		}
	}
	// a paid order stays honoured if the course is unpublished before the payment lands
	if !course.Published && order == nil {
		return nil, false, fmt.Errorf("%w: %s is not published", ErrCourseNotFound, req.CourseID)
	}

	res, err := s.validator.Optional(ctx, req.ReferralCode, course.Price)
	if err != nil && !errors.Is(err, pricing.ErrCodeNotFound) {
		return nil, false, err
	}
	if errors.Is(err, pricing.ErrCodeNotFound) {
		s.logger.Warn("enrollment submitted with unknown referral code",
			zap.String("student_id", sess.StudentID.String()),
			zap.String("code", pricing.NormalizeCode(req.ReferralCode)),
		)
	}

	e, created, err := s.recorder.Record(ctx, sess, *course, req.Payment, res)
	if err != nil {
		return nil, false, err
	}
	if created && s.jobs != nil {
		if err := s.jobs.EnqueueEnrollmentRecorded(ctx, queue.EnrollmentPayload{EnrollmentID: e.ID}); err != nil {
			s.logger.Error("enqueue enrollment job failed", zap.Error(err), zap.String("enrollment_id", e.ID.String()))
		}
	}
	return e, created, nil
}

// bindOrder loads the checkout order behind a gateway payment and checks it was made for
// this student and course. The order's amount and referral code replace the submitted ones.
func (s *Service) bindOrder(ctx context.Context, sess Session, courseID uuid.UUID, req *EnrollRequest) (*models.CheckoutOrder, error) {
	orderID := strings.TrimSpace(req.Payment.OrderID)
	if orderID == "" || s.orders == nil {
		return nil, fmt.Errorf("%w: payment %s carries no checkout order", ErrOrderNotFound, req.Payment.TransactionID)
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("load checkout order %s: %w", orderID, err)
	}
	if order.StudentID != sess.StudentID || order.CourseID != courseID {
		s.logger.Warn("payment presented against another checkout",
			zap.String("order_id", orderID),
			zap.String("student_id", sess.StudentID.String()),
			zap.String("course_id", courseID.String()),
			zap.String("order_course_id", order.CourseID.String()),
		)
		return nil, fmt.Errorf("%w: order %s", ErrOrderMismatch, orderID)
	}
	if req.Payment.Amount != 0 && req.Payment.Amount != order.Amount {
		return nil, fmt.Errorf("%w: claimed %d, order %s is for %d", ErrAmountMismatch, req.Payment.Amount, orderID, order.Amount)
	}
	if code := pricing.NormalizeCode(req.ReferralCode); code != "" && code != order.ReferralCode {
		s.logger.Info("referral code differs from checkout, using the checkout's",
			zap.String("order_id", orderID), zap.String("submitted", code), zap.String("checkout", order.ReferralCode))
	}
	req.ReferralCode = order.ReferralCode
	req.Payment.Amount = order.Amount
	if req.Payment.Currency == "" {
		req.Payment.Currency = order.Currency
	}
	return order, nil
}
