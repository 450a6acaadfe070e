package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/enrollments"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
	"github.com/coursehub/backend/pkg/queue"
	"github.com/coursehub/backend/pkg/storage"
)

// Job outcomes reported to the JobObserver.
const (
	OutcomeDone    = "done"
	OutcomeRetried = "retried"
)

// EnrollmentStore reads enrollments and records their archived receipts.
type EnrollmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	GetReceipt(ctx context.Context, enrollmentID uuid.UUID) (*models.EnrollmentReceipt, error)
	SaveReceipt(ctx context.Context, enrollmentID uuid.UUID, objectKey string) error
}

// CourseGetter loads catalog entries.
type CourseGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

// CommissionAccruer books faculty commissions, once per enrollment.
type CommissionAccruer interface {
	AccrueCommission(ctx context.Context, facultyID, enrollmentID uuid.UUID, amount int64, percent float64) (bool, error)
}

// ReceiptUploader archives receipt documents.
type ReceiptUploader interface {
	UploadReceipt(ctx context.Context, key string, body []byte) error
}

// JobQueue is the queue the worker loop consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// JobObserver counts processed jobs.
type JobObserver interface {
	ObserveJob(jobType, outcome string)
}

// Receipt is the archived proof of purchase.
type Receipt struct {
	EnrollmentID   uuid.UUID `json:"enrollment_id"`
	StudentID      uuid.UUID `json:"student_id"`
	CourseID       uuid.UUID `json:"course_id"`
	CourseTitle    string    `json:"course_title"`
	ListPrice      int64     `json:"list_price"`
	DiscountAmount int64     `json:"discount_amount"`
	AmountPaid     int64     `json:"amount_paid"`
	Currency       string    `json:"currency"`
	ReferralCode   string    `json:"referral_code,omitempty"`
	DiscountSource string    `json:"discount_source,omitempty"`
	Provider       string    `json:"provider"`
	TransactionID  string    `json:"transaction_id"`
	PurchasedAt    time.Time `json:"purchased_at"`
}

// EnrollmentProcessor runs post-enrollment jobs: commission accrual and receipt archiving.
// Both steps are safe to repeat, so a retried job never double-books.
type EnrollmentProcessor struct {
	enrollments       EnrollmentStore
	courses           CourseGetter
	commissions       CommissionAccruer
	receipts          ReceiptUploader
	queue             JobQueue
	observer          JobObserver
	commissionPercent float64
	logger            *zap.Logger
}

// Config wires an EnrollmentProcessor. Receipts, Observer and Queue may be nil.
type Config struct {
	Enrollments       EnrollmentStore
	Courses           CourseGetter
	Commissions       CommissionAccruer
	Receipts          ReceiptUploader
	Queue             JobQueue
	Observer          JobObserver
	CommissionPercent float64
	Logger            *zap.Logger
}

// NewEnrollmentProcessor creates a post-enrollment job processor.
func NewEnrollmentProcessor(cfg Config) *EnrollmentProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentProcessor{
		enrollments:       cfg.Enrollments,
		courses:           cfg.Courses,
		commissions:       cfg.Commissions,
		receipts:          cfg.Receipts,
		queue:             cfg.Queue,
		observer:          cfg.Observer,
		commissionPercent: cfg.CommissionPercent,
		logger:            logger,
	}
}

// Process executes one job.
func (p *EnrollmentProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEnrollmentRecorded {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EnrollmentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	e, err := p.enrollments.GetByID(ctx, payload.EnrollmentID)
	if err != nil {
		return fmt.Errorf("load enrollment %s: %w", payload.EnrollmentID, err)
	}
	if err := p.accrueCommission(ctx, e); err != nil {
		return err
	}
	return p.archiveReceipt(ctx, e)
}

func (p *EnrollmentProcessor) accrueCommission(ctx context.Context, e *models.Enrollment) error {
	if e.FacultyID == nil || p.commissionPercent <= 0 {
		return nil
	}
	amount, _ := pricing.Compute(e.AmountPaid, p.commissionPercent)
	if amount == 0 {
		return nil
	}
	created, err := p.commissions.AccrueCommission(ctx, *e.FacultyID, e.ID, amount, p.commissionPercent)
	if err != nil {
		return fmt.Errorf("accrue commission: %w", err)
	}
	if created {
		p.logger.Info("faculty commission accrued",
			zap.String("faculty_id", e.FacultyID.String()),
			zap.String("enrollment_id", e.ID.String()),
			zap.Int64("amount", amount),
		)
	}
	return nil
}

func (p *EnrollmentProcessor) archiveReceipt(ctx context.Context, e *models.Enrollment) error {
	if p.receipts == nil {
		return nil
	}
	if _, err := p.enrollments.GetReceipt(ctx, e.ID); err == nil {
		return nil
	} else if !errors.Is(err, enrollments.ErrNotFound) {
		return fmt.Errorf("load receipt: %w", err)
	}

	r := Receipt{
		EnrollmentID:   e.ID,
		StudentID:      e.StudentID,
		CourseID:       e.CourseID,
		ListPrice:      e.ListPrice,
		DiscountAmount: e.DiscountAmount,
		AmountPaid:     e.AmountPaid,
		Currency:       e.Currency,
		DiscountSource: e.DiscountSource,
		Provider:       e.Provider,
		TransactionID:  e.TransactionID,
		PurchasedAt:    e.CreatedAt,
	}
	if e.ReferralCode != nil {
		r.ReferralCode = *e.ReferralCode
	}
	if course, err := p.courses.GetByID(ctx, e.CourseID); err == nil {
		r.CourseTitle = course.Title
	} else {
		p.logger.Warn("receipt without course title", zap.String("course_id", e.CourseID.String()), zap.Error(err))
	}
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	key := storage.ReceiptKey(e.StudentID.String(), e.ID.String())
	if err := p.receipts.UploadReceipt(ctx, key, body); err != nil {
		return err
	}
	if err := p.enrollments.SaveReceipt(ctx, e.ID, key); err != nil {
		return fmt.Errorf("save receipt: %w", err)
	}
	p.logger.Info("receipt archived", zap.String("enrollment_id", e.ID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EnrollmentProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("enrollment worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			p.observe(job, OutcomeRetried)
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, queue.RetryBackoff)
			continue
		}
		p.observe(job, OutcomeDone)
	}
}

func (p *EnrollmentProcessor) observe(job *queue.Job, outcome string) {
	if p.observer != nil {
		p.observer.ObserveJob(string(job.Type), outcome)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
