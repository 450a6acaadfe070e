package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/courses"
	"github.com/coursehub/backend/internal/enrollments"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
	"github.com/coursehub/backend/pkg/response"
)

// Order note keys carried from checkout to the payment.captured webhook.
const (
	NoteStudentID    = "student_id"
	NoteCourseID     = "course_id"
	NoteReferralCode = "referral_code"
)

const eventPaymentCaptured = "payment.captured"

// CourseGetter loads catalog entries.
type CourseGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

// CodeValidator resolves an optional referral code against a list price.
type CodeValidator interface {
	Optional(ctx context.Context, code string, listPrice int64) (pricing.Resolution, error)
}

// CheckoutStore reports existing enrollments and keeps the orders created at checkout.
type CheckoutStore interface {
	IsEnrolled(ctx context.Context, studentID, courseID uuid.UUID) (bool, error)
	SaveOrder(ctx context.Context, o *models.CheckoutOrder) error
}

// Gateway creates orders and verifies webhook deliveries.
type Gateway interface {
	Enabled() bool
	KeyID() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	WebhookEnabled() bool
	VerifyWebhookSignature(body []byte, signature string) bool
}

// Enroller records a verified purchase.
type Enroller interface {
	Enroll(ctx context.Context, sess enrollments.Session, req enrollments.EnrollRequest) (*models.Enrollment, bool, error)
}

// Handler handles quote, checkout and gateway webhook endpoints.
type Handler struct {
	courses   CourseGetter
	validator CodeValidator
	checkouts CheckoutStore
	gateway   Gateway
	enroller  Enroller
	logger    *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(catalog CourseGetter, validator CodeValidator, checkouts CheckoutStore, gateway Gateway, enroller Enroller, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{courses: catalog, validator: validator, checkouts: checkouts, gateway: gateway, enroller: enroller, logger: logger}
}

// QuoteRequest is the body for the quote and checkout endpoints.
type QuoteRequest struct {
	ReferralCode string `json:"referralCode"`
}

// Quote is the server-computed price for a course and referral code.
type Quote struct {
	CourseID        uuid.UUID      `json:"courseId"`
	ListPrice       int64          `json:"listPrice"`
	FinalPrice      int64          `json:"finalPrice"`
	DiscountAmount  int64          `json:"discountAmount"`
	DiscountPercent float64        `json:"discountPercent"`
	DiscountSource  pricing.Source `json:"discountSource,omitempty"`
	ReferralCode    string         `json:"referralCode,omitempty"`
	Currency        string         `json:"currency"`
	CodeValid       bool           `json:"codeValid"`
	Message         string         `json:"message,omitempty"`
}

// CheckoutResponse is a quote plus the gateway order to pay it with.
type CheckoutResponse struct {
	Quote
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
	KeyID   string `json:"keyId,omitempty"`
}

// Quote handles POST /courses/:id/quote.
func (h *Handler) Quote(c *gin.Context) {
	q, ok := h.quote(c)
	if !ok {
		return
	}
	response.OK(c, q)
}

// Checkout handles POST /courses/:id/checkout. Without gateway credentials only the quote is returned.
func (h *Handler) Checkout(c *gin.Context) {
	sess, ok := enrollments.SessionFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	if !sess.Role.CanBuy() {
		response.Forbidden(c, "this account cannot purchase courses")
		return
	}
	q, ok := h.quote(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	already, err := h.checkouts.IsEnrolled(ctx, sess.StudentID, q.CourseID)
	if err != nil {
		h.logger.Error("enrollment check failed", zap.Error(err))
		response.Internal(c, "failed to start checkout")
		return
	}
	if already {
		response.Conflict(c, "already enrolled in this course")
		return
	}

	if q.CodeValid && q.FinalPrice == 0 {
		h.enrollFree(c, sess, q)
		return
	}

	out := CheckoutResponse{Quote: q, Amount: q.FinalPrice}
	if h.gateway == nil || !h.gateway.Enabled() {
		response.OK(c, out)
		return
	}
	order, err := h.gateway.CreateOrder(ctx, OrderRequest{
		Amount:   q.FinalPrice,
		Currency: q.Currency,
		Receipt:  "crs_" + uuid.NewString()[:18],
		Notes: map[string]string{
			NoteStudentID:    sess.StudentID.String(),
			NoteCourseID:     q.CourseID.String(),
			NoteReferralCode: q.ReferralCode,
		},
	})
	if err != nil {
		h.logger.Error("create gateway order failed", zap.Error(err), zap.String("course_id", q.CourseID.String()))
		response.Fail(c, http.StatusBadGateway, "could not start payment, please try again")
		return
	}
	if err := h.checkouts.SaveOrder(ctx, &models.CheckoutOrder{
		OrderID:      order.ID,
		StudentID:    sess.StudentID,
		CourseID:     q.CourseID,
		ReferralCode: q.ReferralCode,
		Amount:       order.Amount,
		Currency:     order.Currency,
	}); err != nil {
		h.logger.Error("save checkout order failed", zap.Error(err), zap.String("order_id", order.ID))
		response.Internal(c, "could not start payment, please try again")
		return
	}
	out.OrderID = order.ID
	out.Amount = order.Amount
	out.KeyID = h.gateway.KeyID()
	h.logger.Info("checkout order created",
		zap.String("order_id", order.ID),
		zap.String("student_id", sess.StudentID.String()),
		zap.Int64("amount", order.Amount),
	)
	response.OK(c, out)
}

// enrollFree records a fully discounted purchase directly; there is nothing to charge.
// The transaction id is derived from student and course so repeats replay.
func (h *Handler) enrollFree(c *gin.Context, sess enrollments.Session, q Quote) {
	e, created, err := h.enroller.Enroll(c.Request.Context(), sess, enrollments.EnrollRequest{
		CourseID:     q.CourseID,
		ReferralCode: q.ReferralCode,
		Payment: models.PaymentConfirmation{
			Provider:      models.PaymentProviderManual,
			Method:        "free",
			TransactionID: FreeTransactionID(sess.StudentID, q.CourseID),
			Currency:      q.Currency,
		},
	})
	if err != nil {
		h.logger.Error("free enrollment failed", zap.Error(err), zap.String("course_id", q.CourseID.String()))
		if errors.Is(err, pricing.ErrAuthorityUnavailable) {
			response.Fail(c, http.StatusServiceUnavailable, "Could not validate referral code, please try again")
			return
		}
		response.Internal(c, "failed to record enrollment")
		return
	}
	out := CheckoutResponse{Quote: q}
	if created {
		response.Created(c, gin.H{"checkout": out, "enrollment": e})
		return
	}
	response.OK(c, gin.H{"checkout": out, "enrollment": e})
}

// FreeTransactionID is the idempotency key of a zero-priced enrollment.
func FreeTransactionID(studentID, courseID uuid.UUID) string {
	return "free_" + studentID.String() + "_" + courseID.String()
}

func (h *Handler) quote(c *gin.Context) (Quote, bool) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return Quote{}, false
	}
	var req QuoteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return Quote{}, false
		}
	}
	course, err := h.courses.GetByID(c.Request.Context(), courseID)
	if err != nil && !errors.Is(err, courses.ErrNotFound) {
		h.logger.Error("load course failed", zap.Error(err), zap.String("course_id", courseID.String()))
		response.Internal(c, "failed to load course")
		return Quote{}, false
	}
	if err != nil || !course.Published {
		response.NotFound(c, "course not found")
		return Quote{}, false
	}

	q := Quote{CourseID: course.ID, ListPrice: course.Price, FinalPrice: course.Price, Currency: course.Currency}
	res, err := h.validator.Optional(c.Request.Context(), req.ReferralCode, course.Price)
	switch {
	case err == nil:
	case errors.Is(err, pricing.ErrCodeNotFound):
		q.Message = "Invalid referral code, the list price applies"
		return q, true
	case errors.Is(err, pricing.ErrAuthorityUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, "Could not validate referral code, please try again")
		return Quote{}, false
	default:
		response.BadRequest(c, err.Error())
		return Quote{}, false
	}
	if res.Valid {
		q.FinalPrice = res.FinalPrice
		q.DiscountAmount = res.DiscountAmount
		q.DiscountPercent = res.DiscountPercent
		q.DiscountSource = res.Source
		q.ReferralCode = res.Code
		q.CodeValid = true
	}
	return q, true
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID       string            `json:"id"`
	OrderID  string            `json:"order_id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Method   string            `json:"method"`
	Email    string            `json:"email"`
	Notes    map[string]string `json:"notes"`
}

// Webhook handles POST /webhooks/razorpay. payment.captured events are recorded through the
// same path as client confirmations, keyed on the payment id. Only transient failures
// return a non-2xx status so the gateway retries them.
func (h *Handler) Webhook(c *gin.Context) {
	if h.gateway == nil || !h.gateway.WebhookEnabled() {
		response.ServiceUnavailable(c, "webhooks are not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if !h.gateway.VerifyWebhookSignature(body, c.GetHeader("X-Razorpay-Signature")) {
		h.logger.Warn("webhook signature rejected")
		response.Unauthorized(c, "invalid signature")
		return
	}
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		response.BadRequest(c, "invalid payload")
		return
	}
	if ev.Event != eventPaymentCaptured {
		response.OK(c, gin.H{"ignored": ev.Event})
		return
	}

	p := ev.Payload.Payment.Entity
	log := h.logger.With(zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))
	studentID, err1 := uuid.Parse(p.Notes[NoteStudentID])
	courseID, err2 := uuid.Parse(p.Notes[NoteCourseID])
	if err1 != nil || err2 != nil {
		log.Warn("captured payment without checkout notes")
		response.OK(c, gin.H{"ignored": "missing notes"})
		return
	}

	e, created, err := h.enroller.Enroll(c.Request.Context(),
		enrollments.Session{StudentID: studentID, Email: p.Email, Role: models.RoleStudent},
		enrollments.EnrollRequest{
			CourseID:     courseID,
			ReferralCode: p.Notes[NoteReferralCode],
			Payment: models.PaymentConfirmation{
				Provider:      models.PaymentProviderRazorpay,
				Method:        p.Method,
				TransactionID: p.ID,
				OrderID:       p.OrderID,
				Amount:        p.Amount,
				Currency:      p.Currency,
			},
		})
	switch {
	case err == nil:
		log.Info("webhook enrollment recorded", zap.String("enrollment_id", e.ID.String()), zap.Bool("created", created))
		response.OK(c, gin.H{"enrollment_id": e.ID, "created": created})
	case errors.Is(err, pricing.ErrAuthorityUnavailable):
		log.Warn("webhook deferred, referral authority unavailable", zap.Error(err))
		response.ServiceUnavailable(c, "retry later")
	case errors.Is(err, enrollments.ErrAmountMismatch),
		errors.Is(err, enrollments.ErrTransactionConflict),
		errors.Is(err, enrollments.ErrCourseNotFound),
		errors.Is(err, enrollments.ErrOrderNotFound),
		errors.Is(err, enrollments.ErrOrderMismatch),
		errors.Is(err, pricing.ErrInvalidInput):
		log.Error("captured payment needs manual review", zap.Error(err), zap.Int64("amount", p.Amount))
		response.OK(c, gin.H{"recorded": false})
	default:
		log.Error("webhook enrollment failed", zap.Error(err))
		response.Internal(c, "failed to record enrollment")
	}
}
