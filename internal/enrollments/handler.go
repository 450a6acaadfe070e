package enrollments

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
	"github.com/coursehub/backend/pkg/response"
)

// PaymentDetails is the gateway confirmation submitted by the client after checkout.
// Amount is optional; when sent it must equal the checkout order's amount.
type PaymentDetails struct {
	Amount        int64  `json:"amount" binding:"gte=0"`
	Method        string `json:"method"`
	TransactionID string `json:"transactionId" binding:"required"`
	OrderID       string `json:"orderId" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
}

// EnrollBody is the body for POST /students/:id/enroll.
type EnrollBody struct {
	CourseID       string         `json:"courseId" binding:"required,uuid"`
	PaymentDetails PaymentDetails `json:"paymentDetails"`
	ReferralCode   string         `json:"referralCode"`
}

// Reader reads recorded enrollments.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Enrollment, error)
	GetReceipt(ctx context.Context, enrollmentID uuid.UUID) (*models.EnrollmentReceipt, error)
}

// PaymentVerifier checks gateway payment signatures.
type PaymentVerifier interface {
	Enabled() bool
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
}

// ReceiptSigner issues download links for archived receipts.
type ReceiptSigner interface {
	PresignReceipt(ctx context.Context, key string) (string, error)
}

// Handler handles enrollment HTTP endpoints.
type Handler struct {
	service  *Service
	reader   Reader
	verifier PaymentVerifier
	receipts ReceiptSigner
	logger   *zap.Logger
}

// NewHandler creates an enrollments handler. verifier and receipts may be nil.
func NewHandler(service *Service, reader Reader, verifier PaymentVerifier, receipts ReceiptSigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, reader: reader, verifier: verifier, receipts: receipts, logger: logger}
}

// SessionFromContext builds the caller's session from JWT claims set by middleware.JWT.
func SessionFromContext(c *gin.Context) (Session, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return Session{}, false
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return Session{}, false
	}
	email, _ := c.Get(middleware.ContextUserEmail)
	emailStr, _ := email.(string)
	return Session{StudentID: id, Email: emailStr, Role: middleware.Role(c)}, true
}

// studentSession resolves :id and checks the caller may act for that student.
func studentSession(c *gin.Context) (Session, bool) {
	studentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid student id")
		return Session{}, false
	}
	sess, ok := SessionFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return Session{}, false
	}
	if sess.StudentID != studentID {
		if sess.Role != models.RoleAdmin {
			response.Forbidden(c, "cannot act for another student")
			return Session{}, false
		}
		sess = Session{StudentID: studentID, Role: models.RoleStudent}
	}
	if !sess.Role.CanBuy() {
		response.Forbidden(c, "this account cannot purchase courses")
		return Session{}, false
	}
	return sess, true
}

// Enroll handles POST /students/:id/enroll with a signed gateway confirmation. The payment must
// belong to a checkout order of this student and course; the price is recomputed from the
// referral code and compared with the order's amount.
func (h *Handler) Enroll(c *gin.Context) {
	sess, ok := studentSession(c)
	if !ok {
		return
	}
	if h.verifier == nil || !h.verifier.Enabled() {
		response.ServiceUnavailable(c, "online payments are not configured")
		return
	}
	var body EnrollBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	courseID, _ := uuid.Parse(body.CourseID)

	pd := body.PaymentDetails
	if !h.verifier.VerifyPaymentSignature(pd.OrderID, pd.TransactionID, pd.Signature) {
		h.logger.Warn("payment signature rejected", zap.String("transaction_id", pd.TransactionID), zap.String("order_id", pd.OrderID))
		response.BadRequest(c, "invalid payment signature")
		return
	}

	e, created, err := h.service.Enroll(c.Request.Context(), sess, EnrollRequest{
		CourseID:     courseID,
		ReferralCode: body.ReferralCode,
		Payment: models.PaymentConfirmation{
			Provider:      models.PaymentProviderRazorpay,
			Method:        pd.Method,
			TransactionID: pd.TransactionID,
			OrderID:       pd.OrderID,
			Signature:     pd.Signature,
			Amount:        pd.Amount,
		},
	})
	if err != nil {
		h.writeError(c, err, pd.TransactionID)
		return
	}
	if created {
		response.Created(c, e)
		return
	}
	response.OK(c, e)
}

// ListByStudent handles GET /students/:id/enrollments.
func (h *Handler) ListByStudent(c *gin.Context) {
	sess, ok := studentSession(c)
	if !ok {
		return
	}
	list, err := h.reader.ListByStudent(c.Request.Context(), sess.StudentID)
	if err != nil {
		h.logger.Error("list enrollments failed", zap.Error(err), zap.String("student_id", sess.StudentID.String()))
		response.Internal(c, "failed to list enrollments")
		return
	}
	response.OK(c, list)
}

// ReceiptURL handles GET /enrollments/:id/receipt-url.
func (h *Handler) ReceiptURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid enrollment id")
		return
	}
	sess, ok := SessionFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	e, err := h.reader.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "enrollment not found")
		return
	}
	if e.StudentID != sess.StudentID && sess.Role != models.RoleAdmin {
		response.Forbidden(c, "not your enrollment")
		return
	}
	if h.receipts == nil {
		response.ServiceUnavailable(c, "receipts are not configured")
		return
	}
	rc, err := h.reader.GetReceipt(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "receipt not ready yet")
			return
		}
		response.Internal(c, "failed to load receipt")
		return
	}
	url, err := h.receipts.PresignReceipt(c.Request.Context(), rc.ObjectKey)
	if err != nil {
		h.logger.Error("presign receipt failed", zap.Error(err), zap.String("enrollment_id", id.String()))
		response.Internal(c, "failed to generate receipt url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

func (h *Handler) writeError(c *gin.Context, err error, txnID string) {
	switch {
	case errors.Is(err, ErrCourseNotFound):
		response.NotFound(c, "course not found")
	case errors.Is(err, ErrAmountMismatch):
		response.Fail(c, http.StatusUnprocessableEntity,
			"payment amount does not match the course price; your payment was received, please contact support with transaction "+txnID)
	case errors.Is(err, ErrTransactionConflict):
		response.Conflict(c, "transaction already used for another enrollment")
	case errors.Is(err, ErrOrderMismatch):
		response.Conflict(c, "payment was made for a different checkout")
	case errors.Is(err, ErrOrderNotFound):
		response.BadRequest(c, "unknown checkout order")
	case errors.Is(err, pricing.ErrAuthorityUnavailable):
		response.ServiceUnavailable(c, "referral service unavailable, retry with the same transaction id")
	case errors.Is(err, pricing.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error("record enrollment failed", zap.Error(err), zap.String("transaction_id", txnID))
		response.Fail(c, http.StatusInternalServerError,
			"we could not record your enrollment; your payment was received, please contact support with transaction "+txnID)
	}
}
