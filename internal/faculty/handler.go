package faculty

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
	"github.com/coursehub/backend/pkg/database"
	"github.com/coursehub/backend/pkg/response"
)

// Store is the persistence the faculty handler needs.
type Store interface {
	Create(ctx context.Context, f *models.Faculty) error
	List(ctx context.Context) ([]models.Faculty, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Faculty, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Faculty, error)
	ListCommissions(ctx context.Context, facultyID uuid.UUID) ([]models.Commission, error)
	CommissionSummary(ctx context.Context, facultyID uuid.UUID) (*models.CommissionSummary, error)
	MarkCommissionsPaid(ctx context.Context, facultyID uuid.UUID) (int64, error)
}

// CodeValidator resolves a referral code against a list price.
type CodeValidator interface {
	Validate(ctx context.Context, code string, listPrice int64) (pricing.Resolution, error)
}

// Handler handles faculty HTTP endpoints.
type Handler struct {
	store     Store
	validator CodeValidator
	logger    *zap.Logger
}

// NewHandler creates a faculty handler. validator should be faculty-only.
func NewHandler(store Store, validator CodeValidator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, validator: validator, logger: logger}
}

// ValidateReferralRequest is the body for POST /faculty/validate-referral.
type ValidateReferralRequest struct {
	ReferralCode string `json:"referralCode"`
	CoursePrice  int64  `json:"coursePrice"`
}

// ValidateReferralResponse is the data returned for a valid faculty code.
type ValidateReferralResponse struct {
	FinalPrice      int64   `json:"finalPrice"`
	DiscountAmount  int64   `json:"discountAmount"`
	DiscountPercent float64 `json:"discountPercent"`
}

// ValidateReferral handles POST /faculty/validate-referral.
func (h *Handler) ValidateReferral(c *gin.Context) {
	var body ValidateReferralRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Fail(c, http.StatusBadRequest, "referralCode and coursePrice are required")
		return
	}
	res, err := h.validator.Validate(c.Request.Context(), body.ReferralCode, body.CoursePrice)
	switch {
	case err == nil:
		response.OK(c, ValidateReferralResponse{
			FinalPrice:      res.FinalPrice,
			DiscountAmount:  res.DiscountAmount,
			DiscountPercent: res.DiscountPercent,
		})
	case errors.Is(err, pricing.ErrInvalidInput):
		response.Fail(c, http.StatusBadRequest, "referralCode and a positive coursePrice are required")
	case errors.Is(err, pricing.ErrCodeNotFound):
		response.Fail(c, http.StatusOK, "Invalid referral code")
	default:
		h.logger.Error("faculty referral validation failed", zap.Error(err))
		response.Fail(c, http.StatusServiceUnavailable, "Could not validate referral code, please try again")
	}
}

// CreateFacultyRequest is the body for POST /faculty.
type CreateFacultyRequest struct {
	Name         string  `json:"name" binding:"required"`
	Email        string  `json:"email" binding:"required,email"`
	ReferralCode string  `json:"referral_code"`
	UserID       *string `json:"user_id"`
}

// Create handles POST /faculty. An empty referral_code is generated.
func (h *Handler) Create(c *gin.Context) {
	var body CreateFacultyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name and valid email required")
		return
	}
	f := &models.Faculty{
		Name:         strings.TrimSpace(body.Name),
		Email:        strings.ToLower(strings.TrimSpace(body.Email)),
		ReferralCode: body.ReferralCode,
	}
	if body.UserID != nil && *body.UserID != "" {
		uid, err := uuid.Parse(*body.UserID)
		if err != nil {
			response.BadRequest(c, "invalid user_id")
			return
		}
		f.UserID = &uid
	}
	if err := h.store.Create(c.Request.Context(), f); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			response.Conflict(c, "email already registered to a faculty member")
			return
		}
		if errors.Is(err, database.ErrCodeTaken) {
			response.Conflict(c, "referral code already in use")
			return
		}
		h.logger.Error("create faculty failed", zap.Error(err))
		response.Internal(c, "failed to create faculty")
		return
	}
	h.logger.Info("faculty created", zap.String("faculty_id", f.ID.String()), zap.String("referral_code", f.ReferralCode))
	response.Created(c, f)
}

// List handles GET /faculty.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list faculty failed", zap.Error(err))
		response.Internal(c, "failed to list faculty")
		return
	}
	response.OK(c, list)
}

// SetActiveRequest is the body for PATCH /faculty/:id/active.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive handles PATCH /faculty/:id/active.
func (h *Handler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid faculty id")
		return
	}
	var body SetActiveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "active required")
		return
	}
	if err := h.store.SetActive(c.Request.Context(), id, *body.Active); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "faculty not found")
			return
		}
		response.Internal(c, "failed to update faculty")
		return
	}
	response.OK(c, gin.H{"id": id, "active": *body.Active})
}

// Commissions handles GET /faculty/:id/commissions.
func (h *Handler) Commissions(c *gin.Context) {
	id, ok := h.existingFaculty(c)
	if !ok {
		return
	}
	h.writeCommissions(c, id)
}

// MyCommissions handles GET /faculty/me/commissions for the faculty member behind the token.
func (h *Handler) MyCommissions(c *gin.Context) {
	v, _ := c.Get(middleware.ContextUserID)
	userID, ok := v.(uuid.UUID)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	f, err := h.store.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "no faculty profile linked to this account")
			return
		}
		response.Internal(c, "failed to load faculty")
		return
	}
	h.writeCommissions(c, f.ID)
}

func (h *Handler) writeCommissions(c *gin.Context, id uuid.UUID) {
	ctx := c.Request.Context()
	list, err := h.store.ListCommissions(ctx, id)
	if err != nil {
		response.Internal(c, "failed to list commissions")
		return
	}
	summary, err := h.store.CommissionSummary(ctx, id)
	if err != nil {
		response.Internal(c, "failed to summarize commissions")
		return
	}
	response.OK(c, gin.H{"summary": summary, "commissions": list})
}

// Payout handles POST /faculty/:id/payout. Marks every earned commission as paid.
func (h *Handler) Payout(c *gin.Context) {
	id, ok := h.existingFaculty(c)
	if !ok {
		return
	}
	total, err := h.store.MarkCommissionsPaid(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("commission payout failed", zap.Error(err), zap.String("faculty_id", id.String()))
		response.Internal(c, "failed to settle commissions")
		return
	}
	response.OK(c, gin.H{"faculty_id": id, "paid": total})
}

func (h *Handler) existingFaculty(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid faculty id")
		return uuid.Nil, false
	}
	if _, err := h.store.GetByID(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "faculty not found")
			return uuid.Nil, false
		}
		response.Internal(c, "failed to load faculty")
		return uuid.Nil, false
	}
	return id, true
}
