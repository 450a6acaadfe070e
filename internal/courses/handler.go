package courses

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

// Store is the persistence the courses handler needs.
type Store interface {
	Create(ctx context.Context, c *models.Course) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
	List(ctx context.Context, publishedOnly bool) ([]models.Course, error)
	Update(ctx context.Context, id uuid.UUID, u CourseUpdate) (*models.Course, error)
	CreatePromo(ctx context.Context, p *models.PromoCode) error
	ListPromos(ctx context.Context) ([]models.PromoCode, error)
	SetPromoActive(ctx context.Context, code string, active bool) error
}

// CodeValidator resolves a referral code against a list price.
type CodeValidator interface {
	Validate(ctx context.Context, code string, listPrice int64) (pricing.Resolution, error)
}

// PromoInvalidator drops cached promo lookups.
type PromoInvalidator interface {
	Invalidate(ctx context.Context, code string)
}

// Handler handles course catalog and promo code HTTP endpoints.
type Handler struct {
	store     Store
	validator CodeValidator
	cache     PromoInvalidator
	logger    *zap.Logger
}

// NewHandler creates a courses handler. cache may be nil.
func NewHandler(store Store, validator CodeValidator, cache PromoInvalidator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, validator: validator, cache: cache, logger: logger}
}

// CreateRequest is the body for POST /courses.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Price       int64  `json:"price" binding:"required,gt=0"`
	Published   bool   `json:"published"`
}

// UpdateRequest is the body for PATCH /courses/:id.
type UpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Price       *int64  `json:"price" binding:"omitempty,gt=0"`
	Published   *bool   `json:"published"`
}

// List handles GET /courses. Admins also see unpublished courses.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context(), !isAdmin(c))
	if err != nil {
		h.logger.Error("list courses failed", zap.Error(err))
		response.Internal(c, "failed to list courses")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /courses/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	course, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil || (!course.Published && !isAdmin(c)) {
		response.NotFound(c, "course not found")
		return
	}
	response.OK(c, course)
}

// Create handles POST /courses (admin only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	course := &models.Course{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Price:       req.Price,
		Currency:    models.DefaultCurrency,
		Published:   req.Published,
	}
	if err := h.store.Create(c.Request.Context(), course); err != nil {
		h.logger.Error("create course failed", zap.Error(err))
		response.Internal(c, "failed to create course")
		return
	}
	response.Created(c, course)
}

// Update handles PATCH /courses/:id (admin only).
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	course, err := h.store.Update(c.Request.Context(), id, CourseUpdate{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Published:   req.Published,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "course not found")
			return
		}
		response.Internal(c, "failed to update course")
		return
	}
	response.OK(c, course)
}

// VerifyReferralRequest is the body for POST /courses/verify-referral.
type VerifyReferralRequest struct {
	ReferralCode string `json:"referralCode"`
}

// verifyListPrice is the list price used to read a code's percentage without a course.
const verifyListPrice = 10000

// VerifyReferral handles POST /courses/verify-referral. Responds {success, valid, discount}
// where discount is the percentage the code grants.
func (h *Handler) VerifyReferral(c *gin.Context) {
	var req VerifyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ReferralCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "valid": false, "discount": 0, "message": "referralCode is required"})
		return
	}
	res, err := h.validator.Validate(c.Request.Context(), req.ReferralCode, verifyListPrice)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "valid": true, "discount": res.DiscountPercent, "source": res.Source})
	case errors.Is(err, pricing.ErrCodeNotFound):
		c.JSON(http.StatusOK, gin.H{"success": true, "valid": false, "discount": 0, "message": "Invalid referral code"})
	default:
		h.logger.Error("referral verification failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "valid": false, "discount": 0, "message": "Could not verify referral code, please try again"})
	}
}

// CreatePromoRequest is the body for POST /promo-codes.
type CreatePromoRequest struct {
	Code            string   `json:"code" binding:"required"`
	DiscountPercent *float64 `json:"discount_percent" binding:"required,gte=0,lte=100"`
}

// CreatePromo handles POST /promo-codes (admin only).
func (h *Handler) CreatePromo(c *gin.Context) {
	var req CreatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "code and discount_percent in [0, 100] required")
		return
	}
	p := &models.PromoCode{Code: req.Code, DiscountPercent: *req.DiscountPercent}
	if err := h.store.CreatePromo(c.Request.Context(), p); err != nil {
		if errors.Is(err, database.ErrCodeTaken) {
			response.Conflict(c, "referral code already in use")
			return
		}
		h.logger.Error("create promo code failed", zap.Error(err))
		response.Internal(c, "failed to create promo code")
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(c.Request.Context(), p.Code)
	}
	response.Created(c, p)
}

// ListPromos handles GET /promo-codes (admin only).
func (h *Handler) ListPromos(c *gin.Context) {
	list, err := h.store.ListPromos(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list promo codes")
		return
	}
	response.OK(c, list)
}

// SetPromoActiveRequest is the body for PATCH /promo-codes/:code/active.
type SetPromoActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetPromoActive handles PATCH /promo-codes/:code/active (admin only).
func (h *Handler) SetPromoActive(c *gin.Context) {
	code := pricing.NormalizeCode(c.Param("code"))
	var req SetPromoActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "active required")
		return
	}
	if err := h.store.SetPromoActive(c.Request.Context(), code, *req.Active); err != nil {
		if errors.Is(err, ErrPromoNotFound) {
			response.NotFound(c, "promo code not found")
			return
		}
		response.Internal(c, "failed to update promo code")
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(c.Request.Context(), code)
	}
	response.OK(c, gin.H{"code": code, "active": *req.Active})
}

func isAdmin(c *gin.Context) bool {
	return middleware.HasRole(c, models.RoleAdmin)
}
