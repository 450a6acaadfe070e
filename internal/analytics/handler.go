package analytics

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/pkg/response"
)

// CourseGetter loads catalog entries.
type CourseGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

// SalesReader aggregates recorded enrollments.
type SalesReader interface {
	SalesByCourse(ctx context.Context, courseID uuid.UUID) (*models.CourseSales, error)
}

// Handler handles GET /admin/courses/:id/analytics.
type Handler struct {
	courses CourseGetter
	sales   SalesReader
	logger  *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(courses CourseGetter, sales SalesReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{courses: courses, sales: sales, logger: logger}
}

// SummaryResponse is the JSON shape for course analytics.
type SummaryResponse struct {
	CourseID         uuid.UUID `json:"course_id"`
	Title            string    `json:"title"`
	ListPrice        int64     `json:"list_price"`
	Currency         string    `json:"currency"`
	TotalEnrollments int       `json:"total_enrollments"`
	Revenue          int64     `json:"revenue"`
	DiscountGiven    int64     `json:"discount_given"`
	FacultyReferrals int       `json:"faculty_referrals"`
	PromoReferrals   int       `json:"promo_referrals"`
	// ReferralRate is the share of enrollments that used any referral code.
	ReferralRate *float64 `json:"referral_rate,omitempty"`
	// AvgPaid is revenue per enrollment in the smallest currency unit.
	AvgPaid *int64 `json:"avg_paid,omitempty"`
}

// GetByCourse handles GET /admin/courses/:id/analytics. Admin only (enforced by route middleware).
func (h *Handler) GetByCourse(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	ctx := c.Request.Context()

	course, err := h.courses.GetByID(ctx, id)
	if err != nil {
		response.NotFound(c, "course not found")
		return
	}
	s, err := h.sales.SalesByCourse(ctx, id)
	if err != nil {
		h.logger.Error("course sales aggregate failed", zap.Error(err), zap.String("course_id", id.String()))
		response.Internal(c, "failed to load course analytics")
		return
	}

	out := SummaryResponse{
		CourseID:         course.ID,
		Title:            course.Title,
		ListPrice:        course.Price,
		Currency:         course.Currency,
		TotalEnrollments: s.TotalEnrollments,
		Revenue:          s.Revenue,
		DiscountGiven:    s.DiscountGiven,
		FacultyReferrals: s.FacultyReferrals,
		PromoReferrals:   s.PromoReferrals,
	}
	if s.TotalEnrollments > 0 {
		rate := float64(s.FacultyReferrals+s.PromoReferrals) / float64(s.TotalEnrollments)
		avg := s.Revenue / int64(s.TotalEnrollments)
		out.ReferralRate = &rate
		out.AvgPaid = &avg
	}
	response.OK(c, out)
}
