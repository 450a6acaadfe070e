package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/backend/internal/models"
)

type courseMap map[uuid.UUID]*models.Course

func (m courseMap) GetByID(_ context.Context, id uuid.UUID) (*models.Course, error) {
	c, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

type salesMap map[uuid.UUID]*models.CourseSales

func (m salesMap) SalesByCourse(_ context.Context, id uuid.UUID) (*models.CourseSales, error) {
	if s, ok := m[id]; ok {
		return s, nil
	}
	return &models.CourseSales{CourseID: id}, nil
}

func get(t *testing.T, h *Handler, id string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/courses/:id/analytics", h.GetByCourse)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/courses/"+id+"/analytics", nil))
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestGetByCourse(t *testing.T) {
	course := &models.Course{ID: uuid.New(), Title: "Rust for Go Developers", Price: 12000, Currency: models.DefaultCurrency}
	sales := salesMap{course.ID: {
		CourseID:         course.ID,
		TotalEnrollments: 4,
		Revenue:          28800,
		DiscountGiven:    19200,
		FacultyReferrals: 1,
		PromoReferrals:   1,
	}}
	h := NewHandler(courseMap{course.ID: course}, sales, nil)

	w, out := get(t, h, course.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	data := out["data"].(map[string]any)
	assert.EqualValues(t, 4, data["total_enrollments"])
	assert.EqualValues(t, 28800, data["revenue"])
	assert.EqualValues(t, 19200, data["discount_given"])
	assert.EqualValues(t, 0.5, data["referral_rate"])
	assert.EqualValues(t, 7200, data["avg_paid"])
}

func TestGetByCourseEmptyAndMissing(t *testing.T) {
	course := &models.Course{ID: uuid.New(), Title: "New Course", Price: 5000}
	h := NewHandler(courseMap{course.ID: course}, salesMap{}, nil)

	w, out := get(t, h, course.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	data := out["data"].(map[string]any)
	assert.EqualValues(t, 0, data["total_enrollments"])
	assert.NotContains(t, data, "referral_rate")

	w, _ = get(t, h, uuid.NewString())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = get(t, h, "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
