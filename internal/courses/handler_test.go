package courses

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
	"github.com/coursehub/backend/pkg/database"
)

type memoryStore struct {
	courses map[uuid.UUID]*models.Course
	promos  map[string]*models.PromoCode
}

func newMemoryStore() *memoryStore {
	return &memoryStore{courses: map[uuid.UUID]*models.Course{}, promos: map[string]*models.PromoCode{}}
}

func (m *memoryStore) Create(_ context.Context, c *models.Course) error {
	c.ID = uuid.New()
	m.courses[c.ID] = c
	return nil
}

func (m *memoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.Course, error) {
	c, ok := m.courses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *memoryStore) List(_ context.Context, publishedOnly bool) ([]models.Course, error) {
	out := []models.Course{}
	for _, c := range m.courses {
		if publishedOnly && !c.Published {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memoryStore) Update(_ context.Context, id uuid.UUID, u CourseUpdate) (*models.Course, error) {
	c, ok := m.courses[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Title != nil {
		c.Title = *u.Title
	}
	if u.Price != nil {
		c.Price = *u.Price
	}
	if u.Published != nil {
		c.Published = *u.Published
	}
	return c, nil
}

func (m *memoryStore) CreatePromo(_ context.Context, p *models.PromoCode) error {
	p.Code = pricing.NormalizeCode(p.Code)
	if _, ok := m.promos[p.Code]; ok {
		return database.ErrCodeTaken
	}
	p.Active = true
	m.promos[p.Code] = p
	return nil
}

func (m *memoryStore) ListPromos(context.Context) ([]models.PromoCode, error) {
	out := []models.PromoCode{}
	for _, p := range m.promos {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memoryStore) SetPromoActive(_ context.Context, code string, active bool) error {
	p, ok := m.promos[code]
	if !ok {
		return ErrPromoNotFound
	}
	p.Active = active
	return nil
}

func (m *memoryStore) LookupPromoCode(_ context.Context, code string) (pricing.PromoMatch, error) {
	p, ok := m.promos[code]
	if !ok || !p.Active {
		return pricing.PromoMatch{}, pricing.ErrNoMatch
	}
	return pricing.PromoMatch{Code: code, DiscountPercent: p.DiscountPercent}, nil
}

type facultyCodes map[string]uuid.UUID

func (f facultyCodes) LookupFacultyCode(_ context.Context, code string) (pricing.FacultyMatch, error) {
	id, ok := f[code]
	if !ok {
		return pricing.FacultyMatch{}, pricing.ErrNoMatch
	}
	return pricing.FacultyMatch{FacultyID: id, Code: code}, nil
}

type invalidations []string

func (i *invalidations) Invalidate(_ context.Context, code string) { *i = append(*i, code) }

func newRouter(store *memoryStore, cache PromoInvalidator, role models.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator := pricing.NewValidator(facultyCodes{"FAC123": uuid.New()}, store, nil, nil)
	h := NewHandler(store, validator, cache, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if role != "" {
			c.Set(middleware.ContextUserRole, string(role))
		}
		c.Next()
	})
	r.GET("/courses", h.List)
	r.GET("/courses/:id", h.GetByID)
	r.POST("/courses", h.Create)
	r.PATCH("/courses/:id", h.Update)
	r.POST("/courses/verify-referral", h.VerifyReferral)
	r.POST("/promo-codes", h.CreatePromo)
	r.GET("/promo-codes", h.ListPromos)
	r.PATCH("/promo-codes/:code/active", h.SetPromoActive)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestVerifyReferral(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.CreatePromo(context.Background(), &models.PromoCode{Code: "TEST_100", DiscountPercent: 100}))
	r := newRouter(store, nil, "")

	tests := []struct {
		name     string
		code     string
		status   int
		valid    bool
		discount float64
	}{
		{"faculty code", "FAC123", http.StatusOK, true, 60},
		{"promo code lowercase", "test_100", http.StatusOK, true, 100},
		{"unknown code", "NOPE", http.StatusOK, false, 0},
		{"empty code", "  ", http.StatusBadRequest, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := do(t, r, http.MethodPost, "/courses/verify-referral", gin.H{"referralCode": tt.code})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.valid, out["valid"])
			assert.EqualValues(t, tt.discount, out["discount"])
		})
	}
}

func TestCourseCatalogHidesDrafts(t *testing.T) {
	store := newMemoryStore()
	admin := newRouter(store, nil, models.RoleAdmin)

	w, out := do(t, admin, http.MethodPost, "/courses", gin.H{"title": "Go Concurrency", "price": 5000})
	require.Equal(t, http.StatusCreated, w.Code)
	id := out["data"].(map[string]any)["id"].(string)

	public := newRouter(store, nil, "")
	_, out = do(t, public, http.MethodGet, "/courses", nil)
	assert.Len(t, out["data"], 0)
	w, _ = do(t, public, http.MethodGet, "/courses/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, admin, http.MethodPatch, "/courses/"+id, gin.H{"published": true})
	require.Equal(t, http.StatusOK, w.Code)

	_, out = do(t, public, http.MethodGet, "/courses", nil)
	assert.Len(t, out["data"], 1)
	w, out = do(t, public, http.MethodGet, "/courses/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5000, out["data"].(map[string]any)["price"])
	assert.Equal(t, models.DefaultCurrency, out["data"].(map[string]any)["currency"])
}

func TestCreateCourseValidation(t *testing.T) {
	r := newRouter(newMemoryStore(), nil, models.RoleAdmin)
	w, _ := do(t, r, http.MethodPost, "/courses", gin.H{"title": "Free?", "price": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, r, http.MethodPatch, "/courses/"+uuid.NewString(), gin.H{"title": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPromoCodeAdmin(t *testing.T) {
	store := newMemoryStore()
	var inv invalidations
	r := newRouter(store, &inv, models.RoleAdmin)

	w, out := do(t, r, http.MethodPost, "/promo-codes", gin.H{"code": "spring25", "discount_percent": 25})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "SPRING25", out["data"].(map[string]any)["code"])

	w, _ = do(t, r, http.MethodPost, "/promo-codes", gin.H{"code": "SPRING25", "discount_percent": 10})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, r, http.MethodPost, "/promo-codes", gin.H{"code": "TOO_MUCH", "discount_percent": 150})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, "/promo-codes", gin.H{"code": "NO_PERCENT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = do(t, r, http.MethodPost, "/promo-codes", gin.H{"code": "TRACKING0", "discount_percent": 0})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 0, out["data"].(map[string]any)["discount_percent"])

	w, _ = do(t, r, http.MethodPatch, "/promo-codes/spring25/active", gin.H{"active": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, invalidations{"SPRING25", "TRACKING0", "SPRING25"}, inv)

	_, out = do(t, r, http.MethodPost, "/courses/verify-referral", gin.H{"referralCode": "SPRING25"})
	assert.Equal(t, false, out["valid"])

	w, _ = do(t, r, http.MethodPatch, "/promo-codes/GHOST/active", gin.H{"active": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, out = do(t, r, http.MethodGet, "/promo-codes", nil)
	assert.Len(t, out["data"], 2)
}
