package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/backend/internal/courses"
	"github.com/coursehub/backend/internal/enrollments"
	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/pricing"
)

type courseMap map[uuid.UUID]*models.Course

func (m courseMap) GetByID(_ context.Context, id uuid.UUID) (*models.Course, error) {
	c, ok := m[id]
	if !ok {
		return nil, courses.ErrNotFound
	}
	return c, nil
}

type promoCodes map[string]float64

func (p promoCodes) LookupPromoCode(_ context.Context, code string) (pricing.PromoMatch, error) {
	pct, ok := p[code]
	if !ok {
		return pricing.PromoMatch{}, pricing.ErrNoMatch
	}
	return pricing.PromoMatch{Code: code, DiscountPercent: pct}, nil
}

type facultyCodes map[string]uuid.UUID

func (f facultyCodes) LookupFacultyCode(_ context.Context, code string) (pricing.FacultyMatch, error) {
	id, ok := f[code]
	if !ok {
		return pricing.FacultyMatch{}, pricing.ErrNoMatch
	}
	return pricing.FacultyMatch{FacultyID: id, Code: code}, nil
}

type checkoutStore struct {
	enrolled map[uuid.UUID]bool
	orders   []models.CheckoutOrder
	saveErr  error
}

func (s *checkoutStore) IsEnrolled(_ context.Context, studentID, _ uuid.UUID) (bool, error) {
	return s.enrolled[studentID], nil
}

func (s *checkoutStore) SaveOrder(_ context.Context, o *models.CheckoutOrder) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.orders = append(s.orders, *o)
	return nil
}

type fakeGateway struct {
	enabled bool
	orders  []OrderRequest
	secret  string
}

func (g *fakeGateway) Enabled() bool        { return g.enabled }
func (g *fakeGateway) KeyID() string        { return "rzp_test_key" }
func (g *fakeGateway) WebhookEnabled() bool { return g.secret != "" }
func (g *fakeGateway) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	g.orders = append(g.orders, req)
	return &Order{ID: "order_1", Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}
func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return verifyHMAC(g.secret, body, signature)
}

type fakeEnroller struct {
	calls []enrollments.EnrollRequest
	sess  []enrollments.Session
	err   error
}

func (f *fakeEnroller) Enroll(_ context.Context, sess enrollments.Session, req enrollments.EnrollRequest) (*models.Enrollment, bool, error) {
	f.calls = append(f.calls, req)
	f.sess = append(f.sess, sess)
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.Enrollment{ID: uuid.New(), StudentID: sess.StudentID, CourseID: req.CourseID}, true, nil
}

type fixture struct {
	router    *gin.Engine
	course    *models.Course
	student   uuid.UUID
	gateway   *fakeGateway
	enroller  *fakeEnroller
	checkouts *checkoutStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		course:    &models.Course{ID: uuid.New(), Title: "Data Engineering", Price: 12000, Currency: models.DefaultCurrency, Published: true},
		student:   uuid.New(),
		gateway:   &fakeGateway{enabled: true, secret: "whsec"},
		enroller:  &fakeEnroller{},
		checkouts: &checkoutStore{enrolled: map[uuid.UUID]bool{}},
	}
	validator := pricing.NewValidator(facultyCodes{"FAC123": uuid.New()}, promoCodes{"TEST_100": 100, "SPRING25": 25}, nil, nil)
	h := NewHandler(courseMap{f.course.ID: f.course}, validator, f.checkouts, f.gateway, f.enroller, nil)

	r := gin.New()
	auth := func(c *gin.Context) {
		c.Set(middleware.ContextUserID, f.student)
		c.Set(middleware.ContextUserRole, string(models.RoleStudent))
		c.Next()
	}
	r.POST("/courses/:id/quote", h.Quote)
	r.POST("/courses/:id/checkout", auth, h.Checkout)
	r.POST("/webhooks/razorpay", h.Webhook)
	f.router = r
	return f
}

func (f *fixture) post(t *testing.T, path string, body []byte, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	path := "/courses/" + f.course.ID.String() + "/quote"

	tests := []struct {
		name   string
		code   string
		final  float64
		source string
		valid  bool
	}{
		{"no code", "", 12000, "", false},
		{"faculty code", "fac123", 4800, "faculty", true},
		{"promo code", "SPRING25", 9000, "promotional", true},
		{"free promo", "TEST_100", 0, "promotional", true},
		{"unknown code", "BOGUS", 12000, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := f.post(t, path, mustJSON(t, gin.H{"referralCode": tt.code}), nil)
			require.Equal(t, http.StatusOK, w.Code)
			data := out["data"].(map[string]any)
			assert.EqualValues(t, tt.final, data["finalPrice"])
			assert.EqualValues(t, 12000, data["listPrice"])
			assert.Equal(t, tt.valid, data["codeValid"])
			if tt.source != "" {
				assert.Equal(t, tt.source, data["discountSource"])
			}
		})
	}
}

func TestQuoteUnknownCourse(t *testing.T) {
	f := newFixture(t)
	w, _ := f.post(t, "/courses/"+uuid.NewString()+"/quote", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutCreatesOrderWithNotes(t *testing.T) {
	f := newFixture(t)
	w, out := f.post(t, "/courses/"+f.course.ID.String()+"/checkout", mustJSON(t, gin.H{"referralCode": "FAC123"}), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "order_1", data["orderId"])
	assert.EqualValues(t, 4800, data["amount"])
	assert.Equal(t, "rzp_test_key", data["keyId"])

	require.Len(t, f.gateway.orders, 1)
	notes := f.gateway.orders[0].Notes
	assert.Equal(t, f.student.String(), notes[NoteStudentID])
	assert.Equal(t, f.course.ID.String(), notes[NoteCourseID])
	assert.Equal(t, "FAC123", notes[NoteReferralCode])

	require.Len(t, f.checkouts.orders, 1)
	saved := f.checkouts.orders[0]
	assert.Equal(t, "order_1", saved.OrderID)
	assert.Equal(t, f.student, saved.StudentID)
	assert.Equal(t, f.course.ID, saved.CourseID)
	assert.Equal(t, "FAC123", saved.ReferralCode)
	assert.EqualValues(t, 4800, saved.Amount)
}

func TestCheckoutFailsWhenOrderCannotBeSaved(t *testing.T) {
	f := newFixture(t)
	f.checkouts.saveErr = errors.New("connection reset")
	w, out := f.post(t, "/courses/"+f.course.ID.String()+"/checkout", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Nil(t, out["data"])
}

func TestCheckoutRefusesRepeatPurchase(t *testing.T) {
	f := newFixture(t)
	f.checkouts.enrolled[f.student] = true
	w, _ := f.post(t, "/courses/"+f.course.ID.String()+"/checkout", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, f.gateway.orders)
}

func TestCheckoutWithoutGatewayReturnsQuote(t *testing.T) {
	f := newFixture(t)
	f.gateway.enabled = false
	w, out := f.post(t, "/courses/"+f.course.ID.String()+"/checkout", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "", data["orderId"])
	assert.EqualValues(t, 12000, data["amount"])
}

func capturedEvent(studentID, courseID, code string, amount int64) map[string]any {
	return map[string]any{
		"event": "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       "pay_29QQoUBi66xm2f",
					"order_id": "order_1",
					"amount":   amount,
					"currency": "INR",
					"method":   "upi",
					"notes": map[string]string{
						NoteStudentID:    studentID,
						NoteCourseID:     courseID,
						NoteReferralCode: code,
					},
				},
			},
		},
	}
}

func TestWebhookRecordsCapturedPayment(t *testing.T) {
	f := newFixture(t)
	body := mustJSON(t, capturedEvent(f.student.String(), f.course.ID.String(), "FAC123", 4800))

	w, _ := f.post(t, "/webhooks/razorpay", body, map[string]string{"X-Razorpay-Signature": Sign("whsec", body)})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.enroller.calls, 1)
	call := f.enroller.calls[0]
	assert.Equal(t, f.course.ID, call.CourseID)
	assert.Equal(t, "FAC123", call.ReferralCode)
	assert.Equal(t, "pay_29QQoUBi66xm2f", call.Payment.TransactionID)
	assert.EqualValues(t, 4800, call.Payment.Amount)
	assert.Equal(t, f.student, f.enroller.sess[0].StudentID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	body := mustJSON(t, capturedEvent(f.student.String(), f.course.ID.String(), "", 12000))
	w, _ := f.post(t, "/webhooks/razorpay", body, map[string]string{"X-Razorpay-Signature": Sign("wrong", body)})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.enroller.calls)
}

func TestWebhookStatusByOutcome(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"authority down is retried", pricing.ErrAuthorityUnavailable, http.StatusServiceUnavailable},
		{"mismatch is acknowledged", enrollments.ErrAmountMismatch, http.StatusOK},
		{"conflict is acknowledged", enrollments.ErrTransactionConflict, http.StatusOK},
		{"foreign order is acknowledged", enrollments.ErrOrderMismatch, http.StatusOK},
		{"missing course is acknowledged", enrollments.ErrCourseNotFound, http.StatusOK},
		{"course lookup failure is retried", fmt.Errorf("load course: %w", errors.New("connection refused")), http.StatusInternalServerError},
		{"store failure is retried", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.enroller.err = tt.err
			body := mustJSON(t, capturedEvent(f.student.String(), f.course.ID.String(), "", 12000))
			w, _ := f.post(t, "/webhooks/razorpay", body, map[string]string{"X-Razorpay-Signature": Sign("whsec", body)})
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":"order.paid"}`)
	w, _ := f.post(t, "/webhooks/razorpay", body, map[string]string{"X-Razorpay-Signature": Sign("whsec", body)})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.enroller.calls)
}

func TestCheckoutFullDiscountEnrollsWithoutGateway(t *testing.T) {
	f := newFixture(t)
	w, out := f.post(t, "/courses/"+f.course.ID.String()+"/checkout", mustJSON(t, gin.H{"referralCode": "TEST_100"}), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, out["data"], "enrollment")
	assert.Empty(t, f.gateway.orders)

	require.Len(t, f.enroller.calls, 1)
	call := f.enroller.calls[0]
	assert.Equal(t, FreeTransactionID(f.student, f.course.ID), call.Payment.TransactionID)
	assert.Equal(t, models.PaymentProviderManual, call.Payment.Provider)
	assert.Zero(t, call.Payment.Amount)
	assert.Equal(t, "TEST_100", call.ReferralCode)
}
