package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/acnewman/deskbridge/internal/models"
	"github.com/acnewman/deskbridge/internal/payment"
	"github.com/acnewman/deskbridge/internal/services"
	"github.com/acnewman/deskbridge/internal/web"
)

type stubProvider struct {
	created int
	paid    bool
	fail    bool
}

func (s *stubProvider) CreateCheckout(_ context.Context, _ payment.CheckoutInput) (*payment.Checkout, error) {
	if s.fail {
		return nil, fmt.Errorf("provider offline")
	}
	s.created++
	return &payment.Checkout{
		ID:  fmt.Sprintf("cs_test_%d", s.created),
		URL: "https://checkout.example/session",
	}, nil
}

func (s *stubProvider) GetCheckout(_ context.Context, id string) (*payment.Checkout, error) {
	if s.fail {
		return nil, fmt.Errorf("provider offline")
	}
	return &payment.Checkout{ID: id, Paid: s.paid}, nil
}

type registrationFixture struct {
	router   *gin.Engine
	db       *gorm.DB
	service  *services.RegistrationService
	provider *stubProvider
}

func newRegistrationFixture(t *testing.T, provider *stubProvider) *registrationFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := openHandlerTestDB(t)

	var p payment.Provider
	if provider != nil {
		p = provider
	}
	svc, err := services.NewRegistrationService(db, p)
	require.NoError(t, err)

	h := NewRegistrationHandler(svc, "http://app.local", provider != nil)

	r := gin.New()
	r.SetHTMLTemplate(web.Templates())
	r.GET("/desktop/register", h.DataPage)
	r.POST("/desktop/register", h.DataSubmit)
	r.GET("/desktop/register/email", h.EmailPage)
	r.POST("/desktop/register/email", h.EmailSubmit)
	r.GET("/desktop/register/2fa", h.SecondFactorPage)
	r.POST("/desktop/register/2fa", h.SecondFactorSubmit)
	r.GET("/desktop/register/payment", h.PaymentPage)
	r.POST("/desktop/register/payment", h.PaymentSubmit)
	r.GET("/desktop/register/payment/success", h.PaymentSuccess)
	r.GET("/desktop/register/review", h.ReviewPage)
	r.POST("/desktop/register/complete", h.Complete)
	r.GET("/desktop/register/cancel", h.Cancel)

	return &registrationFixture{router: r, db: db, service: svc, provider: provider}
}

func registerForm(email string) *strings.Reader {
	form := url.Values{}
	form.Set("first_name", "Ada")
	form.Set("last_name", "Lovelace")
	form.Set("email", email)
	form.Set("password", "Analytical1!")
	form.Set("address", "12 Engine Row")
	form.Set("country", "GB")
	return strings.NewReader(form.Encode())
}

func (f *registrationFixture) startRegistration(t *testing.T, email string) string {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/desktop/register", registerForm(email))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusSeeOther, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	id := loc.Query().Get("reg")
	require.NotEmpty(t, id)
	return id
}

func (f *registrationFixture) postStep(t *testing.T, path, id string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{}
	form.Set("reg", id)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	f.router.ServeHTTP(w, req)
	return w
}

func TestRegistrationStartCreatesSessionAtEmailStep(t *testing.T) {
	f := newRegistrationFixture(t, &stubProvider{})
	id := f.startRegistration(t, "ada@example.com")

	var session models.RegistrationSession
	require.NoError(t, f.db.Take(&session, "id = ?", id).Error)
	require.Equal(t, models.StepEmail, session.Step)
	require.Equal(t, models.RegistrationInProgress, session.Status)
}

func TestRegistrationDuplicateEmailPreservesForm(t *testing.T) {
	f := newRegistrationFixture(t, &stubProvider{})
	f.startRegistration(t, "ada@example.com")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/desktop/register", registerForm("ADA@example.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Email already registered")
	require.Contains(t, w.Body.String(), `value="Ada"`)
	require.Contains(t, w.Body.String(), `value="12 Engine Row"`)
}

func TestRegistrationValidationError(t *testing.T) {
	f := newRegistrationFixture(t, &stubProvider{})

	form := url.Values{}
	form.Set("first_name", "Ada")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/desktop/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "required")
}

func TestRegistrationStepAdvancesInOrder(t *testing.T) {
	f := newRegistrationFixture(t, &stubProvider{})
	id := f.startRegistration(t, "ada@example.com")

	w := f.postStep(t, "/desktop/register/email", id)
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Contains(t, w.Header().Get("Location"), "/desktop/register/2fa")

	w = f.postStep(t, "/desktop/register/2fa", id)
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Contains(t, w.Header().Get("Location"), "/desktop/register/payment")

	var session models.RegistrationSession
	require.NoError(t, f.db.Take(&session, "id = ?", id).Error)
	require.Equal(t, models.StepPayment, session.Step)

	var user models.User
	require.NoError(t, f.db.Take(&user, session.UserID).Error)
	require.True(t, user.EmailVerified())
}

func TestRegistrationUnknownSessionRendersErrorPage(t *testing.T) {
	f := newRegistrationFixture(t, &stubProvider{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/desktop/register/email?reg=not-a-session", nil)
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Invalid registration session")
}

func TestPaymentSubmitRedirectsToCheckout(t *testing.T) {
	f := newRegistrationFixture(t, &stubProvider{})
	id := f.startRegistration(t, "ada@example.com")
	f.postStep(t, "/desktop/register/email", id)
	f.postStep(t, "/desktop/register/2fa", id)

	w := f.postStep(t, "/desktop/register/payment", id)
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "https://checkout.example/session", w.Header().Get("Location"))

	var session models.RegistrationSession
	require.NoError(t, f.db.Take(&session, "id = ?", id).Error)
	require.NotEmpty(t, session.CheckoutSessionID)
}

func TestPaymentPageWithoutProvider(t *testing.T) {
	f := newRegistrationFixture(t, nil)
	id := f.startRegistration(t, "ada@example.com")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/desktop/register/payment?reg="+id, nil)
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "temporarily unavailable")

	w2 := f.postStep(t, "/desktop/register/payment", id)
	require.Equal(t, http.StatusServiceUnavailable, w2.Code)
}

func TestPaymentSuccessRequiresProviderConfirmation(t *testing.T) {
	provider := &stubProvider{paid: false}
	f := newRegistrationFixture(t, provider)
	id := f.startRegistration(t, "ada@example.com")
	f.postStep(t, "/desktop/register/email", id)
	f.postStep(t, "/desktop/register/2fa", id)
	f.postStep(t, "/desktop/register/payment", id)

	// The provider says unpaid: the callback must not advance the session.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/desktop/register/payment/success?reg="+id+"&session_id=cs_test_1", nil)
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var session models.RegistrationSession
	require.NoError(t, f.db.Take(&session, "id = ?", id).Error)
	require.Equal(t, models.StepPayment, session.Step)
	require.False(t, session.Paid())

	// Once the provider reports paid, the same callback opens review.
	provider.paid = true
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/desktop/register/payment/success?reg="+id+"&session_id=cs_test_1", nil)
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Contains(t, w.Header().Get("Location"), "/desktop/register/review")
}

func TestReviewAndComplete(t *testing.T) {
	provider := &stubProvider{paid: true}
	f := newRegistrationFixture(t, provider)
	id := f.startRegistration(t, "ada@example.com")
	f.postStep(t, "/desktop/register/email", id)
	f.postStep(t, "/desktop/register/2fa", id)
	f.postStep(t, "/desktop/register/payment", id)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/desktop/register/payment/success?reg="+id+"&session_id=cs_test_1", nil)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusSeeOther, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/desktop/register/review?reg="+id, nil)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ada@example.com")
	require.Contains(t, w.Body.String(), "Ada")

	w = f.postStep(t, "/desktop/register/complete", id)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Registration complete")

	var session models.RegistrationSession
	require.NoError(t, f.db.Take(&session, "id = ?", id).Error)
	require.Equal(t, models.RegistrationCompleted, session.Status)
}

func TestCompleteWithoutPaymentRedirectsBack(t *testing.T) {
	f := newRegistrationFixture(t, &stubProvider{})
	id := f.startRegistration(t, "ada@example.com")
	f.postStep(t, "/desktop/register/email", id)
	f.postStep(t, "/desktop/register/2fa", id)

	w := f.postStep(t, "/desktop/register/complete", id)
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Contains(t, w.Header().Get("Location"), "/desktop/register/payment")
}

func TestCancelRemovesAllRecords(t *testing.T) {
	f := newRegistrationFixture(t, &stubProvider{})
	id := f.startRegistration(t, "ada@example.com")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/desktop/register/cancel?reg="+id, nil)
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Registration canceled")

	var users, profiles, sessions int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, f.db.Model(&models.UserProfile{}).Count(&profiles).Error)
	require.NoError(t, f.db.Model(&models.RegistrationSession{}).Count(&sessions).Error)
	require.Zero(t, users)
	require.Zero(t, profiles)
	require.Zero(t, sessions)
}

func TestCancelCompletedRegistrationRefused(t *testing.T) {
	provider := &stubProvider{paid: true}
	f := newRegistrationFixture(t, provider)
	id := f.startRegistration(t, "ada@example.com")
	f.postStep(t, "/desktop/register/email", id)
	f.postStep(t, "/desktop/register/2fa", id)
	f.postStep(t, "/desktop/register/payment", id)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/desktop/register/payment/success?reg="+id+"&session_id=cs_test_1", nil)
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusSeeOther, w.Code)

	f.postStep(t, "/desktop/register/complete", id)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/desktop/register/cancel?reg="+id, nil)
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "already been completed")

	var users int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	require.Equal(t, int64(1), users)
}
