package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/acnewman/deskbridge/internal/models"
	"github.com/acnewman/deskbridge/internal/services"
	apperrors "github.com/acnewman/deskbridge/pkg/errors"
	"github.com/acnewman/deskbridge/pkg/logger"
)

// RegistrationHandler renders the five-step registration pages and forwards
// submissions to the workflow service. Every page is keyed by the reg query
// parameter carrying the registration session id.
type RegistrationHandler struct {
	registrations *services.RegistrationService
	baseURL       string
	paymentsReady bool
	log           *zap.Logger
}

func NewRegistrationHandler(registrations *services.RegistrationService, baseURL string, paymentsReady bool) *RegistrationHandler {
	return &RegistrationHandler{
		registrations: registrations,
		baseURL:       strings.TrimRight(baseURL, "/"),
		paymentsReady: paymentsReady,
		log:           logger.WithModule("registration"),
	}
}

type registrationForm struct {
	FirstName string `form:"first_name" validate:"required,max=128"`
	LastName  string `form:"last_name" validate:"required,max=128"`
	Email     string `form:"email" validate:"required,email"`
	Password  string `form:"password" validate:"required,min=8"`
	Address   string `form:"address" validate:"required,max=255"`
	Country   string `form:"country" validate:"required,max=128"`
}

// GET /desktop/register
func (h *RegistrationHandler) DataPage(c *gin.Context) {
	h.renderDataPage(c, http.StatusOK, registrationForm{}, "")
}

// POST /desktop/register
func (h *RegistrationHandler) DataSubmit(c *gin.Context) {
	var form registrationForm
	if err := bindForm(c, &form); err != nil {
		h.renderDataPage(c, http.StatusBadRequest, form, apperrors.FromError(err).Message)
		return
	}

	session, err := h.registrations.Start(c.Request.Context(), services.StartRegistrationInput{
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Address:   form.Address,
		Country:   form.Country,
		Email:     form.Email,
		Password:  form.Password,
	})
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, apperrors.ErrEmailAlreadyRegistered) {
			status = apperrors.FromError(err).StatusCode
			h.log.Error("registration start failed", zap.Error(err))
		}
		h.renderDataPage(c, status, form, apperrors.FromError(err).Message)
		return
	}

	c.Redirect(http.StatusSeeOther, stepPath("/desktop/register/email", session.ID))
}

func (h *RegistrationHandler) renderDataPage(c *gin.Context, status int, form registrationForm, errMsg string) {
	// Submitted values survive the round trip so a duplicate email does not
	// cost the user the rest of the form.
	c.HTML(status, "register_data.tmpl", gin.H{
		"FirstName": form.FirstName,
		"LastName":  form.LastName,
		"Email":     form.Email,
		"Address":   form.Address,
		"Country":   form.Country,
		"Error":     errMsg,
	})
}

// GET /desktop/register/email
func (h *RegistrationHandler) EmailPage(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	c.HTML(http.StatusOK, "register_step.tmpl", gin.H{
		"Title":          "Verify Email",
		"Step":           models.StepEmail,
		"Body":           "Email verification is not enabled in this environment. Continue to the next step.",
		"Action":         stepPath("/desktop/register/email", session.ID),
		"ButtonLabel":    "Continue",
		"RegistrationID": session.ID,
	})
}

// POST /desktop/register/email
func (h *RegistrationHandler) EmailSubmit(c *gin.Context) {
	id := registrationID(c)
	if _, err := h.registrations.AdvanceEmail(c.Request.Context(), id); err != nil {
		h.renderWorkflowError(c, id, err)
		return
	}
	c.Redirect(http.StatusSeeOther, stepPath("/desktop/register/2fa", id))
}

// GET /desktop/register/2fa
func (h *RegistrationHandler) SecondFactorPage(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	c.HTML(http.StatusOK, "register_step.tmpl", gin.H{
		"Title":          "Two-Factor Setup",
		"Step":           models.StepSecondFactor,
		"Body":           "Two-factor authentication is not enabled in this environment. Continue to the next step.",
		"Action":         stepPath("/desktop/register/2fa", session.ID),
		"ButtonLabel":    "Continue",
		"RegistrationID": session.ID,
	})
}

// POST /desktop/register/2fa
func (h *RegistrationHandler) SecondFactorSubmit(c *gin.Context) {
	id := registrationID(c)
	if _, err := h.registrations.AdvanceSecondFactor(c.Request.Context(), id); err != nil {
		h.renderWorkflowError(c, id, err)
		return
	}
	c.Redirect(http.StatusSeeOther, stepPath("/desktop/register/payment", id))
}

// GET /desktop/register/payment
func (h *RegistrationHandler) PaymentPage(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	h.renderPaymentPage(c, http.StatusOK, session, "")
}

func (h *RegistrationHandler) renderPaymentPage(c *gin.Context, status int, session *models.RegistrationSession, errMsg string) {
	c.HTML(status, "register_payment.tmpl", gin.H{
		"Paid":           session.Paid(),
		"Available":      h.paymentsReady,
		"RegistrationID": session.ID,
		"Error":          errMsg,
	})
}

// POST /desktop/register/payment
func (h *RegistrationHandler) PaymentSubmit(c *gin.Context) {
	id := registrationID(c)

	// Stripe substitutes the template before redirecting back; the checkout
	// session id is how the success callback finds what to verify.
	origin := h.origin(c)
	successURL := origin + "/desktop/register/payment/success?reg=" + url.QueryEscape(id) + "&session_id={CHECKOUT_SESSION_ID}"
	cancelURL := origin + stepPath("/desktop/register/payment", id)

	checkoutURL, err := h.registrations.StartPayment(c.Request.Context(), id, successURL, cancelURL)
	if err != nil {
		session, getErr := h.registrations.Get(c.Request.Context(), id)
		if getErr != nil {
			h.renderWorkflowError(c, id, getErr)
			return
		}
		h.renderPaymentPage(c, apperrors.FromError(err).StatusCode, session, apperrors.FromError(err).Message)
		return
	}

	c.Redirect(http.StatusSeeOther, checkoutURL)
}

// GET /desktop/register/payment/success
func (h *RegistrationHandler) PaymentSuccess(c *gin.Context) {
	id := registrationID(c)
	checkoutID := strings.TrimSpace(c.Query("session_id"))

	_, err := h.registrations.ConfirmPayment(c.Request.Context(), id, checkoutID)
	if err != nil {
		session, getErr := h.registrations.Get(c.Request.Context(), id)
		if getErr != nil {
			h.renderWorkflowError(c, id, getErr)
			return
		}
		h.renderPaymentPage(c, apperrors.FromError(err).StatusCode, session, apperrors.FromError(err).Message)
		return
	}

	c.Redirect(http.StatusSeeOther, stepPath("/desktop/register/review", id))
}

// GET /desktop/register/review
func (h *RegistrationHandler) ReviewPage(c *gin.Context) {
	id := registrationID(c)

	details, err := h.registrations.Details(c.Request.Context(), id)
	if err != nil {
		h.renderWorkflowError(c, id, err)
		return
	}

	c.HTML(http.StatusOK, "register_review.tmpl", gin.H{
		"FirstName":      details.Profile.FirstName,
		"LastName":       details.Profile.LastName,
		"Email":          details.User.Email,
		"Address":        details.Profile.Address,
		"Country":        details.Profile.Country,
		"Paid":           details.Session.Paid(),
		"RegistrationID": details.Session.ID,
	})
}

// POST /desktop/register/complete
func (h *RegistrationHandler) Complete(c *gin.Context) {
	id := registrationID(c)

	session, err := h.registrations.Complete(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrPaymentNotCompleted) {
			c.Redirect(http.StatusSeeOther, stepPath("/desktop/register/payment", id))
			return
		}
		h.renderWorkflowError(c, id, err)
		return
	}

	h.log.Info("registration finished", zap.String("session_id", session.ID))
	c.HTML(http.StatusOK, "message.tmpl", gin.H{
		"Title": "Registration complete",
		"Body":  "Your account is ready. Return to the desktop application and log in.",
	})
}

// GET /desktop/register/cancel
func (h *RegistrationHandler) Cancel(c *gin.Context) {
	id := registrationID(c)

	err := h.registrations.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		c.HTML(http.StatusOK, "message.tmpl", gin.H{
			"Title": "Registration canceled",
			"Body":  "Your registration and all associated data have been removed.",
		})
	case errors.Is(err, apperrors.ErrAlreadyCompleted):
		c.HTML(http.StatusConflict, "message.tmpl", gin.H{
			"Title": "Registration already completed",
			"Body":  "This registration has already been completed and can no longer be canceled.",
		})
	default:
		h.renderWorkflowError(c, id, err)
	}
}

// session loads the registration session named by the request, rendering the
// invalid-session page itself when it cannot.
func (h *RegistrationHandler) session(c *gin.Context) (*models.RegistrationSession, bool) {
	id := registrationID(c)

	session, err := h.registrations.Get(c.Request.Context(), id)
	if err != nil {
		h.renderWorkflowError(c, id, err)
		return nil, false
	}
	return session, true
}

func (h *RegistrationHandler) renderWorkflowError(c *gin.Context, id string, err error) {
	appErr := apperrors.FromError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		h.log.Error("registration request failed", zap.String("session_id", id), zap.Error(err))
	}

	c.HTML(appErr.StatusCode, "message.tmpl", gin.H{
		"Title":    "Registration unavailable",
		"Body":     appErr.Message,
		"LinkHref": "/desktop/register",
		"LinkText": "Start over",
	})
}

// origin resolves the externally visible origin for payment callbacks,
// preferring the configured base URL over the inbound request.
func (h *RegistrationHandler) origin(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

// registrationID pulls the session id from the query string or, for form
// posts, the form body.
func registrationID(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("reg")); id != "" {
		return id
	}
	return strings.TrimSpace(c.PostForm("reg"))
}

func stepPath(path, id string) string {
	return path + "?reg=" + url.QueryEscape(id)
}
