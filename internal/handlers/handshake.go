package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/acnewman/deskbridge/internal/auth"
	"github.com/acnewman/deskbridge/internal/middleware"
	"github.com/acnewman/deskbridge/internal/services"
	apperrors "github.com/acnewman/deskbridge/pkg/errors"
	"github.com/acnewman/deskbridge/pkg/logger"
	"github.com/acnewman/deskbridge/pkg/metrics"
	"github.com/acnewman/deskbridge/pkg/response"
)

// HandshakeHandler drives the browser half of the desktop login handshake:
// login page, one-time code issuance, and the code-for-token exchange.
type HandshakeHandler struct {
	store *iauth.HandshakeStore
	users *services.UserService
	jwt   *iauth.JWTService
	log   *zap.Logger

	// PrefillEmail is rendered into the login form when the page is requested
	// with prefill=1. Empty disables the shortcut.
	PrefillEmail string
}

func NewHandshakeHandler(store *iauth.HandshakeStore, users *services.UserService, jwt *iauth.JWTService) *HandshakeHandler {
	return &HandshakeHandler{
		store: store,
		users: users,
		jwt:   jwt,
		log:   logger.WithModule("handshake"),
	}
}

type loginPageData struct {
	State         string
	RedirectURI   string
	CodeChallenge string
	Email         string
	Error         string
}

// GET /desktop/login
func (h *HandshakeHandler) LoginPage(c *gin.Context) {
	state := strings.TrimSpace(c.Query("state"))
	redirectURI := strings.TrimSpace(c.Query("redirect_uri"))
	codeChallenge := strings.TrimSpace(c.Query("code_challenge"))

	if state == "" || redirectURI == "" || codeChallenge == "" {
		c.HTML(http.StatusBadRequest, "message.tmpl", gin.H{
			"Title": "Login unavailable",
			"Body":  "This page must be opened from the desktop application.",
		})
		return
	}

	h.store.RegisterPending(state, redirectURI, codeChallenge)

	data := loginPageData{
		State:         state,
		RedirectURI:   redirectURI,
		CodeChallenge: codeChallenge,
	}
	if c.Query("prefill") == "1" {
		data.Email = h.PrefillEmail
	}

	c.HTML(http.StatusOK, "login.tmpl", data)
}

type loginForm struct {
	State         string `form:"state" validate:"required"`
	RedirectURI   string `form:"redirect_uri" validate:"required"`
	CodeChallenge string `form:"code_challenge" validate:"required"`
	Email         string `form:"email" validate:"required,email"`
	Password      string `form:"password" validate:"required"`
}

// POST /desktop/login
func (h *HandshakeHandler) LoginSubmit(c *gin.Context) {
	var form loginForm
	if err := bindForm(c, &form); err != nil {
		c.HTML(http.StatusBadRequest, "login.tmpl", loginPageData{
			State:         form.State,
			RedirectURI:   form.RedirectURI,
			CodeChallenge: form.CodeChallenge,
			Email:         form.Email,
			Error:         apperrors.FromError(err).Message,
		})
		return
	}

	data := loginPageData{
		State:         form.State,
		RedirectURI:   form.RedirectURI,
		CodeChallenge: form.CodeChallenge,
		Email:         form.Email,
	}

	// The submitted handshake parameters must match the registered pending
	// entry exactly; a mismatch means a stale page or a tampered form.
	pending, ok := h.store.GetPending(form.State)
	if !ok || pending.RedirectURI != form.RedirectURI || pending.CodeChallenge != form.CodeChallenge {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		data.Error = "This login session has expired. Restart the login from the desktop application."
		c.HTML(http.StatusUnauthorized, "login.tmpl", data)
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		if errors.Is(err, apperrors.ErrInvalidCredentials) {
			data.Error = "Invalid email or password."
			c.HTML(http.StatusUnauthorized, "login.tmpl", data)
			return
		}
		h.log.Error("authenticate failed", zap.Error(err))
		data.Error = "Login is temporarily unavailable. Please try again."
		c.HTML(http.StatusInternalServerError, "login.tmpl", data)
		return
	}

	code, err := h.store.IssueCode(form.State, user.ID)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		data.Error = "This login session has expired. Restart the login from the desktop application."
		c.HTML(http.StatusUnauthorized, "login.tmpl", data)
		return
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	h.log.Info("code issued", zap.Uint("user_id", user.ID))

	c.Redirect(http.StatusFound, buildRedirect(form.RedirectURI, code.Code, form.State))
}

// buildRedirect appends code and state to the desktop redirect URI, keeping
// any query parameters the client already put there.
func buildRedirect(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}

	q := u.Query()
	q.Set("code", code)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}

type exchangeRequest struct {
	Code         string `json:"code" validate:"required"`
	CodeVerifier string `json:"code_verifier" validate:"required"`
}

// POST /api/auth/desktop/exchange
func (h *HandshakeHandler) Exchange(c *gin.Context) {
	var req exchangeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	userID, err := h.store.ExchangeCode(strings.TrimSpace(req.Code), strings.TrimSpace(req.CodeVerifier))
	if err != nil {
		result := "invalid_code"
		if errors.Is(err, apperrors.ErrPKCEVerificationFailed) {
			result = "pkce_failed"
		}
		metrics.CodeExchanges.WithLabelValues(result).Inc()
		h.log.Warn("code exchange rejected", zap.String("reason", result))
		// One outward shape for every failure mode; the sub-condition stays
		// in the log and metric labels.
		response.Error(c, apperrors.ErrLoginFailed)
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		metrics.CodeExchanges.WithLabelValues("unknown_user").Inc()
		h.log.Warn("code bound to missing user", zap.Uint("user_id", userID))
		response.Error(c, apperrors.ErrLoginFailed)
		return
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		h.log.Error("token generation failed", zap.Error(err))
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	metrics.CodeExchanges.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
	})
}

// GET /api/auth/me
func (h *HandshakeHandler) Me(c *gin.Context) {
	userID := c.GetUint(middleware.CtxUserIDKey)
	if userID == 0 {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"role":           user.Role,
		"email_verified": user.EmailVerified(),
	})
}
