package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/service"
	appErrors "github.com/aularis/lms-api/pkg/errors"
	"github.com/aularis/lms-api/pkg/response"
)

// refreshCookieName is the HttpOnly cookie carrying the refresh token.
// The token never appears in a JSON body.
const refreshCookieName = "refreshToken"

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service       *service.AuthService
	refreshTTL    time.Duration
	secureCookies bool
}

// NewAuthHandler creates a new handler. secureCookies should be true in
// production so the refresh cookie is HTTPS-only.
func NewAuthHandler(svc *service.AuthService, refreshTTL time.Duration, secureCookies bool) *AuthHandler {
	return &AuthHandler{service: svc, refreshTTL: refreshTTL, secureCookies: secureCookies}
}

// Register godoc
// @Summary Register a new student account
// @Description Create a user with the STUDENT role and its student profile
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	user, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "registration successful", user)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by email and password. With remember_me a refresh
// @Description token is issued in an HttpOnly cookie.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	if res.RefreshToken != "" {
		h.setRefreshCookie(c, res.RefreshToken)
	}

	response.OK(c, "login successful", res)
}

// Refresh godoc
// @Summary Refresh access token
// @Description Rotate the refresh token from the HttpOnly cookie (or JSON
// @Description body fallback) and issue a new access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	token := h.refreshTokenFrom(c)
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token required"))
		return
	}

	req := models.RefreshRequest{
		RefreshToken: token,
		IP:           c.ClientIP(),
		UserAgent:    c.GetHeader("User-Agent"),
	}

	res, err := h.service.Refresh(c.Request.Context(), req)
	if err != nil {
		h.clearRefreshCookie(c)
		response.Error(c, err)
		return
	}

	h.setRefreshCookie(c, res.RefreshToken)
	response.OK(c, "token refreshed", res)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the refresh token and clear its cookie. Succeeds even
// @Description when the token is already gone.
// @Tags Authentication
// @Produce json
// @Success 204 "No Content"
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if token := h.refreshTokenFrom(c); token != "" {
		if err := h.service.Logout(c.Request.Context(), token, claims.UserID, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
			response.Error(c, err)
			return
		}
	}

	h.clearRefreshCookie(c)
	response.NoContent(c)
}

// ChangePassword godoc
// @Summary Change password
// @Description Change the password of the authenticated user
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ChangePasswordRequest true "Password change payload"
// @Success 204 "No Content"
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid password payload"))
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), claims.UserID, req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ForgotPassword godoc
// @Summary Request a password reset
// @Description Send a reset link if the email is registered. The response is
// @Description identical either way.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ForgotPasswordRequest true "Email payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid email payload"))
		return
	}

	if err := h.service.ForgotPassword(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, "if the email is registered, a reset link has been sent", nil, nil)
}

// ResetPassword godoc
// @Summary Reset password with an emailed token
// @Description Set a new password using the reset token. All refresh tokens
// @Description of the user are revoked on success.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ResetPasswordRequest true "Reset payload"
// @Success 204 "No Content"
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reset payload"))
		return
	}

	if err := h.service.ResetPassword(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// refreshTokenFrom reads the refresh token from the cookie, falling back
// to a JSON body for clients that cannot send cookies.
func (h *AuthHandler) refreshTokenFrom(c *gin.Context) string {
	if token, err := c.Cookie(refreshCookieName); err == nil && token != "" {
		return token
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return ""
	}
	return body.RefreshToken
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookieName, token, int(h.refreshTTL.Seconds()), "/", "", h.secureCookies, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookieName, "", -1, "/", "", h.secureCookies, true)
}
