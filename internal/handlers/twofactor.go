package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/supauth/supauth/internal/middleware"
	"github.com/supauth/supauth/internal/twofactor"
	appErrors "github.com/supauth/supauth/pkg/errors"
	"github.com/supauth/supauth/pkg/response"
)

// TwoFactorHandler exposes the enrolment, verification, and teardown
// endpoints for two-factor authentication.
type TwoFactorHandler struct {
	service *twofactor.Service
}

// NewTwoFactorHandler constructs a TwoFactorHandler backed by the provided service.
func NewTwoFactorHandler(service *twofactor.Service) (*TwoFactorHandler, error) {
	if service == nil {
		return nil, errors.New("twofactor handler: service is required")
	}
	return &TwoFactorHandler{service: service}, nil
}

func requestMeta(c *gin.Context) twofactor.RequestMeta {
	return twofactor.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// POST /api/2fa/setup
func (h *TwoFactorHandler) Setup(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	setup, err := h.service.Enable(requestContext(c), userID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"secret":       setup.Secret,
		"otpauth_url":  setup.OtpauthURL,
		"qr_code":      base64.StdEncoding.EncodeToString(setup.QRCodePNG),
		"backup_codes": setup.BackupCodes,
	})
}

// POST /api/2fa/verify
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Token string `json:"token" validate:"required,min=6,max=16"`
	}
	if !bindAndValidate(c, &payload) {
		return
	}

	valid, err := h.service.Verify(requestContext(c), userID, payload.Token, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"valid": valid})
}

// DELETE /api/2fa
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Disable(requestContext(c), userID, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"disabled": true})
}

// GET /api/2fa/qr
//
// Renders a QR image for a caller-supplied otpauth URL. The plaintext
// secret is never persisted server-side, so the QR cannot be re-derived
// after setup; this endpoint only serves setup flows that still hold the
// provisioning URL.
func (h *TwoFactorHandler) QRCode(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	rawURL := c.Query("url")
	if !strings.HasPrefix(rawURL, "otpauth://") {
		response.Error(c, appErrors.NewBadRequest("url must be an otpauth:// provisioning URL"))
		return
	}

	png, err := h.service.RenderQR(rawURL)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// GET /api/2fa
func (h *TwoFactorHandler) Status(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	configured, enabled, err := h.service.Status(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"configured": configured,
		"enabled":    enabled,
	})
}
