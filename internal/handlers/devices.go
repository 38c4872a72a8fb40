package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/supauth/supauth/internal/middleware"
	"github.com/supauth/supauth/internal/security"
	"github.com/supauth/supauth/internal/twofactor"
	appErrors "github.com/supauth/supauth/pkg/errors"
	"github.com/supauth/supauth/pkg/response"
)

// DeviceHandler exposes the trusted-device registry endpoints.
type DeviceHandler struct {
	service *twofactor.DeviceService
}

// NewDeviceHandler constructs a DeviceHandler backed by the provided service.
func NewDeviceHandler(service *twofactor.DeviceService) (*DeviceHandler, error) {
	if service == nil {
		return nil, errors.New("device handler: service is required")
	}
	return &DeviceHandler{service: service}, nil
}

// currentSignals extracts device signals for read-only endpoints. Browsers
// submit them in the X-Device-Signals header as JSON; absent that, only the
// user agent is known.
func currentSignals(c *gin.Context) security.DeviceSignals {
	var signals security.DeviceSignals
	if raw := strings.TrimSpace(c.GetHeader("X-Device-Signals")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &signals); err == nil {
			return signals
		}
	}
	return security.DeviceSignals{UserAgent: c.Request.UserAgent()}
}

// POST /api/devices/trust
func (h *DeviceHandler) Trust(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Name    string                 `json:"name" validate:"omitempty,max=100"`
		Signals security.DeviceSignals `json:"signals"`
	}
	if !bindAndValidate(c, &payload) {
		return
	}

	device, err := h.service.Trust(requestContext(c), userID, twofactor.TrustInput{
		Name:    payload.Name,
		Signals: payload.Signals,
		Meta: twofactor.RequestMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"id":         device.ID,
		"name":       device.Name,
		"expires_at": device.ExpiresAt,
	})
}

// GET /api/devices
func (h *DeviceHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	devices, err := h.service.List(requestContext(c), userID, currentSignals(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, devices)
}

// DELETE /api/devices/:id
func (h *DeviceHandler) Remove(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	deviceID := strings.TrimSpace(c.Param("id"))
	if deviceID == "" {
		response.Error(c, appErrors.NewBadRequest("device id is required"))
		return
	}

	if err := h.service.Remove(requestContext(c), userID, deviceID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// GET /api/devices/trusted
func (h *DeviceHandler) IsTrusted(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	trusted, err := h.service.IsTrusted(requestContext(c), userID, currentSignals(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"trusted": trusted})
}
