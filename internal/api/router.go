package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/supauth/supauth/internal/app"
	iauth "github.com/supauth/supauth/internal/auth"
	"github.com/supauth/supauth/internal/handlers"
	"github.com/supauth/supauth/internal/middleware"
	"github.com/supauth/supauth/internal/twofactor"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, twoFactor *twofactor.Service, devices *twofactor.DeviceService) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if twoFactor == nil {
		return nil, fmt.Errorf("two-factor service must be provided")
	}
	if devices == nil {
		return nil, fmt.Errorf("device service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	rateRequests := cfg.Server.RateLimitRequests
	rateWindow := cfg.Server.RateLimitWindow
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	r.Use(middleware.RateLimit(rateRequests, rateWindow))

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	twoFactorHandler, err := handlers.NewTwoFactorHandler(twoFactor)
	if err != nil {
		return nil, err
	}
	deviceHandler, err := handlers.NewDeviceHandler(devices)
	if err != nil {
		return nil, err
	}

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	tfa := api.Group("/2fa")
	{
		tfa.GET("", twoFactorHandler.Status)
		tfa.POST("/setup", twoFactorHandler.Setup)
		tfa.POST("/verify", twoFactorHandler.Verify)
		tfa.GET("/qr", twoFactorHandler.QRCode)
		tfa.DELETE("", twoFactorHandler.Disable)
	}

	dev := api.Group("/devices")
	{
		dev.GET("", deviceHandler.List)
		dev.POST("/trust", deviceHandler.Trust)
		dev.GET("/trusted", deviceHandler.IsTrusted)
		dev.DELETE("/:id", deviceHandler.Remove)
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
