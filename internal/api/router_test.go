package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/supauth/supauth/internal/app"
	iauth "github.com/supauth/supauth/internal/auth"
	"github.com/supauth/supauth/internal/database/testutil"
	"github.com/supauth/supauth/internal/security"
	"github.com/supauth/supauth/internal/twofactor"
	"github.com/supauth/supauth/pkg/crypto"
	"github.com/supauth/supauth/pkg/response"
)

func newTestRouter(t *testing.T) (*gin.Engine, *iauth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "test-secret",
		Issuer:         "test",
		AccessTokenTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	cipher, err := crypto.NewCipher("router-test-master-key")
	require.NoError(t, err)

	limiter, err := security.NewRateLimiter(db)
	require.NoError(t, err)

	twoFactorSvc, err := twofactor.NewService(db, cipher, limiter)
	require.NoError(t, err)

	deviceSvc, err := twofactor.NewDeviceService(db, limiter, security.NewFingerprinter())
	require.NoError(t, err)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)

	router, err := NewRouter(db, jwtSvc, cfg, twoFactorSvc, deviceSvc)
	require.NoError(t, err)

	return router, jwtSvc
}

func bearerFor(t *testing.T, jwtSvc *iauth.JWTService, userID string) string {
	t.Helper()
	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID})
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, router *gin.Engine, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	// Health is public.
	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Protected endpoints require a token.
	for _, path := range []string{"/api/2fa", "/api/devices", "/api/devices/trusted"} {
		w := doJSON(t, router, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	// Unknown routes return a JSON 404.
	w = doJSON(t, router, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterTwoFactorLifecycle(t *testing.T) {
	router, jwtSvc := newTestRouter(t)
	userID := uuid.NewString()
	bearer := bearerFor(t, jwtSvc, userID)

	// Enrol.
	w := doJSON(t, router, http.MethodPost, "/api/2fa/setup", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var setupResp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setupResp))
	require.True(t, setupResp.Success)

	data := setupResp.Data.(map[string]any)
	secret := data["secret"].(string)
	require.NotEmpty(t, secret)
	require.NotEmpty(t, data["qr_code"])
	require.Len(t, data["backup_codes"].([]any), 10)

	// Status shows pending.
	w = doJSON(t, router, http.MethodGet, "/api/2fa", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var statusResp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statusResp))
	status := statusResp.Data.(map[string]any)
	require.True(t, status["configured"].(bool))
	require.False(t, status["enabled"].(bool))

	// Verify with a live TOTP code.
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	w = doJSON(t, router, http.MethodPost, "/api/2fa/verify", bearer, gin.H{"token": code})
	require.Equal(t, http.StatusOK, w.Code)
	var verifyResp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verifyResp))
	require.True(t, verifyResp.Data.(map[string]any)["valid"].(bool))

	// Trust the current device and read it back.
	w = doJSON(t, router, http.MethodPost, "/api/devices/trust", bearer, gin.H{
		"signals": gin.H{"userAgent": "Mozilla/5.0 (Macintosh)", "platform": "MacIntel"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/devices", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Data.([]any), 1)

	// Disable cascades the device trust away.
	w = doJSON(t, router, http.MethodDelete, "/api/2fa", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/devices", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listResp = response.Response{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Empty(t, listResp.Data)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	// Trigger a request to generate metrics.
	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "supauth_api_latency_seconds"))
}
