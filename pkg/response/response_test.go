package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/supauth/supauth/pkg/errors"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	return c, recorder
}

func TestSuccessEnvelope(t *testing.T) {
	c, recorder := newTestContext(t)

	Success(c, http.StatusOK, gin.H{"valid": true})

	require.Equal(t, http.StatusOK, recorder.Code)

	var body Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Nil(t, body.Error)
}

func TestErrorRendersAppError(t *testing.T) {
	c, recorder := newTestContext(t)

	Error(c, appErrors.ErrRateLimit.WithMessage("Too many verification attempts. Please try again later."))

	require.Equal(t, http.StatusTooManyRequests, recorder.Code)

	var body Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, appErrors.ErrRateLimit.Code, body.Error.Code)
	require.Equal(t, "Too many verification attempts. Please try again later.", body.Error.Message)
}

func TestErrorHidesInternalDetails(t *testing.T) {
	c, recorder := newTestContext(t)

	Error(c, errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	require.NotContains(t, recorder.Body.String(), "connection refused")
}

func TestErrorWithNil(t *testing.T) {
	c, recorder := newTestContext(t)

	Error(c, nil)

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
}
