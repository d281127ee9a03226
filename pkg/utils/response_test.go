package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/frostdev-ops/devtest-backend-go/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func perform(t *testing.T, path string, h gin.HandlerFunc) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	h(c)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestSendSuccess(t *testing.T) {
	w, body := perform(t, "/api/v1/exec", func(c *gin.Context) {
		SendSuccess(c, map[string]string{"id": "exec-1"})
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]interface{}{"id": "exec-1"}, body["data"])
}

func TestSendErrorSuggestsEndpoints(t *testing.T) {
	w, body := perform(t, "/api/v1/testplans/unknown", func(c *gin.Context) {
		SendError(c, http.StatusNotFound, "not found")
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])

	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, details["suggestions"], "/api/v1/testplan")
}

func TestSendAppError(t *testing.T) {
	err := apperrors.Wrap(apperrors.ErrConflict, errors.New("exec-1 is already running"))
	w, body := perform(t, "/api/v1/testplan/start", func(c *gin.Context) {
		SendAppError(c, err)
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Conflict", body["error"])
	assert.Equal(t, "exec-1 is already running", body["details"])
}
