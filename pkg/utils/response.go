package utils

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/frostdev-ops/devtest-backend-go/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo provides context about the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// Known endpoints offered as suggestions on 404s.
var endpoints = []string{
	"/health",
	"/version",
	"/metrics",
	"/ws",
	"/api/v1/testplan",
	"/api/v1/testplan/start",
	"/api/v1/testplan/stop",
	"/api/v1/exec",
	"/api/v1/devices",
	"/api/v1/discovery",
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, data interface{}) {
	SendSuccessWithStatus(c, http.StatusOK, data)
}

// SendSuccessWithStatus sends a successful response with a custom status
func SendSuccessWithStatus(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendSuccessWithMeta sends a successful response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendError sends an error response with request context
func SendError(c *gin.Context, statusCode int, message string) {
	sendError(c, statusCode, message, nil)
}

// SendAppError sends err as an error response.
func SendAppError(c *gin.Context, err *apperrors.AppError) {
	var details interface{}
	if err.Details != "" {
		details = err.Details
	}
	sendError(c, err.Code, err.Message, details)
}

func sendError(c *gin.Context, statusCode int, message string, details interface{}) {
	resp := ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
		Details: details,
	}

	if statusCode == http.StatusNotFound && details == nil {
		if suggestions := suggest(c.Request.URL.Path); len(suggestions) > 0 {
			resp.Details = map[string]interface{}{
				"suggestions": suggestions,
				"message":     "The requested endpoint does not exist.",
			}
		}
	}

	c.AbortWithStatusJSON(statusCode, resp)
}

// suggest lists known endpoints sharing a path segment with path.
func suggest(path string) []string {
	var out []string
	for _, segment := range strings.Split(strings.ToLower(path), "/") {
		if len(segment) < 3 || segment == "api" {
			continue
		}
		for _, endpoint := range endpoints {
			if strings.Contains(endpoint, segment) && !contains(out, endpoint) && len(out) < 5 {
				out = append(out, endpoint)
			}
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
