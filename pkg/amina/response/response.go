package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the response envelope.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeRateLimit    = "RATE_LIMIT"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

// Meta carries response metadata.
type Meta struct {
	GeneratedAt time.Time `json:"generated_at"`
}

// ErrorBody describes a failed request. Messages are generic by policy;
// detail stays in the server logs.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Envelope is the uniform API response shape.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    Meta        `json:"meta"`
}

// Success writes a successful API response.
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{
		Success: true,
		Data:    data,
		Meta:    Meta{GeneratedAt: time.Now().UTC()},
	})
}

// Fail writes an error response and aborts any pending handlers.
func Fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Envelope{
		Success: false,
		Error:   &ErrorBody{Message: message, Code: code},
		Meta:    Meta{GeneratedAt: time.Now().UTC()},
	})
}

func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Fail(c, http.StatusForbidden, CodeForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, CodeNotFound, message)
}

func RateLimited(c *gin.Context, message string) {
	Fail(c, http.StatusTooManyRequests, CodeRateLimit, message)
}

func Unavailable(c *gin.Context, message string) {
	Fail(c, http.StatusServiceUnavailable, CodeUnavailable, message)
}

func Internal(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeInternal, message)
}
