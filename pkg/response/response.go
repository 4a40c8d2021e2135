package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeServerError  = 500
)

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeSuccess,
		Message:   "success",
		RequestID: c.GetString(RequestIDKey),
		Data:      data,
	})
}

// Error aborts the request with the given HTTP status and envelope code.
func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:      code,
		Message:   message,
		RequestID: c.GetString(RequestIDKey),
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}
