package response

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
)

// TimeLayout is the wire format for every timestamp in request and
// response bodies. Emission is always UTC.
const TimeLayout = "2006-01-02 15:04:05"

// API codes rendered in the error envelope.
const (
	CodeOK                   = "OK"
	CodeCreated              = "CREATED"
	CodeValidationError      = "VALIDATION_ERROR"
	CodeBusinessError        = "BUSINESS_ERROR"
	CodeResourceNotFound     = "RESOURCE_NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeMissingParameter     = "MISSING_PARAMETER"
	CodeInvalidParameterType = "INVALID_PARAMETER_TYPE"
	CodeRouteNotFound        = "ROUTE_NOT_FOUND"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout       = "GATEWAY_TIMEOUT"
	CodeInternalServerError  = "INTERNAL_SERVER_ERROR"
)

// Business codes are 4-digit strings: 0000 OK, 40xx client, 50xx server,
// 90xx business.
const (
	BizOK             = "0000"
	BizCreated        = "0001"
	BizBadRequest     = "4000"
	BizUnauthorized   = "4001"
	BizForbidden      = "4003"
	BizNotFound       = "4004"
	BizConflict       = "4009"
	BizRateLimited    = "4029"
	BizInternal       = "5000"
	BizUnavailable    = "5003"
	BizTimeout        = "5004"
	BizBusinessError  = "9000"
	BizOrderState     = "9001"
	BizPaymentFailed  = "9002"
	BizInventoryShort = "9003"
	BizNotifyRejected = "9004"
)

// Success is the uniform success envelope.
type Success struct {
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path,omitempty"`
}

// Error is the uniform error envelope.
type Error struct {
	Success   bool           `json:"success"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	Reason    string         `json:"error"`
	Path      string         `json:"path"`
	Method    string         `json:"method"`
	Timestamp string         `json:"timestamp"`
	TraceID   string         `json:"traceId"`
	Details   string         `json:"details,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewTraceID returns an 8-hex-char trace id for the error envelope. When an
// otel span is recording, the tail of its trace id is reused so the envelope
// and the trace backend agree.
func NewTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		full := sc.TraceID().String()
		return full[len(full)-8:]
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// OK writes a 200 success envelope.
func OK(c *gin.Context, data any) {
	write(c, http.StatusOK, CodeOK, "", data)
}

// Created writes a 201 success envelope. The code is the 4-digit business
// code for resource creation.
func Created(c *gin.Context, data any) {
	write(c, http.StatusCreated, BizCreated, "", data)
}

// OKMessage writes a 200 envelope with a human message and no payload.
func OKMessage(c *gin.Context, message string) {
	write(c, http.StatusOK, CodeOK, message, nil)
}

func write(c *gin.Context, status int, code, message string, data any) {
	c.JSON(status, Success{
		Success:   true,
		Code:      code,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(TimeLayout),
		Path:      c.Request.URL.Path,
	})
}

// Fail maps a domain error to the uniform envelope and writes it.
func Fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	FailWith(c, status, code, errs.MessageOf(err), errsFields(err))
}

// FailWith writes an explicit error envelope.
func FailWith(c *gin.Context, status int, code, message string, fields map[string]string) {
	var metadata map[string]any
	if len(fields) > 0 {
		metadata = map[string]any{"fieldErrors": fields}
	}
	c.AbortWithStatusJSON(status, Error{
		Success:   false,
		Code:      code,
		Message:   message,
		Status:    status,
		Reason:    http.StatusText(status),
		Path:      c.Request.URL.Path,
		Method:    c.Request.Method,
		Timestamp: time.Now().UTC().Format(TimeLayout),
		TraceID:   NewTraceID(c.Request.Context()),
		Metadata:  metadata,
	})
}

func errsFields(err error) map[string]string {
	return errs.FieldsOf(err)
}

func statusFor(err error) (int, string) {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest, CodeValidationError
	case errs.KindNotFound:
		return http.StatusNotFound, CodeResourceNotFound
	case errs.KindConflict:
		return http.StatusBadRequest, CodeBusinessError
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized, CodeUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden, CodeForbidden
	case errs.KindRateLimited:
		return http.StatusTooManyRequests, CodeRateLimitExceeded
	case errs.KindUpstream:
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case errs.KindTimeout:
		return http.StatusGatewayTimeout, CodeGatewayTimeout
	default:
		return http.StatusInternalServerError, CodeInternalServerError
	}
}
