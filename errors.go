package cloesce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cloesce/cloesce/orm"
	"github.com/cloesce/cloesce/router"
	"github.com/cloesce/cloesce/validate"
)

// ErrorCode represents a machine-readable error code.
type ErrorCode string

const (
	CodeInvalidArgument   ErrorCode = "invalid_argument"
	CodeUnauthenticated   ErrorCode = "unauthenticated"
	CodePermissionDenied  ErrorCode = "permission_denied"
	CodeNotFound          ErrorCode = "not_found"
	CodeMethodNotAllowed  ErrorCode = "method_not_allowed"
	CodeConflict          ErrorCode = "conflict"
	CodeGone              ErrorCode = "gone"
	CodeResourceExhausted ErrorCode = "resource_exhausted"
	CodeCanceled          ErrorCode = "canceled"
	CodeInternal          ErrorCode = "internal"
	CodeNotImplemented    ErrorCode = "not_implemented"
	CodeUnavailable       ErrorCode = "unavailable"
	CodeDeadlineExceeded  ErrorCode = "deadline_exceeded"
)

// Error is a failure reported to the caller. Handlers return it to choose
// the status of the failure result.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a new error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns a copy of e with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// ErrorTransformer maps an application error to an *Error. Returning nil
// falls back to DefaultErrorTransformer.
type ErrorTransformer func(error) *Error

// DefaultErrorTransformer maps the errors of this module and of the standard
// library to an *Error.
func DefaultErrorTransformer(err error) *Error {
	if err == nil {
		return nil
	}

	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeDeadlineExceeded, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewError(CodeCanceled, "context canceled")
	}

	var invalid *validate.Error
	if errors.As(err, &invalid) {
		e := NewError(CodeInvalidArgument, invalid.Error())
		if invalid.Path != "" {
			e = e.WithDetail("path", invalid.Path)
		}
		return e
	}
	if errors.Is(err, validate.ErrInvalid) {
		return NewError(CodeInvalidArgument, err.Error())
	}
	if errors.Is(err, router.ErrNotFound) {
		return NewError(CodeNotFound, err.Error())
	}
	if errors.Is(err, orm.ErrUnknownDataSource) {
		return NewError(CodeInvalidArgument, err.Error())
	}

	var valErrs validator.ValidationErrors
	if errors.As(err, &valErrs) {
		details := make(map[string]any)
		messages := make([]string, 0, len(valErrs))
		for _, ve := range valErrs {
			msg := formatValidationError(ve)
			details[ve.Field()] = msg
			messages = append(messages, ve.Field()+": "+msg)
		}
		return &Error{
			Code:    CodeInvalidArgument,
			Message: strings.Join(messages, "; "),
			Details: details,
		}
	}

	return NewError(CodeInternal, err.Error())
}

// HTTPStatus maps an ErrorCode to an HTTP status code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeConflict:
		return http.StatusConflict
	case CodeGone:
		return http.StatusGone
	case CodeResourceExhausted:
		return http.StatusTooManyRequests
	case CodeCanceled:
		return 499 // Client Closed Request (Nginx standard)
	case CodeInternal:
		return http.StatusInternalServerError
	case CodeNotImplemented:
		return http.StatusNotImplemented
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// CodeForStatus is the inverse of HTTPStatus for the statuses it produces.
func CodeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidArgument
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusForbidden:
		return CodePermissionDenied
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case http.StatusConflict:
		return CodeConflict
	case http.StatusGone:
		return CodeGone
	case http.StatusTooManyRequests:
		return CodeResourceExhausted
	case http.StatusNotImplemented:
		return CodeNotImplemented
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	case http.StatusGatewayTimeout:
		return CodeDeadlineExceeded
	}
	if status >= 400 && status < 500 {
		return CodeInvalidArgument
	}
	return CodeInternal
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "required"
	case "min":
		return fmt.Sprintf("must be at least %s", ve.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", ve.Param())
	case "len":
		return fmt.Sprintf("must have length %s", ve.Param())
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", ve.Param())
	default:
		if ve.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation", ve.Tag(), ve.Param())
		}
		return fmt.Sprintf("failed %s validation", ve.Tag())
	}
}

func writeError(w http.ResponseWriter, svcErr *Error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := writeResult(w, failure(svcErr.Code.HTTPStatus(), svcErr)); err != nil {
		// Headers already sent, nothing we can do.
		logger.Error("failed to encode error response",
			slog.String("code", string(svcErr.Code)),
			slog.String("message", svcErr.Message),
			slog.Any("error", err))
	}
}
