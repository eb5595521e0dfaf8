package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for analysis database operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors (precondition violations)
	ErrCodeInvalidArgument   ErrorCode = 1000
	ErrCodeUnknownSourceRoot ErrorCode = 1001
	ErrCodeInvalidChange     ErrorCode = 1002
	ErrCodeUnknownTable      ErrorCode = 1003
	ErrCodeInvalidConfig     ErrorCode = 1004

	// Cooperative cancellation
	ErrCodeCanceled ErrorCode = 1100

	// Internal errors
	ErrCodeInternal    ErrorCode = 2000
	ErrCodeUnavailable ErrorCode = 2001
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                "OK",
	ErrCodeInvalidArgument:   "INVALID_ARGUMENT",
	ErrCodeUnknownSourceRoot: "UNKNOWN_SOURCE_ROOT",
	ErrCodeInvalidChange:     "INVALID_CHANGE",
	ErrCodeUnknownTable:      "UNKNOWN_TABLE",
	ErrCodeInvalidConfig:     "INVALID_CONFIG",
	ErrCodeCanceled:          "CANCELED",
	ErrCodeInternal:          "INTERNAL",
	ErrCodeUnavailable:       "UNAVAILABLE",
}

// String returns the code name used in logs and metric labels
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// AnalysisError represents a structured error with code and context
type AnalysisError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *AnalysisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts the error to a gRPC status for integrators serving
// the database over gRPC
func (e *AnalysisError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *AnalysisError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidChange, ErrCodeInvalidConfig:
		return codes.InvalidArgument
	case ErrCodeUnknownSourceRoot:
		return codes.FailedPrecondition
	case ErrCodeUnknownTable:
		return codes.NotFound
	case ErrCodeCanceled:
		return codes.Canceled
	case ErrCodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewAnalysisError creates a new AnalysisError
func NewAnalysisError(code ErrorCode, message string, cause error) *AnalysisError {
	return &AnalysisError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *AnalysisError) WithDetail(key string, value interface{}) *AnalysisError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *AnalysisError {
	return NewAnalysisError(ErrCodeInvalidArgument, message, cause)
}

// UnknownSourceRoot reports a file change whose source root cannot be
// resolved: roots were never installed or the file is in no installed root.
func UnknownSourceRoot(fileID uint32, reason string) *AnalysisError {
	return NewAnalysisError(ErrCodeUnknownSourceRoot,
		fmt.Sprintf("cannot resolve source root of file %d: %s", fileID, reason), nil).
		WithDetail("file_id", fileID).
		WithDetail("reason", reason)
}

func InvalidChange(message string) *AnalysisError {
	return NewAnalysisError(ErrCodeInvalidChange, message, nil)
}

func FileTooLarge(fileID uint32, size, maxSize int) *AnalysisError {
	return NewAnalysisError(ErrCodeInvalidChange,
		fmt.Sprintf("text of file %d is %d bytes, exceeds maximum %d", fileID, size, maxSize), nil).
		WithDetail("file_id", fileID).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func UnknownTable(tableID string) *AnalysisError {
	return NewAnalysisError(ErrCodeUnknownTable, fmt.Sprintf("unknown memo table: %s", tableID), nil).
		WithDetail("table_id", tableID)
}

func InvalidConfig(message string, cause error) *AnalysisError {
	return NewAnalysisError(ErrCodeInvalidConfig, message, cause)
}

// Canceled wraps a cooperative cancellation observed by a computation
func Canceled(cause error) *AnalysisError {
	return NewAnalysisError(ErrCodeCanceled, "computation canceled by a newer revision", cause)
}

// ChangeCanceled wraps a context that ended before a change was written
func ChangeCanceled(cause error) *AnalysisError {
	return NewAnalysisError(ErrCodeCanceled, "change application canceled", cause)
}

func InternalError(message string, cause error) *AnalysisError {
	return NewAnalysisError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *AnalysisError {
	return NewAnalysisError(ErrCodeUnavailable, message, cause)
}

// IsAnalysisError checks if an error is, or wraps, an AnalysisError
func IsAnalysisError(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeInternal
}

// StatusClientClosedRequest is the non-standard status for requests whose
// caller went away
const StatusClientClosedRequest = 499

// HTTPStatus maps an error to an HTTP status through its gRPC code. Plain
// context errors map like their gRPC counterparts.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var code codes.Code
	var ae *AnalysisError
	if errors.As(err, &ae) {
		code = ae.ToGRPCStatus().Code()
	} else {
		code = status.FromContextError(err).Code()
	}

	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Canceled:
		return StatusClientClosedRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
