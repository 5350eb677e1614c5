package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for metadata operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Recoverable store conditions
	ErrCodeNotFound               ErrorCode = 1000
	ErrCodeAlreadyExists          ErrorCode = 1001
	ErrCodeConcurrentModification ErrorCode = 1002

	// Conditions surfaced to the caller
	ErrCodeIllegalState        ErrorCode = 1100
	ErrCodeOperationNotAllowed ErrorCode = 1101
	ErrCodeInvalidArgument     ErrorCode = 1102

	// Server errors
	ErrCodeInternal       ErrorCode = 2000
	ErrCodeUnavailable    ErrorCode = 2001
	ErrCodeDataCorruption ErrorCode = 2002
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                     "OK",
	ErrCodeNotFound:               "NOT_FOUND",
	ErrCodeAlreadyExists:          "ALREADY_EXISTS",
	ErrCodeConcurrentModification: "CONCURRENT_MODIFICATION",
	ErrCodeIllegalState:           "ILLEGAL_STATE",
	ErrCodeOperationNotAllowed:    "OPERATION_NOT_ALLOWED",
	ErrCodeInvalidArgument:        "INVALID_ARGUMENT",
	ErrCodeInternal:               "INTERNAL",
	ErrCodeUnavailable:            "UNAVAILABLE",
	ErrCodeDataCorruption:         "DATA_CORRUPTION",
}

// String returns the symbolic name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// MetadataError represents a structured error with code and context
type MetadataError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *MetadataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *MetadataError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts MetadataError to gRPC status
func (e *MetadataError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *MetadataError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeAlreadyExists:
		return codes.AlreadyExists
	case ErrCodeConcurrentModification:
		return codes.Aborted
	case ErrCodeIllegalState, ErrCodeOperationNotAllowed:
		return codes.FailedPrecondition
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeDataCorruption:
		return codes.DataLoss
	case ErrCodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewMetadataError creates a new MetadataError
func NewMetadataError(code ErrorCode, message string, cause error) *MetadataError {
	return &MetadataError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *MetadataError) WithDetail(key string, value interface{}) *MetadataError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func NotFound(table, key string) *MetadataError {
	return NewMetadataError(ErrCodeNotFound, fmt.Sprintf("record not found: %s/%s", table, key), nil).
		WithDetail("table", table).
		WithDetail("key", key)
}

func TableNotFound(table string) *MetadataError {
	return NewMetadataError(ErrCodeNotFound, fmt.Sprintf("table not found: %s", table), nil).
		WithDetail("table", table)
}

func AlreadyExists(table, key string) *MetadataError {
	return NewMetadataError(ErrCodeAlreadyExists, fmt.Sprintf("record already exists: %s/%s", table, key), nil).
		WithDetail("table", table).
		WithDetail("key", key)
}

func ConcurrentModification(table, key string, expected, actual int64) *MetadataError {
	return NewMetadataError(ErrCodeConcurrentModification,
		fmt.Sprintf("version mismatch on %s/%s: expected %d, actual %d", table, key, expected, actual), nil).
		WithDetail("table", table).
		WithDetail("key", key).
		WithDetail("expected_version", expected).
		WithDetail("actual_version", actual)
}

func IllegalState(entity, state string) *MetadataError {
	return NewMetadataError(ErrCodeIllegalState, fmt.Sprintf("entity %s is in state %s", entity, state), nil).
		WithDetail("entity", entity).
		WithDetail("state", state)
}

func OperationNotAllowed(entity, from, to string) *MetadataError {
	return NewMetadataError(ErrCodeOperationNotAllowed,
		fmt.Sprintf("entity %s: transition %s -> %s not allowed", entity, from, to), nil).
		WithDetail("entity", entity).
		WithDetail("from", from).
		WithDetail("to", to)
}

func InvalidArgument(message string, cause error) *MetadataError {
	return NewMetadataError(ErrCodeInvalidArgument, message, cause)
}

func DataCorruption(table, key string, cause error) *MetadataError {
	return NewMetadataError(ErrCodeDataCorruption, fmt.Sprintf("corrupted record %s/%s", table, key), cause).
		WithDetail("table", table).
		WithDetail("key", key)
}

func InternalError(message string, cause error) *MetadataError {
	return NewMetadataError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *MetadataError {
	return NewMetadataError(ErrCodeUnavailable, message, cause)
}

// IsMetadataError checks if an error is, or wraps, a MetadataError
func IsMetadataError(err error) bool {
	var me *MetadataError
	return stderrors.As(err, &me)
}

// GetCode extracts the error code from an error, looking through wrapping
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var me *MetadataError
	if stderrors.As(err, &me) {
		return me.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

func IsNotFound(err error) bool { return IsCode(err, ErrCodeNotFound) }

func IsAlreadyExists(err error) bool { return IsCode(err, ErrCodeAlreadyExists) }

func IsConcurrentModification(err error) bool { return IsCode(err, ErrCodeConcurrentModification) }

// ToGRPCError converts any error into a gRPC status error
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	var me *MetadataError
	if stderrors.As(err, &me) {
		return me.ToGRPCStatus().Err()
	}
	return status.Error(codes.Internal, err.Error())
}
