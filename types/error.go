package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the protocol stack.
type ErrorCode string

// Connection error codes
const (
	ErrCodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	ErrCodeNotConnected     ErrorCode = "NOT_CONNECTED"
	ErrCodeTransport        ErrorCode = "TRANSPORT_ERROR"
	ErrCodeCancelled        ErrorCode = "CANCELLED"
)

// Protocol error codes
const (
	ErrCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
	ErrCodeFrameTooLarge     ErrorCode = "FRAME_TOO_LARGE"
	ErrCodeDuplicateBody     ErrorCode = "DUPLICATE_BODY"
	ErrCodeUnknownBody       ErrorCode = "UNKNOWN_BODY"
)

// Body error codes
const (
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeProducerDone    ErrorCode = "PRODUCER_DONE"
	ErrCodeBodyClosed      ErrorCode = "BODY_CLOSED"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is(err, ErrConnectionClosed) 对带上下文的副本同样成立。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause returns a copy of the error carrying cause.
// Sentinels are shared, so the receiver is never mutated.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithMessage returns a copy of the error with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// WithRetryable marks a copy of the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	cp := *e
	cp.Retryable = retryable
	return &cp
}

// 哨兵错误，配合 errors.Is 使用
var (
	ErrConnectionClosed  = NewError(ErrCodeConnectionClosed, "connection closed")
	ErrNotConnected      = NewError(ErrCodeNotConnected, "not connected")
	ErrTransport         = NewError(ErrCodeTransport, "transport failure")
	ErrCancelled         = NewError(ErrCodeCancelled, "operation cancelled")
	ErrProtocolViolation = NewError(ErrCodeProtocolViolation, "protocol violation")
	ErrFrameTooLarge     = NewError(ErrCodeFrameTooLarge, "frame payload exceeds maximum length")
	ErrDuplicateBody     = NewError(ErrCodeDuplicateBody, "body id already registered")
	ErrUnknownBody       = NewError(ErrCodeUnknownBody, "body id not registered")
	ErrInvalidArgument   = NewError(ErrCodeInvalidArgument, "invalid argument")
	ErrProducerDone      = NewError(ErrCodeProducerDone, "producer already marked done")
	ErrBodyClosed        = NewError(ErrCodeBodyClosed, "body closed")
)

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether err invalidates the whole connection.
// 协议违规与传输故障意味着帧边界已不可信，只能整体拆除连接。
func IsFatal(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeConnectionClosed, ErrCodeTransport, ErrCodeProtocolViolation,
		ErrCodeFrameTooLarge, ErrCodeDuplicateBody, ErrCodeUnknownBody:
		return true
	default:
		return false
	}
}

// Cancelled wraps a context error as ErrCancelled.
func Cancelled(cause error) *Error {
	return ErrCancelled.WithCause(cause)
}
