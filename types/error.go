package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the swarm runtime.
type ErrorCode string

// API error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Swarm error codes
const (
	ErrRecoverableTask       ErrorCode = "RECOVERABLE_TASK"
	ErrTerminalTask          ErrorCode = "TERMINAL_TASK"
	ErrConsensusTimeout      ErrorCode = "CONSENSUS_TIMEOUT"
	ErrConsensusNoQuorum     ErrorCode = "CONSENSUS_NO_QUORUM"
	ErrCommunicationDelivery ErrorCode = "COMMUNICATION_DELIVERY"
	ErrCapacityExhausted     ErrorCode = "CAPACITY_EXHAUSTED"
	ErrInvalidTransition     ErrorCode = "INVALID_TRANSITION"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError unwraps err until it finds a *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// ============================================================
// 常用错误构造
// ============================================================

// NewInvalidRequestError 请求参数错误
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError 资源不存在
func NewNotFoundError(message string) *Error {
	return NewError(ErrNotFound, message).WithHTTPStatus(http.StatusNotFound)
}

// NewInternalError 内部错误
func NewInternalError(message string) *Error {
	return NewError(ErrInternalError, message).WithHTTPStatus(http.StatusInternalServerError)
}

// NewRecoverableTaskError 可恢复的任务失败（超时、网络、临时性错误）
func NewRecoverableTaskError(message string) *Error {
	return NewError(ErrRecoverableTask, message).WithRetryable(true)
}

// NewTerminalTaskError 不可恢复的任务失败
func NewTerminalTaskError(message string) *Error {
	return NewError(ErrTerminalTask, message)
}

// NewConsensusTimeoutError 投票收集超时
func NewConsensusTimeoutError(message string) *Error {
	return NewError(ErrConsensusTimeout, message).WithHTTPStatus(http.StatusGatewayTimeout)
}

// NewNoQuorumError 拜占庭投票未达到法定人数
func NewNoQuorumError(message string) *Error {
	return NewError(ErrConsensusNoQuorum, message).WithHTTPStatus(http.StatusConflict)
}

// NewDeliveryError 直连消息未在超时内确认
func NewDeliveryError(message string) *Error {
	return NewError(ErrCommunicationDelivery, message).WithRetryable(true)
}

// NewCapacityExhaustedError 工作者池已达上限
func NewCapacityExhaustedError(message string) *Error {
	return NewError(ErrCapacityExhausted, message).WithHTTPStatus(http.StatusServiceUnavailable)
}
