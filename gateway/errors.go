// Copyright 2026 TutorGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the closed set of API-visible failure categories.
type ErrorCode string

const (
	ErrValidation      ErrorCode = "validation_error"
	ErrUnauthorized    ErrorCode = "unauthorized"
	ErrSessionNotFound ErrorCode = "session_not_found"
	ErrNotFound        ErrorCode = "not_found"
	ErrConflict        ErrorCode = "conflict"
	ErrRateLimited     ErrorCode = "rate_limited"
	ErrTimeout         ErrorCode = "timeout"
	ErrUnavailable     ErrorCode = "unavailable"
	ErrInternal        ErrorCode = "internal_error"
)

// Error is the gateway's error type. Every failure that reaches an HTTP
// handler is either an *Error or gets wrapped as ErrInternal.
type Error struct {
	Code    ErrorCode
	Message string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a gateway error without a cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches a cause to a coded error.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// ValidationError builds a field-scoped validation failure.
func ValidationError(field, reason string) *Error {
	return &Error{Code: ErrValidation, Message: reason, Detail: field}
}

// CodeOf extracts the error code, defaulting to internal for plain errors.
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ErrInternal
}

// HTTPStatus maps error codes onto response status codes. The interaction
// pipeline maps deadline expiry to 504 and provider saturation to 503 so
// callers can distinguish "retry later" from "you did something wrong".
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrSessionNotFound, ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
