package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidCurrency  ErrorCode = "INVALID_CURRENCY"
	ErrCodeInvalidSlot      ErrorCode = "INVALID_SLOT"
	ErrCodeInvalidNotes     ErrorCode = "INVALID_NOTES"

	ErrCodeAppointmentNotFound ErrorCode = "APPOINTMENT_NOT_FOUND"
	ErrCodeTherapistNotFound   ErrorCode = "THERAPIST_NOT_FOUND"
	ErrCodeSessionNotFound     ErrorCode = "CHECKOUT_SESSION_NOT_FOUND"
	ErrCodeUnauthorizedAccess  ErrorCode = "UNAUTHORIZED_ACCESS"
	ErrCodeAppointmentNotRetry ErrorCode = "APPOINTMENT_NOT_RETRYABLE"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUserInactive       ErrorCode = "USER_INACTIVE"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"

	ErrCodeGatewayUnavailable  ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeScriptLoadTimeout   ErrorCode = "SCRIPT_LOAD_TIMEOUT"
	ErrCodeSettlementFailed    ErrorCode = "SETTLEMENT_FAILED"
	ErrCodeSettlementTimedOut  ErrorCode = "SETTLEMENT_TIMED_OUT"
	ErrCodePostSettlement      ErrorCode = "POST_SETTLEMENT_PERSISTENCE_FAILURE"
	ErrCodeDuplicateSettlement ErrorCode = "DUPLICATE_SETTLEMENT"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// Is lets errors.Is match two AppErrors by code, so sentinels below can be
// compared against wrapped copies carrying a cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewExternalError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

var (
	ErrAppointmentNotFound = NewNotFoundError("Appointment not found", ErrCodeAppointmentNotFound)
	ErrTherapistNotFound   = NewNotFoundError("Therapist not found", ErrCodeTherapistNotFound)
	ErrSessionNotFound     = NewNotFoundError("Checkout session not found", ErrCodeSessionNotFound)
	ErrUnauthorizedAccess  = NewForbiddenError("unauthorized access to appointment", ErrCodeUnauthorizedAccess)

	ErrInvalidCredentials = NewUnauthorizedError("Invalid email or password", ErrCodeInvalidCredentials)
	ErrUserInactive       = NewForbiddenError("User account is inactive", ErrCodeUserInactive)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)

	// ErrGatewayUnavailable: the processor could not be reached or errored.
	// Transient; callers may re-invoke the originating step.
	ErrGatewayUnavailable = NewExternalError("Payment gateway unavailable", ErrCodeGatewayUnavailable)

	// ErrScriptLoadTimeout: the embedded widget script never became ready.
	ErrScriptLoadTimeout = NewExternalError("Payment widget failed to load", ErrCodeScriptLoadTimeout)

	// ErrSettlementFailed: the processor reported failure or cancellation.
	// The user should be offered a fresh payment attempt.
	ErrSettlementFailed = NewValidationError("Payment was declined or cancelled", ErrCodeSettlementFailed)

	// ErrSettlementTimedOut: no terminal status within the polling budget.
	// The payment may still complete server-side; offer "check again".
	ErrSettlementTimedOut = &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeSettlementTimedOut,
		Message:    "Payment confirmation timed out",
		StatusCode: http.StatusGatewayTimeout,
	}

	// ErrPostSettlementPersistence: funds confirmed moved but the local
	// commit failed. Must never be surfaced as "payment failed".
	ErrPostSettlementPersistence = &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodePostSettlement,
		Message:    "Payment confirmed but booking could not be saved; support has been notified",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewGatewayUnavailableError returns a fresh copy of the gateway-unavailable
// class carrying a cause. Sentinels are shared; mutating them would leak
// causes across requests.
func NewGatewayUnavailableError(cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeGatewayUnavailable,
		Message:    ErrGatewayUnavailable.Message,
		StatusCode: ErrGatewayUnavailable.StatusCode,
		Cause:      cause,
	}
}

// NewPostSettlementError wraps a persistence failure that happened after
// settlement was confirmed. Distinct class: money has already moved.
func NewPostSettlementError(cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodePostSettlement,
		Message:    ErrPostSettlementPersistence.Message,
		StatusCode: ErrPostSettlementPersistence.StatusCode,
		Cause:      cause,
	}
}

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
