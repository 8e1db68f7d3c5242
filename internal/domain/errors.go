package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Not-found errors (*_NOT_FOUND)
	ErrorCodeUserNotFound          ErrorCode = "USER_NOT_FOUND"
	ErrorCodePlanNotFound          ErrorCode = "PLAN_NOT_FOUND"
	ErrorCodePaymentMethodNotFound ErrorCode = "PAYMENT_METHOD_NOT_FOUND"
	ErrorCodeSubscriptionNotFound  ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	ErrorCodeInvoiceNotFound       ErrorCode = "INVOICE_NOT_FOUND"
	ErrorCodePaymentNotFound       ErrorCode = "PAYMENT_NOT_FOUND"
	ErrorCodeOrderNotFound         ErrorCode = "ORDER_NOT_FOUND"

	// Lifecycle errors (*_INVALID_STATE)
	ErrorCodePlanInactive             ErrorCode = "PLAN_INACTIVE"
	ErrorCodeSubscriptionInvalidState ErrorCode = "SUBSCRIPTION_INVALID_STATE"
	ErrorCodeInvoiceInvalidState      ErrorCode = "INVOICE_INVALID_STATE"

	// Ownership errors
	ErrorCodeOwnershipDenied ErrorCode = "OWNERSHIP_DENIED"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"

	// Payment gateway errors (GATEWAY_*)
	ErrorCodeGatewayError         ErrorCode = "GATEWAY_ERROR"
	ErrorCodeBillingKeyUnresolved ErrorCode = "GATEWAY_BILLING_KEY_UNRESOLVED"

	// Webhook errors
	ErrorCodeVerificationFailed ErrorCode = "WEBHOOK_VERIFICATION_FAILED"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of the error with a detail field added. Copying
// keeps the shared sentinel instances immutable.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{
		Err:     e.Err,
		Details: details,
		Code:    e.Code,
		Message: e.Message,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeUserNotFound ||
		code == ErrorCodePlanNotFound ||
		code == ErrorCodePaymentMethodNotFound ||
		code == ErrorCodeSubscriptionNotFound ||
		code == ErrorCodeInvoiceNotFound ||
		code == ErrorCodePaymentNotFound ||
		code == ErrorCodeOrderNotFound
}

// IsInvalidStateError checks if an error is a lifecycle-state violation
func IsInvalidStateError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodePlanInactive ||
		code == ErrorCodeSubscriptionInvalidState ||
		code == ErrorCodeInvoiceInvalidState
}

// IsOwnershipError checks if an error is an ownership violation
func IsOwnershipError(err error) bool {
	return GetErrorCode(err) == ErrorCodeOwnershipDenied
}

// IsGatewayError checks if an error is a payment gateway error
func IsGatewayError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeGatewayError || code == ErrorCodeBillingKeyUnresolved
}

// Structured error instances
var (
	ErrUserNotFound          = NewDomainError(ErrorCodeUserNotFound, "user not found")
	ErrPlanNotFound          = NewDomainError(ErrorCodePlanNotFound, "plan not found")
	ErrPaymentMethodNotFound = NewDomainError(ErrorCodePaymentMethodNotFound, "payment method not found")
	ErrSubscriptionNotFound  = NewDomainError(ErrorCodeSubscriptionNotFound, "subscription not found")
	ErrInvoiceNotFound       = NewDomainError(ErrorCodeInvoiceNotFound, "invoice not found")
	ErrPaymentNotFound       = NewDomainError(ErrorCodePaymentNotFound, "payment not found")
	ErrOrderNotFound         = NewDomainError(ErrorCodeOrderNotFound, "order not found")

	ErrPlanInactive             = NewDomainError(ErrorCodePlanInactive, "plan is not active")
	ErrSubscriptionInvalidState = NewDomainError(ErrorCodeSubscriptionInvalidState, "subscription is in invalid state for this operation")
	ErrInvoiceInvalidState      = NewDomainError(ErrorCodeInvoiceInvalidState, "invoice is in invalid state for this operation")

	ErrOwnershipDenied = NewDomainError(ErrorCodeOwnershipDenied, "entity does not belong to requesting user")

	ErrVerificationFailed = NewDomainError(ErrorCodeVerificationFailed, "webhook signature verification failed")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
