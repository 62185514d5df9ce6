package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the application
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "gateway", "payment", "provisioning")
	Domain() string

	// Code returns a stable error code
	Code() string

	// Retryable indicates if the operation can be retried
	Retryable() bool

	// Metadata returns additional error context
	Metadata() map[string]any

	// WithMetadata adds metadata to the error
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	retryable bool
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, retryable bool, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		retryable: retryable,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the error with the key/value added
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		retryable: e.retryable,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// Error codes grouped by domain.
const (
	// Gateway errors
	ErrCodeGatewayUnreachable     = "gateway_unreachable"
	ErrCodeGatewayRejected        = "gateway_rejected"
	ErrCodeGatewayConfigMalformed = "gateway_config_malformed"

	// Key generation errors
	ErrCodeKeyGenUnavailable = "keygen_unavailable"
	ErrCodeKeyValidation     = "key_validation"

	// Address pool errors
	ErrCodePoolExhausted    = "pool_exhausted"
	ErrCodeInvalidAddress   = "invalid_address"
	ErrCodeInvalidPoolRange = "invalid_pool_range"

	// Provisioning errors
	ErrCodeProvisionFailed      = "provision_failed"
	ErrCodeDuplicateProvision   = "duplicate_provision"
	ErrCodeNeedsReconciliation  = "needs_reconciliation"
	ErrCodeClientConfigRender   = "client_config_render"
	ErrCodeRevocationFailed     = "revocation_failed"
	ErrCodeKeyNotFound          = "key_not_found"

	// Payment errors
	ErrCodePaymentNotFound      = "payment_not_found"
	ErrCodePaymentTerminal      = "payment_terminal"
	ErrCodePaymentInvalidState  = "payment_invalid_state"
	ErrCodePaymentExpired       = "payment_expired"
	ErrCodeInvalidDayCount      = "invalid_day_count"
	ErrCodeUnknownPaymentMethod = "unknown_payment_method"

	// System errors
	ErrCodeDatabase      = "database_error"
	ErrCodeConfiguration = "config_error"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeTimeout       = "timeout"
)

// Domains used across the application.
const (
	DomainGateway      = "gateway"
	DomainKeyGen       = "keygen"
	DomainAddressPool  = "addresspool"
	DomainProvisioning = "provisioning"
	DomainPayment      = "payment"
	DomainDatabase     = "database"
	DomainSystem       = "system"
	DomainEvent        = "event"
)

// NewGatewayError creates a standardized gateway error
func NewGatewayError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainGateway, code, message, retryable, cause, nil)
}

// NewKeyGenError creates a standardized key generation error
func NewKeyGenError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainKeyGen, code, message, retryable, cause, nil)
}

// NewAddressPoolError creates a standardized address pool error
func NewAddressPoolError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainAddressPool, code, message, retryable, cause, nil)
}

// NewProvisioningError creates a standardized provisioning error
func NewProvisioningError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainProvisioning, code, message, retryable, cause, nil)
}

// NewPaymentError creates a standardized payment error
func NewPaymentError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainPayment, code, message, retryable, cause, nil)
}

// NewDatabaseError creates a standardized database error
func NewDatabaseError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainDatabase, code, message, retryable, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, retryable, cause, nil)
}

// WrapWithDomain wraps an arbitrary error into a DomainError
func WrapWithDomain(err error, domain, code, message string, retryable bool) DomainError {
	return NewBaseError(domain, code, message, retryable, err, nil)
}

// Pre-created common errors for fast comparison.
var (
	ErrPoolExhausted      = NewAddressPoolError(ErrCodePoolExhausted, "no free address in pool", false, nil)
	ErrGatewayUnreachable = NewGatewayError(ErrCodeGatewayUnreachable, "gateway host unreachable", true, nil)
	ErrKeyGenUnavailable  = NewKeyGenError(ErrCodeKeyGenUnavailable, "key generation unavailable", true, nil)
	ErrPaymentNotFound    = NewPaymentError(ErrCodePaymentNotFound, "payment not found", false, nil)
	ErrKeyNotFound        = NewProvisioningError(ErrCodeKeyNotFound, "vpn key not found", false, nil)
	ErrInvalidConfig      = NewSystemError(ErrCodeConfiguration, "invalid configuration", false, nil)
)

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	var domainErr DomainError
	return errors.As(err, &domainErr)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable()
	}
	return false
}

// GetErrorCode returns the error code if it's a DomainError, otherwise "unknown"
func GetErrorCode(err error) string {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code()
	}
	return "unknown"
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code string) bool {
	return GetErrorCode(err) == code
}

// GetErrorDomain returns the error domain if it's a DomainError, otherwise "unknown"
func GetErrorDomain(err error) string {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Domain()
	}
	return "unknown"
}
