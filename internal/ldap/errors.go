package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors, match with errors.Is.
var (
	ErrConfig                  = errors.New("invalid LDAP configuration")
	ErrConnect                 = errors.New("LDAP connection failed")
	ErrClosed                  = errors.New("LDAP connection is closed")
	ErrStartTLS                = errors.New("LDAP STARTTLS failed")
	ErrBind                    = errors.New("LDAP bind failed")
	ErrCapabilityQuery         = errors.New("capability query failed")
	ErrCapabilitiesUnavailable = errors.New("capabilities not available")
	ErrProgramming             = errors.New("programming error")
	ErrMultipleResults         = errors.New("query yields multiple results")
	ErrMoveEntry               = errors.New("could not move entry")
	ErrDelete                  = errors.New("LDAP delete failed")
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Retryable bool
	Cause     error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError wraps err with the operation and, when known, the DN it concerned.
func NewLDAPError(operation, dn string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		DN:        dn,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Retryable = isLDAPCodeRetryable(resultErr.ResultCode)
		ldapErr.Message = ldap.LDAPResultCodeMap[resultErr.ResultCode]
	} else {
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// WrapError wraps err in an LDAPError unless it already is one.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return err
	}

	return NewLDAPError(operation, "", err)
}

// SearchError reports a failed search together with its filter and base.
type SearchError struct {
	Filter string
	Base   string
	Cause  error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("LDAP query %q (base %s) failed. Error: %s", e.Filter, e.Base, diagnosticMessage(e.Cause))
}

func (e *SearchError) Unwrap() error {
	return e.Cause
}

// OperationError carries a formatted message for a failed directory
// operation. It matches both its sentinel and its cause with errors.Is.
type OperationError struct {
	Sentinel error
	Message  string
	Cause    error
}

func newOperationError(sentinel, cause error, format string, args ...any) *OperationError {
	return &OperationError{Sentinel: sentinel, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *OperationError) Error() string {
	return e.Message
}

func (e *OperationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Sentinel != nil {
		errs = append(errs, e.Sentinel)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}

// resultCode extracts the LDAP result code of err.
func resultCode(err error) (uint16, bool) {
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return resultErr.ResultCode, true
	}
	return 0, false
}

func hasResultCode(err error, codes ...uint16) bool {
	return ldap.IsErrorAnyOf(err, codes...)
}

// diagnosticMessage returns the server diagnostic of err, or its text.
func diagnosticMessage(err error) string {
	if err == nil {
		return ""
	}
	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		msg := ldap.LDAPResultCodeMap[resultErr.ResultCode]
		if resultErr.Err != nil && resultErr.Err.Error() != "" {
			if msg == "" {
				return resultErr.Err.Error()
			}
			return msg + ": " + resultErr.Err.Error()
		}
		if msg != "" {
			return msg
		}
	}
	return err.Error()
}

// categorizeError categorizes an error based on LDAP result code.
func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists,
		ldap.LDAPResultObjectClassViolation,
		ldap.LDAPResultNotAllowedOnNonLeaf:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultNamingViolation,
		ldap.LDAPResultFilterError:
		return ErrorCategoryValidation

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultSizeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.ErrorNetwork,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes non-LDAP errors.
func categorizeGenericError(err error) ErrorCategory {
	switch {
	case errors.Is(err, ErrConnect), errors.Is(err, ErrStartTLS), errors.Is(err, ErrClosed):
		return ErrorCategoryConnection
	case errors.Is(err, ErrBind):
		return ErrorCategoryAuthentication
	case errors.Is(err, ErrConfig), errors.Is(err, ErrProgramming):
		return ErrorCategoryValidation
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection", "network", "timeout", "broken pipe"} {
		if strings.Contains(errStr, pattern) {
			return ErrorCategoryConnection
		}
	}

	return ErrorCategoryUnknown
}

// isLDAPCodeRetryable determines if an LDAP error code indicates a retryable condition.
func isLDAPCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) && ldapErr.Category != "" {
		return ldapErr.Category
	}

	if code, ok := resultCode(err); ok {
		return categorizeError(code)
	}

	return categorizeGenericError(err)
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsConflictError checks if an error indicates a conflict (already exists).
func IsConflictError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConflict
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsConnectionError checks if an error indicates the server could not be reached.
func IsConnectionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConnection
}

// IsInvalidCredentials reports whether the server rejected a bind password.
func IsInvalidCredentials(err error) bool {
	return hasResultCode(err, ldap.LDAPResultInvalidCredentials)
}

// IsNoSuchObject reports whether the server reported a missing entry.
func IsNoSuchObject(err error) bool {
	return hasResultCode(err, ldap.LDAPResultNoSuchObject)
}

// IsSizeLimitError reports a size or administrative limit being exceeded.
func IsSizeLimitError(err error) bool {
	return hasResultCode(err, ldap.LDAPResultSizeLimitExceeded, ldap.LDAPResultAdminLimitExceeded)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable interface{ IsRetryable() bool }
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if code, ok := resultCode(err); ok {
		return isLDAPCodeRetryable(code)
	}

	return false
}
