package ldap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestNewLDAPError(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		dn        string
		err       error
		wantNil   bool
		wantCode  uint16
		wantCat   ErrorCategory
	}{
		{
			name:      "nil error",
			operation: "search",
			err:       nil,
			wantNil:   true,
		},
		{
			name:      "ldap error",
			operation: "bind",
			err:       ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")),
			wantCode:  ldap.LDAPResultInvalidCredentials,
			wantCat:   ErrorCategoryAuthentication,
		},
		{
			name:      "generic error",
			operation: "connect",
			err:       errors.New("connection refused"),
			wantCat:   ErrorCategoryConnection,
		},
		{
			name:      "missing entry with DN",
			operation: "delete",
			dn:        "cn=gone,dc=example,dc=com",
			err:       ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("")),
			wantCode:  ldap.LDAPResultNoSuchObject,
			wantCat:   ErrorCategoryNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewLDAPError(tt.operation, tt.dn, tt.err)

			if tt.wantNil {
				assert.Nil(t, result)
				return
			}

			if assert.NotNil(t, result) {
				assert.Equal(t, tt.operation, result.Operation)
				assert.Equal(t, tt.dn, result.DN)
				assert.Equal(t, tt.wantCode, result.LDAPCode)
				assert.Equal(t, tt.wantCat, result.Category)
				assert.ErrorIs(t, result, tt.err)
			}
		})
	}
}

func TestLDAPError_Error(t *testing.T) {
	tests := []struct {
		name    string
		ldapErr *LDAPError
		want    string
	}{
		{
			name: "basic error",
			ldapErr: &LDAPError{
				Operation: "search",
				Message:   "operation failed",
			},
			want: "LDAP search failed - operation failed",
		},
		{
			name: "error with code",
			ldapErr: &LDAPError{
				Operation: "bind",
				LDAPCode:  ldap.LDAPResultInvalidCredentials,
				Message:   "authentication failed",
			},
			want: "LDAP bind failed (code 49) - authentication failed",
		},
		{
			name: "error with server message",
			ldapErr: &LDAPError{
				Operation: "add",
				Message:   "validation failed",
				ServerMsg: "attribute required",
			},
			want: "LDAP add failed - validation failed - server: attribute required",
		},
		{
			name: "error with DN",
			ldapErr: &LDAPError{
				Operation: "modify",
				Message:   "access denied",
				DN:        "cn=user,dc=example,dc=com",
			},
			want: "LDAP modify failed - access denied - DN: cn=user,dc=example,dc=com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ldapErr.Error())
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		code uint16
		want ErrorCategory
	}{
		{"authentication error", ldap.LDAPResultInvalidCredentials, ErrorCategoryAuthentication},
		{"permission error", ldap.LDAPResultInsufficientAccessRights, ErrorCategoryPermission},
		{"not found error", ldap.LDAPResultNoSuchObject, ErrorCategoryNotFound},
		{"conflict error", ldap.LDAPResultEntryAlreadyExists, ErrorCategoryConflict},
		{"non leaf", ldap.LDAPResultNotAllowedOnNonLeaf, ErrorCategoryConflict},
		{"validation error", ldap.LDAPResultConstraintViolation, ErrorCategoryValidation},
		{"filter error", ldap.LDAPResultFilterError, ErrorCategoryValidation},
		{"server error", ldap.LDAPResultBusy, ErrorCategoryServer},
		{"size limit", ldap.LDAPResultSizeLimitExceeded, ErrorCategoryServer},
		{"connection error", ldap.LDAPResultConnectError, ErrorCategoryConnection},
		{"network error", ldap.ErrorNetwork, ErrorCategoryConnection},
		{"unknown error", 9999, ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeError(tt.code))
		})
	}
}

func TestCategorizeGenericError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"connection error", errors.New("connection refused"), ErrorCategoryConnection},
		{"timeout error", errors.New("operation timeout"), ErrorCategoryConnection},
		{"starttls sentinel", fmt.Errorf("%w: handshake", ErrStartTLS), ErrorCategoryConnection},
		{"bind sentinel", fmt.Errorf("%w: rejected", ErrBind), ErrorCategoryAuthentication},
		{"programming sentinel", fmt.Errorf("%w: two fields", ErrProgramming), ErrorCategoryValidation},
		{"unknown error", errors.New("something went wrong"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeGenericError(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("search", nil))

	wrapped := WrapError("bind", errors.New("authentication failed"))
	var ldapErr *LDAPError
	if assert.ErrorAs(t, wrapped, &ldapErr) {
		assert.Equal(t, "bind", ldapErr.Operation)
	}

	existing := &LDAPError{Operation: "existing", Message: "test"}
	assert.Same(t, existing, WrapError("search", existing))
}

func TestSearchError(t *testing.T) {
	cause := ldap.NewError(ldap.LDAPResultFilterError, errors.New("bad filter"))
	err := &SearchError{Filter: "(cn=*", Base: "dc=example,dc=com", Cause: cause}

	want := `LDAP query "(cn=*" (base dc=example,dc=com) failed. Error: ` +
		ldap.LDAPResultCodeMap[ldap.LDAPResultFilterError] + ": bad filter"
	assert.Equal(t, want, err.Error())
	assert.True(t, ldap.IsErrorWithCode(err, ldap.LDAPResultFilterError))
}

func TestResultCodePredicates(t *testing.T) {
	invalid := fmt.Errorf("bind: %w", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("80090308")))
	missing := ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New(""))
	sizeLimit := ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New(""))
	adminLimit := ldap.NewError(ldap.LDAPResultAdminLimitExceeded, errors.New(""))

	assert.True(t, IsInvalidCredentials(invalid))
	assert.False(t, IsInvalidCredentials(missing))
	assert.True(t, IsNoSuchObject(missing))
	assert.True(t, IsNotFoundError(missing))
	assert.True(t, IsSizeLimitError(sizeLimit))
	assert.True(t, IsSizeLimitError(adminLimit))
	assert.False(t, IsSizeLimitError(errors.New("size")))
	assert.True(t, IsAuthenticationError(invalid))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"retryable connection error", NewConnectionError("connection failed", true, nil), true},
		{"non-retryable connection error", NewConnectionError("config error", false, nil), false},
		{"retryable LDAP error", NewLDAPError("search", "", ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy"))), true},
		{"non-retryable LDAP error", NewLDAPError("bind", "", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password"))), false},
		{"raw busy", ldap.NewError(ldap.LDAPResultUnavailable, errors.New("")), true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
