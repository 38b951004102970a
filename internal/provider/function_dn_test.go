package provider_test

import (
	"context"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/terraform-provider-ldap/internal/provider"
)

func runFunction(t *testing.T, f function.Function, result attr.Value, args ...attr.Value) (attr.Value, *function.FuncError) {
	t.Helper()

	req := function.RunRequest{Arguments: function.NewArgumentsData(args)}
	resp := function.RunResponse{Result: function.NewResultData(result)}

	f.Run(context.Background(), req, &resp)

	return resp.Result.Value(), resp.Error
}

func stringList(t *testing.T, values ...string) types.List {
	t.Helper()

	elems := make([]attr.Value, len(values))
	for i, v := range values {
		elems[i] = types.StringValue(v)
	}
	list, diags := types.ListValue(types.StringType, elems)
	require.False(t, diags.HasError(), "%v", diags)
	return list
}

func TestDNFunctions_Metadata(t *testing.T) {
	testCases := []struct {
		fn   function.Function
		name string
	}{
		{provider.NewQuoteDNFunction(), "quote_dn"},
		{provider.NewQuoteSearchFunction(), "quote_search"},
		{provider.NewExplodeDNFunction(), "explode_dn"},
		{provider.NewImplodeDNFunction(), "implode_dn"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var resp function.MetadataResponse
			tc.fn.Metadata(context.Background(), function.MetadataRequest{}, &resp)
			assert.Equal(t, tc.name, resp.Name)

			var def function.DefinitionResponse
			tc.fn.Definition(context.Background(), function.DefinitionRequest{}, &def)
			assert.NotEmpty(t, def.Definition.Summary)
			assert.NotEmpty(t, def.Definition.Parameters)
		})
	}
}

func TestQuoteDNFunction(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "alice", "alice"},
		{"comma", "Smith, John", `Smith\2c John`},
		{"equals and plus", "a=b+c", `a\3db\2bc`},
		{"backslash", `dom\user`, `dom\5cuser`},
		{"hash", "#1", `\231`},
		{"empty", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := runFunction(t, provider.NewQuoteDNFunction(), types.StringUnknown(), types.StringValue(tc.input))
			require.Nil(t, err)
			assert.Equal(t, types.StringValue(tc.expected), result)
		})
	}
}

func TestQuoteSearchFunction(t *testing.T) {
	testCases := []struct {
		name          string
		input         string
		allowWildcard types.Bool
		expected      string
	}{
		{"plain", "alice", types.BoolNull(), "alice"},
		{"parens", "(admin)", types.BoolNull(), `\28admin\29`},
		{"wildcard escaped by default", "al*", types.BoolNull(), `al\2a`},
		{"wildcard escaped explicitly", "al*", types.BoolValue(false), `al\2a`},
		{"wildcard kept", "al*", types.BoolValue(true), "al*"},
		{"backslash", `a\b`, types.BoolValue(true), `a\5cb`},
		{"nul", "a\x00b", types.BoolNull(), `a\00b`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := runFunction(t, provider.NewQuoteSearchFunction(), types.StringUnknown(),
				types.StringValue(tc.input), tc.allowWildcard)
			require.Nil(t, err)
			assert.Equal(t, types.StringValue(tc.expected), result)
		})
	}
}

func TestExplodeDNFunction(t *testing.T) {
	listUnknown := types.ListUnknown(types.StringType)

	testCases := []struct {
		name      string
		dn        string
		withTypes types.Bool
		expected  types.List
		expectErr bool
	}{
		{
			name:      "with types by default",
			dn:        "uid=alice,ou=people,dc=example,dc=com",
			withTypes: types.BoolNull(),
			expected:  stringList(t, "uid=alice", "ou=people", "dc=example", "dc=com"),
		},
		{
			name:      "values only",
			dn:        "uid=alice,ou=people,dc=example,dc=com",
			withTypes: types.BoolValue(false),
			expected:  stringList(t, "alice", "people", "example", "com"),
		},
		{
			name:      "escaped value",
			dn:        `cn=Smith\, John,dc=example`,
			withTypes: types.BoolValue(false),
			expected:  stringList(t, "Smith, John", "example"),
		},
		{
			name:      "multi-valued rdn",
			dn:        "cn=a+sn=b,dc=example",
			withTypes: types.BoolValue(true),
			expected:  stringList(t, "cn=a+sn=b", "dc=example"),
		},
		{
			name:      "empty",
			dn:        "",
			withTypes: types.BoolNull(),
			expected:  stringList(t),
		},
		{
			name:      "invalid",
			dn:        "not a dn",
			withTypes: types.BoolNull(),
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := runFunction(t, provider.NewExplodeDNFunction(), listUnknown,
				types.StringValue(tc.dn), tc.withTypes)
			if tc.expectErr {
				require.NotNil(t, err)
				assert.Contains(t, err.Error(), "Invalid DN")
				return
			}
			require.Nil(t, err)
			assert.True(t, tc.expected.Equal(result), "got %v", result)
		})
	}
}

func TestImplodeDNFunction(t *testing.T) {
	testCases := []struct {
		name     string
		parts    types.List
		expected string
	}{
		{"typed", stringList(t, "uid=alice", "ou=people", "dc=example"), "uid=alice,ou=people,dc=example"},
		{"escapes values", stringList(t, "cn=Smith, John", "dc=example"), `cn=Smith\2c John,dc=example`},
		{"multi-valued rdn", stringList(t, "cn=a+sn=b", "dc=example"), "cn=a+sn=b,dc=example"},
		{"empty", stringList(t), ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := runFunction(t, provider.NewImplodeDNFunction(), types.StringUnknown(), tc.parts)
			require.Nil(t, err)
			assert.Equal(t, types.StringValue(tc.expected), result)
		})
	}
}
