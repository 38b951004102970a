package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ function.Function = &QuoteSearchFunction{}

// QuoteSearchFunction implements the quote_search function.
type QuoteSearchFunction struct{}

func NewQuoteSearchFunction() function.Function {
	return &QuoteSearchFunction{}
}

func (f QuoteSearchFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "quote_search"
}

func (f QuoteSearchFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Escape a value for use in a search filter",
		Description: "Escapes the characters * ( ) \\ and NUL as a backslash followed by two hex digits, so the value can be used inside an LDAP filter.",
		MarkdownDescription: "Escapes the characters `*` `(` `)` `\\` and NUL as a backslash followed by two lowercase hex digits, " +
			"so the value can be used inside an LDAP filter.\n\n" +
			"Example: `provider::ldap::quote_search(\"a*(b)\", null)` returns `a\\2a\\28b\\29`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "value",
				Description: "The assertion value to escape.",
			},
			function.BoolParameter{
				Name:                "allow_wildcard",
				Description:         "Keep * as a wildcard. Null means false.",
				MarkdownDescription: "Keep `*` as a wildcard. `null` means `false`.",
				AllowNullValue:      true,
			},
		},
		Return: function.StringReturn{},
	}
}

func (f QuoteSearchFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var value string
	var allowWildcard types.Bool

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &value, &allowWildcard))
	if resp.Error != nil {
		return
	}

	quoted := ldapclient.QuoteForSearch(value, allowWildcard.ValueBool())
	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, quoted))
}
