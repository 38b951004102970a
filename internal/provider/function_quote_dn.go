package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/function"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ function.Function = &QuoteDNFunction{}

// QuoteDNFunction implements the quote_dn function.
type QuoteDNFunction struct{}

func NewQuoteDNFunction() function.Function {
	return &QuoteDNFunction{}
}

func (f QuoteDNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "quote_dn"
}

func (f QuoteDNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Escape a value for use in a DN",
		Description: "Escapes the characters , = + < > ; \\ \" and # as a backslash followed by two hex digits, so the value can be used as an RDN value.",
		MarkdownDescription: "Escapes the characters `,` `=` `+` `<` `>` `;` `\\` `\"` and `#` as a backslash followed by two lowercase hex digits, " +
			"so the value can be used as an RDN value.\n\n" +
			"Example: `provider::ldap::quote_dn(\"Doe, John\")` returns `Doe\\2c John`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "value",
				Description: "The attribute value to escape.",
			},
		},
		Return: function.StringReturn{},
	}
}

func (f QuoteDNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var value string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &value))
	if resp.Error != nil {
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, ldapclient.QuoteForDN(value)))
}
