package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ function.Function = &ExplodeDNFunction{}

// ExplodeDNFunction implements the explode_dn function.
type ExplodeDNFunction struct{}

func NewExplodeDNFunction() function.Function {
	return &ExplodeDNFunction{}
}

func (f ExplodeDNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "explode_dn"
}

func (f ExplodeDNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Split a DN into its RDN components",
		Description: "Splits a DN into its RDN components with unescaped values, leaf first. Multi-valued RDNs stay a single component joined with +.",
		MarkdownDescription: "Splits a DN into its RDN components with unescaped values, leaf first. Multi-valued RDNs stay a single component joined with `+`.\n\n" +
			"Example: `provider::ldap::explode_dn(\"cn=Doe\\\\, John,dc=example,dc=com\", true)` returns `[\"cn=Doe, John\", \"dc=example\", \"dc=com\"]`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "dn",
				Description: "The DN to split.",
			},
			function.BoolParameter{
				Name:                "with_types",
				Description:         "Return type=value components instead of bare values. Null means true.",
				MarkdownDescription: "Return `type=value` components instead of bare values. `null` means `true`.",
				AllowNullValue:      true,
			},
		},
		Return: function.ListReturn{ElementType: types.StringType},
	}
}

func (f ExplodeDNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var dn string
	var withTypes types.Bool

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &dn, &withTypes))
	if resp.Error != nil {
		return
	}

	parts, err := ldapclient.ExplodeDN(dn, withTypes.IsNull() || withTypes.ValueBool())
	if err != nil {
		resp.Error = function.NewArgumentFuncError(0, fmt.Sprintf("Invalid DN %q: %s", dn, err.Error()))
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, parts))
}
