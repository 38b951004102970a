package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ function.Function = &ImplodeDNFunction{}

// ImplodeDNFunction implements the implode_dn function.
type ImplodeDNFunction struct{}

func NewImplodeDNFunction() function.Function {
	return &ImplodeDNFunction{}
}

func (f ImplodeDNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "implode_dn"
}

func (f ImplodeDNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Join RDN components into a DN",
		Description: "Joins type=value components, leaf first, into a DN. Values are escaped, so the output of explode_dn is turned back into an equivalent DN.",
		MarkdownDescription: "Joins `type=value` components, leaf first, into a DN. Values are escaped, so the output of `explode_dn` is turned back into an equivalent DN.\n\n" +
			"Example: `provider::ldap::implode_dn([\"cn=Doe, John\", \"dc=example\", \"dc=com\"])` returns `cn=Doe\\2c John,dc=example,dc=com`.",
		Parameters: []function.Parameter{
			function.ListParameter{
				Name:        "parts",
				Description: "The RDN components, leaf first.",
				ElementType: types.StringType,
			},
		},
		Return: function.StringReturn{},
	}
}

func (f ImplodeDNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var parts []string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &parts))
	if resp.Error != nil {
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, ldapclient.ImplodeDN(parts)))
}
