package validators

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ validator.String = dnValidator{}

// dnValidator validates that a string is a Distinguished Name.
type dnValidator struct {
	allowEmpty bool
}

func (v dnValidator) Description(_ context.Context) string {
	if v.allowEmpty {
		return "value must be empty or a valid Distinguished Name (DN)"
	}
	return "value must be a valid Distinguished Name (DN)"
}

func (v dnValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v dnValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if value == "" {
		if !v.allowEmpty {
			response.Diagnostics.AddAttributeError(
				request.Path,
				"Invalid Distinguished Name",
				"The value \"\" is not a valid Distinguished Name format: DN cannot be empty",
			)
		}
		return
	}

	if _, err := ldapclient.NormalizeDN(value); err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid Distinguished Name",
			fmt.Sprintf("The value %q is not a valid Distinguished Name format: %s", value, err.Error()),
		)
	}
}

// IsValidDN returns a validator which ensures that any configured
// attribute value is a valid Distinguished Name (DN).
//
// Unknown values and null values are skipped from validation.
func IsValidDN() validator.String {
	return dnValidator{}
}

// IsValidBaseDN is IsValidDN accepting the empty DN of the root DSE.
func IsValidBaseDN() validator.String {
	return dnValidator{allowEmpty: true}
}
