package validators

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
)

var _ validator.String = filterValidator{}

// filterValidator validates RFC 4515 search filters.
type filterValidator struct{}

func (v filterValidator) Description(_ context.Context) string {
	return "value must be a valid LDAP search filter"
}

func (v filterValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v filterValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if value == "" {
		return
	}

	filter := value
	if filter[0] != '(' {
		filter = "(" + filter + ")"
	}
	if _, err := ldap.CompileFilter(filter); err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid LDAP Filter",
			fmt.Sprintf("The value %q is not a valid LDAP search filter: %s", value, err.Error()),
		)
	}
}

// IsValidFilter returns a validator for native LDAP search filters. The
// outer parentheses may be omitted.
func IsValidFilter() validator.String {
	return filterValidator{}
}
