package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

// initializeLogging registers the provider and client subsystems.
// It is called at the beginning of each data source Read method
// and resource Create/Read/Update/Delete methods.
func initializeLogging(ctx context.Context) context.Context {
	// Pattern: TF_LOG_PROVIDER_LDAP_<SUBSYSTEM>
	ctx = tflog.NewSubsystem(ctx, "provider",
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAP_PROVIDER"))
	return ldapclient.WithLogging(ctx)
}

// firstError turns the first error diagnostic into an error for completion logging.
func firstError(diags diag.Diagnostics) error {
	for _, d := range diags.Errors() {
		return fmt.Errorf("%s: %s", d.Summary(), d.Detail())
	}
	return nil
}

// providerData extracts the configured client from ProviderData. ok is false
// when the provider has not been configured yet.
func providerData(data any, diags *diag.Diagnostics, kind string) (*ldapclient.ProviderData, bool) {
	if data == nil {
		return nil, false
	}

	pd, isProviderData := data.(*ldapclient.ProviderData)
	if !isProviderData {
		diags.AddError(
			"Unexpected "+kind+" Configure Type",
			fmt.Sprintf("Expected *ldapclient.ProviderData, got: %T. Please report this issue to the provider developers.", data),
		)
		return nil, false
	}
	return pd, true
}

// addLDAPError renders err as a diagnostic. Invalid credentials are rendered
// without server details.
func addLDAPError(diags *diag.Diagnostics, summary string, err error) {
	if ldapclient.IsInvalidCredentials(err) {
		diags.AddError(summary, "Invalid username or password")
		return
	}
	diags.AddError(summary, err.Error())
}
