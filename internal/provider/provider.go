package provider

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

// Ensure LDAPProvider satisfies various provider interfaces.
var _ provider.Provider = &LDAPProvider{}
var _ provider.ProviderWithFunctions = &LDAPProvider{}
var _ provider.ProviderWithConfigValidators = &LDAPProvider{}

// LDAPProvider defines the provider implementation.
type LDAPProvider struct {
	// Version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	Version string
}

// LDAPProviderModel describes the provider data model.
type LDAPProviderModel struct {
	Hostname     types.String `tfsdk:"hostname"`
	Port         types.Int64  `tfsdk:"port"`
	BindDN       types.String `tfsdk:"bind_dn"`
	BindPassword types.String `tfsdk:"bind_password"`
	RootDN       types.String `tfsdk:"root_dn"`
	Encryption   types.String `tfsdk:"encryption"`
	Timeout      types.Int64  `tfsdk:"timeout"`

	// TLS settings
	SkipTLSVerify types.Bool   `tfsdk:"skip_tls_verify"`
	TLSCACertFile types.String `tfsdk:"tls_ca_cert_file"`

	// Kerberos settings
	KerberosRealm  types.String `tfsdk:"kerberos_realm"`
	KerberosConfig types.String `tfsdk:"kerberos_config"`
	KerberosKeytab types.String `tfsdk:"kerberos_keytab"`
	KerberosSPN    types.String `tfsdk:"kerberos_spn"`

	MaxConnections types.Int64 `tfsdk:"max_connections"`
}

func (p *LDAPProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "ldap"
	resp.Version = p.Version
}

func (p *LDAPProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "The LDAP provider reads and manages entries of an LDAPv3 directory server such as OpenLDAP, 389 Directory Server or Active Directory. " +
			"Searches use the paged results control where the server supports it.",
		Attributes: map[string]schema.Attribute{
			"hostname": schema.StringAttribute{
				MarkdownDescription: "Hostname of the directory server. Several space separated hosts or `ldap://`/`ldaps://` URLs may be given, " +
					"they are tried in order. Can be set via the `LDAP_HOSTNAME` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"port": schema.Int64Attribute{
				MarkdownDescription: "Default port for hosts without an explicit port. Defaults to `389`, or `636` with `ldaps` encryption. " +
					"Can be set via the `LDAP_PORT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.Between(1, 65535),
				},
			},
			"bind_dn": schema.StringAttribute{
				MarkdownDescription: "DN to bind as. Anonymous when empty. With Kerberos this is the principal name. " +
					"Can be set via the `LDAP_BIND_DN` environment variable.",
				Optional: true,
			},
			"bind_password": schema.StringAttribute{
				MarkdownDescription: "Password of `bind_dn`. Can be set via the `LDAP_BIND_PASSWORD` environment variable.",
				Optional:            true,
				Sensitive:           true,
				Validators: []validator.String{
					stringvalidator.AlsoRequires(path.MatchRoot("bind_dn")),
				},
			},
			"root_dn": schema.StringAttribute{
				MarkdownDescription: "Base DN used by searches without an explicit base. " +
					"Can be set via the `LDAP_ROOT_DN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"encryption": schema.StringAttribute{
				MarkdownDescription: "Transport encryption: `none`, `starttls` or `ldaps`. Defaults to `none`. " +
					"Can be set via the `LDAP_ENCRYPTION` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf(ldapclient.Encryptions()...),
				},
			},
			"timeout": schema.Int64Attribute{
				MarkdownDescription: "Network timeout in seconds. Defaults to `30`. " +
					"Can be set via the `LDAP_TIMEOUT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},

			// TLS settings
			"skip_tls_verify": schema.BoolAttribute{
				MarkdownDescription: "Skip TLS certificate verification. Not recommended for production. Defaults to `false`. " +
					"Can be set via the `LDAP_SKIP_TLS_VERIFY` environment variable.",
				Optional: true,
			},
			"tls_ca_cert_file": schema.StringAttribute{
				MarkdownDescription: "Path to a PEM file with CA certificates trusted for the server certificate. " +
					"Can be set via the `LDAP_TLS_CA_CERT_FILE` environment variable.",
				Optional: true,
			},

			// Kerberos settings
			"kerberos_realm": schema.StringAttribute{
				MarkdownDescription: "Kerberos realm. When set, binds use GSSAPI instead of a simple bind. " +
					"Can be set via the `LDAP_KERBEROS_REALM` environment variable.",
				Optional: true,
			},
			"kerberos_config": schema.StringAttribute{
				MarkdownDescription: "Path to the Kerberos configuration file. A minimal configuration using DNS lookup of KDCs is generated when unset " +
					"and no system configuration exists. Can be set via the `LDAP_KERBEROS_CONFIG` environment variable.",
				Optional: true,
			},
			"kerberos_keytab": schema.StringAttribute{
				MarkdownDescription: "Path to a keytab holding the key of `bind_dn`. " +
					"Can be set via the `LDAP_KERBEROS_KEYTAB` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.AlsoRequires(path.MatchRoot("kerberos_realm")),
				},
			},
			"kerberos_spn": schema.StringAttribute{
				MarkdownDescription: "Override the service principal name. Defaults to `ldap/<hostname>`. " +
					"Can be set via the `LDAP_KERBEROS_SPN` environment variable.",
				Optional: true,
			},

			"max_connections": schema.Int64Attribute{
				MarkdownDescription: fmt.Sprintf("Maximum number of concurrent directory connections. Defaults to `%d`. ", ldapclient.DefaultMaxConnections) +
					"Can be set via the `LDAP_MAX_CONNECTIONS` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.Between(1, ldapclient.MaxConnectionPoolLimit),
				},
			},
		},
	}
}

// ConfigValidators implements provider.ProviderWithConfigValidators.
func (p *LDAPProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		providervalidator.Conflicting(
			path.MatchRoot("skip_tls_verify"),
			path.MatchRoot("tls_ca_cert_file"),
		),
	}
}

func (p *LDAPProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data LDAPProviderModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)

	tflog.Info(ctx, "Configuring LDAP provider", map[string]any{
		"version": p.Version,
	})

	config, maxConnections := p.buildLDAPConfig(&data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	start := time.Now()
	pool, err := ldapclient.NewConnectionPool(ctx, config, maxConnections)
	if err != nil {
		tflog.Error(ctx, "Failed to create LDAP connection pool", map[string]any{
			"error": err.Error(),
		})
		resp.Diagnostics.AddError(
			"Invalid LDAP Configuration",
			"The provider configuration cannot be used to connect to a directory server.\n\n"+
				"Configuration Error: "+err.Error(),
		)
		return
	}

	providerData := ldapclient.NewProviderData(pool, ldapclient.NewDiscoverer(nil, config))

	if err := providerData.ValidateConnection(ctx); err != nil {
		tflog.Error(ctx, "Connection test failed", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		summary, detail := connectionErrorDiagnostic(err)
		resp.Diagnostics.AddError(summary, detail)
		_ = providerData.Close(ctx)
		return
	}

	tflog.Info(ctx, "LDAP provider configured successfully", map[string]any{
		"hostname":    config.Hostname,
		"auth_method": config.AuthMethod(),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	resp.DataSourceData = providerData
	resp.ResourceData = providerData
}

// connectionErrorDiagnostic renders a failed connection test.
func connectionErrorDiagnostic(err error) (string, string) {
	switch {
	case ldapclient.IsInvalidCredentials(err):
		return "Authentication Failed", "Invalid username or password.\n\n" + err.Error()
	case ldapclient.IsAuthenticationError(err):
		return "Authentication Failed",
			"The provider could not authenticate with the directory server. " +
				"Please verify your authentication credentials and settings.\n\n" +
				"Authentication Error: " + err.Error()
	default:
		return "Unable to Connect to LDAP Server",
			"The provider could not establish a connection to the directory server. " +
				"Please verify your configuration settings.\n\n" +
				"Connection Error: " + err.Error()
	}
}

// configureLogging sets up logging configuration based on environment variables.
func (p *LDAPProvider) configureLogging(ctx context.Context) context.Context {
	ctx = tflog.SetField(ctx, "provider", "ldap")
	ctx = tflog.SetField(ctx, "provider_version", p.Version)
	ctx = ldapclient.WithLogging(ctx)

	tflog.Debug(ctx, "LDAP provider logging configured")

	return ctx
}

// buildLDAPConfig constructs the connection configuration from provider config and environment variables.
func (p *LDAPProvider) buildLDAPConfig(data *LDAPProviderModel, diags *diag.Diagnostics) (*ldapclient.ConnectionConfig, int) {
	config := ldapclient.DefaultConfig()

	config.Hostname = p.getStringValue(data.Hostname, "LDAP_HOSTNAME")
	if config.Hostname == "" {
		diags.AddAttributeError(
			path.Root("hostname"),
			"Missing LDAP Hostname",
			"The provider needs the hostname of a directory server. "+
				"Set the 'hostname' attribute or the LDAP_HOSTNAME environment variable.",
		)
		return config, 0
	}

	encryption, err := ldapclient.ParseEncryption(p.getStringValue(data.Encryption, "LDAP_ENCRYPTION"))
	if err != nil {
		diags.AddAttributeError(path.Root("encryption"), "Invalid Encryption", err.Error())
		return config, 0
	}
	config.Encryption = encryption

	config.Port = int(p.getInt64Value(data.Port, "LDAP_PORT", 0))
	if config.Port == 0 && encryption == ldapclient.EncryptionLDAPS {
		config.Port = 636
	} else if config.Port == 0 {
		config.Port = 389
	}

	config.BindDN = p.getStringValue(data.BindDN, "LDAP_BIND_DN")
	config.BindPassword = p.getStringValue(data.BindPassword, "LDAP_BIND_PASSWORD")
	config.RootDN = p.getStringValue(data.RootDN, "LDAP_ROOT_DN")

	if timeout := p.getInt64Value(data.Timeout, "LDAP_TIMEOUT", 30); timeout > 0 {
		config.Timeout = time.Duration(timeout) * time.Second
	}

	// TLS settings
	if p.getBoolValue(data.SkipTLSVerify, "LDAP_SKIP_TLS_VERIFY", false) {
		config.TLSConfig.InsecureSkipVerify = true
	}
	if caFile := p.getStringValue(data.TLSCACertFile, "LDAP_TLS_CA_CERT_FILE"); caFile != "" {
		pool, err := loadCertPool(caFile)
		if err != nil {
			diags.AddAttributeError(path.Root("tls_ca_cert_file"), "Invalid CA Certificate File", err.Error())
			return config, 0
		}
		config.TLSConfig.RootCAs = pool
	}

	// Kerberos settings
	config.KerberosRealm = p.getStringValue(data.KerberosRealm, "LDAP_KERBEROS_REALM")
	config.KerberosConfig = p.getStringValue(data.KerberosConfig, "LDAP_KERBEROS_CONFIG")
	config.KerberosKeytab = p.getStringValue(data.KerberosKeytab, "LDAP_KERBEROS_KEYTAB")
	config.KerberosSPN = p.getStringValue(data.KerberosSPN, "LDAP_KERBEROS_SPN")

	maxConnections := p.getInt64Value(data.MaxConnections, "LDAP_MAX_CONNECTIONS", ldapclient.DefaultMaxConnections)

	return config, int(maxConnections)
}

func loadCertPool(file string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", file, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificates found in %s", file)
	}
	return pool, nil
}

// Helper functions for configuration value resolution

func (p *LDAPProvider) getStringValue(configValue types.String, envVar string) string {
	if !configValue.IsNull() && configValue.ValueString() != "" {
		return configValue.ValueString()
	}
	return os.Getenv(envVar)
}

func (p *LDAPProvider) getBoolValue(configValue types.Bool, envVar string, defaultValue bool) bool {
	if !configValue.IsNull() {
		return configValue.ValueBool()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseBool(envValue); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPProvider) getInt64Value(configValue types.Int64, envVar string, defaultValue int64) int64 {
	if !configValue.IsNull() {
		return configValue.ValueInt64()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPProvider) Resources(ctx context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		NewEntryResource,
	}
}

func (p *LDAPProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewRootDSEDataSource,
		NewSearchDataSource,
		NewEntryDataSource,
		NewDiscoveryDataSource,
		NewCredentialsDataSource,
	}
}

func (p *LDAPProvider) Functions(ctx context.Context) []func() function.Function {
	return []func() function.Function{
		NewQuoteDNFunction,
		NewQuoteSearchFunction,
		NewExplodeDNFunction,
		NewImplodeDNFunction,
		NewBuildTreeFunction,
	}
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &LDAPProvider{
			Version: version,
		}
	}
}
