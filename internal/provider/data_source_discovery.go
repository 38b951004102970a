package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ datasource.DataSource = &DiscoveryDataSource{}

func NewDiscoveryDataSource() datasource.DataSource {
	return &DiscoveryDataSource{}
}

// DiscoveryDataSource locates the directory server of a DNS domain.
type DiscoveryDataSource struct {
	data *ldapclient.ProviderData
}

// DiscoveryDataSourceModel describes the data source data model.
type DiscoveryDataSourceModel struct {
	Domain            types.String `tfsdk:"domain"`
	ID                types.String `tfsdk:"id"`
	Successful        types.Bool   `tfsdk:"successful"`
	Error             types.String `tfsdk:"error"`
	Hostname          types.String `tfsdk:"hostname"`
	Port              types.Int64  `tfsdk:"port"`
	UseTLS            types.Bool   `tfsdk:"use_tls"`
	RootDN            types.String `tfsdk:"root_dn"`
	Vendor            types.String `tfsdk:"vendor"`
	ActiveDirectory   types.Bool   `tfsdk:"active_directory"`
	UserClass         types.String `tfsdk:"user_class"`
	UserNameAttribute types.String `tfsdk:"user_name_attribute"`
}

func (d *DiscoveryDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_discovery"
}

func (d *DiscoveryDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Discovers the directory server of a DNS domain. The domain itself is probed on port 389 first, " +
			"then the first server announced by `_ldap._tcp` and `_ldaps._tcp` SRV records. " +
			"Probes reuse the provider credentials and TLS settings. Failure is reported in `successful` rather than as an error.",

		Attributes: map[string]schema.Attribute{
			"domain": schema.StringAttribute{
				MarkdownDescription: "The DNS domain, e.g. `example.com`.",
				Required:            true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"id": schema.StringAttribute{
				MarkdownDescription: "The domain.",
				Computed:            true,
			},
			"successful": schema.BoolAttribute{
				MarkdownDescription: "Whether a server answered.",
				Computed:            true,
			},
			"error": schema.StringAttribute{
				MarkdownDescription: "The last probe error when discovery failed.",
				Computed:            true,
			},
			"hostname": schema.StringAttribute{
				MarkdownDescription: "Suggested `hostname` for the provider.",
				Computed:            true,
			},
			"port": schema.Int64Attribute{
				MarkdownDescription: "Suggested `port` for the provider.",
				Computed:            true,
			},
			"use_tls": schema.BoolAttribute{
				MarkdownDescription: "Whether the server was found via `_ldaps._tcp`.",
				Computed:            true,
			},
			"root_dn": schema.StringAttribute{
				MarkdownDescription: "Suggested `root_dn`, the default naming context of the server. Guessed from the domain labels when discovery failed.",
				Computed:            true,
			},
			"vendor": schema.StringAttribute{
				MarkdownDescription: "The directory server product.",
				Computed:            true,
			},
			"active_directory": schema.BoolAttribute{
				MarkdownDescription: "Whether the server is an Active Directory domain controller.",
				Computed:            true,
			},
			"user_class": schema.StringAttribute{
				MarkdownDescription: "Suggested object class of user entries: `user` on Active Directory, else `inetOrgPerson`.",
				Computed:            true,
			},
			"user_name_attribute": schema.StringAttribute{
				MarkdownDescription: "Suggested login name attribute: `sAMAccountName` on Active Directory, else `uid`.",
				Computed:            true,
			},
		},
	}
}

func (d *DiscoveryDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if pd, ok := providerData(req.ProviderData, &resp.Diagnostics, "Data Source"); ok {
		d.data = pd
	}
}

func (d *DiscoveryDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data DiscoveryDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	domain := data.Domain.ValueString()
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_discovery", "read", map[string]any{"domain": domain})
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	discoverer := d.data.Discoverer
	if discoverer == nil {
		discoverer = ldapclient.NewDiscoverer(nil, nil)
	}
	result := discoverer.DiscoverDomain(ctx, domain)

	tflog.Debug(ctx, "Domain discovery finished", map[string]any{
		"domain":     domain,
		"hostname":   result.Hostname,
		"port":       result.Port,
		"successful": result.Successful,
	})

	mapDiscoveryToModel(domain, result, &data)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func mapDiscoveryToModel(domain string, result *ldapclient.DiscoveryResult, data *DiscoveryDataSourceModel) {
	data.ID = types.StringValue(domain)
	data.Successful = types.BoolValue(result.Successful)
	data.Error = types.StringValue("")
	if result.Err != nil {
		data.Error = types.StringValue(result.Err.Error())
	}
	data.UseTLS = types.BoolValue(result.UseTLS)
	data.Vendor = types.StringValue(result.Capabilities.Vendor())
	data.ActiveDirectory = types.BoolValue(result.Capabilities.IsActiveDirectory())

	// Suggestions are best guesses when discovery failed; successful says which.
	backend, _ := result.BackendSuggestion()
	data.UserClass = types.StringValue(backend.UserClass)
	data.UserNameAttribute = types.StringValue(backend.UserNameAttribute)

	settings, _ := result.ResourceSuggestion()
	data.Hostname = types.StringValue(settings.Hostname)
	data.Port = types.Int64Value(int64(settings.Port))
	data.RootDN = types.StringValue(settings.RootDN)
}
