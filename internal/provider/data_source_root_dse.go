package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/helpers"
)

var _ datasource.DataSource = &RootDSEDataSource{}

func NewRootDSEDataSource() datasource.DataSource {
	return &RootDSEDataSource{}
}

// RootDSEDataSource exposes the server capabilities read from the root DSE.
type RootDSEDataSource struct {
	data *ldapclient.ProviderData
}

// RootDSEDataSourceModel describes the data source data model.
type RootDSEDataSourceModel struct {
	ID                   types.String `tfsdk:"id"`
	Hostname             types.String `tfsdk:"hostname"`
	Vendor               types.String `tfsdk:"vendor"`
	Version              types.String `tfsdk:"version"`
	DefaultNamingContext types.String `tfsdk:"default_naming_context"`
	NamingContexts       types.List   `tfsdk:"naming_contexts"`
	SupportedOIDs        types.List   `tfsdk:"supported_oids"`
	SASLMechanisms       types.List   `tfsdk:"sasl_mechanisms"`
	DomainName           types.String `tfsdk:"domain_name"`
	PagedResults         types.Bool   `tfsdk:"paged_results"`
	StartTLS             types.Bool   `tfsdk:"starttls"`
	ActiveDirectory      types.Bool   `tfsdk:"active_directory"`
	DiscoverySuccessful  types.Bool   `tfsdk:"discovery_successful"`
	DiscoveryError       types.String `tfsdk:"discovery_error"`
	Attributes           types.Map    `tfsdk:"attributes"`
}

func (d *RootDSEDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_root_dse"
}

func (d *RootDSEDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads the root DSE of the directory server and reports its capabilities. " +
			"When the root DSE cannot be read, capabilities are guessed (LDAPv3 without paging) and `discovery_successful` is `false`.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The server the capabilities were read from.",
				Computed:            true,
			},
			"hostname": schema.StringAttribute{
				MarkdownDescription: "The server the capabilities were read from.",
				Computed:            true,
			},
			"vendor": schema.StringAttribute{
				MarkdownDescription: "Directory server product, e.g. `OpenLDAP` or `Microsoft Active Directory`. Empty when unknown.",
				Computed:            true,
			},
			"version": schema.StringAttribute{
				MarkdownDescription: "Directory server version. Empty when unknown.",
				Computed:            true,
			},
			"default_naming_context": schema.StringAttribute{
				MarkdownDescription: "The default naming context, falling back to the first naming context.",
				Computed:            true,
			},
			"naming_contexts": schema.ListAttribute{
				MarkdownDescription: "All naming contexts served.",
				Computed:            true,
				ElementType:         types.StringType,
			},
			"supported_oids": schema.ListAttribute{
				MarkdownDescription: "Supported controls, extensions, features and capabilities as sorted OIDs.",
				Computed:            true,
				ElementType:         types.StringType,
			},
			"sasl_mechanisms": schema.ListAttribute{
				MarkdownDescription: "Supported SASL mechanisms.",
				Computed:            true,
				ElementType:         types.StringType,
			},
			"domain_name": schema.StringAttribute{
				MarkdownDescription: "The NetBIOS name on Active Directory, otherwise the DNS domain built from the trailing `dc` components of the naming context.",
				Computed:            true,
			},
			"paged_results": schema.BoolAttribute{
				MarkdownDescription: "Whether the server supports the paged results control (RFC 2696).",
				Computed:            true,
			},
			"starttls": schema.BoolAttribute{
				MarkdownDescription: "Whether the server supports the StartTLS extended operation.",
				Computed:            true,
			},
			"active_directory": schema.BoolAttribute{
				MarkdownDescription: "Whether the server is a Microsoft Active Directory domain controller.",
				Computed:            true,
			},
			"discovery_successful": schema.BoolAttribute{
				MarkdownDescription: "Whether the root DSE could be read.",
				Computed:            true,
			},
			"discovery_error": schema.StringAttribute{
				MarkdownDescription: "Why discovery failed. Empty when `discovery_successful` is `true`.",
				Computed:            true,
			},
			"attributes": schema.MapAttribute{
				MarkdownDescription: "All root DSE attributes.",
				Computed:            true,
				ElementType:         types.ListType{ElemType: types.StringType},
			},
		},
	}
}

func (d *RootDSEDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if pd, ok := providerData(req.ProviderData, &resp.Diagnostics, "Data Source"); ok {
		d.data = pd
	}
}

func (d *RootDSEDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data RootDSEDataSourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_root_dse", "read", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	var (
		caps     *ldapclient.Capabilities
		hostname string
		ok       bool
		discErr  error
	)
	err := d.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		caps = c.Capabilities(ctx)
		hostname = c.Hostname()
		ok = c.DiscoverySuccessful()
		discErr = c.DiscoveryError()
		return nil
	})
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Reading Root DSE", err)
		return
	}

	tflog.Debug(ctx, "Read root DSE", map[string]any{
		"hostname": hostname,
		"vendor":   caps.Vendor(),
		"guessed":  !ok,
	})

	resp.Diagnostics.Append(d.mapCapabilitiesToModel(ctx, caps, hostname, ok, discErr, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (d *RootDSEDataSource) mapCapabilitiesToModel(ctx context.Context, caps *ldapclient.Capabilities, hostname string, ok bool, discErr error, data *RootDSEDataSourceModel) (diags diag.Diagnostics) {
	data.ID = types.StringValue(hostname)
	data.Hostname = types.StringValue(hostname)
	data.Vendor = types.StringValue(caps.Vendor())
	data.Version = types.StringValue(caps.Version())
	data.DefaultNamingContext = types.StringValue(caps.DefaultNamingContext())
	data.DomainName = types.StringValue(ldapclient.DomainName(caps))
	data.PagedResults = types.BoolValue(caps.HasPagedResult())
	data.StartTLS = types.BoolValue(caps.HasStartTLS())
	data.ActiveDirectory = types.BoolValue(caps.IsActiveDirectory())
	data.DiscoverySuccessful = types.BoolValue(ok)
	data.DiscoveryError = types.StringValue("")
	if discErr != nil {
		data.DiscoveryError = types.StringValue(discErr.Error())
	}

	var listDiags diag.Diagnostics
	data.NamingContexts, listDiags = types.ListValueFrom(ctx, types.StringType, nonNil(caps.NamingContexts()))
	diags.Append(listDiags...)
	data.SupportedOIDs, listDiags = types.ListValueFrom(ctx, types.StringType, nonNil(caps.OIDs()))
	diags.Append(listDiags...)
	data.SASLMechanisms, listDiags = types.ListValueFrom(ctx, types.StringType, nonNil(caps.SASLMechanisms()))
	diags.Append(listDiags...)
	data.Attributes, listDiags = helpers.EntryAttributesToMap(ctx, caps.Attributes().Attributes)
	diags.Append(listDiags...)

	return diags
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
