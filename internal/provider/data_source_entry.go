package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-ldap/internal/provider/types"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

var _ datasource.DataSource = &EntryDataSource{}

func NewEntryDataSource() datasource.DataSource {
	return &EntryDataSource{}
}

// EntryDataSource reads a single entry by DN.
type EntryDataSource struct {
	data *ldapclient.ProviderData
}

// EntryDataSourceModel describes the data source data model.
type EntryDataSourceModel struct {
	DN         customtypes.DNStringValue `tfsdk:"dn"`
	Fields     types.List                `tfsdk:"fields"`
	ID         types.String              `tfsdk:"id"`
	Attributes types.Map                 `tfsdk:"attributes"`
	JSON       types.String              `tfsdk:"json"`
}

func (d *EntryDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_entry"
}

func (d *EntryDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads a single directory entry by its Distinguished Name.",

		Attributes: map[string]schema.Attribute{
			"dn": schema.StringAttribute{
				MarkdownDescription: "The DN of the entry, e.g. `uid=alice,ou=people,dc=example,dc=com`.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"fields": schema.ListAttribute{
				MarkdownDescription: "Attributes to read. Defaults to all user attributes.",
				Optional:            true,
				ElementType:         types.StringType,
			},
			"id": schema.StringAttribute{
				MarkdownDescription: "The DN as returned by the server.",
				Computed:            true,
			},
			"attributes": schema.MapAttribute{
				MarkdownDescription: "Attribute values by attribute name.",
				Computed:            true,
				ElementType:         types.ListType{ElemType: types.StringType},
			},
			"json": schema.StringAttribute{
				MarkdownDescription: "The attributes as a JSON object.",
				Computed:            true,
			},
		},
	}
}

func (d *EntryDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if pd, ok := providerData(req.ProviderData, &resp.Diagnostics, "Data Source"); ok {
		d.data = pd
	}
}

func (d *EntryDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data EntryDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_entry", "read", map[string]any{"dn": dn})
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	names, diags := helpers.StringList(ctx, data.Fields)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	var entry *ldapclient.Entry
	err := d.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		var err error
		entry, err = c.FetchByDN(ctx, dn, ldapclient.Fields(names...)...)
		return err
	})
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Reading Entry", err)
		return
	}
	if entry == nil {
		resp.Diagnostics.AddAttributeError(
			path.Root("dn"),
			"Entry Not Found",
			fmt.Sprintf("No entry exists at %q.", dn),
		)
		return
	}

	tflog.Debug(ctx, "Read entry", map[string]any{
		"dn":         entry.DN,
		"attributes": len(entry.Attributes),
	})

	data.ID = types.StringValue(entry.DN)
	data.Attributes, diags = helpers.EntryAttributesToMap(ctx, entry.Attributes)
	resp.Diagnostics.Append(diags...)

	encoded, err := helpers.EntryJSON(entry)
	if err != nil {
		resp.Diagnostics.AddError("Error Encoding Entry", err.Error())
		return
	}
	data.JSON = types.StringValue(encoded)

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
