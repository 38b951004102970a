package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	customtypes "github.com/isometry/terraform-provider-ldap/internal/provider/types"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

var _ datasource.DataSource = &CredentialsDataSource{}

func NewCredentialsDataSource() datasource.DataSource {
	return &CredentialsDataSource{}
}

// CredentialsDataSource checks whether a DN and password can bind.
type CredentialsDataSource struct {
	data *ldapclient.ProviderData
}

// CredentialsDataSourceModel describes the data source data model.
type CredentialsDataSourceModel struct {
	DN       customtypes.DNStringValue `tfsdk:"dn"`
	Password types.String              `tfsdk:"password"`
	ID       types.String              `tfsdk:"id"`
	Valid    types.Bool                `tfsdk:"valid"`
}

func (d *CredentialsDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_credentials"
}

func (d *CredentialsDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Tests a DN and password by binding on a separate connection. " +
			"Rejected credentials yield `valid = false`; other failures are errors. An empty password is never valid.",

		Attributes: map[string]schema.Attribute{
			"dn": schema.StringAttribute{
				MarkdownDescription: "The DN to bind as.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "The password to test.",
				Required:            true,
				Sensitive:           true,
			},
			"id": schema.StringAttribute{
				MarkdownDescription: "The DN.",
				Computed:            true,
			},
			"valid": schema.BoolAttribute{
				MarkdownDescription: "Whether the server accepted the credentials.",
				Computed:            true,
			},
		},
	}
}

func (d *CredentialsDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if pd, ok := providerData(req.ProviderData, &resp.Diagnostics, "Data Source"); ok {
		d.data = pd
	}
}

func (d *CredentialsDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data CredentialsDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_credentials", "read", map[string]any{"dn": dn})
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	var valid bool
	err := d.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		var err error
		valid, err = c.TestCredentials(ctx, dn, data.Password.ValueString())
		return err
	})
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Testing Credentials", err)
		return
	}

	tflog.Debug(ctx, "Tested credentials", map[string]any{"dn": dn, "valid": valid})

	data.ID = types.StringValue(dn)
	data.Valid = types.BoolValue(valid)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
