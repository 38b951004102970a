package provider

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-ldap/internal/provider/types"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

var _ datasource.DataSource = &SearchDataSource{}

func NewSearchDataSource() datasource.DataSource {
	return &SearchDataSource{}
}

// SearchDataSource runs a query against the directory.
type SearchDataSource struct {
	data *ldapclient.ProviderData
}

// SearchDataSourceModel describes the data source data model.
type SearchDataSourceModel struct {
	// Query
	Base        customtypes.DNStringValue `tfsdk:"base"`
	Scope       types.String              `tfsdk:"scope"`
	ObjectClass types.String              `tfsdk:"object_class"`
	Filters     types.Map                 `tfsdk:"filters"`
	Filter      types.String              `tfsdk:"filter"`
	Attributes  types.List                `tfsdk:"attributes"`
	Aliases     types.Map                 `tfsdk:"aliases"`
	Order       types.List                `tfsdk:"order"`
	Limit       types.Int64               `tfsdk:"limit"`
	Offset      types.Int64               `tfsdk:"offset"`
	Paged       types.Bool                `tfsdk:"paged"`
	Unfold      types.String              `tfsdk:"unfold"`

	// Output
	ID      types.String `tfsdk:"id"`
	Query   types.String `tfsdk:"query"`
	Entries types.List   `tfsdk:"entries"`
	DNs     types.List   `tfsdk:"dns"`
	Count   types.Int64  `tfsdk:"count"`
	Total   types.Int64  `tfsdk:"total"`
}

// OrderModel is one sort rule.
type OrderModel struct {
	Attribute types.String `tfsdk:"attribute"`
	Direction types.String `tfsdk:"direction"`
}

var searchEntryType = types.ObjectType{
	AttrTypes: map[string]attr.Type{
		"dn":         types.StringType,
		"attributes": helpers.AttributesType,
		"json":       types.StringType,
	},
}

func (d *SearchDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_search"
}

func (d *SearchDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Searches the directory. Conditions from `object_class`, `filters` and `filter` are combined with AND. " +
			"Results are sorted client-side when `order` is set, then windowed by `offset` and `limit`.",

		Attributes: map[string]schema.Attribute{
			"base": schema.StringAttribute{
				MarkdownDescription: "The DN to search below. Defaults to the provider `root_dn`.",
				Optional:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidBaseDN(),
				},
			},
			"scope": schema.StringAttribute{
				MarkdownDescription: "The search scope. " + validators.CaseInsensitiveOneOf(scopeNames...).MarkdownDescription(ctx) + " Defaults to `sub`.",
				Optional:            true,
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf(scopeNames...),
				},
			},
			"object_class": schema.StringAttribute{
				MarkdownDescription: "Only return entries of this object class.",
				Optional:            true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"filters": schema.MapAttribute{
				MarkdownDescription: "Equality conditions by attribute. `*` acts as a wildcard; a leading `!` negates the condition.",
				Optional:            true,
				ElementType:         types.StringType,
			},
			"filter": schema.StringAttribute{
				MarkdownDescription: "A raw LDAP filter, e.g. `(|(uid=alice)(uid=bob))`. Outer parentheses are optional.",
				Optional:            true,
				Validators: []validator.String{
					validators.IsValidFilter(),
				},
			},
			"attributes": schema.ListAttribute{
				MarkdownDescription: "Attributes to return. Defaults to all user attributes. Use `+` for operational attributes.",
				Optional:            true,
				ElementType:         types.StringType,
			},
			"aliases": schema.MapAttribute{
				MarkdownDescription: "Additional attributes to return under another key, as `alias = attribute`.",
				Optional:            true,
				ElementType:         types.StringType,
			},
			"order": schema.ListNestedAttribute{
				MarkdownDescription: "Sort rules, applied in order. Sort attributes missing from `attributes` are fetched and appear in the results.",
				Optional:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"attribute": schema.StringAttribute{
							MarkdownDescription: "The attribute or alias to sort by.",
							Required:            true,
						},
						"direction": schema.StringAttribute{
							MarkdownDescription: "Sort direction, `asc` or `desc`. Defaults to `asc`.",
							Optional:            true,
							Validators: []validator.String{
								validators.CaseInsensitiveOneOf("asc", "desc"),
							},
						},
					},
				},
			},
			"limit": schema.Int64Attribute{
				MarkdownDescription: "Maximum number of entries returned. `0` means unlimited.",
				Optional:            true,
				Validators: []validator.Int64{
					int64validator.AtLeast(0),
				},
			},
			"offset": schema.Int64Attribute{
				MarkdownDescription: "Number of entries skipped before `limit` applies.",
				Optional:            true,
				Validators: []validator.Int64{
					int64validator.AtLeast(0),
				},
			},
			"paged": schema.BoolAttribute{
				MarkdownDescription: "Use the paged results control when the server supports it. Defaults to `true`.",
				Optional:            true,
			},
			"unfold": schema.StringAttribute{
				MarkdownDescription: "Return one entry per value of this multi-valued attribute or alias.",
				Optional:            true,
			},

			"id": schema.StringAttribute{
				MarkdownDescription: "A hash of the rendered query.",
				Computed:            true,
			},
			"query": schema.StringAttribute{
				MarkdownDescription: "The rendered LDAP filter sent to the server.",
				Computed:            true,
			},
			"entries": schema.ListNestedAttribute{
				MarkdownDescription: "Matching entries.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"dn": schema.StringAttribute{
							MarkdownDescription: "The entry DN.",
							Computed:            true,
						},
						"attributes": schema.MapAttribute{
							MarkdownDescription: "Attribute values by attribute name or alias.",
							Computed:            true,
							ElementType:         types.ListType{ElemType: types.StringType},
						},
						"json": schema.StringAttribute{
							MarkdownDescription: "The attributes as a JSON object. Single values are strings, multiple values lists.",
							Computed:            true,
						},
					},
				},
			},
			"dns": schema.ListAttribute{
				MarkdownDescription: "The DN of every returned entry.",
				Computed:            true,
				ElementType:         types.StringType,
			},
			"count": schema.Int64Attribute{
				MarkdownDescription: "Number of returned entries.",
				Computed:            true,
			},
			"total": schema.Int64Attribute{
				MarkdownDescription: "Number of matching entries, ignoring `limit` and `offset`.",
				Computed:            true,
			},
		},
	}
}

var scopeNames = []string{string(ldapclient.ScopeBase), string(ldapclient.ScopeOne), string(ldapclient.ScopeSub)}

func (d *SearchDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if pd, ok := providerData(req.ProviderData, &resp.Diagnostics, "Data Source"); ok {
		d.data = pd
	}
}

func (d *SearchDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data SearchDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_search", "read", map[string]any{
		"base":  data.Base.ValueString(),
		"scope": data.Scope.ValueString(),
	})
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	var (
		result *ldapclient.Result
		total  int
		query  string
	)
	err := d.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		q := c.Select()
		if diags := d.buildQuery(ctx, &data, q); diags.HasError() {
			resp.Diagnostics.Append(diags...)
			return nil
		}
		query = q.String()

		var err error
		if result, err = c.FetchAll(ctx, q); err != nil {
			return err
		}
		if q.GetLimit() == 0 && q.GetOffset() == 0 {
			total = result.Len()
			return nil
		}
		total, err = c.Count(ctx, q)
		return err
	})
	if resp.Diagnostics.HasError() {
		return
	}
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Searching Directory", err)
		return
	}

	tflog.Debug(ctx, "Search completed", map[string]any{
		"filter":  query,
		"entries": result.Len(),
		"total":   total,
	})

	data.ID = types.StringValue(fmt.Sprintf("%x", sha256.Sum256([]byte(data.Base.ValueString()+"|"+query))))
	data.Query = types.StringValue(query)
	data.Count = types.Int64Value(int64(result.Len()))
	data.Total = types.Int64Value(int64(total))

	var diags diag.Diagnostics
	data.DNs, diags = types.ListValueFrom(ctx, types.StringType, result.DNs())
	resp.Diagnostics.Append(diags...)
	data.Entries, diags = entriesToList(ctx, result.Entries)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// buildQuery applies the configuration to q.
func (d *SearchDataSource) buildQuery(ctx context.Context, data *SearchDataSourceModel, q *ldapclient.Query) (diags diag.Diagnostics) {
	q.SetBase(data.Base.ValueString())

	if !data.Scope.IsNull() {
		scope, err := ldapclient.ParseScope(validators.Canonical(data.Scope.ValueString(), scopeNames...))
		if err != nil {
			diags.AddAttributeError(path.Root("scope"), "Invalid Scope", err.Error())
			return diags
		}
		q.SetScope(scope)
	}

	if !data.ObjectClass.IsNull() {
		q.Where("objectClass", data.ObjectClass.ValueString())
	}

	if !data.Filters.IsNull() {
		var filters map[string]string
		diags.Append(data.Filters.ElementsAs(ctx, &filters, false)...)
		attributes := make([]string, 0, len(filters))
		for attribute := range filters {
			attributes = append(attributes, attribute)
		}
		slices.Sort(attributes)
		for _, attribute := range attributes {
			value := filters[attribute]
			if negated, ok := cutNegation(value); ok {
				q.WhereNot(attribute, negated)
				continue
			}
			q.Where(attribute, value)
		}
	}

	if !data.Filter.IsNull() {
		q.SetNativeFilter(data.Filter.ValueString())
	}

	fields, fieldDiags := searchFields(ctx, data)
	diags.Append(fieldDiags...)
	if len(fields) > 0 {
		q.Columns(fields...)
	}

	if !data.Order.IsNull() {
		var rules []OrderModel
		diags.Append(data.Order.ElementsAs(ctx, &rules, false)...)
		for i, rule := range rules {
			direction, err := ldapclient.ParseSortDirection(rule.Direction.ValueString())
			if err != nil {
				diags.AddAttributeError(path.Root("order").AtListIndex(i).AtName("direction"), "Invalid Sort Direction", err.Error())
				continue
			}
			q.Order(rule.Attribute.ValueString(), direction)
		}
	}

	q.Limit(int(data.Limit.ValueInt64()), int(data.Offset.ValueInt64()))
	q.SetUsePagedResults(data.Paged.IsNull() || data.Paged.ValueBool())

	if !data.Unfold.IsNull() {
		q.SetUnfoldAttribute(data.Unfold.ValueString())
	}

	return diags
}

// searchFields combines plain and aliased attributes. Without explicit
// attributes, aliases are requested alongside all user attributes.
func searchFields(ctx context.Context, data *SearchDataSourceModel) ([]ldapclient.Field, diag.Diagnostics) {
	names, diags := helpers.StringList(ctx, data.Attributes)
	fields := ldapclient.Fields(names...)

	if data.Aliases.IsNull() || data.Aliases.IsUnknown() {
		return fields, diags
	}

	var aliases map[string]string
	diags.Append(data.Aliases.ElementsAs(ctx, &aliases, false)...)
	if len(aliases) == 0 {
		return fields, diags
	}
	if len(fields) == 0 {
		fields = ldapclient.Fields("*")
	}

	keys := make([]string, 0, len(aliases))
	for alias := range aliases {
		keys = append(keys, alias)
	}
	slices.Sort(keys)
	for _, alias := range keys {
		fields = append(fields, ldapclient.AliasedField(alias, aliases[alias]))
	}
	return fields, diags
}

func cutNegation(value string) (string, bool) {
	if len(value) > 1 && value[0] == '!' {
		return value[1:], true
	}
	return value, false
}

// entriesToList renders search rows as a list of entry objects.
func entriesToList(ctx context.Context, entries []*ldapclient.Entry) (types.List, diag.Diagnostics) {
	var diags diag.Diagnostics
	elements := make([]attr.Value, 0, len(entries))

	for _, entry := range entries {
		attributes, d := helpers.EntryAttributesToMap(ctx, entry.Attributes)
		diags.Append(d...)

		encoded, err := helpers.EntryJSON(entry)
		if err != nil {
			diags.AddError("Error Encoding Entry", err.Error())
			continue
		}

		obj, d := types.ObjectValue(searchEntryType.AttrTypes, map[string]attr.Value{
			"dn":         types.StringValue(entry.DN),
			"attributes": attributes,
			"json":       types.StringValue(encoded),
		})
		diags.Append(d...)
		elements = append(elements, obj)
	}

	if diags.HasError() {
		return types.ListNull(searchEntryType), diags
	}

	list, d := types.ListValue(searchEntryType, elements)
	diags.Append(d...)
	return list, diags
}
