package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/booldefault"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-ldap/internal/provider/types"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ resource.Resource = &EntryResource{}
var _ resource.ResourceWithImportState = &EntryResource{}

func NewEntryResource() resource.Resource {
	return &EntryResource{}
}

// EntryResource manages a directory entry and the attributes listed in its
// configuration. Attributes not listed are left alone.
type EntryResource struct {
	data *ldapclient.ProviderData
}

// EntryResourceModel describes the resource data model.
type EntryResourceModel struct {
	ID         types.String              `tfsdk:"id"`
	DN         customtypes.DNStringValue `tfsdk:"dn"`
	Attributes types.Map                 `tfsdk:"attributes"`
	Recursive  types.Bool                `tfsdk:"recursive"`
}

func (r *EntryResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_entry"
}

func (r *EntryResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Manages a directory entry. Only the attributes listed in `attributes` are managed; " +
			"changing `dn` renames or moves the entry in place.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The DN of the entry.",
				Computed:            true,
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "The DN of the entry, e.g. `ou=people,dc=example,dc=com`. The parent entry must exist.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"attributes": schema.MapAttribute{
				MarkdownDescription: "Attribute values by attribute name. Must include `objectClass` and the RDN attribute on creation. " +
					"Attributes removed from this map are deleted from the entry.",
				Required:    true,
				ElementType: types.ListType{ElemType: types.StringType},
			},
			"recursive": schema.BoolAttribute{
				MarkdownDescription: "Delete all entries below this one when the resource is destroyed. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
			},
		},
	}
}

func (r *EntryResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	if pd, ok := providerData(req.ProviderData, &resp.Diagnostics, "Resource"); ok {
		r.data = pd
	}
}

func (r *EntryResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	logCompletion := ldapclient.LogResourceOperation(ctx, "ldap_entry", "create", map[string]any{"dn": dn})
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	attributes, diags := helpers.MapToEntryAttributes(ctx, data.Attributes)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	err := r.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		return c.AddEntry(ctx, dn, attributes)
	})
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Creating Entry", err)
		return
	}

	tflog.Debug(ctx, "Created LDAP entry", map[string]any{
		"dn":         dn,
		"attributes": len(attributes),
	})

	data.ID = types.StringValue(dn)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *EntryResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	logCompletion := ldapclient.LogResourceOperation(ctx, "ldap_entry", "read", map[string]any{"dn": dn})
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	managed, diags := helpers.MapToEntryAttributes(ctx, data.Attributes)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	var entry *ldapclient.Entry
	err := r.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		var err error
		entry, err = c.FetchByDN(ctx, dn, managedFields(data.Attributes)...)
		return err
	})
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Reading Entry", err)
		return
	}
	if entry == nil {
		tflog.Debug(ctx, "LDAP entry no longer exists, removing from state", map[string]any{"dn": dn})
		resp.State.RemoveResource(ctx)
		return
	}

	tflog.Trace(ctx, "Read LDAP entry", map[string]any{
		"dn":      entry.DN,
		"managed": len(managed),
	})

	data.ID = types.StringValue(dn)
	data.Attributes, diags = helpers.EntryAttributesToMap(ctx, entry.Attributes)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *EntryResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var plan, state EntryResourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Plan.Get(ctx, &plan)...)
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	oldDN := state.DN.ValueString()
	newDN := plan.DN.ValueString()
	logCompletion := ldapclient.LogResourceOperation(ctx, "ldap_entry", "update", map[string]any{"dn": oldDN})
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	oldAttributes, diags := helpers.MapToEntryAttributes(ctx, state.Attributes)
	resp.Diagnostics.Append(diags...)
	newAttributes, diags := helpers.MapToEntryAttributes(ctx, plan.Attributes)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	newRDN, newParent, moved, err := moveTarget(oldDN, newDN)
	if err != nil {
		resp.Diagnostics.AddAttributeError(path.Root("dn"), "Invalid DN", err.Error())
		return
	}
	changes := attributeChanges(oldAttributes, newAttributes)

	err = r.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		if moved {
			if err := c.MoveEntry(ctx, oldDN, newRDN, newParent); err != nil {
				return err
			}
		}
		return c.ModifyEntry(ctx, newDN, changes...)
	})
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Updating Entry", err)
		return
	}

	tflog.Debug(ctx, "Updated LDAP entry", map[string]any{
		"dn":      newDN,
		"moved":   moved,
		"changes": len(changes),
	})

	plan.ID = types.StringValue(newDN)
	resp.Diagnostics.Append(resp.State.Set(ctx, &plan)...)
}

func (r *EntryResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	recursive := data.Recursive.ValueBool()
	logCompletion := ldapclient.LogResourceOperation(ctx, "ldap_entry", "delete", map[string]any{
		"dn":        dn,
		"recursive": recursive,
	})
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	var existed bool
	err := r.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		var err error
		if recursive {
			existed, err = c.DeleteRecursively(ctx, dn)
		} else {
			existed, err = c.DeleteDN(ctx, dn)
		}
		return err
	})
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Deleting Entry", err)
		return
	}

	if !existed {
		tflog.Debug(ctx, "LDAP entry was already gone", map[string]any{"dn": dn})
	}
}

func (r *EntryResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	ctx = initializeLogging(ctx)

	dn := strings.TrimSpace(req.ID)
	if _, err := customtypes.DNString(dn).Normalized(); err != nil || dn == "" {
		resp.Diagnostics.AddError(
			"Invalid Import ID",
			fmt.Sprintf("The import ID must be the DN of the entry, got %q.", req.ID),
		)
		return
	}

	tflog.Debug(ctx, "Importing LDAP entry", map[string]any{"dn": dn})

	var entry *ldapclient.Entry
	err := r.data.Pool.With(ctx, func(c *ldapclient.Connection) error {
		var err error
		entry, err = c.FetchByDN(ctx, dn)
		return err
	})
	if err != nil {
		addLDAPError(&resp.Diagnostics, "Error Importing Entry", err)
		return
	}
	if entry == nil {
		resp.Diagnostics.AddError("Entry Not Found", fmt.Sprintf("No entry exists at %q.", dn))
		return
	}

	attributes, diags := helpers.EntryAttributesToMap(ctx, entry.Attributes)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	data := EntryResourceModel{
		ID:         types.StringValue(dn),
		DN:         customtypes.DNString(dn),
		Attributes: attributes,
		Recursive:  types.BoolValue(false),
	}
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// managedFields requests exactly the attributes held in the map, so values
// are read back under the configured key.
func managedFields(attributes types.Map) []ldapclient.Field {
	names := make([]string, 0, len(attributes.Elements()))
	for name := range attributes.Elements() {
		names = append(names, name)
	}
	slices.Sort(names)
	if len(names) == 0 {
		return ldapclient.Fields("objectClass")
	}
	return ldapclient.Fields(names...)
}

// moveTarget returns the ModifyDN arguments turning oldDN into newDN.
// newParent is empty when the parent does not change.
func moveTarget(oldDN, newDN string) (newRDN, newParent string, moved bool, err error) {
	if ldapclient.EqualDN(oldDN, newDN) {
		return "", "", false, nil
	}

	newRDN, newParent, err = ldapclient.SplitDN(newDN)
	if err != nil {
		return "", "", false, err
	}
	_, oldParent, err := ldapclient.SplitDN(oldDN)
	if err != nil {
		return "", "", false, err
	}
	if ldapclient.EqualDN(oldParent, newParent) {
		newParent = ""
	}
	return newRDN, newParent, true, nil
}

// attributeChanges returns the modifications turning old into new, sorted by
// attribute. Attribute names compare case-insensitively; values compare in
// order.
func attributeChanges(old, new map[string][]string) []ldapclient.Change {
	oldByName := make(map[string][]string, len(old))
	for name, values := range old {
		oldByName[strings.ToLower(name)] = values
	}
	newByName := make(map[string]bool, len(new))

	var changes []ldapclient.Change
	for name, values := range new {
		newByName[strings.ToLower(name)] = true
		if previous, ok := oldByName[strings.ToLower(name)]; ok && slices.Equal(previous, values) {
			continue
		}
		changes = append(changes, ldapclient.Change{Op: ldapclient.ChangeReplace, Attribute: name, Values: values})
	}
	for name := range old {
		if !newByName[strings.ToLower(name)] {
			changes = append(changes, ldapclient.Change{Op: ldapclient.ChangeDelete, Attribute: name})
		}
	}

	slices.SortFunc(changes, func(a, b ldapclient.Change) int {
		return strings.Compare(strings.ToLower(a.Attribute), strings.ToLower(b.Attribute))
	})
	return changes
}
