package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/creasty/defaults"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/helpers"
)

var _ function.Function = &BuildTreeFunction{}

// BuildTreeConfig holds the options of the build_tree function.
type BuildTreeConfig struct {
	// RootDN is the DN of the returned node. Inputs outside it are dropped.
	// When empty, the longest DN suffix shared by all inputs is used.
	RootDN string `json:"root_dn,omitempty" default:""`

	// DNField names the field holding the DN of each node.
	DNField string `json:"dn_field,omitempty" default:"dn"`

	// RDNField names the field holding the RDN of each node.
	RDNField string `json:"rdn_field,omitempty" default:"rdn"`

	// ChildrenField names the field holding the children, keyed by RDN.
	ChildrenField string `json:"children_field,omitempty" default:"children"`

	// MaxDepth limits the depth of the tree below the root.
	MaxDepth int64 `json:"max_depth,omitempty" default:"10"`
}

// Validate reports invalid configuration values.
func (c *BuildTreeConfig) Validate() error {
	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be greater than 0, got %d", c.MaxDepth)
	}
	if c.DNField == "" || c.RDNField == "" || c.ChildrenField == "" {
		return fmt.Errorf("dn_field, rdn_field and children_field cannot be empty")
	}
	if c.DNField == c.ChildrenField || c.RDNField == c.ChildrenField {
		return fmt.Errorf("children_field %q clashes with dn_field or rdn_field", c.ChildrenField)
	}
	if c.RootDN != "" {
		if _, err := ldapclient.NormalizeDN(c.RootDN); err != nil {
			return fmt.Errorf("root_dn: %w", err)
		}
	}
	return nil
}

// BuildTreeFunction implements the build_tree function.
type BuildTreeFunction struct{}

func NewBuildTreeFunction() function.Function {
	return &BuildTreeFunction{}
}

func (f BuildTreeFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "build_tree"
}

func (f BuildTreeFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary: "Arrange entries by DN into a tree",
		Description: "Arranges a map keyed by DN into a nested object following the directory hierarchy. Every node keeps the fields of its input value " +
			"and gains dn, rdn and children fields. Missing intermediate entries become nodes without input fields. " +
			"Configuration fields (all optional): root_dn, dn_field (default: dn), rdn_field (default: rdn), children_field (default: children), max_depth (default: 10).",
		MarkdownDescription: "Arranges a map keyed by DN into a nested object following the directory hierarchy, " +
			"e.g. `{ for e in data.ldap_search.all.entries : e.dn => e.attributes }`.\n\n" +
			"Every node keeps the fields of its input value and gains `dn`, `rdn` and `children` fields; `children` is keyed by RDN. " +
			"Missing intermediate entries become nodes without input fields. Keys that are not valid DNs are rejected.\n\n" +
			"**Configuration fields (all optional):**\n" +
			"- `root_dn` (string): DN of the returned node; inputs outside it are dropped. Defaults to the longest DN suffix shared by all inputs\n" +
			"- `dn_field` (string): field name for the node DN (default: \"dn\")\n" +
			"- `rdn_field` (string): field name for the node RDN (default: \"rdn\")\n" +
			"- `children_field` (string): field name for the children (default: \"children\")\n" +
			"- `max_depth` (number): maximum depth below the root (default: 10)",
		Parameters: []function.Parameter{
			function.DynamicParameter{
				Name:        "input",
				Description: "Map or object keyed by DN. Values are objects or maps whose fields are copied onto the node.",
			},
			function.DynamicParameter{
				Name:           "config",
				Description:    "Optional configuration object. Null uses the defaults.",
				AllowNullValue: true,
			},
		},
		Return: function.DynamicReturn{},
	}
}

func (f BuildTreeFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var input, config types.Dynamic

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &input, &config))
	if resp.Error != nil {
		return
	}

	if input.IsNull() || input.IsUnknown() {
		resp.Error = function.NewArgumentFuncError(0, "input parameter cannot be null")
		return
	}

	inputMap, err := helpers.ExtractMapFromDynamic(ctx, input)
	if err != nil {
		resp.Error = function.NewArgumentFuncError(0, fmt.Sprintf("Failed to extract input map: %s", err.Error()))
		return
	}

	treeConfig, err := f.ParseConfig(ctx, config)
	if err != nil {
		resp.Error = function.NewArgumentFuncError(1, fmt.Sprintf("Invalid configuration: %s", err.Error()))
		return
	}

	objects := make(map[string]map[string]any, len(inputMap))
	for dn, value := range inputMap {
		goVal, err := helpers.TerraformValueToGo(ctx, value)
		if err != nil {
			resp.Error = function.NewFuncError(fmt.Sprintf("Failed to convert %s: %s", dn, err.Error()))
			return
		}
		switch v := goVal.(type) {
		case map[string]any:
			objects[dn] = v
		case nil:
			objects[dn] = map[string]any{}
		default:
			resp.Error = function.NewFuncError(fmt.Sprintf("value of %s must be a map or object, got %T", dn, goVal))
			return
		}
	}

	tree, err := f.BuildTree(objects, treeConfig)
	if err != nil {
		resp.Error = function.NewFuncError(fmt.Sprintf("Failed to build tree: %s", err.Error()))
		return
	}

	result, err := helpers.GoValueToTerraform(ctx, tree)
	if err != nil {
		resp.Error = function.NewFuncError(fmt.Sprintf("Failed to convert result to Terraform types: %s", err.Error()))
		return
	}

	resp.Error = resp.Result.Set(ctx, types.DynamicValue(result))
}

// BuildTree nests objects, keyed by DN, below the configured root.
func (f BuildTreeFunction) BuildTree(objects map[string]map[string]any, config *BuildTreeConfig) (map[string]any, error) {
	entries := make([]*ldapclient.Entry, 0, len(objects))
	dns := make([]string, 0, len(objects))
	for dn := range objects {
		if _, err := ldapclient.NormalizeDN(dn); err != nil {
			return nil, fmt.Errorf("key %q is not a valid DN: %w", dn, err)
		}
		entries = append(entries, &ldapclient.Entry{DN: dn})
		dns = append(dns, dn)
	}

	rootDN := config.RootDN
	if rootDN == "" {
		rootDN = commonDNSuffix(dns)
	}

	tree := ldapclient.BuildTree(rootDN, entries)

	rootRDN := ""
	if parts, err := ldapclient.ExplodeDN(rootDN, true); err == nil && len(parts) > 0 {
		rootRDN = parts[0]
	}

	var render func(i int, depth int64) (map[string]any, error)
	render = func(i int, depth int64) (map[string]any, error) {
		if depth > config.MaxDepth {
			return nil, fmt.Errorf("tree exceeds max_depth %d below %q", config.MaxDepth, rootDN)
		}

		n := tree.Node(i)
		node := map[string]any{}
		if n.Entry != nil {
			maps.Copy(node, objects[n.Entry.DN])
		}
		node[config.DNField] = n.DN
		node[config.RDNField] = n.RDN
		if i == 0 {
			node[config.RDNField] = rootRDN
		}

		if len(n.Children) > 0 {
			children := make(map[string]any, len(n.Children))
			for _, c := range n.Children {
				child, err := render(c, depth+1)
				if err != nil {
					return nil, err
				}
				children[tree.Node(c).RDN] = child
			}
			node[config.ChildrenField] = children
		}
		return node, nil
	}

	return render(0, 0)
}

// commonDNSuffix returns the longest run of trailing RDNs shared by dns.
func commonDNSuffix(dns []string) string {
	var common []string
	for i, dn := range dns {
		parts, err := ldapclient.ExplodeDN(dn, true)
		if err != nil {
			return ""
		}
		if i == 0 {
			common = parts
			continue
		}
		n := 0
		for n < len(common) && n < len(parts) && strings.EqualFold(common[len(common)-1-n], parts[len(parts)-1-n]) {
			n++
		}
		common = common[len(common)-n:]
	}
	return ldapclient.ImplodeDN(common)
}

// ParseConfig applies defaults and the optional configuration object.
func (f BuildTreeFunction) ParseConfig(ctx context.Context, config types.Dynamic) (*BuildTreeConfig, error) {
	treeConfig := &BuildTreeConfig{}
	if err := defaults.Set(treeConfig); err != nil {
		return nil, fmt.Errorf("failed to set defaults: %w", err)
	}

	if config.IsNull() || config.IsUnknown() || config.IsUnderlyingValueNull() {
		return treeConfig, treeConfig.Validate()
	}

	values, err := helpers.ExtractMapFromDynamic(ctx, config)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]any, len(values))
	for key, value := range values {
		if raw[key], err = helpers.TerraformValueToGo(ctx, value); err != nil {
			return nil, fmt.Errorf("failed to convert config field %s: %w", key, err)
		}
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(treeConfig); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return treeConfig, treeConfig.Validate()
}
