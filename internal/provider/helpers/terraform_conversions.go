// Package helpers converts between Terraform values and directory entries.
// It is shared by resources, data sources and functions.
package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

// AttributesType is the Terraform type of an attribute map.
var AttributesType = types.MapType{ElemType: types.ListType{ElemType: types.StringType}}

// TerraformValueToGo converts various Terraform attr.Value types to Go values.
// It recursively handles complex types like lists, maps, objects, and sets.
// Returns nil for null values and an error for unknown values.
func TerraformValueToGo(ctx context.Context, value attr.Value) (any, error) {
	if value.IsNull() {
		return nil, nil
	}
	if value.IsUnknown() {
		return nil, fmt.Errorf("cannot process unknown values")
	}

	switch v := value.(type) {
	case types.String:
		return v.ValueString(), nil
	case types.Int64:
		return v.ValueInt64(), nil
	case types.Float64:
		return v.ValueFloat64(), nil
	case types.Bool:
		return v.ValueBool(), nil
	case types.Number:
		bigFloat := v.ValueBigFloat()
		if bigFloat == nil {
			return nil, fmt.Errorf("number value is nil")
		}
		floatVal, _ := bigFloat.Float64()
		return floatVal, nil
	case types.List:
		return elementsToGo(ctx, v.Elements())
	case types.Set:
		return elementsToGo(ctx, v.Elements())
	case types.Tuple:
		return elementsToGo(ctx, v.Elements())
	case types.Map:
		return attributesToGo(ctx, v.Elements())
	case types.Object:
		return attributesToGo(ctx, v.Attributes())
	case types.Dynamic:
		return TerraformValueToGo(ctx, v.UnderlyingValue())
	default:
		return nil, fmt.Errorf("unsupported type: %T", value)
	}
}

func elementsToGo(ctx context.Context, elements []attr.Value) ([]any, error) {
	result := make([]any, len(elements))
	for i, elem := range elements {
		goVal, err := TerraformValueToGo(ctx, elem)
		if err != nil {
			return nil, err
		}
		result[i] = goVal
	}
	return result, nil
}

func attributesToGo(ctx context.Context, attributes map[string]attr.Value) (map[string]any, error) {
	result := make(map[string]any, len(attributes))
	for key, elem := range attributes {
		goVal, err := TerraformValueToGo(ctx, elem)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", key, err)
		}
		result[key] = goVal
	}
	return result, nil
}

// ExtractMapFromDynamic extracts a map[string]attr.Value from a dynamic value.
// It handles both map and object types.
func ExtractMapFromDynamic(ctx context.Context, value types.Dynamic) (map[string]attr.Value, error) {
	switch v := value.UnderlyingValue().(type) {
	case types.Map:
		return v.Elements(), nil
	case types.Object:
		result := make(map[string]attr.Value, len(v.Attributes()))
		maps.Copy(result, v.Attributes())
		return result, nil
	default:
		return nil, fmt.Errorf("expected map or object type, got %T", v)
	}
}

// GoValueToTerraform converts Go values back to Terraform attr.Value types.
// Maps become objects and slices become tuples so element types may differ.
func GoValueToTerraform(ctx context.Context, value any) (attr.Value, error) {
	if value == nil {
		return types.StringNull(), nil
	}

	switch v := value.(type) {
	case string:
		return types.StringValue(v), nil
	case int:
		return types.Int64Value(int64(v)), nil
	case int64:
		return types.Int64Value(v), nil
	case float64:
		return types.Float64Value(v), nil
	case bool:
		return types.BoolValue(v), nil
	case []string:
		elements := make([]any, len(v))
		for i, s := range v {
			elements[i] = s
		}
		return GoValueToTerraform(ctx, elements)
	case map[string]any:
		attrTypes := make(map[string]attr.Type, len(v))
		attrValues := make(map[string]attr.Value, len(v))
		for key, val := range v {
			terraformVal, err := GoValueToTerraform(ctx, val)
			if err != nil {
				return nil, fmt.Errorf("failed to convert map element %s: %w", key, err)
			}
			attrValues[key] = terraformVal
			attrTypes[key] = terraformVal.Type(ctx)
		}
		return types.ObjectValueMust(attrTypes, attrValues), nil
	case []any:
		elements := make([]attr.Value, len(v))
		elementTypes := make([]attr.Type, len(v))
		for i, val := range v {
			terraformVal, err := GoValueToTerraform(ctx, val)
			if err != nil {
				return nil, fmt.Errorf("failed to convert list element %d: %w", i, err)
			}
			elements[i] = terraformVal
			elementTypes[i] = terraformVal.Type(ctx)
		}
		return types.TupleValueMust(elementTypes, elements), nil
	default:
		return nil, fmt.Errorf("unsupported Go type for conversion: %T", value)
	}
}

// EntryAttributesToMap renders normalized entry attributes as a map of
// string lists. Null attributes become empty lists.
func EntryAttributesToMap(ctx context.Context, attributes map[string]ldapclient.Value) (types.Map, diag.Diagnostics) {
	elements := make(map[string][]string, len(attributes))
	for name, value := range attributes {
		elements[name] = value.Strings()
		if elements[name] == nil {
			elements[name] = []string{}
		}
	}
	return types.MapValueFrom(ctx, AttributesType.ElemType, elements)
}

// MapToEntryAttributes reads a map of string lists, dropping attributes
// without values.
func MapToEntryAttributes(ctx context.Context, value types.Map) (map[string][]string, diag.Diagnostics) {
	result := map[string][]string{}
	if value.IsNull() || value.IsUnknown() {
		return result, nil
	}

	var raw map[string][]string
	diags := value.ElementsAs(ctx, &raw, false)
	for name, values := range raw {
		if len(values) > 0 {
			result[name] = values
		}
	}
	return result, diags
}

// EntryJSON encodes entry attributes as a JSON object. Single values are
// encoded as strings, multiple values as lists.
func EntryJSON(entry *ldapclient.Entry) (string, error) {
	data, err := json.Marshal(entry.Attributes)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes of %s: %w", entry.DN, err)
	}
	return string(data), nil
}

// StringList converts a list value into strings, skipping null elements.
func StringList(ctx context.Context, value types.List) ([]string, diag.Diagnostics) {
	if value.IsNull() || value.IsUnknown() {
		return nil, nil
	}
	var raw []types.String
	diags := value.ElementsAs(ctx, &raw, false)
	result := make([]string, 0, len(raw))
	for _, s := range raw {
		if !s.IsNull() && !s.IsUnknown() {
			result = append(result, s.ValueString())
		}
	}
	return result, diags
}
