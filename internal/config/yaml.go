package config

import (
	"fmt"

	yaml "go.yaml.in/yaml/v3"
)

// yamlToJSONValue parses YAML into a value tree whose maps all have
// string keys, so the tree can round-trip through encoding/json and be
// decoded strictly with DisallowUnknownFields.
func yamlToJSONValue(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return stringifyKeys(v), nil
}

func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return in
	}
}
