package tools

import (
	"fmt"
)

// ValidateParams checks params against a JSON-Schema-shaped declaration:
// required fields, per-property primitive types, and additionalProperties.
// An empty schema accepts anything.
func ValidateParams(schema map[string]any, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	required, err := requiredFields(schema["required"])
	if err != nil {
		return err
	}
	for _, field := range required {
		if _, ok := params[field]; !ok {
			return fmt.Errorf("missing required parameter %q", field)
		}
	}

	properties, hasProperties := schema["properties"].(map[string]any)
	additional := true
	if raw, ok := schema["additionalProperties"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf(`schema "additionalProperties" must be a boolean`)
		}
		additional = b
	}

	for key, value := range params {
		propSchema, known := properties[key]
		if !known {
			if hasProperties && !additional {
				return fmt.Errorf("unknown parameter %q", key)
			}
			continue
		}
		prop, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}
		expected, ok := prop["type"].(string)
		if !ok {
			continue
		}
		if !matchesType(expected, value) {
			return fmt.Errorf("parameter %q must be of type %q", key, expected)
		}
	}
	return nil
}

func requiredFields(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf(`schema "required" entries must be strings`)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf(`schema "required" must be a string list`)
	}
}

func matchesType(expected string, value any) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			// JSON numbers decode as float64; accept integral values.
			return v == float64(int64(v))
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		// Unknown declared type: do not block on it.
		return true
	}
}
