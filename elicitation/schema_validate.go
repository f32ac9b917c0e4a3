package elicitation

import "fmt"

// validateAgainstSchema applies the subset of JSON Schema the elicitation
// core actually needs at accept time: required-field presence and a
// coarse type check for string/number/boolean/object/array properties.
// Full schema compilation is deliberately out of scope here — schemas
// are declared by the requester on the request itself, not used to
// drive arbitrary validation logic.
func validateAgainstSchema(schema map[string]interface{}, data map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := data[name]; !present {
				return fmt.Errorf("schema_violation: missing required field %q", name)
			}
		}
	}

	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	for name, value := range data {
		propSchema, ok := props[name].(map[string]interface{})
		if !ok {
			continue
		}
		wantType, ok := propSchema["type"].(string)
		if !ok {
			continue
		}
		if !matchesJSONType(value, wantType) {
			return fmt.Errorf("schema_violation: field %q does not match type %q", name, wantType)
		}
	}
	return nil
}

func matchesJSONType(value interface{}, wantType string) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	default:
		return true
	}
}
