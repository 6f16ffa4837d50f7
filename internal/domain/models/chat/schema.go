package chat

import (
	"fmt"
	"strings"
)

// Schema is the JSON-Schema-shaped descriptor used both for model-facing
// tool advertisement and for server-side input validation before
// execution. Only the subset the tool manifests actually use is
// supported: object/string/number/integer/boolean/array types,
// properties, required, enum and items.
type Schema struct {
	Type        string             `json:"type" yaml:"type"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty" yaml:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
}

// Validate checks a tool input object against the schema. The returned
// error describes the first violation found; nil means the input is
// acceptable.
func (s *Schema) Validate(input map[string]any) error {
	if s == nil {
		return nil
	}
	if s.Type != "" && s.Type != "object" {
		return fmt.Errorf("top-level schema must be an object, got %q", s.Type)
	}
	for _, name := range s.Required {
		if _, ok := input[name]; !ok {
			return fmt.Errorf("missing required property %q", name)
		}
	}
	for name, value := range input {
		prop, ok := s.Properties[name]
		if !ok {
			// Unknown properties are tolerated; vendors add fields.
			continue
		}
		if err := prop.validateValue(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) validateValue(name string, value any) error {
	switch s.Type {
	case "", "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("property %q must be an object", name)
		}
		if s.Type == "object" {
			nested := &Schema{Type: "object", Properties: s.Properties, Required: s.Required}
			if err := nested.validateObject(name, obj); err != nil {
				return err
			}
		}
	case "string":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("property %q must be a string", name)
		}
		if len(s.Enum) > 0 && !contains(s.Enum, str) {
			return fmt.Errorf("property %q must be one of [%s]", name, strings.Join(s.Enum, ", "))
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("property %q must be a number", name)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("property %q must be an integer", name)
			}
		default:
			return fmt.Errorf("property %q must be an integer", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("property %q must be a boolean", name)
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("property %q must be an array", name)
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := s.Items.validateValue(fmt.Sprintf("%s[%d]", name, i), item); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("property %q has unsupported schema type %q", name, s.Type)
	}
	return nil
}

func (s *Schema) validateObject(name string, obj map[string]any) error {
	for _, req := range s.Required {
		if _, ok := obj[req]; !ok {
			return fmt.Errorf("property %q missing required property %q", name, req)
		}
	}
	for key, value := range obj {
		prop, ok := s.Properties[key]
		if !ok {
			continue
		}
		if err := prop.validateValue(name+"."+key, value); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
