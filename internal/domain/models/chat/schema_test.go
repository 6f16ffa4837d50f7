package chat

import (
	"strings"
	"testing"
)

func writeFileSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"path":      {Type: "string"},
			"content":   {Type: "string"},
			"overwrite": {Type: "boolean"},
			"mode":      {Type: "string", Enum: []string{"create", "append"}},
			"max_bytes": {Type: "integer"},
			"tags":      {Type: "array", Items: &Schema{Type: "string"}},
		},
		Required: []string{"path", "content"},
	}
}

func TestSchemaValidate(t *testing.T) {
	cases := []struct {
		name    string
		input   map[string]any
		wantErr string
	}{
		{
			name:  "valid minimal",
			input: map[string]any{"path": "a.txt", "content": "x"},
		},
		{
			name:  "valid full",
			input: map[string]any{"path": "a.txt", "content": "x", "overwrite": true, "mode": "append", "max_bytes": 10, "tags": []any{"one", "two"}},
		},
		{
			name:    "missing required",
			input:   map[string]any{"path": "a.txt"},
			wantErr: `missing required property "content"`,
		},
		{
			name:    "wrong type",
			input:   map[string]any{"path": 42, "content": "x"},
			wantErr: `property "path" must be a string`,
		},
		{
			name:    "enum violation",
			input:   map[string]any{"path": "a.txt", "content": "x", "mode": "truncate"},
			wantErr: `must be one of`,
		},
		{
			name:  "integer from json number",
			input: map[string]any{"path": "a.txt", "content": "x", "max_bytes": float64(7)},
		},
		{
			name:    "fractional integer",
			input:   map[string]any{"path": "a.txt", "content": "x", "max_bytes": 7.5},
			wantErr: `must be an integer`,
		},
		{
			name:    "bad array item",
			input:   map[string]any{"path": "a.txt", "content": "x", "tags": []any{"ok", 3}},
			wantErr: `tags[1]`,
		},
		{
			name:  "unknown property tolerated",
			input: map[string]any{"path": "a.txt", "content": "x", "vendor_hint": "anything"},
		},
	}

	schema := writeFileSchema()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := schema.Validate(tc.input)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestNilSchemaAcceptsAnything(t *testing.T) {
	var s *Schema
	if err := s.Validate(map[string]any{"whatever": 1}); err != nil {
		t.Errorf("nil schema Validate = %v", err)
	}
}

func TestNestedObjectValidation(t *testing.T) {
	schema := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"options": {
				Type: "object",
				Properties: map[string]*Schema{
					"depth": {Type: "integer"},
				},
				Required: []string{"depth"},
			},
		},
	}

	if err := schema.Validate(map[string]any{"options": map[string]any{"depth": 3}}); err != nil {
		t.Errorf("valid nested object rejected: %v", err)
	}
	err := schema.Validate(map[string]any{"options": map[string]any{}})
	if err == nil || !strings.Contains(err.Error(), `"depth"`) {
		t.Errorf("missing nested required = %v", err)
	}
}
