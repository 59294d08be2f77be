package schema

import "testing"

func TestSanitizeSchemaEmptyYieldsPlaceholder(t *testing.T) {
	got := SanitizeSchema(nil)
	props, ok := got["properties"].(map[string]interface{})
	if !ok || props["reason"] == nil {
		t.Fatalf("expected a reason placeholder property, got %v", got)
	}
}

func TestSanitizeSchemaConstBecomesEnum(t *testing.T) {
	got := SanitizeSchema(map[string]interface{}{"type": "string", "const": "fixed"})
	enum, ok := got["enum"].([]interface{})
	if !ok || len(enum) != 1 || enum[0] != "fixed" {
		t.Fatalf("expected const to become a single-value enum, got %v", got)
	}
}

func TestCleanSchemaUppercasesType(t *testing.T) {
	got := CleanSchema(map[string]interface{}{"type": "string"})
	if got["type"] != "STRING" {
		t.Fatalf("type = %v, want STRING", got["type"])
	}
}

func TestCleanSchemaDropsUndefinedRequired(t *testing.T) {
	got := CleanSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"a": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"a", "ghost"},
	})
	required, ok := got["required"].([]interface{})
	if !ok || len(required) != 1 || required[0] != "a" {
		t.Fatalf("expected required filtered to [a], got %v", got["required"])
	}
}
