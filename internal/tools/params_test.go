package tools

import (
	"strings"
	"testing"

	"github.com/vireopay/dialog/internal/config"
)

func numberParam(name string, required bool) config.ToolParameter {
	return config.ToolParameter{Name: name, Type: "number", Required: required}
}

func TestCoerceNumberFromString(t *testing.T) {
	out, err := CoerceParams([]config.ToolParameter{numberParam("amount", true)},
		map[string]any{"amount": "100"})
	if err != nil {
		t.Fatalf("CoerceParams: %v", err)
	}
	if out["amount"] != 100.0 {
		t.Fatalf("amount = %#v, want 100.0", out["amount"])
	}
}

func TestCoerceNumberRejectsGarbage(t *testing.T) {
	_, err := CoerceParams([]config.ToolParameter{numberParam("amount", true)},
		map[string]any{"amount": "xyz"})
	if err == nil {
		t.Fatal("expected error for non-numeric string")
	}
}

func TestCoerceIntegerRules(t *testing.T) {
	declared := []config.ToolParameter{{Name: "count", Type: "integer", Required: true}}

	if _, err := CoerceParams(declared, map[string]any{"count": true}); err == nil {
		t.Fatal("integer must reject booleans")
	}

	out, err := CoerceParams(declared, map[string]any{"count": 3.9})
	if err != nil || out["count"] != 3 {
		t.Fatalf("floor truncate: %v %v", out["count"], err)
	}

	out, err = CoerceParams(declared, map[string]any{"count": "7.2"})
	if err != nil || out["count"] != 7 {
		t.Fatalf("string parse: %v %v", out["count"], err)
	}
}

func TestCoerceBooleanVocabulary(t *testing.T) {
	declared := []config.ToolParameter{{Name: "flag", Type: "boolean"}}
	truthy := []string{"true", "1", "yes", "Y", "YES"}
	falsy := []string{"false", "0", "no", "N"}

	for _, v := range truthy {
		out, err := CoerceParams(declared, map[string]any{"flag": v})
		if err != nil || out["flag"] != true {
			t.Errorf("%q => %v, %v, want true", v, out["flag"], err)
		}
	}
	for _, v := range falsy {
		out, err := CoerceParams(declared, map[string]any{"flag": v})
		if err != nil || out["flag"] != false {
			t.Errorf("%q => %v, %v, want false", v, out["flag"], err)
		}
	}
	if _, err := CoerceParams(declared, map[string]any{"flag": "maybe"}); err == nil {
		t.Error("unknown boolean word must fail")
	}
}

func TestCoerceStringFromScalar(t *testing.T) {
	declared := []config.ToolParameter{{Name: "note", Type: "string"}}
	out, err := CoerceParams(declared, map[string]any{"note": 42.0})
	if err != nil || out["note"] != "42" {
		t.Fatalf("note = %#v, %v", out["note"], err)
	}
}

func TestCoerceMissingRequired(t *testing.T) {
	_, err := CoerceParams([]config.ToolParameter{numberParam("amount", true)}, map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "amount") {
		t.Fatalf("err = %v", err)
	}
}

func TestCoerceEnum(t *testing.T) {
	declared := []config.ToolParameter{{Name: "country", Type: "string", Enum: []string{"MX", "GT"}}}
	if _, err := CoerceParams(declared, map[string]any{"country": "US"}); err == nil {
		t.Fatal("value outside enum must fail")
	}
	if _, err := CoerceParams(declared, map[string]any{"country": "MX"}); err != nil {
		t.Fatalf("enum member failed: %v", err)
	}
}

func TestCoerceObjectAndArrayShapes(t *testing.T) {
	declared := []config.ToolParameter{
		{Name: "details", Type: "object"},
		{Name: "items", Type: "array"},
	}
	if _, err := CoerceParams(declared, map[string]any{"details": "not an object"}); err == nil {
		t.Fatal("object type must require a map")
	}
	out, err := CoerceParams(declared, map[string]any{
		"details": map[string]any{"a": 1.0},
		"items":   []any{"x"},
	})
	if err != nil {
		t.Fatalf("CoerceParams: %v", err)
	}
	if _, ok := out["details"].(map[string]any); !ok {
		t.Fatal("object lost its shape")
	}
}

func TestCoerceDeterministic(t *testing.T) {
	declared := []config.ToolParameter{numberParam("amount", true)}
	in := map[string]any{"amount": "250.50"}
	first, err1 := CoerceParams(declared, in)
	second, err2 := CoerceParams(declared, in)
	if err1 != nil || err2 != nil || first["amount"] != second["amount"] {
		t.Fatalf("coercion not deterministic: %v %v %v %v", first, err1, second, err2)
	}
	if in["amount"] != "250.50" {
		t.Fatal("input map was mutated")
	}
}
