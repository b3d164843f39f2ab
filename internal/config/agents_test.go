package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeDoc(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderParsesDocuments(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "root.json", `{
		"config_id": "root",
		"name": "Root",
		"model_config": {"model": "test-model", "temperature": 0.3},
		"tools": [
			{"name": "enter_payments", "description": "Go to payments"},
			{
				"name": "create_transfer",
				"description": "Send money",
				"requires_confirmation": true,
				"confirmation_template": "Send ${{amount_usd}} to {{recipient_name}}?",
				"side_effects": "financial",
				"parameters": [
					{"name": "recipient_id", "type": "string", "required": true},
					{"name": "amount_usd", "type": "number", "required": true}
				]
			}
		],
		"subflows": [{
			"config_id": "send_money",
			"initial_state": "collect",
			"data_schema": ["recipient_name", "amount_usd"],
			"states": [
				{"state_id": "collect"},
				{"state_id": "done", "is_final": true}
			]
		}]
	}`)

	agents, err := NewLoader(dir, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	root := agents["root"]
	if root == nil {
		t.Fatal("root agent missing")
	}
	if root.ModelConfig.Model != "test-model" || root.ModelConfig.Temperature != 0.3 {
		t.Fatalf("model_config = %+v", root.ModelConfig)
	}
	tool := root.Tool("create_transfer")
	if tool == nil || !tool.RequiresConfirmation || tool.SideEffects != SideEffectsFinancial {
		t.Fatalf("create_transfer = %+v", tool)
	}
	flow := root.Subflow("send_money")
	if flow == nil || flow.InitialState != "collect" || flow.State("done") == nil {
		t.Fatalf("send_money = %+v", flow)
	}
	if !flow.State("done").IsFinal {
		t.Fatal("done state must be final")
	}
	if root.Raw["config_id"] != "root" {
		t.Fatal("raw document not retained")
	}
}

func TestLoaderRejectsInvalidDocuments(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing model", `{"config_id": "a", "name": "A", "model_config": {}}`, "invalid"},
		{"missing name", `{"config_id": "a", "model_config": {"model": "m"}}`, "invalid"},
		{"bad routing type", `{
			"config_id": "a", "name": "A", "model_config": {"model": "m"},
			"tools": [{"name": "t", "description": "d", "routing": {"routing_type": "teleport"}}]
		}`, "invalid"},
		{"not json", `{{`, "parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeDoc(t, dir, "a.json", tc.body)
			_, err := NewLoader(dir, nil).Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestLoaderRejectsDuplicateConfigID(t *testing.T) {
	dir := t.TempDir()
	doc := `{"config_id": "dup", "name": "A", "model_config": {"model": "m"}}`
	writeDoc(t, dir, "a.json", doc)
	writeDoc(t, dir, "b.json", doc)

	_, err := NewLoader(dir, nil).Load()
	if err == nil || !strings.Contains(err.Error(), "duplicate config_id") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoaderEmptyDirFails(t *testing.T) {
	_, err := NewLoader(t.TempDir(), nil).Load()
	if err == nil || !strings.Contains(err.Error(), "no agent documents") {
		t.Fatalf("err = %v", err)
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.json", `{"config_id": "a", "name": "Before", "model_config": {"model": "m"}}`)

	loader := NewLoader(dir, nil)
	agents, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if agents["a"].Name != "Before" {
		t.Fatalf("name = %q", agents["a"].Name)
	}

	writeDoc(t, dir, "a.json", `{"config_id": "a", "name": "After", "model_config": {"model": "m"}}`)
	if cached, _ := loader.Load(); cached["a"].Name != "Before" {
		t.Fatal("Load must serve the cache until Reload")
	}
	agents, err = loader.Reload()
	if err != nil {
		t.Fatal(err)
	}
	if agents["a"].Name != "After" {
		t.Fatalf("name after reload = %q", agents["a"].Name)
	}
}

func TestExtractPlaceholders(t *testing.T) {
	cases := []struct {
		tmpl string
		want []string
	}{
		{"Send ${{amount_usd}} to {{recipient_name}}?", []string{"amount_usd", "recipient_name"}},
		{"Pay ${amount} for {account.number}", []string{"amount", "account.number"}},
		{"{{x}} and {{x}} again", []string{"x"}},
		{"no placeholders", nil},
	}
	for _, tc := range cases {
		if got := ExtractPlaceholders(tc.tmpl); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ExtractPlaceholders(%q) = %v, want %v", tc.tmpl, got, tc.want)
		}
	}
}
