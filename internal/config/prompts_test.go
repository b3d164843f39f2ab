package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPrompts(t *testing.T) {
	path := writeYAML(t, `
base_prompt:
  en: "You are the assistant."
  es: "Eres el asistente."
sections:
  safety:
    en: "Be safe."
`)
	p, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("LoadPrompts: %v", err)
	}
	if p.BasePrompt("es") != "Eres el asistente." {
		t.Errorf("es base = %q", p.BasePrompt("es"))
	}
	if p.BasePrompt("fr") != "You are the assistant." {
		t.Errorf("unknown language must fall back to English, got %q", p.BasePrompt("fr"))
	}
	if p.Section("safety", "es") != "Be safe." {
		t.Errorf("section fallback = %q", p.Section("safety", "es"))
	}
	if p.Section("nope", "en") != "" {
		t.Error("unknown section must be empty")
	}
}

func TestLoadPromptsRequiresBase(t *testing.T) {
	path := writeYAML(t, `sections: {}`)
	if _, err := LoadPrompts(path); err == nil || !strings.Contains(err.Error(), "base_prompt") {
		t.Fatalf("err = %v", err)
	}
}

func TestMessagesFallbackChain(t *testing.T) {
	path := writeYAML(t, `
messages:
  tool_done:
    en: "Done."
    es: "Listo."
  english_only:
    en: "Only English."
`)
	m, err := LoadMessages(path)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if got := m.Get("tool_done", "es"); got != "Listo." {
		t.Errorf("es = %q", got)
	}
	if got := m.Get("english_only", "es"); got != "Only English." {
		t.Errorf("fallback to en = %q", got)
	}
	if got := m.Get("no_such_key", "en"); got != "no_such_key" {
		t.Errorf("missing key must echo, got %q", got)
	}

	var nilMessages *Messages
	if got := nilMessages.Get("anything", "en"); got != "anything" {
		t.Errorf("nil receiver = %q", got)
	}
}
