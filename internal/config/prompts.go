package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fallbackLanguage is used when a localised string is missing.
const fallbackLanguage = "en"

// Prompts holds the base system prompt and named prompt sections, localised
// by language code.
type Prompts struct {
	Base     map[string]string            `yaml:"base_prompt"`
	Sections map[string]map[string]string `yaml:"sections"`
}

// LoadPrompts reads the prompts YAML document.
func LoadPrompts(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if len(p.Base) == 0 {
		return nil, fmt.Errorf("prompts document has no base_prompt")
	}
	return &p, nil
}

// BasePrompt returns the base system prompt for the language, falling back
// to English.
func (p *Prompts) BasePrompt(lang string) string {
	if v, ok := p.Base[lang]; ok && v != "" {
		return v
	}
	return p.Base[fallbackLanguage]
}

// Section returns a named prompt section for the language, or "".
func (p *Prompts) Section(name, lang string) string {
	section, ok := p.Sections[name]
	if !ok {
		return ""
	}
	if v, ok := section[lang]; ok && v != "" {
		return v
	}
	return section[fallbackLanguage]
}

// Messages holds localised user-facing strings keyed by message id.
type Messages struct {
	Messages map[string]map[string]string `yaml:"messages"`
}

// LoadMessages reads the localised messages YAML document.
func LoadMessages(path string) (*Messages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	var m Messages
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	return &m, nil
}

// Get returns the localised message for key, falling back to English, then
// to the key itself so a missing entry is still visible.
func (m *Messages) Get(key, lang string) string {
	if m == nil {
		return key
	}
	entry, ok := m.Messages[key]
	if !ok {
		return key
	}
	if v, ok := entry[lang]; ok && v != "" {
		return v
	}
	if v, ok := entry[fallbackLanguage]; ok && v != "" {
		return v
	}
	return key
}

// SupportedLanguages the engine localises for.
var SupportedLanguages = map[string]bool{
	"en": true,
	"es": true,
}
