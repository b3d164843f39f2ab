package config

import (
	"bytes"
	"context"
	"encoding/json"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vireopay/dialog/internal/observability"
)

//go:embed agent.schema.json
var agentSchemaJSON string

var (
	agentSchemaOnce sync.Once
	agentSchema     *jsonschema.Schema
	agentSchemaErr  error
)

func compiledAgentSchema() (*jsonschema.Schema, error) {
	agentSchemaOnce.Do(func() {
		agentSchema, agentSchemaErr = jsonschema.CompileString("agent.schema.json", agentSchemaJSON)
	})
	return agentSchema, agentSchemaErr
}

// placeholderPattern matches {{path}}, ${path}, and {path} placeholders.
// Used for load-time linting of confirmation templates.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}|\$\{\s*([a-zA-Z0-9_.]+)\s*\}|\{([a-zA-Z0-9_.]+)\}`)

// wellKnownTemplateKeys are runtime keys always available to confirmation
// templates regardless of tool parameters or flow data.
var wellKnownTemplateKeys = map[string]bool{
	"user_name":      true,
	"preferred_name": true,
	"amount":         true,
	"currency":       true,
	"reference":      true,
	"transaction_id": true,
	"timestamp":      true,
	"status":         true,
}

// Loader reads and caches agent configuration documents from a directory.
// Parsed documents are cached keyed by config_id; Reload invalidates all
// caches. Loader is safe for concurrent use.
type Loader struct {
	dir    string
	logger *observability.Logger

	mu     sync.RWMutex
	agents map[string]*AgentConfig
	loaded bool
}

// NewLoader creates a Loader over the given directory.
func NewLoader(dir string, logger *observability.Logger) *Loader {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Loader{dir: dir, logger: logger}
}

// Load parses every *.json document in the directory. It is idempotent: a
// second call returns the cached result until Reload.
func (l *Loader) Load() (map[string]*AgentConfig, error) {
	l.mu.RLock()
	if l.loaded {
		agents := l.agents
		l.mu.RUnlock()
		return agents, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.agents, nil
	}

	agents, err := l.loadAll()
	if err != nil {
		return nil, err
	}
	l.agents = agents
	l.loaded = true
	return agents, nil
}

// Reload invalidates the cache and re-reads every document.
func (l *Loader) Reload() (map[string]*AgentConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	agents, err := l.loadAll()
	if err != nil {
		return nil, err
	}
	l.agents = agents
	l.loaded = true
	return agents, nil
}

func (l *Loader) loadAll() (map[string]*AgentConfig, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read agent config dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	agents := make(map[string]*AgentConfig, len(names))
	for _, name := range names {
		path := filepath.Join(l.dir, name)
		agent, err := l.loadOne(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if _, dup := agents[agent.ConfigID]; dup {
			return nil, fmt.Errorf("%s: duplicate config_id %q", name, agent.ConfigID)
		}
		agents[agent.ConfigID] = agent
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agent documents found in %s", l.dir)
	}
	return agents, nil
}

func (l *Loader) loadOne(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	schema, err := compiledAgentSchema()
	if err != nil {
		return nil, fmt.Errorf("compile agent schema: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parse agent document: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("agent document invalid: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var agent AgentConfig
	if err := dec.Decode(&agent); err != nil {
		return nil, fmt.Errorf("decode agent document: %w", err)
	}

	raw, _ := decoded.(map[string]any)
	agent.Raw = raw

	l.lintConfirmationTemplates(&agent)
	return &agent, nil
}

// lintConfirmationTemplates warns (never fails) when a confirmation template
// references a placeholder that is neither a tool parameter, nor a field of
// any flow data schema, nor a well-known runtime key.
func (l *Loader) lintConfirmationTemplates(agent *AgentConfig) {
	flowFields := map[string]bool{}
	for _, flow := range agent.Subflows {
		for _, field := range flow.DataSchema {
			flowFields[field] = true
		}
	}

	for _, tool := range agent.Tools {
		if tool.ConfirmationTemplate == "" {
			continue
		}
		params := map[string]bool{}
		for _, p := range tool.Parameters {
			params[p.Name] = true
		}
		for _, ph := range ExtractPlaceholders(tool.ConfirmationTemplate) {
			head := ph
			if i := strings.Index(ph, "."); i > 0 {
				head = ph[:i]
			}
			if params[head] || flowFields[head] || wellKnownTemplateKeys[head] {
				continue
			}
			l.logger.Warn(context.Background(), "confirmation template references unknown placeholder",
				"agent_id", agent.ConfigID, "tool", tool.Name, "placeholder", ph)
		}
	}
}

// ExtractPlaceholders returns the placeholder paths referenced by a template,
// in order of first appearance, without duplicates.
func ExtractPlaceholders(tmpl string) []string {
	seen := map[string]bool{}
	var out []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		path := match[1]
		if path == "" {
			path = match[2]
		}
		if path == "" {
			path = match[3]
		}
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}
