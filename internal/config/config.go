// Package config loads the engine's environment configuration and the
// per-agent JSON documents, prompts, and localised messages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TokenBudgets bounds each section of the assembled context, in tokens.
type TokenBudgets struct {
	System         int
	UserProfile    int
	Product        int
	RecentMessages int
	Compacted      int
	FlowState      int
	Tools          int
	Buffer         int
}

// DefaultTokenBudgets returns the default per-section budgets.
func DefaultTokenBudgets() TokenBudgets {
	return TokenBudgets{
		System:         1000,
		UserProfile:    500,
		Product:        500,
		RecentMessages: 2000,
		Compacted:      500,
		FlowState:      300,
		Tools:          1000,
		Buffer:         200,
	}
}

// Config is the engine's environment configuration.
type Config struct {
	// ListenAddr is the inbound HTTP bind address.
	ListenAddr string

	// AgentConfigDir holds the per-agent JSON documents.
	AgentConfigDir string
	// PromptsPath and MessagesPath are the YAML prompt/localisation files.
	PromptsPath  string
	MessagesPath string

	// LLMProvider selects "anthropic" or "openai".
	LLMProvider string
	// LLMAPIKey authenticates against the selected provider.
	LLMAPIKey string
	// LLMBaseURL optionally overrides the provider endpoint.
	LLMBaseURL string
	// DefaultModel is used when an agent's model_config omits the model.
	DefaultModel string

	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store.
	DatabaseURL string

	// GatewayURL is the downstream service-gateway base URL.
	GatewayURL string

	// Timeouts for external calls.
	LLMTimeout         time.Duration
	GatewayTimeout     time.Duration
	HealthCheckTimeout time.Duration

	// HistoryWindow bounds how many recent messages a turn loads.
	HistoryWindow int
	// CompactionThreshold triggers history compaction at this message count.
	CompactionThreshold int
	// CompactionKeepLast keeps this many recent messages verbatim.
	CompactionKeepLast int
	// MaxRecursionDepth bounds orchestrator re-dispatch after routing.
	MaxRecursionDepth int
	// ConfirmationTTL is how long a pending confirmation stays valid.
	ConfirmationTTL time.Duration
	// SessionLockTimeout bounds waiting for a session's turn lock.
	SessionLockTimeout time.Duration

	Budgets TokenBudgets

	Debug     bool
	LogLevel  string
	LogFormat string
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() *Config {
	budgets := DefaultTokenBudgets()
	budgets.System = envInt("DIALOG_BUDGET_SYSTEM", budgets.System)
	budgets.UserProfile = envInt("DIALOG_BUDGET_USER", budgets.UserProfile)
	budgets.Product = envInt("DIALOG_BUDGET_PRODUCT", budgets.Product)
	budgets.RecentMessages = envInt("DIALOG_BUDGET_MESSAGES", budgets.RecentMessages)
	budgets.Compacted = envInt("DIALOG_BUDGET_COMPACTED", budgets.Compacted)
	budgets.FlowState = envInt("DIALOG_BUDGET_STATE", budgets.FlowState)
	budgets.Tools = envInt("DIALOG_BUDGET_TOOLS", budgets.Tools)
	budgets.Buffer = envInt("DIALOG_BUDGET_BUFFER", budgets.Buffer)

	return &Config{
		ListenAddr:          envStr("DIALOG_LISTEN_ADDR", ":8080"),
		AgentConfigDir:      envStr("DIALOG_AGENT_CONFIG_DIR", "configs/agents"),
		PromptsPath:         envStr("DIALOG_PROMPTS_PATH", "configs/prompts.yaml"),
		MessagesPath:        envStr("DIALOG_MESSAGES_PATH", "configs/messages.yaml"),
		LLMProvider:         envStr("DIALOG_LLM_PROVIDER", "anthropic"),
		LLMAPIKey:           os.Getenv("DIALOG_LLM_API_KEY"),
		LLMBaseURL:          os.Getenv("DIALOG_LLM_BASE_URL"),
		DefaultModel:        envStr("DIALOG_DEFAULT_MODEL", "claude-sonnet-4-20250514"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		GatewayURL:          envStr("DIALOG_GATEWAY_URL", "http://localhost:9000"),
		LLMTimeout:          envDuration("DIALOG_LLM_TIMEOUT", 60*time.Second),
		GatewayTimeout:      envDuration("DIALOG_GATEWAY_TIMEOUT", 30*time.Second),
		HealthCheckTimeout:  envDuration("DIALOG_HEALTHCHECK_TIMEOUT", 5*time.Second),
		HistoryWindow:       envInt("DIALOG_HISTORY_WINDOW", 20),
		CompactionThreshold: envInt("DIALOG_COMPACTION_THRESHOLD", 30),
		CompactionKeepLast:  envInt("DIALOG_COMPACTION_KEEP_LAST", 10),
		MaxRecursionDepth:   envInt("DIALOG_MAX_RECURSION_DEPTH", 4),
		ConfirmationTTL:     envDuration("DIALOG_CONFIRMATION_TTL", 5*time.Minute),
		SessionLockTimeout:  envDuration("DIALOG_SESSION_LOCK_TIMEOUT", 30*time.Second),
		Budgets:             budgets,
		Debug:               envBool("DIALOG_DEBUG", false),
		LogLevel:            envStr("DIALOG_LOG_LEVEL", "info"),
		LogFormat:           envStr("DIALOG_LOG_FORMAT", "json"),
	}
}

// Validate checks the configuration for bring-up.
func (c *Config) Validate() error {
	if c.AgentConfigDir == "" {
		return fmt.Errorf("agent config dir is required")
	}
	if c.LLMProvider != "anthropic" && c.LLMProvider != "openai" {
		return fmt.Errorf("unsupported llm provider %q", c.LLMProvider)
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("llm api key is required")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway url is required")
	}
	if c.MaxRecursionDepth <= 0 {
		return fmt.Errorf("max recursion depth must be positive")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
