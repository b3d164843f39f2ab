// Package main is the entry point for dialogd, the conversational
// orchestration engine behind the payments assistant.
//
// Start the server:
//
//	dialogd serve
//
// Check the configuration without starting:
//
//	dialogd validate
//
// Configuration is read from the environment (optionally via a .env file);
// see config.FromEnv for the full variable list. The important ones:
//
//   - DIALOG_LLM_PROVIDER: "anthropic" (default) or "openai"
//   - DIALOG_LLM_API_KEY: provider API key
//   - DIALOG_GATEWAY_URL: downstream service gateway
//   - DATABASE_URL: Postgres DSN; empty selects the in-memory store
//   - DIALOG_AGENT_CONFIG_DIR: directory of agent JSON documents
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vireopay/dialog/internal/config"
	"github.com/vireopay/dialog/internal/contextbuilder"
	"github.com/vireopay/dialog/internal/gateway"
	"github.com/vireopay/dialog/internal/llm"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/internal/orchestrator"
	"github.com/vireopay/dialog/internal/registry"
	"github.com/vireopay/dialog/internal/routing"
	"github.com/vireopay/dialog/internal/sessions"
	"github.com/vireopay/dialog/internal/tools"
	"github.com/vireopay/dialog/internal/web"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:           "dialogd",
		Short:         "Conversational orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), validateCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	loader := config.NewLoader(cfg.AgentConfigDir, logger)
	reg := registry.New(loader, logger)
	if err := reg.Initialise(ctx); err != nil {
		return fmt.Errorf("load agent configuration: %w", err)
	}
	if err := reg.Watch(ctx, cfg.AgentConfigDir); err != nil {
		logger.Warn(ctx, "config watch unavailable", "error", err)
	}
	defer reg.Close()

	prompts, err := config.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return err
	}
	messages, err := config.LoadMessages(cfg.MessagesPath)
	if err != nil {
		return err
	}

	provider := newProvider(cfg, logger, metrics)
	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayTimeout, logger, metrics)
	executor := tools.NewExecutor(gw, logger, metrics)
	compactor := sessions.NewCompactor(store,
		llm.NewSummarizer(provider, cfg.DefaultModel, logger),
		cfg.CompactionThreshold, cfg.CompactionKeepLast, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Store:     store,
		Locker:    sessions.NewSessionLocker(cfg.SessionLockTimeout),
		Registry:  reg,
		Builder:   contextbuilder.NewBuilder(prompts, messages, cfg.Budgets, logger),
		Provider:  provider,
		Executor:  executor,
		Router:    routing.NewHandler(reg, messages, logger),
		Compactor: compactor,
		Messages:  messages,
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
	})

	server := web.NewServer(web.Options{
		Orchestrator:  orch,
		Store:         store,
		Registry:      reg,
		Gateway:       gw,
		Logger:        logger,
		HealthTimeout: cfg.HealthCheckTimeout,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "dialogd listening",
			"addr", cfg.ListenAddr, "provider", cfg.LLMProvider, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (sessions.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn(ctx, "DATABASE_URL not set, using in-memory session store")
		return sessions.NewMemoryStore(), nil
	}
	store, err := sessions.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func newProvider(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) llm.Provider {
	if cfg.LLMProvider == "openai" {
		return llm.NewOpenAIProvider(cfg.LLMAPIKey, cfg.LLMBaseURL, logger, metrics)
	}
	return llm.NewAnthropicProvider(cfg.LLMAPIKey, cfg.LLMBaseURL, logger, metrics)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate all configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg := config.FromEnv()

			reg := registry.New(config.NewLoader(cfg.AgentConfigDir, nil), nil)
			if err := reg.Initialise(cmd.Context()); err != nil {
				return fmt.Errorf("agent configuration: %w", err)
			}
			if _, err := config.LoadPrompts(cfg.PromptsPath); err != nil {
				return err
			}
			if _, err := config.LoadMessages(cfg.MessagesPath); err != nil {
				return err
			}
			fmt.Println("configuration ok")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dialogd %s (%s)\n", version, commit)
		},
	}
}
