package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoflow/convoflow/internal/classify"
	"github.com/convoflow/convoflow/internal/config"
	"github.com/convoflow/convoflow/internal/email"
	"github.com/convoflow/convoflow/internal/llm"
	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/internal/prompt"
	"github.com/convoflow/convoflow/internal/rag"
	"github.com/convoflow/convoflow/internal/ratelimit"
	"github.com/convoflow/convoflow/internal/router"
	"github.com/convoflow/convoflow/internal/server"
	"github.com/convoflow/convoflow/internal/sessions"
	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/internal/turn"
)

const defaultPersona = "You are a customer support assistant. Be concise, polite, and only state facts you can verify."

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the convoflow HTTP server",
		Long: `Start the orchestrator with the configured session store, LLM provider,
tool catalog, and HTTP API. Shuts down gracefully on SIGINT/SIGTERM.`,
		Example: `  convoflow serve
  convoflow serve --config /etc/convoflow/production.yaml
  convoflow serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Observability.LogLevel = "debug"
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:  "convoflow",
		Endpoint:     cfg.Observability.OTLPEndpoint,
		SamplingRate: cfg.Observability.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.NewDemoBackend()); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	var mocks *tools.MockSet
	if cfg.Features.TestMockTools {
		mocks = tools.NewMockSet()
	}
	runner := tools.NewRunner(registry,
		tools.NewIdempotencyCache(cfg.Orchestrator.IdempotencyTTL),
		tools.RunnerConfig{
			Timeout:      cfg.Orchestrator.ToolTimeout,
			RetryBackoff: cfg.Orchestrator.ToolRetryBackoff,
			TokenCap:     cfg.Orchestrator.PerToolTokenCap,
		}, log, metrics, mocks)

	classifier := classify.NewFailsafe(
		classify.NewChain(
			classify.NewRuleClassifier(),
			classify.NewLLMClassifier(provider, cfg.LLM.SmallModel),
		),
		cfg.Orchestrator.ClassifierTimeout, log)

	orch := turn.New(cfg, store,
		sessions.NewLocker(30*time.Second),
		classifier,
		router.New(router.Config{
			StrictGrounding: cfg.Features.TextStrictGrounding,
			KBLinks:         cfg.KBOnlyLinks,
		}),
		provider, registry, runner,
		ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			Enabled:           cfg.RateLimit.Enabled,
		}),
		prompt.NewCalibrator(100),
		log, metrics,
		turn.Options{Persona: defaultPersona})

	drafts, err := buildDraftPipeline(cfg, classifier, registry, runner, provider, log, metrics)
	if err != nil {
		return err
	}

	srv := server.New(cfg, orch, drafts, sessions.NewSweeper(store, cfg.Orchestrator.SessionTTL), log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildStore(cfg *config.Config) (sessions.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return sessions.NewPostgresStore(cfg.Store.Postgres)
	default:
		return sessions.NewMemoryStore(), nil
	}
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	default:
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	}
}

// buildDraftPipeline wires the email pipeline when retrieval is configured;
// without an embedding key drafts run retrieval-free.
func buildDraftPipeline(cfg *config.Config, classifier classify.Classifier, registry *tools.Registry, runner *tools.Runner, provider llm.Provider, log *observability.Logger, metrics *observability.Metrics) (*email.Pipeline, error) {
	var retriever rag.Retriever
	if cfg.Retrieval.EmbeddingAPIKey != "" {
		r, err := rag.New(rag.Config{
			PersistPath:     cfg.Retrieval.PersistPath,
			EmbeddingAPIKey: cfg.Retrieval.EmbeddingAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("retriever: %w", err)
		}
		retriever = r
	}
	return email.NewPipeline(cfg, classifier, registry, runner, provider, retriever, log, metrics, email.Options{
		Persona: defaultPersona,
	}), nil
}
