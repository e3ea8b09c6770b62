// Package config holds the typed configuration for the orchestrator.
// Every tunable named in the turn pipeline is a field here with a default;
// nothing reads ad-hoc environment state at turn time.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Budget        BudgetConfig        `yaml:"budget"`
	Enumeration   EnumerationConfig   `yaml:"enumeration"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	LLM           LLMConfig           `yaml:"llm"`
	Store         StoreConfig         `yaml:"store"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Observability ObservabilityConfig `yaml:"observability"`
	Features      FeatureFlags        `yaml:"features"`
	KBOnlyLinks   map[string][]string `yaml:"kb_only_links"` // businessID -> curated help links
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OrchestratorConfig holds the turn pipeline tunables.
type OrchestratorConfig struct {
	// MaxIterations bounds model -> tools -> model round trips per turn.
	MaxIterations int `yaml:"max_iterations"`
	// RepeatWindow is how long a fruitless (tool, args) attempt blocks an
	// identical retry without new identifiers.
	RepeatWindow time.Duration `yaml:"repeat_window"`
	// ClassifierTimeout bounds classification; on expiry the classifier
	// fails closed.
	ClassifierTimeout time.Duration `yaml:"classifier_timeout"`
	// VerificationMaxAttempts caps identity checks before termination.
	VerificationMaxAttempts int `yaml:"verification_max_attempts"`
	// PostResultResetTurns is the post_result -> idle auto-reset threshold.
	PostResultResetTurns int `yaml:"post_result_reset_turns"`
	// PerToolTokenCap bounds a single sanitized tool payload.
	PerToolTokenCap int `yaml:"per_tool_token_cap"`
	// ToolTimeout bounds a single tool execution attempt.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	// ToolRetryBackoff waits between the two tool attempts.
	ToolRetryBackoff time.Duration `yaml:"tool_retry_backoff"`
	// IdempotencyTTL is how long cached successful tool results are reused
	// for a repeated message ID.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	// SessionTTL is how long an idle session survives before the expiry
	// sweeper removes it.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// BudgetConfig configures prompt token budgeting.
type BudgetConfig struct {
	// CharsPerToken is the estimation ratio (~4 chars per token).
	CharsPerToken int `yaml:"chars_per_token"`
	// LargeInputTokens / LargeOutputTokens / LargeSafetyTokens are the
	// budget profile for large models.
	LargeInputTokens  int `yaml:"large_input_tokens"`
	LargeOutputTokens int `yaml:"large_output_tokens"`
	LargeSafetyTokens int `yaml:"large_safety_tokens"`
	// SmallInputTokens / SmallOutputTokens are the profile for small models.
	SmallInputTokens  int `yaml:"small_input_tokens"`
	SmallOutputTokens int `yaml:"small_output_tokens"`
	// CalibrationModel, when set, cross-checks the char estimate with a
	// real tokenizer encoding for that model.
	CalibrationModel string `yaml:"calibration_model"`
}

// EnumerationConfig parameterizes the enumeration lock. Thresholds vary per
// deployment, so they are config rather than constants.
type EnumerationConfig struct {
	// Threshold is how many suspicious NOT_FOUNDs inside Window trip the lock.
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	// LockDuration is how long the session stays terminated.
	LockDuration time.Duration `yaml:"lock_duration"`
}

// RateLimitConfig configures the per-business turn limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
	Enabled           bool    `yaml:"enabled"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic | openai
	Model    string `yaml:"model"`
	// SmallModel is used for austere paths (chatter, classification).
	SmallModel string        `yaml:"small_model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"` // memory | postgres
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RetrievalConfig configures the email pipeline's retrieval store.
type RetrievalConfig struct {
	// PersistPath for the embedded vector store; empty keeps it in memory.
	PersistPath string `yaml:"persist_path"`
	// EmbeddingAPIKey is the OpenAI key used for embeddings.
	EmbeddingAPIKey string `yaml:"embedding_api_key"`
	// TopK is the default number of retrieved examples.
	TopK int `yaml:"top_k"`
	// MinConfidence is the KB-confidence floor below which the email
	// pipeline short-circuits to a clarification under strict grounding.
	MinConfidence float64 `yaml:"min_confidence"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel     string  `yaml:"log_level"`
	LogFormat    string  `yaml:"log_format"` // json | text
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// FeatureFlags are process-wide, read-mostly toggles. They are injected into
// components at construction; flips take effect for subsequent turns.
type FeatureFlags struct {
	TextStrictGrounding   bool `yaml:"text_strict_grounding"`
	UseStateEvents        bool `yaml:"use_state_events"`
	UseMessageTypeRouting bool `yaml:"use_message_type_routing"`
	// TestMockTools makes the tool runner honor injected mock fixtures.
	TestMockTools bool `yaml:"test_mock_tools"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations:           3,
			RepeatWindow:            10 * time.Minute,
			ClassifierTimeout:       3 * time.Second,
			VerificationMaxAttempts: 3,
			PostResultResetTurns:    3,
			PerToolTokenCap:         3000,
			ToolTimeout:             10 * time.Second,
			ToolRetryBackoff:        250 * time.Millisecond,
			IdempotencyTTL:          15 * time.Minute,
			SessionTTL:              24 * time.Hour,
		},
		Budget: BudgetConfig{
			CharsPerToken:     4,
			LargeInputTokens:  100_000,
			LargeOutputTokens: 4_000,
			LargeSafetyTokens: 8_000,
			SmallInputTokens:  6_000,
			SmallOutputTokens: 2_000,
		},
		Enumeration: EnumerationConfig{
			Threshold:    4,
			Window:       10 * time.Minute,
			LockDuration: 30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			BurstSize:         10,
			Enabled:           true,
		},
		LLM: LLMConfig{
			Provider:   "anthropic",
			Model:      "claude-sonnet-4-20250514",
			SmallModel: "claude-3-5-haiku-20241022",
			Timeout:    60 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				User:            "convoflow",
				Database:        "convoflow",
				SSLMode:         "disable",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnectTimeout:  10 * time.Second,
			},
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinConfidence: 0.35,
		},
		Observability: ObservabilityConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			SamplingRate: 1.0,
		},
		Features: FeatureFlags{
			TextStrictGrounding: true,
			UseStateEvents:      true,
		},
	}
}

// Validate checks invariants the pipeline depends on.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be positive")
	}
	if c.Orchestrator.VerificationMaxAttempts <= 0 {
		return fmt.Errorf("orchestrator.verification_max_attempts must be positive")
	}
	if c.Budget.CharsPerToken <= 0 {
		return fmt.Errorf("budget.chars_per_token must be positive")
	}
	if c.Enumeration.Threshold <= 0 {
		return fmt.Errorf("enumeration.threshold must be positive")
	}
	switch c.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", c.Store.Backend)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider)
	}
	return nil
}
