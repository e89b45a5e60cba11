// Command hydrochat is the main entry point for the HydroChat assistant
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/hydrosense/hydrochat/internal/backend"
	"github.com/hydrosense/hydrochat/internal/config"
	"github.com/hydrosense/hydrochat/internal/convo"
	"github.com/hydrosense/hydrochat/internal/graph"
	"github.com/hydrosense/hydrochat/internal/health"
	"github.com/hydrosense/hydrochat/internal/intent"
	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/redact"
	"github.com/hydrosense/hydrochat/internal/resilience"
	"github.com/hydrosense/hydrochat/internal/resolve"
	"github.com/hydrosense/hydrochat/internal/server"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/internal/tools"
	"github.com/hydrosense/hydrochat/pkg/provider/llm"
	"github.com/hydrosense/hydrochat/pkg/provider/llm/anyllm"
	"github.com/hydrosense/hydrochat/pkg/provider/llm/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; env vars suffice)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hydrochat: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Every record passes through the redaction handler, so raw NRICs and the
	// bearer token never reach the log sink.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(redact.NewHandler(inner, cfg.Backend.AuthToken)))

	slog.Info("hydrochat starting",
		"version", version,
		"config", *configPath,
		"listen_addr", listenAddr(cfg),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hydrochat",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── LLM provider chain ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerLLMProviders(reg)

	provider, err := buildLLM(cfg, reg)
	if err != nil {
		slog.Error("failed to build LLM provider chain", "err", err)
		return 1
	}

	// ── Conversation pipeline ─────────────────────────────────────────────────
	client := backend.New(cfg.Backend.BaseURL, cfg.Backend.AuthToken, cfg.Backend.Timeout())
	svc := tools.NewService(client, metrics)
	sanitizer := intent.NewSanitizer(cfg.LLM.MaxInput())
	turnStats := observe.NewTurnStats(cfg.Metrics.Cap(), cfg.Metrics.TTL())

	snapshot := config.Snapshot(cfg)
	newState := func() *state.ConversationState { return state.New(snapshot) }

	store, err := buildStore(ctx, cfg, newState)
	if err != nil {
		slog.Error("failed to open conversation store", "err", err)
		return 1
	}

	engine, err := graph.New(graph.Config{
		Tools:      svc,
		Resolver:   resolve.New(svc),
		Classifier: intent.NewClassifier(provider, sanitizer, metrics),
		Extractor:  intent.NewExtractor(provider, sanitizer, metrics),
		Metrics:    metrics,
		TurnStats:  turnStats,
		StoreStats: func() graph.StoreStats {
			s, err := store.Stats(context.Background())
			if err != nil {
				slog.Warn("conversation store stats unavailable", "err", err)
				return graph.StoreStats{}
			}
			return graph.StoreStats{Active: s.Active, Evictions: s.Evictions}
		},
		InputRatePerMTok:  cfg.LLM.InputRatePerMTok,
		OutputRatePerMTok: cfg.LLM.OutputRatePerMTok,
	})
	if err != nil {
		slog.Error("failed to build conversation engine", "err", err)
		return 1
	}

	// ── HTTP facade ───────────────────────────────────────────────────────────
	srv, err := server.New(server.Config{
		ListenAddr: listenAddr(cfg),
		TLS:        cfg.Server.TLS,
		Engine:     engine,
		Store:      store,
		Metrics:    metrics,
		// Backend reachability is deliberately absent here: tool calls carry
		// their own bounded retries, and readiness never re-probes the API.
		ReadyChecks: []health.Checker{
			{Name: "llm", Check: func(context.Context) error {
				if provider == nil {
					return errors.New("no LLM provider configured; classification runs on patterns alone")
				}
				return nil
			}},
			{Name: "conversations", Check: func(cctx context.Context) error {
				_, err := store.Stats(cctx)
				return err
			}},
		},
	})
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	// ── Debug config watcher ──────────────────────────────────────────────────
	if cfg.Debug && *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.Empty() {
				return
			}
			if d.LogLevelChanged {
				level.Set(slogLevel(new.Server.LogLevel))
			}
			slog.Info("config reloaded", "log_level", new.Server.LogLevel)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	runErr := srv.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := store.Close(shutdownCtx); err != nil {
		slog.Warn("conversation store close error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerLLMProviders wires the built-in LLM factories into reg. OpenAI uses
// the native SDK; the remaining hosted providers share the any-llm gateway.
func registerLLMProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// buildLLM assembles the failover chain from the configured primary and
// fallbacks. Returns nil when no provider is configured; the classifier then
// runs on patterns alone.
func buildLLM(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	if cfg.LLM.Provider.Name == "" {
		return nil, nil
	}

	primary, err := reg.CreateLLM(cfg.LLM.Provider)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider.Name, err)
	}
	slog.Info("llm provider created", "name", cfg.LLM.Provider.Name, "model", cfg.LLM.Provider.Model)

	if len(cfg.LLM.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewChain(primary, resilience.ChainConfig{})
	for _, entry := range cfg.LLM.Fallbacks {
		fb, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(fb)
		slog.Info("llm fallback registered", "name", entry.Name, "model", entry.Model)
	}
	return chain, nil
}

// buildStore selects the conversation store: PostgreSQL when a DSN is
// configured, the in-memory TTL+LRU store otherwise.
func buildStore(ctx context.Context, cfg *config.Config, newState func() *state.ConversationState) (convo.Store, error) {
	c := cfg.Conversations
	if c.PostgresDSN != "" {
		slog.Info("using postgres conversation store", "ttl", c.TTL())
		return convo.NewPostgres(ctx, c.PostgresDSN, c.TTL(), newState)
	}
	slog.Info("using in-memory conversation store", "ttl", c.TTL(), "cap", c.Cap())
	return convo.NewMemory(c.Cap(), c.TTL(), newState), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        HydroChat — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend", cfg.Backend.BaseURL)
	llmValue := "(patterns only)"
	if cfg.LLM.Provider.Name != "" {
		llmValue = cfg.LLM.Provider.Name + " / " + cfg.LLM.Provider.Model
	}
	printRow("LLM", llmValue)
	if len(cfg.LLM.Fallbacks) > 0 {
		printRow("LLM fallbacks", fmt.Sprintf("%d", len(cfg.LLM.Fallbacks)))
	}
	if cfg.Conversations.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "memory")
	}
	printRow("Listen addr", listenAddr(cfg))
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func listenAddr(cfg *config.Config) string {
	if cfg.Server.ListenAddr != "" {
		return cfg.Server.ListenAddr
	}
	return ":8080"
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
