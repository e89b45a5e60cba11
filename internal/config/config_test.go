package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hydrosense/hydrochat/internal/config"
	"github.com/hydrosense/hydrochat/pkg/provider/llm"
	"github.com/hydrosense/hydrochat/pkg/provider/llm/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

backend:
  base_url: http://localhost:8000/api
  auth_token: tok-abc123def456
  timeout_seconds: 12

llm:
  provider:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  fallbacks:
    - name: anthropic
      api_key: ak-test
      model: claude-haiku
  max_input_chars: 800
  input_rate_per_mtok: 0.15
  output_rate_per_mtok: 0.60

conversations:
  ttl_hours: 2
  max_entries: 500

metrics:
  max_entries: 200
  ttl_hours: 24
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000/api" {
		t.Errorf("backend.base_url: got %q", cfg.Backend.BaseURL)
	}
	if got := cfg.Backend.Timeout(); got != 12*time.Second {
		t.Errorf("backend timeout: got %v, want 12s", got)
	}
	if cfg.LLM.Provider.Name != "openai" {
		t.Errorf("llm.provider.name: got %q, want %q", cfg.LLM.Provider.Name, "openai")
	}
	if len(cfg.LLM.Fallbacks) != 1 || cfg.LLM.Fallbacks[0].Name != "anthropic" {
		t.Errorf("llm.fallbacks: got %+v", cfg.LLM.Fallbacks)
	}
	if cfg.LLM.MaxInput() != 800 {
		t.Errorf("llm.max_input_chars: got %d, want 800", cfg.LLM.MaxInput())
	}
	if cfg.Conversations.Cap() != 500 {
		t.Errorf("conversations.max_entries: got %d, want 500", cfg.Conversations.Cap())
	}
	if cfg.Conversations.TTL() != 2*time.Hour {
		t.Errorf("conversations ttl: got %v, want 2h", cfg.Conversations.TTL())
	}
	if cfg.Metrics.Cap() != 200 {
		t.Errorf("metrics.max_entries: got %d, want 200", cfg.Metrics.Cap())
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
backend:
  base_url: http://localhost:8000/api
  bearer: tok
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestDefaults(t *testing.T) {
	cfg := &config.Config{}

	if got := cfg.Backend.Timeout(); got != 10*time.Second {
		t.Errorf("default timeout: got %v, want 10s", got)
	}
	if got := cfg.LLM.MaxInput(); got != 1000 {
		t.Errorf("default max input: got %d, want 1000", got)
	}
	if got := cfg.Conversations.TTL(); got != 2*time.Hour {
		t.Errorf("default conversation ttl: got %v, want 2h", got)
	}
	if got := cfg.Conversations.Cap(); got != 1000 {
		t.Errorf("default conversation cap: got %d, want 1000", got)
	}
	if got := cfg.Metrics.TTL(); got != 24*time.Hour {
		t.Errorf("default metrics ttl: got %v, want 24h", got)
	}
	if got := cfg.Metrics.Cap(); got != 1000 {
		t.Errorf("default metrics cap: got %d, want 1000", got)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("level %q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("level \"verbose\" should be invalid")
	}
}

// ── registry ──────────────────────────────────────────────────────────────────

func TestRegistry_CreateLLM(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		return mock.New(), nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected a provider")
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

// ── snapshot ──────────────────────────────────────────────────────────────────

func TestSnapshot_RedactsToken(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := config.Snapshot(cfg)
	if snap["auth_token"] != "tok-***" {
		t.Errorf("auth_token: got %q, want %q", snap["auth_token"], "tok-***")
	}
	if strings.Contains(snap["auth_token"], "abc123") {
		t.Error("snapshot leaked the raw token")
	}
	if snap["base_url"] != "http://localhost:8000/api" {
		t.Errorf("base_url: got %q", snap["base_url"])
	}
	if snap["timeout_seconds"] != "12" {
		t.Errorf("timeout_seconds: got %q, want %q", snap["timeout_seconds"], "12")
	}
	if snap["llm_provider"] != "openai" {
		t.Errorf("llm_provider: got %q", snap["llm_provider"])
	}
	if snap["store"] != "memory" {
		t.Errorf("store: got %q, want %q", snap["store"], "memory")
	}
}

// ── runtime override ──────────────────────────────────────────────────────────

func TestApplyOverride(t *testing.T) {
	base := func(debug bool) *config.Config {
		return &config.Config{
			Backend: config.BackendConfig{BaseURL: "http://localhost:8000/api"},
			Debug:   debug,
		}
	}

	t.Run("rejected outside debug mode", func(t *testing.T) {
		cfg := base(false)
		err := config.ApplyOverride(cfg, "timeout_seconds", "5")
		if !errors.Is(err, config.ErrOverrideDisabled) {
			t.Fatalf("expected ErrOverrideDisabled, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		cfg := base(true)
		if err := config.ApplyOverride(cfg, "timeout_seconds", "5"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Backend.Timeout() != 5*time.Second {
			t.Errorf("timeout: got %v, want 5s", cfg.Backend.Timeout())
		}
	})

	t.Run("base_url validated", func(t *testing.T) {
		cfg := base(true)
		if err := config.ApplyOverride(cfg, "base_url", "ftp://example.com"); err == nil {
			t.Fatal("expected error for non-http scheme")
		}
		if err := config.ApplyOverride(cfg, "base_url", "https://api.example.com/v2"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Backend.BaseURL != "https://api.example.com/v2" {
			t.Errorf("base_url: got %q", cfg.Backend.BaseURL)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		cfg := base(true)
		if err := config.ApplyOverride(cfg, "log_level", "debug"); err == nil {
			t.Fatal("expected error for unrecognised key")
		}
	})

	t.Run("bad timeout value", func(t *testing.T) {
		cfg := base(true)
		if err := config.ApplyOverride(cfg, "timeout_seconds", "soon"); err == nil {
			t.Fatal("expected error for unparseable timeout")
		}
		if err := config.ApplyOverride(cfg, "timeout_seconds", "-1"); err == nil {
			t.Fatal("expected error for negative timeout")
		}
	})
}
