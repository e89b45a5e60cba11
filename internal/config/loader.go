package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq",
}

// Load reads the YAML configuration file at path, overlays environment
// variables, and returns a validated [Config]. An empty path skips the file
// and configures from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// No environment overlay is applied. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. A set variable always
// wins over the file value. HYDRO_-prefixed names take precedence over their
// unprefixed aliases.
func ApplyEnv(cfg *Config) {
	if v := firstEnv("HYDRO_BASE_URL", "BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := firstEnv("HYDRO_AUTH_TOKEN", "AUTH_TOKEN"); v != "" {
		cfg.Backend.AuthToken = v
	}
	if v := os.Getenv("HYDRO_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			cfg.Backend.TimeoutSeconds = secs
		} else {
			slog.Warn("ignoring unparseable HYDRO_TIMEOUT_SECONDS", "value", v)
		}
	}
	if v := os.Getenv("HYDRO_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("HYDRO_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v := os.Getenv("HYDRO_LLM_API_KEY"); v != "" {
		cfg.LLM.Provider.APIKey = v
	}
	if v := os.Getenv("HYDRO_LLM_MAX_INPUT_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLM.MaxInputChars = n
		} else {
			slog.Warn("ignoring unparseable HYDRO_LLM_MAX_INPUT_CHARS", "value", v)
		}
	}
	if v := os.Getenv("HYDRO_POSTGRES_DSN"); v != "" {
		cfg.Conversations.PostgresDSN = v
	}
}

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Backend
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required (set HYDRO_BASE_URL or BASE_URL)"))
	} else if err := validateBaseURL(cfg.Backend.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	}
	if cfg.Backend.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout_seconds %.2f must not be negative", cfg.Backend.TimeoutSeconds))
	}
	if cfg.Backend.AuthToken == "" {
		slog.Warn("backend.auth_token is empty; requests will be sent unauthenticated")
	}

	// LLM providers — warn for unknown names, error only on structural problems.
	validateProviderName("llm.provider", cfg.LLM.Provider.Name)
	for i, fb := range cfg.LLM.Fallbacks {
		prefix := fmt.Sprintf("llm.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName(prefix, fb.Name)
	}
	if cfg.LLM.Provider.Name == "" && len(cfg.LLM.Fallbacks) > 0 {
		errs = append(errs, errors.New("llm.fallbacks configured without a primary llm.provider"))
	}
	if cfg.LLM.Provider.Name == "" {
		slog.Warn("no LLM provider configured; intent classification runs on patterns alone")
	}
	if cfg.LLM.MaxInputChars < 0 {
		errs = append(errs, fmt.Errorf("llm.max_input_chars %d must not be negative", cfg.LLM.MaxInputChars))
	}
	if cfg.LLM.InputRatePerMTok < 0 || cfg.LLM.OutputRatePerMTok < 0 {
		errs = append(errs, errors.New("llm token rates must not be negative"))
	}
	if cfg.LLM.Provider.Name != "" && cfg.LLM.InputRatePerMTok == 0 && cfg.LLM.OutputRatePerMTok == 0 {
		slog.Warn("llm token rates are unset; reported cost will always be zero")
	}

	// Conversations
	if cfg.Conversations.TTLHours < 0 {
		errs = append(errs, fmt.Errorf("conversations.ttl_hours %.2f must not be negative", cfg.Conversations.TTLHours))
	}
	if cfg.Conversations.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("conversations.max_entries %d must not be negative", cfg.Conversations.MaxEntries))
	}

	// Metrics retention
	if cfg.Metrics.TTLHours < 0 {
		errs = append(errs, fmt.Errorf("metrics.ttl_hours %.2f must not be negative", cfg.Metrics.TTLHours))
	}
	if cfg.Metrics.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("metrics.max_entries %d must not be negative", cfg.Metrics.MaxEntries))
	}

	if cfg.Debug {
		slog.Warn("debug mode enabled; runtime config overrides are accepted")
	}

	return errors.Join(errs...)
}

// validateBaseURL requires an absolute http or https URL with a host.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(where, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"where", where,
		"name", name,
		"known", ValidProviderNames,
	)
}
