package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/hydrosense/hydrochat/internal/redact"
)

// Snapshot returns a redacted, flattened copy of the runtime configuration
// suitable for embedding in conversation state and diagnostics output. The
// bearer token is reduced to its first four characters plus "***"; the raw
// value never leaves this package through Snapshot.
func Snapshot(cfg *Config) map[string]string {
	snap := map[string]string{
		"base_url":        cfg.Backend.BaseURL,
		"auth_token":      redact.Token(cfg.Backend.AuthToken),
		"timeout_seconds": strconv.FormatFloat(cfg.Backend.Timeout().Seconds(), 'f', -1, 64),
		"llm_provider":    cfg.LLM.Provider.Name,
		"llm_model":       cfg.LLM.Provider.Model,
		"max_input_chars": strconv.Itoa(cfg.LLM.MaxInput()),
		"debug":           strconv.FormatBool(cfg.Debug),
	}
	if cfg.Conversations.PostgresDSN != "" {
		snap["store"] = "postgres"
	} else {
		snap["store"] = "memory"
	}
	return snap
}

// ErrOverrideDisabled is returned by [ApplyOverride] when debug mode is off.
var ErrOverrideDisabled = errors.New("config: runtime overrides require debug mode")

// ApplyOverride mutates a single recognised option at runtime. It is
// honoured only when cfg.Debug is set; production builds reject every
// override. The recognised keys mirror the environment surface: base_url,
// auth_token, timeout_seconds.
func ApplyOverride(cfg *Config, key, value string) error {
	if !cfg.Debug {
		return ErrOverrideDisabled
	}
	switch key {
	case "base_url":
		if err := validateBaseURL(value); err != nil {
			return fmt.Errorf("config: override base_url: %w", err)
		}
		cfg.Backend.BaseURL = value
	case "auth_token":
		cfg.Backend.AuthToken = value
	case "timeout_seconds":
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("config: override timeout_seconds: %q is not a positive number", value)
		}
		cfg.Backend.TimeoutSeconds = secs
	default:
		return fmt.Errorf("config: override %q is not a recognised option", key)
	}
	return nil
}
