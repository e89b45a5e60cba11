package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, provider wiring, store selection) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TimeoutChanged reports a new per-request backend timeout.
	TimeoutChanged    bool
	NewTimeoutSeconds float64

	// PricingChanged reports new per-million token rates.
	PricingChanged bool
	NewInputRate   float64
	NewOutputRate  float64

	// MaxInputChanged reports a new LLM input truncation limit.
	MaxInputChanged bool
	NewMaxInput     int
}

// Empty reports whether no hot-reloadable field changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TimeoutChanged && !d.PricingChanged && !d.MaxInputChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Backend.TimeoutSeconds != new.Backend.TimeoutSeconds {
		d.TimeoutChanged = true
		d.NewTimeoutSeconds = new.Backend.Timeout().Seconds()
	}

	if old.LLM.InputRatePerMTok != new.LLM.InputRatePerMTok ||
		old.LLM.OutputRatePerMTok != new.LLM.OutputRatePerMTok {
		d.PricingChanged = true
		d.NewInputRate = new.LLM.InputRatePerMTok
		d.NewOutputRate = new.LLM.OutputRatePerMTok
	}

	if old.LLM.MaxInput() != new.LLM.MaxInput() {
		d.MaxInputChanged = true
		d.NewMaxInput = new.LLM.MaxInput()
	}

	return d
}
