package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete driftchat configuration
type Config struct {
	Identity Identity `yaml:"identity"`
	Relays   Relays   `yaml:"relays"`
	Engine   Engine   `yaml:"engine"`
	Batch    Batch    `yaml:"batch"`
	Preload  Preload  `yaml:"preload"`
	Logging  Logging  `yaml:"logging"`
}

// Identity contains Nostr identity information
type Identity struct {
	Npub string `yaml:"npub"` // Public key
	Nsec string `yaml:"-"`    // Secret key, loaded from DRIFTCHAT_NSEC env var only
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs    int `yaml:"connect_timeout_ms"`
	QueryTimeoutMs      int `yaml:"query_timeout_ms"`      // Interactive historical queries
	BackgroundTimeoutMs int `yaml:"background_timeout_ms"` // Preload and batch queries
}

// Engine contains message store and reconciliation tuning
type Engine struct {
	PageSize                 int `yaml:"page_size"`                  // Channel history page size
	DMPageSize               int `yaml:"dm_page_size"`               // Direct-message history page size
	ReconcileWindowSeconds   int `yaml:"reconcile_window_seconds"`   // Pending/confirmed match window
	MetadataFreshnessSeconds int `yaml:"metadata_freshness_seconds"` // Cache freshness for metadata queries
}

// Batch contains related-event loader tuning
type Batch struct {
	WindowMs int `yaml:"window_ms"` // Debounce window before a batch flushes
	MaxIDs   int `yaml:"max_ids"`   // Batch flushes early at this many ids
}

// Preload contains speculative preloader tuning
type Preload struct {
	Enabled         bool `yaml:"enabled"`
	HoverDelayMs    int  `yaml:"hover_delay_ms"`   // Pointer dwell before an intent preload fires
	IdleDelayMs     int  `yaml:"idle_delay_ms"`    // Quiet period before background preloading starts
	BatchSize       int  `yaml:"batch_size"`       // Communities preloaded per batch
	BatchDelayMs    int  `yaml:"batch_delay_ms"`   // Pause between preload batches
	CooldownSeconds int  `yaml:"cooldown_seconds"` // Minimum gap between preloads of one community
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		Relays: Relays{
			Seeds: []string{
				"wss://relay.damus.io",
				"wss://relay.nostr.band",
				"wss://nos.lol",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs:    5000,
				QueryTimeoutMs:      5000,
				BackgroundTimeoutMs: 15000,
			},
		},
		Engine: Engine{
			PageSize:                 50,
			DMPageSize:               20,
			ReconcileWindowSeconds:   30,
			MetadataFreshnessSeconds: 300,
		},
		Batch: Batch{
			WindowMs: 400,
			MaxIDs:   20,
		},
		Preload: Preload{
			Enabled:         true,
			HoverDelayMs:    250,
			IdleDelayMs:     2000,
			BatchSize:       4,
			BatchDelayMs:    500,
			CooldownSeconds: 30,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in missing configuration fields with sensible defaults
func applyDefaults(cfg *Config) {
	defaults := Default()

	if len(cfg.Relays.Seeds) == 0 {
		cfg.Relays.Seeds = defaults.Relays.Seeds
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.QueryTimeoutMs == 0 {
		cfg.Relays.Policy.QueryTimeoutMs = defaults.Relays.Policy.QueryTimeoutMs
	}
	if cfg.Relays.Policy.BackgroundTimeoutMs == 0 {
		cfg.Relays.Policy.BackgroundTimeoutMs = defaults.Relays.Policy.BackgroundTimeoutMs
	}

	if cfg.Engine.PageSize == 0 {
		cfg.Engine.PageSize = defaults.Engine.PageSize
	}
	if cfg.Engine.DMPageSize == 0 {
		cfg.Engine.DMPageSize = defaults.Engine.DMPageSize
	}
	if cfg.Engine.ReconcileWindowSeconds == 0 {
		cfg.Engine.ReconcileWindowSeconds = defaults.Engine.ReconcileWindowSeconds
	}
	if cfg.Engine.MetadataFreshnessSeconds == 0 {
		cfg.Engine.MetadataFreshnessSeconds = defaults.Engine.MetadataFreshnessSeconds
	}

	if cfg.Batch.WindowMs == 0 {
		cfg.Batch.WindowMs = defaults.Batch.WindowMs
	}
	if cfg.Batch.MaxIDs == 0 {
		cfg.Batch.MaxIDs = defaults.Batch.MaxIDs
	}

	if cfg.Preload.HoverDelayMs == 0 {
		cfg.Preload.HoverDelayMs = defaults.Preload.HoverDelayMs
	}
	if cfg.Preload.IdleDelayMs == 0 {
		cfg.Preload.IdleDelayMs = defaults.Preload.IdleDelayMs
	}
	if cfg.Preload.BatchSize == 0 {
		cfg.Preload.BatchSize = defaults.Preload.BatchSize
	}
	if cfg.Preload.BatchDelayMs == 0 {
		cfg.Preload.BatchDelayMs = defaults.Preload.BatchDelayMs
	}
	if cfg.Preload.CooldownSeconds == 0 {
		cfg.Preload.CooldownSeconds = defaults.Preload.CooldownSeconds
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	// The secret key never lives in the file
	if nsec := os.Getenv("DRIFTCHAT_NSEC"); nsec != "" {
		cfg.Identity.Nsec = nsec
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// validLogLevels defines allowed log levels
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines allowed log formats
var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks if a configuration is valid
func Validate(cfg *Config) error {
	if cfg.Identity.Npub == "" {
		return fmt.Errorf("identity.npub is required")
	}
	if !strings.HasPrefix(cfg.Identity.Npub, "npub1") {
		return fmt.Errorf("identity.npub must start with 'npub1'")
	}
	if cfg.Identity.Nsec != "" && !strings.HasPrefix(cfg.Identity.Nsec, "nsec1") {
		return fmt.Errorf("DRIFTCHAT_NSEC must start with 'nsec1'")
	}

	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("at least one relay seed is required")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay seed must start with ws:// or wss://: %s", seed)
		}
	}

	if cfg.Engine.PageSize < 1 || cfg.Engine.PageSize > 500 {
		return fmt.Errorf("engine.page_size must be between 1 and 500")
	}
	if cfg.Engine.DMPageSize < 1 || cfg.Engine.DMPageSize > 500 {
		return fmt.Errorf("engine.dm_page_size must be between 1 and 500")
	}
	if cfg.Engine.ReconcileWindowSeconds < 1 {
		return fmt.Errorf("engine.reconcile_window_seconds must be positive")
	}

	if cfg.Batch.WindowMs < 1 {
		return fmt.Errorf("batch.window_ms must be positive")
	}
	if cfg.Batch.MaxIDs < 1 || cfg.Batch.MaxIDs > 500 {
		return fmt.Errorf("batch.max_ids must be between 1 and 500")
	}

	if cfg.Preload.BatchSize < 1 || cfg.Preload.BatchSize > 50 {
		return fmt.Errorf("preload.batch_size must be between 1 and 50")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be one of: text, json)", cfg.Logging.Format)
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}
