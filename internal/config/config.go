// Package config holds run configuration for the enrichment pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"prism/internal/types"
)

// DefaultModel is the Anthropic model used by the analysis services unless
// overridden by configuration.
const DefaultModel = "claude-sonnet-4-5-20250929"

// Config controls one pipeline run
type Config struct {
	// EnabledServices is the set of analysis services active for this run.
	// Services are executed in their declared dependency order regardless of
	// the order listed here.
	// Default: all built-in services
	EnabledServices []types.ServiceType `yaml:"enabled_services"`

	// UnitCostPerAnalysis is the configured cost in USD of one full fresh
	// analysis of an item, used to value avoided work when an item is
	// satisfied by reuse. It deliberately stays a configuration constant so
	// savings are comparable across runs.
	// Default: 0.12, Range: 0-1000
	UnitCostPerAnalysis float64 `yaml:"unit_cost_per_analysis"`

	// ConcurrencyWidth is the number of items processed concurrently.
	// Width 1 (sequential) is always valid.
	// Default: 1, Range: 1-64
	ConcurrencyWidth int `yaml:"concurrency_width"`

	// CopyStalenessTTL bounds the age of an enrichment record eligible for
	// reuse. Records older than the TTL are re-analyzed instead of copied.
	// Zero means records never go stale.
	// Default: 0 (never stale)
	CopyStalenessTTL time.Duration `yaml:"copy_staleness_ttl"`

	// ClaimTimeout bounds how long an item waits on another item's
	// in-flight analysis of the same fingerprint before giving up and
	// analyzing independently.
	// Default: 2m, Range: 1s-30m
	ClaimTimeout time.Duration `yaml:"claim_timeout"`

	// BatchSize is the number of items resolved against the metadata store
	// per aggregate lookup.
	// Default: 50, Range: 1-500
	BatchSize int `yaml:"batch_size"`

	// DatabasePath is the location of the sqlite database backing the
	// metadata store and storage writer.
	// Default: .prism/prism.db
	DatabasePath string `yaml:"database_path"`

	// Model is the Anthropic model identifier used by the analysis services.
	// Default: DefaultModel
	Model string `yaml:"model"`
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		EnabledServices:     types.AllServiceTypes(),
		UnitCostPerAnalysis: 0.12,
		ConcurrencyWidth:    1,
		CopyStalenessTTL:    0,
		ClaimTimeout:        2 * time.Minute,
		BatchSize:           50,
		DatabasePath:        ".prism/prism.db",
		Model:               DefaultModel,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if len(c.EnabledServices) == 0 {
		return fmt.Errorf("enabled_services cannot be empty")
	}
	seen := make(map[types.ServiceType]bool, len(c.EnabledServices))
	for _, svc := range c.EnabledServices {
		if !svc.IsValid() {
			return fmt.Errorf("unknown service type %q in enabled_services", svc)
		}
		if seen[svc] {
			return fmt.Errorf("duplicate service type %q in enabled_services", svc)
		}
		seen[svc] = true
	}

	if c.UnitCostPerAnalysis < 0 || c.UnitCostPerAnalysis > 1000 {
		return fmt.Errorf("unit_cost_per_analysis must be between 0 and 1000 (got %.4f)",
			c.UnitCostPerAnalysis)
	}

	if c.ConcurrencyWidth < 1 || c.ConcurrencyWidth > 64 {
		return fmt.Errorf("concurrency_width must be between 1 and 64 (got %d)", c.ConcurrencyWidth)
	}

	if c.CopyStalenessTTL < 0 {
		return fmt.Errorf("copy_staleness_ttl cannot be negative (got %v)", c.CopyStalenessTTL)
	}

	if c.ClaimTimeout < time.Second || c.ClaimTimeout > 30*time.Minute {
		return fmt.Errorf("claim_timeout must be between 1s and 30m (got %v)", c.ClaimTimeout)
	}

	if c.BatchSize < 1 || c.BatchSize > 500 {
		return fmt.Errorf("batch_size must be between 1 and 500 (got %d)", c.BatchSize)
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}

	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	return nil
}

// EnabledSet returns the enabled services as a set for membership checks.
func (c Config) EnabledSet() map[types.ServiceType]bool {
	set := make(map[types.ServiceType]bool, len(c.EnabledServices))
	for _, svc := range c.EnabledServices {
		set[svc] = true
	}
	return set
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	names := make([]string, len(c.EnabledServices))
	for i, svc := range c.EnabledServices {
		names[i] = string(svc)
	}
	ttl := c.CopyStalenessTTL.String()
	if c.CopyStalenessTTL == 0 {
		ttl = "never"
	}
	return fmt.Sprintf(
		"Config{Services: [%s], UnitCost: $%.4f, Width: %d, StalenessTTL: %s, "+
			"ClaimTimeout: %v, BatchSize: %d, DB: %s, Model: %s}",
		strings.Join(names, ","), c.UnitCostPerAnalysis, c.ConcurrencyWidth, ttl,
		c.ClaimTimeout, c.BatchSize, c.DatabasePath, c.Model,
	)
}

// ConfigFromEnv creates a Config from environment variables, falling back to
// defaults
//
// Environment variables:
//   - PRISM_SERVICES: Comma-separated service types (default: all built-in)
//   - PRISM_UNIT_COST: USD cost of one full fresh analysis (default: 0.12)
//   - PRISM_CONCURRENCY: Worker pool width (default: 1)
//   - PRISM_COPY_STALENESS_TTL: Reuse age bound, e.g. "72h", or "never" (default: never)
//   - PRISM_CLAIM_TIMEOUT: Wait bound on in-flight analysis, e.g. "2m" (default: 2m)
//   - PRISM_BATCH_SIZE: Items per metadata lookup (default: 50)
//   - PRISM_DB_PATH: SQLite database path (default: .prism/prism.db)
//   - PRISM_MODEL: Anthropic model identifier
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvServices("PRISM_SERVICES", &cfg.EnabledServices); err != nil {
		return cfg, err
	}
	if err := parseEnvFloat("PRISM_UNIT_COST", &cfg.UnitCostPerAnalysis); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("PRISM_CONCURRENCY", &cfg.ConcurrencyWidth); err != nil {
		return cfg, err
	}
	if err := parseEnvTTL("PRISM_COPY_STALENESS_TTL", &cfg.CopyStalenessTTL); err != nil {
		return cfg, err
	}
	if err := parseEnvDuration("PRISM_CLAIM_TIMEOUT", &cfg.ClaimTimeout); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("PRISM_BATCH_SIZE", &cfg.BatchSize); err != nil {
		return cfg, err
	}
	if err := parseEnvString("PRISM_DB_PATH", &cfg.DatabasePath); err != nil {
		return cfg, err
	}
	if err := parseEnvString("PRISM_MODEL", &cfg.Model); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}

	return cfg, nil
}

// fileConfig mirrors Config with strings for durations so YAML files can say
// "72h" or "never" instead of nanosecond integers. Pointer fields distinguish
// absent keys from explicit zeros.
type fileConfig struct {
	EnabledServices     []string `yaml:"enabled_services"`
	UnitCostPerAnalysis *float64 `yaml:"unit_cost_per_analysis"`
	ConcurrencyWidth    *int     `yaml:"concurrency_width"`
	CopyStalenessTTL    string   `yaml:"copy_staleness_ttl"`
	ClaimTimeout        string   `yaml:"claim_timeout"`
	BatchSize           *int     `yaml:"batch_size"`
	DatabasePath        string   `yaml:"database_path"`
	Model               string   `yaml:"model"`
}

// LoadConfig reads a YAML config file and applies it over the defaults.
// Unset keys keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if len(fc.EnabledServices) > 0 {
		services, err := parseServiceList(strings.Join(fc.EnabledServices, ","))
		if err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
		cfg.EnabledServices = services
	}
	if fc.UnitCostPerAnalysis != nil {
		cfg.UnitCostPerAnalysis = *fc.UnitCostPerAnalysis
	}
	if fc.ConcurrencyWidth != nil {
		cfg.ConcurrencyWidth = *fc.ConcurrencyWidth
	}
	if fc.CopyStalenessTTL != "" {
		ttl, err := parseTTL(fc.CopyStalenessTTL)
		if err != nil {
			return cfg, fmt.Errorf("config file %s: copy_staleness_ttl: %w", path, err)
		}
		cfg.CopyStalenessTTL = ttl
	}
	if fc.ClaimTimeout != "" {
		d, err := time.ParseDuration(fc.ClaimTimeout)
		if err != nil {
			return cfg, fmt.Errorf("config file %s: claim_timeout: %w", path, err)
		}
		cfg.ClaimTimeout = d
	}
	if fc.BatchSize != nil {
		cfg.BatchSize = *fc.BatchSize
	}
	if fc.DatabasePath != "" {
		cfg.DatabasePath = fc.DatabasePath
	}
	if fc.Model != "" {
		cfg.Model = fc.Model
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return cfg, nil
}

// parseServiceList parses a comma-separated list of service type names
func parseServiceList(value string) ([]types.ServiceType, error) {
	parts := strings.Split(value, ",")
	services := make([]types.ServiceType, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		svc := types.ServiceType(name)
		if !svc.IsValid() {
			return nil, fmt.Errorf("unknown service type %q", name)
		}
		services = append(services, svc)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("service list is empty")
	}
	return services, nil
}

// parseTTL parses a staleness TTL: a duration string or "never" for zero
func parseTTL(value string) (time.Duration, error) {
	if strings.EqualFold(strings.TrimSpace(value), "never") {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid TTL %q: %w", value, err)
	}
	return d, nil
}

// parseEnvServices parses a comma-separated service list from an environment variable
func parseEnvServices(key string, dest *[]types.ServiceType) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	services, err := parseServiceList(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = services
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration from an environment variable
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvTTL parses a staleness TTL from an environment variable
func parseEnvTTL(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := parseTTL(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}
