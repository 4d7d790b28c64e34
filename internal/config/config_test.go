package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"prism/internal/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() is invalid: %v", err)
	}
	if cfg.ConcurrencyWidth != 1 {
		t.Errorf("default width = %d, want 1 (sequential)", cfg.ConcurrencyWidth)
	}
	if cfg.CopyStalenessTTL != 0 {
		t.Errorf("default staleness TTL = %v, want 0 (never stale)", cfg.CopyStalenessTTL)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			modify: func(c *Config) {},
		},
		{
			name:    "no services",
			modify:  func(c *Config) { c.EnabledServices = nil },
			wantErr: "enabled_services",
		},
		{
			name: "unknown service",
			modify: func(c *Config) {
				c.EnabledServices = []types.ServiceType{"translate"}
			},
			wantErr: "unknown service",
		},
		{
			name: "duplicate service",
			modify: func(c *Config) {
				c.EnabledServices = []types.ServiceType{types.ServiceClassify, types.ServiceClassify}
			},
			wantErr: "duplicate service",
		},
		{
			name:    "negative unit cost",
			modify:  func(c *Config) { c.UnitCostPerAnalysis = -0.5 },
			wantErr: "unit_cost_per_analysis",
		},
		{
			name:    "zero width",
			modify:  func(c *Config) { c.ConcurrencyWidth = 0 },
			wantErr: "concurrency_width",
		},
		{
			name:    "width too large",
			modify:  func(c *Config) { c.ConcurrencyWidth = 65 },
			wantErr: "concurrency_width",
		},
		{
			name:    "negative staleness TTL",
			modify:  func(c *Config) { c.CopyStalenessTTL = -time.Hour },
			wantErr: "copy_staleness_ttl",
		},
		{
			name:    "claim timeout too short",
			modify:  func(c *Config) { c.ClaimTimeout = 500 * time.Millisecond },
			wantErr: "claim_timeout",
		},
		{
			name:    "claim timeout too long",
			modify:  func(c *Config) { c.ClaimTimeout = time.Hour },
			wantErr: "claim_timeout",
		},
		{
			name:    "batch size zero",
			modify:  func(c *Config) { c.BatchSize = 0 },
			wantErr: "batch_size",
		},
		{
			name:    "empty db path",
			modify:  func(c *Config) { c.DatabasePath = "" },
			wantErr: "database_path",
		},
		{
			name:    "empty model",
			modify:  func(c *Config) { c.Model = "" },
			wantErr: "model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PRISM_SERVICES", "classify, assess")
	t.Setenv("PRISM_UNIT_COST", "0.25")
	t.Setenv("PRISM_CONCURRENCY", "4")
	t.Setenv("PRISM_COPY_STALENESS_TTL", "72h")
	t.Setenv("PRISM_CLAIM_TIMEOUT", "30s")
	t.Setenv("PRISM_BATCH_SIZE", "10")
	t.Setenv("PRISM_DB_PATH", "/tmp/test-prism.db")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error: %v", err)
	}

	if len(cfg.EnabledServices) != 2 ||
		cfg.EnabledServices[0] != types.ServiceClassify ||
		cfg.EnabledServices[1] != types.ServiceAssess {
		t.Errorf("EnabledServices = %v, want [classify assess]", cfg.EnabledServices)
	}
	if cfg.UnitCostPerAnalysis != 0.25 {
		t.Errorf("UnitCostPerAnalysis = %v, want 0.25", cfg.UnitCostPerAnalysis)
	}
	if cfg.ConcurrencyWidth != 4 {
		t.Errorf("ConcurrencyWidth = %d, want 4", cfg.ConcurrencyWidth)
	}
	if cfg.CopyStalenessTTL != 72*time.Hour {
		t.Errorf("CopyStalenessTTL = %v, want 72h", cfg.CopyStalenessTTL)
	}
	if cfg.ClaimTimeout != 30*time.Second {
		t.Errorf("ClaimTimeout = %v, want 30s", cfg.ClaimTimeout)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
	if cfg.DatabasePath != "/tmp/test-prism.db" {
		t.Errorf("DatabasePath = %s, want /tmp/test-prism.db", cfg.DatabasePath)
	}
}

func TestConfigFromEnvNeverTTL(t *testing.T) {
	t.Setenv("PRISM_COPY_STALENESS_TTL", "never")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error: %v", err)
	}
	if cfg.CopyStalenessTTL != 0 {
		t.Errorf("CopyStalenessTTL = %v, want 0 for \"never\"", cfg.CopyStalenessTTL)
	}
}

func TestConfigFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad service", "PRISM_SERVICES", "classify,frobnicate"},
		{"bad float", "PRISM_UNIT_COST", "cheap"},
		{"bad int", "PRISM_CONCURRENCY", "many"},
		{"bad duration", "PRISM_CLAIM_TIMEOUT", "soon"},
		{"out of range", "PRISM_CONCURRENCY", "128"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := ConfigFromEnv(); err == nil {
				t.Errorf("ConfigFromEnv() with %s=%q expected error, got nil", tt.key, tt.value)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prism.yaml")
	content := `
enabled_services:
  - classify
  - entities
  - summarize
unit_cost_per_analysis: 0.08
concurrency_width: 8
copy_staleness_ttl: 168h
claim_timeout: 45s
batch_size: 25
database_path: /var/lib/prism/prism.db
model: claude-haiku-4-5-20251001
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if len(cfg.EnabledServices) != 3 {
		t.Errorf("EnabledServices = %v, want 3 services", cfg.EnabledServices)
	}
	if cfg.UnitCostPerAnalysis != 0.08 {
		t.Errorf("UnitCostPerAnalysis = %v, want 0.08", cfg.UnitCostPerAnalysis)
	}
	if cfg.ConcurrencyWidth != 8 {
		t.Errorf("ConcurrencyWidth = %d, want 8", cfg.ConcurrencyWidth)
	}
	if cfg.CopyStalenessTTL != 168*time.Hour {
		t.Errorf("CopyStalenessTTL = %v, want 168h", cfg.CopyStalenessTTL)
	}
	if cfg.Model != "claude-haiku-4-5-20251001" {
		t.Errorf("Model = %s, want claude-haiku-4-5-20251001", cfg.Model)
	}
}

func TestLoadConfigPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.yaml")
	if err := os.WriteFile(path, []byte("copy_staleness_ttl: never\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	// Unset keys keep defaults.
	def := DefaultConfig()
	if cfg.ConcurrencyWidth != def.ConcurrencyWidth {
		t.Errorf("ConcurrencyWidth = %d, want default %d", cfg.ConcurrencyWidth, def.ConcurrencyWidth)
	}
	if cfg.CopyStalenessTTL != 0 {
		t.Errorf("CopyStalenessTTL = %v, want 0 for \"never\"", cfg.CopyStalenessTTL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/prism.yaml"); err == nil {
		t.Error("LoadConfig() on missing file expected error, got nil")
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("concurrency_width: 999\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() with out-of-range width expected error, got nil")
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()
	if !strings.Contains(s, "never") {
		t.Errorf("String() = %s, want staleness rendered as \"never\"", s)
	}
	if !strings.Contains(s, "classify") {
		t.Errorf("String() = %s, want service names included", s)
	}
}
