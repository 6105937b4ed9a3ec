package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `trendoracle:
  name: "TestOracle"
  version: "1.0"
  network_type: "testnet"
validators:
  - id: validator-1
    kind: simulated
  - id: validator-2
    kind: simulated
  - id: validator-3
    kind: simulated
storage:
  sqlite:
    path: test.db
archive:
  enabled: false
server:
  enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Trendoracle.Name != "TestOracle" {
		t.Errorf("unexpected service name %q", cfg.Trendoracle.Name)
	}
	if len(cfg.Validators) != 3 {
		t.Errorf("expected 3 validators, got %d", len(cfg.Validators))
	}

	// Consensus policy defaults
	if cfg.Oracle.MinResponses != 2 {
		t.Errorf("expected default min_responses 2, got %d", cfg.Oracle.MinResponses)
	}
	if cfg.Oracle.MaxVariance != 0.02 {
		t.Errorf("expected default max_variance 0.02, got %v", cfg.Oracle.MaxVariance)
	}
	if cfg.Oracle.RequiredAgreement != 0.67 {
		t.Errorf("expected default required_agreement 0.67, got %v", cfg.Oracle.RequiredAgreement)
	}
	if cfg.Oracle.ProofTTL != 30*24*time.Hour {
		t.Errorf("expected default proof_ttl of 30 days, got %v", cfg.Oracle.ProofTTL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("does-not-exist.yml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateConfigRejectsBadValidator(t *testing.T) {
	cfg := &Config{
		Trendoracle: TrendoracleConfig{Name: "x", Version: "1"},
		Oracle: OracleConfig{
			MinResponses:      2,
			MaxVariance:       0.02,
			RequiredAgreement: 0.67,
			ValidatorTimeout:  time.Second,
		},
		Validators: []ValidatorConfig{
			{ID: "a", Kind: "simulated"},
			{ID: "b", Kind: "http"}, // missing url
		},
		Storage: StorageConfig{Sqlite: SqliteConfig{Path: "test.db"}},
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error for http validator without url")
	}
}

func TestValidateConfigRejectsDuplicateIDs(t *testing.T) {
	cfg := &Config{
		Trendoracle: TrendoracleConfig{Name: "x", Version: "1"},
		Oracle: OracleConfig{
			MinResponses:      2,
			MaxVariance:       0.02,
			RequiredAgreement: 0.67,
			ValidatorTimeout:  time.Second,
		},
		Validators: []ValidatorConfig{
			{ID: "a", Kind: "simulated"},
			{ID: "a", Kind: "simulated"},
		},
		Storage: StorageConfig{Sqlite: SqliteConfig{Path: "test.db"}},
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error for duplicate validator ids")
	}
}
