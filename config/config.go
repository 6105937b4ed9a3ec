package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Trendoracle TrendoracleConfig `yaml:"trendoracle"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Validators  []ValidatorConfig `yaml:"validators"`
	Storage     StorageConfig     `yaml:"storage"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type TrendoracleConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	NetworkType string `yaml:"network_type"`
}

// OracleConfig carries the consensus policy. The defaults match the
// reference deployment: 2% score tolerance and a 2/3 agreement floor.
type OracleConfig struct {
	MinResponses      int           `yaml:"min_responses"`
	MaxVariance       float64       `yaml:"max_variance"`
	RequiredAgreement float64       `yaml:"required_agreement"`
	ValidatorTimeout  time.Duration `yaml:"validator_timeout"`
	RoundTimeout      time.Duration `yaml:"round_timeout"`
	ProofTTL          time.Duration `yaml:"proof_ttl"`
}

// ValidatorConfig describes one validator node. Kind selects the client
// implementation: "simulated", "http" or "websocket".
type ValidatorConfig struct {
	ID      string        `yaml:"id"`
	Kind    string        `yaml:"kind"`
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Seed    int64         `yaml:"seed,omitempty"`
	Delay   time.Duration `yaml:"delay,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`

	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool,omitempty"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type StorageConfig struct {
	Sqlite SqliteConfig `yaml:"sqlite"`
}

type SqliteConfig struct {
	Path string `yaml:"path"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Buffer        int           `yaml:"buffer"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
	Region        string `yaml:"region"`
	CloudWatch    bool   `yaml:"cloudwatch"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Oracle: OracleConfig{
			MinResponses:      2,
			MaxVariance:       0.02,
			RequiredAgreement: 0.67,
			ValidatorTimeout:  5 * time.Second,
			RoundTimeout:      15 * time.Second,
			ProofTTL:          30 * 24 * time.Hour,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Archive.S3.Bucket = strings.TrimSpace(config.Archive.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Trendoracle.Name == "" {
		return fmt.Errorf("trendoracle.name is required")
	}

	if cfg.Trendoracle.Version == "" {
		return fmt.Errorf("trendoracle.version is required")
	}

	if cfg.Oracle.MinResponses < 2 {
		return fmt.Errorf("oracle.min_responses must be at least 2")
	}
	if cfg.Oracle.MaxVariance <= 0 || cfg.Oracle.MaxVariance >= 1 {
		return fmt.Errorf("oracle.max_variance must be in (0, 1)")
	}
	if cfg.Oracle.RequiredAgreement <= 0 || cfg.Oracle.RequiredAgreement > 1 {
		return fmt.Errorf("oracle.required_agreement must be in (0, 1]")
	}
	if cfg.Oracle.ValidatorTimeout <= 0 {
		return fmt.Errorf("oracle.validator_timeout must be greater than 0")
	}

	if len(cfg.Validators) < cfg.Oracle.MinResponses {
		return fmt.Errorf("at least %d validators must be configured", cfg.Oracle.MinResponses)
	}

	seen := make(map[string]struct{}, len(cfg.Validators))
	for i, v := range cfg.Validators {
		if v.ID == "" {
			return fmt.Errorf("validators[%d].id is required", i)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("duplicate validator id '%s'", v.ID)
		}
		seen[v.ID] = struct{}{}

		switch v.Kind {
		case "simulated":
		case "http", "websocket":
			if v.URL == "" {
				return fmt.Errorf("validators[%d].url is required for kind '%s'", i, v.Kind)
			}
		default:
			return fmt.Errorf("validators[%d].kind '%s' is invalid", i, v.Kind)
		}
	}

	if cfg.Storage.Sqlite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required")
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when the archive is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when the archive is enabled")
		}
		if cfg.Archive.BatchSize <= 0 {
			return fmt.Errorf("archive.batch_size must be greater than 0")
		}
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0")
		}
	}

	if cfg.Server.Enabled && cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when the server is enabled")
	}

	return nil
}
