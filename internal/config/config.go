package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the incident intelligence service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Graph       GraphConfig       `yaml:"graph"`
	Scan        ScanConfig        `yaml:"scan"`
	BlastRadius BlastRadiusConfig `yaml:"blastRadius"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls the gRPC, HTTP and metrics listeners.
type ServerConfig struct {
	Address             string        `yaml:"address"`
	HTTPAddress         string        `yaml:"httpAddress"`
	MetricsAddress      string        `yaml:"metricsAddress"`
	GracefulTimeout     time.Duration `yaml:"gracefulTimeout"`
	RequestTimeout      time.Duration `yaml:"requestTimeout"`
	CORSOrigins         []string      `yaml:"corsOrigins"`
	IngestRatePerSecond float64       `yaml:"ingestRatePerSecond"`
	IngestBurst         int           `yaml:"ingestBurst"`
}

// StoreConfig selects the metric/change/alert store.
type StoreConfig struct {
	// Driver is one of auto, sqlite or memory.
	Driver      string        `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlitePath"`
	PingTimeout time.Duration `yaml:"pingTimeout"`
}

// ScoringConfig configures access to the anomaly scorer and classifier service.
type ScoringConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	// Fallback is none or threshold.
	Fallback string `yaml:"fallback"`
}

// PrometheusConfig configures the live health source used by blast radius analysis.
type PrometheusConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Step    time.Duration `yaml:"step"`
}

// GraphConfig locates the static dependency graph.
type GraphConfig struct {
	Path     string `yaml:"path"`
	MaxDepth int    `yaml:"maxDepth"`
}

// ScanConfig tunes the scan orchestrator.
type ScanConfig struct {
	Window             time.Duration   `yaml:"window"`
	Limit              int             `yaml:"limit"`
	MinSamples         int             `yaml:"minSamples"`
	BaselineSeedFactor float64         `yaml:"baselineSeedFactor"`
	ReferenceChange    ReferenceChange `yaml:"referenceChange"`
}

// ReferenceChange is the change event scans correlate against.
type ReferenceChange struct {
	Type      string `yaml:"type"`
	Service   string `yaml:"service"`
	Timestamp string `yaml:"timestamp"`
}

// BlastRadiusConfig tunes health aggregation for blast radius analysis.
type BlastRadiusConfig struct {
	Window       time.Duration `yaml:"window"`
	DemoFallback bool          `yaml:"demoFallback"`
}

// ArtifactsConfig selects where latest scan and blast radius results are written.
type ArtifactsConfig struct {
	// Driver is file or cache.
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// CacheConfig controls the cache backing artifact storage.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	LRUSize      int           `yaml:"lruSize"`
	ArtifactTTL  time.Duration `yaml:"artifactTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_INCIDENT_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:             ":50051",
			HTTPAddress:         ":8000",
			MetricsAddress:      ":2112",
			GracefulTimeout:     10 * time.Second,
			RequestTimeout:      10 * time.Second,
			CORSOrigins:         []string{"*"},
			IngestRatePerSecond: 200,
			IngestBurst:         400,
		},
		Store: StoreConfig{
			Driver:      "auto",
			SQLitePath:  "data/incident.db",
			PingTimeout: 2 * time.Second,
		},
		Scoring: ScoringConfig{
			Timeout:  5 * time.Second,
			Fallback: "none",
		},
		Prometheus: PrometheusConfig{
			Timeout: 2 * time.Second,
			Step:    5 * time.Second,
		},
		Graph: GraphConfig{Path: "configs/dependencies.yaml", MaxDepth: 16},
		Scan: ScanConfig{
			Window:             24 * time.Hour,
			Limit:              50,
			MinSamples:         5,
			BaselineSeedFactor: 0.7,
			ReferenceChange: ReferenceChange{
				Type:    "deployment",
				Service: "payment-api",
			},
		},
		BlastRadius: BlastRadiusConfig{Window: 5 * time.Minute},
		Artifacts:   ArtifactsConfig{Driver: "file", Dir: "data/output"},
		Logging:     LoggingConfig{Level: "info", JSON: false, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			LRUSize:      256,
		},
	}
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "auto", "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver must be auto, sqlite or memory, got %q", c.Store.Driver)
	}
	switch c.Scoring.Fallback {
	case "", "none", "threshold":
	default:
		return fmt.Errorf("scoring.fallback must be none or threshold, got %q", c.Scoring.Fallback)
	}
	switch c.Artifacts.Driver {
	case "file", "cache":
	default:
		return fmt.Errorf("artifacts.driver must be file or cache, got %q", c.Artifacts.Driver)
	}
	if c.Scan.MinSamples < 1 {
		return fmt.Errorf("scan.minSamples must be at least 1")
	}
	if c.Scan.Limit < c.Scan.MinSamples {
		return fmt.Errorf("scan.limit (%d) must be >= scan.minSamples (%d)", c.Scan.Limit, c.Scan.MinSamples)
	}
	if c.Graph.MaxDepth < 1 {
		return fmt.Errorf("graph.maxDepth must be at least 1")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_INCIDENT_GRPC_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_SCORING_URL"); v != "" {
		cfg.Scoring.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_SCORING_FALLBACK"); v != "" {
		cfg.Scoring.Fallback = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_PROMETHEUS_URL"); v != "" {
		cfg.Prometheus.URL = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_GRAPH_PATH"); v != "" {
		cfg.Graph.Path = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_SCAN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.Limit = n
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_SCAN_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scan.Window = d
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_BLAST_RADIUS_DEMO"); v != "" {
		cfg.BlastRadius.DemoFallback = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_ARTIFACTS_DRIVER"); v != "" {
		cfg.Artifacts.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_ARTIFACTS_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_INCIDENT_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
	if v := os.Getenv("MIRADOR_INCIDENT_CACHE_ARTIFACT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ArtifactTTL = d
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
