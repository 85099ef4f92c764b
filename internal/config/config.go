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

	"github.com/miradorstack/mirador-irt/internal/irt"
)

// Config captures the settings required to boot the estimation service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Estimation EstimationConfig `yaml:"estimation"`
	Cache      CacheConfig      `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour. MaxRecvBytes bounds the size
// of a single estimation request.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	MaxRecvBytes    int           `yaml:"maxRecvBytes"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// EstimationConfig holds the service-wide estimation defaults. Requests may
// override the first group of fields.
type EstimationConfig struct {
	Model          string  `yaml:"model"`
	MaxIterations  int     `yaml:"maxIterations"`
	Tolerance      float64 `yaml:"tolerance"`
	Parallelism    int     `yaml:"parallelism"`
	InitialGuess   string  `yaml:"initialGuess"`
	DeltaAggregate string  `yaml:"deltaAggregate"`
	Seed           int64   `yaml:"seed"`
	Verbose        bool    `yaml:"verbose"`

	PositiveCutoff          float64      `yaml:"positiveCutoff"`
	MinItemResponses        int          `yaml:"minItemResponses"`
	MinParticipantResponses int          `yaml:"minParticipantResponses"`
	Bounds                  irt.Bounds   `yaml:"bounds"`
	Solver                  SolverConfig `yaml:"solver"`
}

// SolverConfig tunes the per-entity least-squares solver.
type SolverConfig struct {
	MaxIterations int     `yaml:"maxIterations"`
	GradientTol   float64 `yaml:"gradientTol"`
	CostTol       float64 `yaml:"costTol"`
	StepTol       float64 `yaml:"stepTol"`
}

// CacheConfig controls caching of estimation results keyed by request content.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"maxEntries"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_IRT_CONFIG")
	}

	cfg := defaultConfig()

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
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are supplied.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	solver := irt.DefaultSolverSettings()
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
			MaxRecvBytes:    64 << 20,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Estimation: EstimationConfig{
			Model:                   string(irt.Kind3PL),
			MaxIterations:           100,
			Tolerance:               1e-4,
			InitialGuess:            "sum_score",
			DeltaAggregate:          "mean",
			PositiveCutoff:          0.5,
			MinParticipantResponses: 1,
			Bounds:                  irt.DefaultBounds(),
			Solver: SolverConfig{
				MaxIterations: solver.MaxIterations,
				GradientTol:   solver.GradientTol,
				CostTol:       solver.CostTol,
				StepTol:       solver.StepTol,
			},
		},
		Cache: CacheConfig{
			Enabled:    false,
			TTL:        15 * time.Minute,
			MaxEntries: 256,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_IRT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_IRT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_IRT_MAX_RECV_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxRecvBytes = n
		}
	}
	if v := os.Getenv("MIRADOR_IRT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_IRT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_IRT_MODEL"); v != "" {
		cfg.Estimation.Model = v
	}
	if v := os.Getenv("MIRADOR_IRT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Estimation.MaxIterations = n
		}
	}
	if v := os.Getenv("MIRADOR_IRT_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Estimation.Tolerance = f
		}
	}
	if v := os.Getenv("MIRADOR_IRT_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Estimation.Parallelism = n
		}
	}
	if v := os.Getenv("MIRADOR_IRT_INITIAL_GUESS"); v != "" {
		cfg.Estimation.InitialGuess = v
	}
	if v := os.Getenv("MIRADOR_IRT_DELTA_AGGREGATE"); v != "" {
		cfg.Estimation.DeltaAggregate = v
	}
	if v := os.Getenv("MIRADOR_IRT_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Estimation.Seed = n
		}
	}
	if v := os.Getenv("MIRADOR_IRT_VERBOSE"); v != "" {
		cfg.Estimation.Verbose = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_IRT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_IRT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("MIRADOR_IRT_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	}
}
