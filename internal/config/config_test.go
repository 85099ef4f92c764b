package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_IRT_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":50061" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Estimation.Model != "3PL" || cfg.Estimation.MaxIterations != 100 {
		t.Fatalf("unexpected estimation defaults: %+v", cfg.Estimation)
	}
	if cfg.Estimation.Bounds.Ability != 6 {
		t.Fatalf("expected default ability bound 6, got %v", cfg.Estimation.Bounds.Ability)
	}
	if cfg.Cache.Enabled {
		t.Fatalf("cache should be disabled by default")
	}
}

func TestLoadFileMergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irt.yaml")
	body := `
server:
  address: ":6000"
estimation:
  model: 4PL
  tolerance: 0.001
  bounds:
    difficulty:
      min: -4
      max: 4
cache:
  enabled: true
  ttl: 30s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":6000" || cfg.Server.MetricsAddress != ":2113" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Estimation.Model != "4PL" || cfg.Estimation.Tolerance != 0.001 {
		t.Fatalf("unexpected estimation config: %+v", cfg.Estimation)
	}
	if cfg.Estimation.Bounds.Difficulty.Min != -4 || cfg.Estimation.Bounds.Discrimination.Max != 8 {
		t.Fatalf("bounds not merged: %+v", cfg.Estimation.Bounds)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != 30*time.Second {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRADOR_IRT_CONFIG", "")
	t.Setenv("MIRADOR_IRT_MODEL", "4PL")
	t.Setenv("MIRADOR_IRT_MAX_ITERATIONS", "25")
	t.Setenv("MIRADOR_IRT_TOLERANCE", "0.5")
	t.Setenv("MIRADOR_IRT_INITIAL_GUESS", "jitter")
	t.Setenv("MIRADOR_IRT_SEED", "42")
	t.Setenv("MIRADOR_IRT_VERBOSE", "true")
	t.Setenv("MIRADOR_IRT_LOG_FORMAT", "json")
	t.Setenv("MIRADOR_IRT_CACHE_ENABLED", "1")
	t.Setenv("MIRADOR_IRT_CACHE_TTL", "2m")
	t.Setenv("MIRADOR_IRT_PARALLELISM", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	est := cfg.Estimation
	if est.Model != "4PL" || est.MaxIterations != 25 || est.Tolerance != 0.5 {
		t.Fatalf("overrides not applied: %+v", est)
	}
	if est.InitialGuess != "jitter" || est.Seed != 42 || !est.Verbose {
		t.Fatalf("overrides not applied: %+v", est)
	}
	if est.Parallelism != 0 {
		t.Fatalf("malformed parallelism should be ignored, got %d", est.Parallelism)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != 2*time.Minute {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
}
