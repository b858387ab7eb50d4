package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func loadWithHome(t *testing.T, yaml string) Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv("PUNCHD_HOME", home)
	if yaml != "" {
		if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadWithHome(t, "")
	if cfg.Storage.Host != "127.0.0.1" || cfg.Storage.Port != 3306 || cfg.Storage.Database != "punch" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Governor.StepCeiling != 40 {
		t.Fatalf("step ceiling default = %d", cfg.Governor.StepCeiling)
	}
	if cfg.Governor.CostCeiling != 2.00 {
		t.Fatalf("cost ceiling default = %v", cfg.Governor.CostCeiling)
	}
	if !strings.HasSuffix(cfg.Ingest.LogsRoot, "sessions") {
		t.Fatalf("logs root default = %q", cfg.Ingest.LogsRoot)
	}
	if cfg.Propagate.Prefix != "punch" {
		t.Fatalf("propagate prefix default = %q, want database name", cfg.Propagate.Prefix)
	}
}

func TestPropagatePrefixOverride(t *testing.T) {
	t.Setenv("PUNCH_STORE_PREFIX", "alpha")
	cfg := loadWithHome(t, "")
	if cfg.Propagate.Prefix != "alpha" {
		t.Fatalf("propagate prefix = %q", cfg.Propagate.Prefix)
	}
	if got := cfg.Storage.DSNFor("beta"); !strings.Contains(got, "/beta?") {
		t.Fatalf("DSNFor = %q", got)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	t.Setenv("PUNCH_DB_HOST", "db.internal")
	t.Setenv("PUNCH_DB_PORT", "13306")
	t.Setenv("PUNCH_DB_PASSWORD", "hunter2")
	cfg := loadWithHome(t, "storage:\n  host: from-file\n  database: other\ngovernor:\n  cost_ceiling: 5.5\n")

	// File value survives where env is silent, env wins where set.
	if cfg.Storage.Database != "other" {
		t.Fatalf("file database override lost: %q", cfg.Storage.Database)
	}
	if cfg.Storage.Host != "db.internal" || cfg.Storage.Port != 13306 {
		t.Fatalf("env override not applied: %+v", cfg.Storage)
	}
	if cfg.Governor.CostCeiling != 5.5 {
		t.Fatalf("governor cost ceiling = %v", cfg.Governor.CostCeiling)
	}

	dsn := cfg.Storage.DSN()
	want := "root:hunter2@tcp(db.internal:13306)/other?parseTime=true"
	if dsn != want {
		t.Fatalf("DSN = %q, want %q", dsn, want)
	}
}

func TestNormalizeRejectsNonPositiveThresholds(t *testing.T) {
	cfg := loadWithHome(t, "governor:\n  step_ceiling: -3\n  plateau_ratio: 0\nstorage:\n  timeout_seconds: 0\n")
	if cfg.Governor.StepCeiling != 40 {
		t.Fatalf("negative step ceiling not normalized: %d", cfg.Governor.StepCeiling)
	}
	if cfg.Governor.PlateauRatio != 0.2 {
		t.Fatalf("zero plateau ratio not normalized: %v", cfg.Governor.PlateauRatio)
	}
	if cfg.Storage.Timeout().Seconds() != 30 {
		t.Fatalf("zero timeout not normalized: %v", cfg.Storage.Timeout())
	}
}
