// Package config loads punchd configuration from $PUNCHD_HOME/config.yaml
// with environment-variable overrides. Environment wins over file, file wins
// over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/punchd/internal/otel"
)

// StorageConfig addresses the backing Dolt SQL server.
type StorageConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// TimeoutSeconds bounds every storage operation. Default 30.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DSN renders the go-sql-driver/mysql connection string.
func (s StorageConfig) DSN() string {
	return s.DSNFor(s.Database)
}

// DSNFor renders a connection string addressing another database on the
// same server. Peer stores live as sibling databases named by prefix.
func (s StorageConfig) DSNFor(database string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", s.User, s.Password, s.Host, s.Port, database)
}

// Timeout returns the bounded storage timeout as a duration.
func (s StorageConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// GovernorConfig holds the runaway-session rule thresholds.
type GovernorConfig struct {
	StepCeiling    int     `yaml:"step_ceiling"`
	CostCeiling    float64 `yaml:"cost_ceiling"`
	CycleWindow    int     `yaml:"cycle_window"`
	CycleRepeats   int     `yaml:"cycle_repeats"`
	PlateauWindow  int     `yaml:"plateau_window"`
	PlateauRatio   float64 `yaml:"plateau_ratio"`
	SweepSchedule  string  `yaml:"sweep_schedule"`  // 5-field cron expression
	ControlURL     string  `yaml:"control_url"`     // session-termination endpoint base
	TimeoutSeconds int     `yaml:"timeout_seconds"` // termination call ceiling
}

// IngestConfig locates the session-log root.
type IngestConfig struct {
	LogsRoot string `yaml:"logs_root"`
}

// PropagateConfig names the locally authoritative store.
type PropagateConfig struct {
	// Prefix is the local namespace prefix. Defaults to the storage
	// database name, since peer databases are named by their prefix.
	Prefix string `yaml:"prefix"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Storage   StorageConfig   `yaml:"storage"`
	Governor  GovernorConfig  `yaml:"governor"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Propagate PropagateConfig `yaml:"propagate"`
	OTel      otel.Config     `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Host:           "127.0.0.1",
			Port:           3306,
			Database:       "punch",
			User:           "root",
			Password:       "",
			TimeoutSeconds: 30,
		},
		Governor: GovernorConfig{
			StepCeiling:    40,
			CostCeiling:    2.00,
			CycleWindow:    12,
			CycleRepeats:   3,
			PlateauWindow:  10,
			PlateauRatio:   0.2,
			SweepSchedule:  "* * * * *",
			ControlURL:     "http://127.0.0.1:18790",
			TimeoutSeconds: 30,
		},
	}
}

// HomeDir resolves the punchd data directory, honoring PUNCHD_HOME.
func HomeDir() string {
	if override := os.Getenv("PUNCHD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".punchd")
}

// Load reads config.yaml from the punchd home (creating the directory if
// needed), then applies environment overrides. A missing config file is not
// an error; defaults apply.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create punchd home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("PUNCH_DB_HOST"); raw != "" {
		cfg.Storage.Host = raw
	}
	if raw := os.Getenv("PUNCH_DB_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.Storage.Port = port
		}
	}
	if raw := os.Getenv("PUNCH_DB_NAME"); raw != "" {
		cfg.Storage.Database = raw
	}
	if raw := os.Getenv("PUNCH_DB_USER"); raw != "" {
		cfg.Storage.User = raw
	}
	if raw := os.Getenv("PUNCH_DB_PASSWORD"); raw != "" {
		cfg.Storage.Password = raw
	}
	if raw := os.Getenv("PUNCH_CONTROL_URL"); raw != "" {
		cfg.Governor.ControlURL = raw
	}
	if raw := os.Getenv("PUNCH_LOGS_ROOT"); raw != "" {
		cfg.Ingest.LogsRoot = raw
	}
	if raw := os.Getenv("PUNCH_STORE_PREFIX"); raw != "" {
		cfg.Propagate.Prefix = raw
	}
	if raw := os.Getenv("PUNCHD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
}

func normalize(cfg *Config) {
	if cfg.Storage.TimeoutSeconds <= 0 {
		cfg.Storage.TimeoutSeconds = 30
	}
	if cfg.Governor.TimeoutSeconds <= 0 {
		cfg.Governor.TimeoutSeconds = 30
	}
	if cfg.Governor.StepCeiling <= 0 {
		cfg.Governor.StepCeiling = 40
	}
	if cfg.Governor.CostCeiling <= 0 {
		cfg.Governor.CostCeiling = 2.00
	}
	if cfg.Governor.CycleWindow <= 0 {
		cfg.Governor.CycleWindow = 12
	}
	if cfg.Governor.CycleRepeats <= 0 {
		cfg.Governor.CycleRepeats = 3
	}
	if cfg.Governor.PlateauWindow <= 0 {
		cfg.Governor.PlateauWindow = 10
	}
	if cfg.Governor.PlateauRatio <= 0 {
		cfg.Governor.PlateauRatio = 0.2
	}
	if cfg.Governor.SweepSchedule == "" {
		cfg.Governor.SweepSchedule = "* * * * *"
	}
	if cfg.Ingest.LogsRoot == "" {
		cfg.Ingest.LogsRoot = filepath.Join(cfg.HomeDir, "sessions")
	}
	if cfg.Propagate.Prefix == "" {
		cfg.Propagate.Prefix = cfg.Storage.Database
	}
}
