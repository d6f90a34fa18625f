// Package config loads migrate.toml, walking up from the working directory
// to the project root, and overlays .env and MIGRATE_* environment values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const configFileName = "migrate.toml"

// Duration is a time.Duration that unmarshals from TOML strings like "24h".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// CopyConfig controls the bulk copier.
type CopyConfig struct {
	BatchSize   int `toml:"batch_size"`
	Concurrency int `toml:"concurrency"`
}

// ValidationConfig controls the consistency validator.
type ValidationConfig struct {
	Tolerance  float64 `toml:"tolerance"`
	SampleSize int     `toml:"sample_size"`
	SampleSeed int64   `toml:"sample_seed"`
}

// DualWriteConfig controls the dual-write coordinator.
type DualWriteConfig struct {
	Workers            int `toml:"workers"`
	QueueSize          int `toml:"queue_size"`
	AlertAfterFailures int `toml:"alert_after_failures"`

	// PauseAfterFailures stops enqueueing target writes after this many
	// consecutive failures. Zero never pauses; alerts still fire.
	PauseAfterFailures int `toml:"pause_after_failures"`
}

// CutoverConfig holds the phase-gate thresholds.
type CutoverConfig struct {
	DualWriteWindow Duration `toml:"dual_write_window"`
	QuickPasses     int      `toml:"quick_passes"`
	FallbackWindow  Duration `toml:"fallback_window"`
	MaxFallbackRate float64  `toml:"max_fallback_rate"`
	Retention       Duration `toml:"retention"`
	RTO             Duration `toml:"rto"`
}

type Config struct {
	OriginURL   string `toml:"origin_url"`
	TargetURL   string `toml:"target_url"`
	CatalogPath string `toml:"catalog_path"`

	Copy       CopyConfig       `toml:"copy"`
	Validation ValidationConfig `toml:"validation"`
	DualWrite  DualWriteConfig  `toml:"dual_write"`
	Cutover    CutoverConfig    `toml:"cutover"`

	ConfigFilePath string `toml:"-"`
}

// ConfigDir returns the directory holding migrate.toml, or "" when the
// config came from defaults alone.
func (c *Config) ConfigDir() string {
	if c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

// Load finds and parses migrate.toml starting from the working directory.
// A missing file is not an error; environment variables can carry the
// connection strings on their own.
func Load() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadFrom(startDir)
}

// LoadFrom walks up from startDir looking for migrate.toml, stopping at a
// project boundary.
func LoadFrom(startDir string) (*Config, error) {
	config := &Config{}

	dir := startDir
	for {
		configPath := filepath.Join(dir, configFileName)
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, err
			}
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
			}
			config.ConfigFilePath = configPath
			break
		}

		if isProjectRoot(dir) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if err := config.applyDotenv(); err != nil {
		return nil, err
	}
	config.applyEnv()
	return config, nil
}

// isProjectRoot checks for common project-boundary markers.
func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// applyDotenv overlays values from a .env next to migrate.toml (or in the
// working directory when no config file was found).
func (c *Config) applyDotenv() error {
	baseDir := c.ConfigDir()
	if baseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		baseDir = cwd
	}

	dotenvPath := filepath.Join(baseDir, ".env")
	info, err := os.Stat(dotenvPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to access %s: %w", dotenvPath, err)
	}
	if info.IsDir() {
		return nil
	}

	values, err := godotenv.Read(dotenvPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dotenvPath, err)
	}
	if v := values["MIGRATE_ORIGIN_URL"]; v != "" {
		c.OriginURL = v
	}
	if v := values["MIGRATE_TARGET_URL"]; v != "" {
		c.TargetURL = v
	}
	if v := values["MIGRATE_CATALOG"]; v != "" {
		c.CatalogPath = v
	}
	return nil
}

// applyEnv overlays MIGRATE_* process environment variables. These take
// precedence over both migrate.toml and .env.
func (c *Config) applyEnv() {
	if v := os.Getenv("MIGRATE_ORIGIN_URL"); v != "" {
		c.OriginURL = v
	}
	if v := os.Getenv("MIGRATE_TARGET_URL"); v != "" {
		c.TargetURL = v
	}
	if v := os.Getenv("MIGRATE_CATALOG"); v != "" {
		c.CatalogPath = v
	}
}

// ResolveCatalogPath returns the catalog path relative to the config file
// when one was found.
func (c *Config) ResolveCatalogPath() string {
	path := c.CatalogPath
	if path == "" {
		path = "catalog.json"
	}
	if filepath.IsAbs(path) {
		return path
	}
	if dir := c.ConfigDir(); dir != "" {
		return filepath.Join(dir, path)
	}
	return path
}
