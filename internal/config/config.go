// Package config loads tablemirror configuration from tablemirror.yaml.
//
// Configuration is resolved by viper: an explicit path wins, otherwise the
// working directory and $HOME/.config/tablemirror are searched. Every field
// can be overridden through TM_-prefixed environment variables
// (TM_DASHBOARD_PORT, TM_JOURNAL_PATH, ...).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jverity/tablemirror/internal/mirror/schema"
)

// PairConfig describes one replicated store pair.
type PairConfig struct {
	// Name identifies the pair in logs, the journal and the dashboard.
	// Defaults to "<src base>!<dst base>" when empty.
	Name string `yaml:"name" mapstructure:"name"`

	// Src and Dst are paths to the two SQLite database files.
	Src string `yaml:"src" mapstructure:"src"`
	Dst string `yaml:"dst" mapstructure:"dst"`

	// Table describes the replicated table.
	Table schema.TableSpec `yaml:"table" mapstructure:"table"`
}

// LogConfig controls the rotating daemon log file.
type LogConfig struct {
	// File is the log file path. Empty means stderr only.
	File string `yaml:"file" mapstructure:"file"`

	MaxSizeMB  int `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DashboardConfig controls the WebSocket monitoring server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// Config is the root tablemirror configuration.
type Config struct {
	Pairs []PairConfig `yaml:"pairs" mapstructure:"pairs"`

	// JournalPath is the analytics database recording pass outcomes and
	// conflict decisions. Empty disables the journal.
	JournalPath string `yaml:"journal_path" mapstructure:"journal_path"`

	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		JournalPath: "tablemirror-journal.db",
		Dashboard: DashboardConfig{
			Enabled: false,
			Port:    8080,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration from path, or from the standard search locations
// when path is empty. A missing file yields Default() without error; a
// malformed file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tablemirror")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tablemirror"))
		}
	}

	v.SetEnvPrefix("TM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("journal_path", def.JournalPath)
	v.SetDefault("dashboard.enabled", def.Dashboard.Enabled)
	v.SetDefault("dashboard.port", def.Dashboard.Port)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return def, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks pair paths and table specs.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i := range c.Pairs {
		p := &c.Pairs[i]
		if p.Src == "" || p.Dst == "" {
			return fmt.Errorf("pair %d: src and dst paths are required", i)
		}
		if p.Src == p.Dst {
			return fmt.Errorf("pair %d: src and dst must be different files", i)
		}
		if err := p.Table.Validate(); err != nil {
			return fmt.Errorf("pair %d: %w", i, err)
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("%s!%s", filepath.Base(p.Src), filepath.Base(p.Dst))
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate pair name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// WriteDefault writes a commented starter config to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	cfg := Default()
	cfg.Pairs = []PairConfig{
		{
			Name: "example",
			Src:  "primary.db",
			Dst:  "replica.db",
			Table: schema.TableSpec{
				Name:         "items",
				PrimaryKey:   "id",
				Columns:      []string{"value"},
				PollInterval: 500 * time.Millisecond,
			},
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# tablemirror configuration\n# Run `tm run --config " + filepath.Base(path) + "` to start replication.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
