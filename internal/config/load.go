package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Bot       BotConfig       `koanf:"bot"`
	Database  DatabaseConfig  `koanf:"database"`
	Detection DetectionConfig `koanf:"detection"`
	Snapshot  SnapshotConfig  `koanf:"snapshot"`
	Backup    BackupConfig    `koanf:"backup"`
	Platform  PlatformConfig  `koanf:"platform"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type BotConfig struct {
	Token string `koanf:"token" validate:"required"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type DetectionConfig struct {
	Enabled     bool          `koanf:"enabled"`
	SweepWindow time.Duration `koanf:"sweep_window"`
}

type SnapshotConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gt=0"`
}

type BackupConfig struct {
	Interval  time.Duration `koanf:"interval" validate:"gt=0"`
	WarnAge   time.Duration `koanf:"warn_age" validate:"gt=0"`
	RejectAge time.Duration `koanf:"reject_age" validate:"gtfield=WarnAge"`
}

type PlatformConfig struct {
	MutationsPerSecond float64 `koanf:"mutations_per_second" validate:"gt=0"`
	ChannelCeiling     int     `koanf:"channel_ceiling" validate:"gt=0"`
}

type MetricsConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// Load reads the JSON config file, layers GUILDGUARD_* environment variables
// on top, and validates the result. A missing file is not an error; defaults
// plus environment are enough to run.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()
	if err := k.Load(file.Provider(path), json.Parser()); err != nil && !strings.Contains(err.Error(), "no such file") {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	err := k.Load(env.Provider("GUILDGUARD_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "GUILDGUARD_")), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "guildguard.db"},
		Detection: DetectionConfig{
			Enabled:     true,
			SweepWindow: 5 * time.Minute,
		},
		Snapshot: SnapshotConfig{RefreshInterval: 5 * time.Minute},
		Backup: BackupConfig{
			Interval:  6 * time.Hour,
			WarnAge:   24 * time.Hour,
			RejectAge: 72 * time.Hour,
		},
		Platform: PlatformConfig{
			MutationsPerSecond: 3,
			ChannelCeiling:     500,
		},
	}
}
