// Package config loads the static service registry and supervisor settings
// from a TOML file.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/sidekick-proj/sidekick/internal/logger"
	"github.com/sidekick-proj/sidekick/internal/service"
	"github.com/sidekick-proj/sidekick/internal/supervisor"
)

// FileConfig mirrors the top-level TOML structure.
type FileConfig struct {
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        logger.Config    `mapstructure:"log"`
	Services   []ServiceConfig  `mapstructure:"services"`
}

type SupervisorConfig struct {
	Listen         string        `mapstructure:"listen"`
	StorePath      string        `mapstructure:"store_path"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	StartupPoll    time.Duration `mapstructure:"startup_poll"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	LivenessPoll   time.Duration `mapstructure:"liveness_poll"`
	StopCeiling    time.Duration `mapstructure:"stop_ceiling"`
}

type ServiceConfig struct {
	ID          string   `mapstructure:"id"`
	DisplayName string   `mapstructure:"display_name"`
	Command     string   `mapstructure:"command"`
	Args        []string `mapstructure:"args"`
	HealthURL   string   `mapstructure:"health_url"`
	StopSignal  string   `mapstructure:"stop_signal"`
}

// Config is the loaded, validated configuration.
type Config struct {
	Descriptors []service.Descriptor
	Settings    supervisor.Settings
	Listen      string
	StorePath   string
}

// Load parses a TOML config file into descriptors and settings. Relative
// store and log paths are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(fc.Services) == 0 {
		return nil, fmt.Errorf("config %s defines no services", path)
	}

	base := filepath.Dir(path)
	cfg := &Config{
		Listen:    fc.Supervisor.Listen,
		StorePath: resolve(base, fc.Supervisor.StorePath),
	}
	cfg.Settings = supervisor.Settings{
		StartupTimeout: fc.Supervisor.StartupTimeout,
		StartupPoll:    fc.Supervisor.StartupPoll,
		HealthInterval: fc.Supervisor.HealthInterval,
		LivenessPoll:   fc.Supervisor.LivenessPoll,
		StopCeiling:    fc.Supervisor.StopCeiling,
		Log:            fc.Log,
	}
	cfg.Settings.Log.Dir = resolve(base, cfg.Settings.Log.Dir)

	for _, sc := range fc.Services {
		d := service.Descriptor{
			ID:             sc.ID,
			DisplayName:    sc.DisplayName,
			ExecutablePath: sc.Command,
			Args:           sc.Args,
			HealthURL:      sc.HealthURL,
			StopSignal:     service.StopSignal(sc.StopSignal),
		}
		if d.StopSignal == "" {
			d.StopSignal = service.StopSignalTerm
		}
		if d.StopSignal != service.StopSignalTerm && d.StopSignal != service.StopSignalInt {
			return nil, fmt.Errorf("service %s: unknown stop_signal %q", sc.ID, sc.StopSignal)
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		cfg.Descriptors = append(cfg.Descriptors, d)
	}
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
