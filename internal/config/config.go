// Package config loads taskvisor.toml through viper. Every scalar key can be
// overridden from the environment as TASKVISOR_<SECTION>_<KEY>, for example
// TASKVISOR_STORE_DSN or TASKVISOR_SUPERVISOR_POLL_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/taskvisor/internal/cron"
	"github.com/loykin/taskvisor/internal/logger"
	"github.com/loykin/taskvisor/internal/notify"
)

const EnvPrefix = "TASKVISOR"

// Config represents the top-level TOML structure.
type Config struct {
	Store      StoreConfig       `mapstructure:"store"`
	Supervisor SupervisorConfig  `mapstructure:"supervisor"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Log        logger.Config     `mapstructure:"log"`
	Server     ServerConfig      `mapstructure:"server"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	History    HistoryConfig     `mapstructure:"history"`
	MQTT       notify.MQTTConfig `mapstructure:"mqtt"`
	Notify     NotifyConfig      `mapstructure:"notify"`

	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`

	Applications []AppConfig `mapstructure:"applications"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SupervisorConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	RestartDelay      time.Duration `mapstructure:"restart_delay"`
	CrashRestartDelay time.Duration `mapstructure:"crash_restart_delay"`
	Parallelism       int           `mapstructure:"parallelism"`
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"` // empty: served by the API server
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

type NotifyConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// defaults mirror the daemon's built-in behavior.
var defaults = map[string]any{
	"store.dsn":                      "taskvisor.json",
	"supervisor.poll_interval":       "5s",
	"supervisor.grace_period":        "5s",
	"supervisor.restart_delay":       "2s",
	"supervisor.crash_restart_delay": "5s",
	"supervisor.parallelism":         4,
	"scheduler.interval":             "1m",
	"log.level":                      "info",
	"log.format":                     "text",
	"log.color":                      false,
	"log.file":                       "",
	"log.max_size_mb":                logger.DefaultMaxSizeMB,
	"log.max_backups":                logger.DefaultMaxBackups,
	"log.max_age_days":               logger.DefaultMaxAgeDays,
	"log.compress":                   false,
	"log.app_dir":                    "",
	"server.listen":                  "127.0.0.1:8470",
	"server.base_path":               "/api",
	"metrics.enabled":                true,
	"metrics.listen":                 "",
	"mqtt.broker":                    "",
	"mqtt.client_id":                 "taskvisor",
	"mqtt.username":                  "",
	"mqtt.password":                  "",
	"mqtt.topic_prefix":              notify.DefaultTopicPrefix,
	"mqtt.qos":                       0,
	"mqtt.retained":                  false,
	"notify.queue_size":              256,
}

func newViper(withEnv bool) *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if !withEnv {
		return v
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	c, err := decode(newViper(false))
	if err != nil {
		// defaults are static
		panic(err)
	}
	return c
}

// Load reads path (TOML) over the defaults and applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper(true)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	if path != "" {
		c.resolvePaths(filepath.Dir(path))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// resolvePaths makes env_files relative to the config file's directory.
func (c *Config) resolvePaths(base string) {
	for i, p := range c.EnvFiles {
		if p != "" && !filepath.IsAbs(p) {
			c.EnvFiles[i] = filepath.Join(base, p)
		}
	}
}

// Validate checks the daemon settings and every application seed.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn must not be empty"))
	}
	if err := cron.CheckInterval(c.Supervisor.PollInterval); err != nil {
		errs = append(errs, fmt.Errorf("supervisor.poll_interval: %w", err))
	}
	if c.Supervisor.GracePeriod <= 0 {
		errs = append(errs, errors.New("supervisor.grace_period must be > 0"))
	}
	if c.Supervisor.RestartDelay < 0 || c.Supervisor.CrashRestartDelay < 0 {
		errs = append(errs, errors.New("supervisor delays must be >= 0"))
	}
	if err := cron.CheckInterval(c.Scheduler.Interval); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.interval: %w", err))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	seen := make(map[string]struct{}, len(c.Applications))
	for i, a := range c.Applications {
		app, err := a.Application()
		if err != nil {
			errs = append(errs, fmt.Errorf("applications[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[app.ID]; dup {
			errs = append(errs, fmt.Errorf("applications[%d]: duplicate id %s", i, app.ID))
		}
		seen[app.ID] = struct{}{}
	}
	return errors.Join(errs...)
}

// GlobalEnv merges env_files (in order) and then the top-level env list,
// later entries overriding earlier ones. The result is sorted "K=V" entries.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		vars, err := godotenv.Read(filepath.Clean(p))
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range vars {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}
