// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Withdraw WithdrawConfig `mapstructure:"withdraw"`
	Signup   SignupConfig   `mapstructure:"signup"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// TasksConfig holds the task cycle settings. These are copied into a
// per-user snapshot at cycle start so that task economics stay reproducible
// when settings change mid-cycle.
type TasksConfig struct {
	LimitPerCycle        int           `mapstructure:"limit_per_cycle"`
	BlockOnReachingLimit bool          `mapstructure:"block_on_reaching_limit"`
	BlockMessage         string        `mapstructure:"block_message"`
	PriceCents           int64         `mapstructure:"price_cents"`
	CommissionCents      int64         `mapstructure:"commission_cents"`
	ClearBonusAtLimit    bool          `mapstructure:"clear_bonus_at_limit"`
	RecentTemplateWindow int           `mapstructure:"recent_template_window"`
	DirectiveSweepEvery  time.Duration `mapstructure:"directive_sweep_every"`
}

// WithdrawConfig holds withdrawal gating configuration.
type WithdrawConfig struct {
	// CycleGap is how many completed cycles must pass between withdrawals.
	CycleGap int `mapstructure:"cycle_gap"`
}

// SignupConfig holds new-wallet configuration.
type SignupConfig struct {
	BonusCents int64 `mapstructure:"bonus_cents"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, TASKS_LIMIT_PER_CYCLE.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "taskengine")
	v.SetDefault("database.name", "taskengine")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Task cycle defaults
	v.SetDefault("tasks.limit_per_cycle", 25)
	v.SetDefault("tasks.block_on_reaching_limit", true)
	v.SetDefault("tasks.block_message", "Cycle limit reached. Please contact customer care to continue.")
	v.SetDefault("tasks.price_cents", 1200)
	v.SetDefault("tasks.commission_cents", 145)
	v.SetDefault("tasks.clear_bonus_at_limit", true)
	v.SetDefault("tasks.recent_template_window", 20)
	v.SetDefault("tasks.directive_sweep_every", "5m")

	// Withdrawal defaults
	v.SetDefault("withdraw.cycle_gap", 2)

	// Signup defaults
	v.SetDefault("signup.bonus_cents", 1200)
}
