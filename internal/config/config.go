/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the supercheck process
type Config struct {
	// configFileUsed is the path to the config file that was loaded (empty if none)
	configFileUsed string

	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel string `mapstructure:"log-level"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Redis queue backend configuration
	Redis RedisConfig `mapstructure:"redis"`

	// Capacity gate configuration
	Capacity CapacityConfig `mapstructure:"capacity"`

	// Scheduler configuration
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Executor configuration
	Executor ExecutorConfig `mapstructure:"executor"`

	// Artifacts storage configuration
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`

	// Alerting configuration
	Alerting AlertingConfig `mapstructure:"alerting"`

	// API server configuration
	API APIConfig `mapstructure:"api"`
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	// Type is the storage backend type (sqlite, postgres, mysql)
	Type string `mapstructure:"type" json:"type"`

	// SQLite configuration
	SQLite SQLiteConfig `mapstructure:"sqlite" json:"sqlite,omitempty"`

	// PostgreSQL configuration
	PostgreSQL PostgreSQLConfig `mapstructure:"postgres" json:"postgres,omitempty"`

	// MySQL configuration
	MySQL MySQLConfig `mapstructure:"mysql" json:"mysql,omitempty"`

	// MaxOpenConns caps open connections (server backends only)
	MaxOpenConns int `mapstructure:"max-open-conns" json:"maxOpenConns"`

	// MaxIdleConns caps idle connections (server backends only)
	MaxIdleConns int `mapstructure:"max-idle-conns" json:"maxIdleConns"`
}

// SQLiteConfig configures SQLite storage
type SQLiteConfig struct {
	// Path to database file
	Path string `mapstructure:"path" json:"path"`
}

// PostgreSQLConfig configures PostgreSQL storage
type PostgreSQLConfig struct {
	// Host is the database host
	Host string `mapstructure:"host" json:"host,omitempty"`

	// Port is the database port
	Port int `mapstructure:"port" json:"port,omitempty"`

	// Database name
	Database string `mapstructure:"database" json:"database,omitempty"`

	// Username for authentication
	Username string `mapstructure:"username" json:"username,omitempty"`

	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`

	// SSLMode for connection
	SSLMode string `mapstructure:"ssl-mode" json:"sslMode,omitempty"`
}

// MySQLConfig configures MySQL/MariaDB storage
type MySQLConfig struct {
	// Host is the database host
	Host string `mapstructure:"host" json:"host,omitempty"`

	// Port is the database port
	Port int `mapstructure:"port" json:"port,omitempty"`

	// Database name
	Database string `mapstructure:"database" json:"database,omitempty"`

	// Username for authentication
	Username string `mapstructure:"username" json:"username,omitempty"`

	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`
}

// RedisConfig configures the queue backend connection
type RedisConfig struct {
	// Addr is the host:port of the Redis server
	Addr string `mapstructure:"addr" json:"addr"`

	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`

	// DB is the Redis logical database
	DB int `mapstructure:"db" json:"db"`
}

// CapacityConfig configures the execution admission gate
type CapacityConfig struct {
	// Running is the maximum number of concurrently executing runs
	Running int `mapstructure:"running" json:"running"`

	// Queued is the maximum number of runs waiting for a slot
	Queued int `mapstructure:"queued" json:"queued"`
}

// SchedulerConfig configures the background reconcile loops
type SchedulerConfig struct {
	// SyncInterval is how often schedules are reconciled from the database
	SyncInterval time.Duration `mapstructure:"sync-interval" json:"syncInterval"`

	// JanitorInterval is how often retention and queue-key sweeps run
	JanitorInterval time.Duration `mapstructure:"janitor-interval" json:"janitorInterval"`

	// ResultRetentionDays is how long monitor results are kept
	ResultRetentionDays int `mapstructure:"result-retention-days" json:"resultRetentionDays"`

	// HistoryRetentionDays is how long alert history is kept
	HistoryRetentionDays int `mapstructure:"history-retention-days" json:"historyRetentionDays"`
}

// ExecutorConfig configures the external test runner
type ExecutorConfig struct {
	// Command is the command line started for each run
	Command string `mapstructure:"command" json:"command"`

	// Timeout bounds one run of the external runner
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`

	// WorkDir is where per-run working directories are created
	WorkDir string `mapstructure:"work-dir" json:"workDir"`

	// MonitorConcurrency is the monitor check worker count
	MonitorConcurrency int `mapstructure:"monitor-concurrency" json:"monitorConcurrency"`
}

// ArtifactsConfig configures report artifact storage
type ArtifactsConfig struct {
	// Dir is the directory reports are copied into
	Dir string `mapstructure:"dir" json:"dir"`

	// BaseURL is the public URL prefix reports are served under
	BaseURL string `mapstructure:"base-url" json:"baseUrl"`
}

// AlertingConfig configures the alert engine
type AlertingConfig struct {
	// DashboardURL, when set, is linked from alert payloads
	DashboardURL string `mapstructure:"dashboard-url" json:"dashboardUrl"`
}

// APIConfig configures the operational HTTP API
type APIConfig struct {
	// Enabled turns on the API server
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Port for the API server
	Port int `mapstructure:"port" json:"port"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "/data/supercheck.db",
			},
			PostgreSQL: PostgreSQLConfig{
				Port:    5432,
				SSLMode: "require",
			},
			MySQL: MySQLConfig{
				Port: 3306,
			},
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Capacity: CapacityConfig{
			Running: 5,
			Queued:  10,
		},
		Scheduler: SchedulerConfig{
			SyncInterval:         1 * time.Minute,
			JanitorInterval:      12 * time.Hour,
			ResultRetentionDays:  30,
			HistoryRetentionDays: 90,
		},
		Executor: ExecutorConfig{
			Command:            "npx playwright test",
			Timeout:            10 * time.Minute,
			WorkDir:            "/tmp/supercheck",
			MonitorConcurrency: 10,
		},
		Artifacts: ArtifactsConfig{
			Dir:     "/data/artifacts",
			BaseURL: "http://localhost:8080/artifacts",
		},
		API: APIConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// BindFlags binds configuration flags to pflags
func BindFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()

	// Top-level
	flags.String("config", "", "Path to config file")
	flags.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")

	// Storage
	flags.String("storage.type", defaults.Storage.Type, "Storage backend type (sqlite, postgres, mysql)")
	flags.String("storage.sqlite.path", defaults.Storage.SQLite.Path, "Path to SQLite database file")
	flags.String("storage.postgres.host", "", "PostgreSQL host")
	flags.Int("storage.postgres.port", defaults.Storage.PostgreSQL.Port, "PostgreSQL port")
	flags.String("storage.postgres.database", "", "PostgreSQL database name")
	flags.String("storage.postgres.username", "", "PostgreSQL username")
	flags.String("storage.postgres.password", "", "PostgreSQL password")
	flags.String("storage.postgres.ssl-mode", defaults.Storage.PostgreSQL.SSLMode, "PostgreSQL SSL mode")
	flags.String("storage.mysql.host", "", "MySQL host")
	flags.Int("storage.mysql.port", defaults.Storage.MySQL.Port, "MySQL port")
	flags.String("storage.mysql.database", "", "MySQL database name")
	flags.String("storage.mysql.username", "", "MySQL username")
	flags.String("storage.mysql.password", "", "MySQL password")
	flags.Int("storage.max-open-conns", defaults.Storage.MaxOpenConns, "Maximum open database connections")
	flags.Int("storage.max-idle-conns", defaults.Storage.MaxIdleConns, "Maximum idle database connections")

	// Redis
	flags.String("redis.addr", defaults.Redis.Addr, "Redis address for the task queue")
	flags.String("redis.password", "", "Redis password")
	flags.Int("redis.db", defaults.Redis.DB, "Redis logical database")

	// Capacity
	flags.Int("capacity.running", defaults.Capacity.Running, "Maximum concurrently executing runs")
	flags.Int("capacity.queued", defaults.Capacity.Queued, "Maximum runs waiting for an execution slot")

	// Scheduler
	flags.Duration("scheduler.sync-interval", defaults.Scheduler.SyncInterval, "How often schedules are reconciled from the database")
	flags.Duration("scheduler.janitor-interval", defaults.Scheduler.JanitorInterval, "How often retention sweeps run")
	flags.Int("scheduler.result-retention-days", defaults.Scheduler.ResultRetentionDays, "How long monitor results are kept")
	flags.Int("scheduler.history-retention-days", defaults.Scheduler.HistoryRetentionDays, "How long alert history is kept")

	// Executor
	flags.String("executor.command", defaults.Executor.Command, "Command line started for each run")
	flags.Duration("executor.timeout", defaults.Executor.Timeout, "Timeout for one run of the external runner")
	flags.String("executor.work-dir", defaults.Executor.WorkDir, "Directory for per-run working directories")
	flags.Int("executor.monitor-concurrency", defaults.Executor.MonitorConcurrency, "Monitor check worker count")

	// Artifacts
	flags.String("artifacts.dir", defaults.Artifacts.Dir, "Directory reports are copied into")
	flags.String("artifacts.base-url", defaults.Artifacts.BaseURL, "Public URL prefix reports are served under")

	// Alerting
	flags.String("alerting.dashboard-url", "", "Dashboard URL linked from alert payloads")

	// API
	flags.Bool("api.enabled", defaults.API.Enabled, "Enable the API server")
	flags.Int("api.port", defaults.API.Port, "API server port")
}

// Load loads configuration from flags, environment, and config file
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults from DefaultConfig
	defaults := DefaultConfig()
	v.SetDefault("log-level", defaults.LogLevel)
	v.SetDefault("storage.type", defaults.Storage.Type)
	v.SetDefault("storage.sqlite.path", defaults.Storage.SQLite.Path)
	v.SetDefault("storage.postgres.port", defaults.Storage.PostgreSQL.Port)
	v.SetDefault("storage.postgres.ssl-mode", defaults.Storage.PostgreSQL.SSLMode)
	v.SetDefault("storage.mysql.port", defaults.Storage.MySQL.Port)
	v.SetDefault("storage.max-open-conns", defaults.Storage.MaxOpenConns)
	v.SetDefault("storage.max-idle-conns", defaults.Storage.MaxIdleConns)
	v.SetDefault("redis.addr", defaults.Redis.Addr)
	v.SetDefault("redis.db", defaults.Redis.DB)
	v.SetDefault("capacity.running", defaults.Capacity.Running)
	v.SetDefault("capacity.queued", defaults.Capacity.Queued)
	v.SetDefault("scheduler.sync-interval", defaults.Scheduler.SyncInterval)
	v.SetDefault("scheduler.janitor-interval", defaults.Scheduler.JanitorInterval)
	v.SetDefault("scheduler.result-retention-days", defaults.Scheduler.ResultRetentionDays)
	v.SetDefault("scheduler.history-retention-days", defaults.Scheduler.HistoryRetentionDays)
	v.SetDefault("executor.command", defaults.Executor.Command)
	v.SetDefault("executor.timeout", defaults.Executor.Timeout)
	v.SetDefault("executor.work-dir", defaults.Executor.WorkDir)
	v.SetDefault("executor.monitor-concurrency", defaults.Executor.MonitorConcurrency)
	v.SetDefault("artifacts.dir", defaults.Artifacts.Dir)
	v.SetDefault("artifacts.base-url", defaults.Artifacts.BaseURL)
	v.SetDefault("api.enabled", defaults.API.Enabled)
	v.SetDefault("api.port", defaults.API.Port)

	// Bind flags
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	// Environment variables
	v.SetEnvPrefix("SUPERCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// Config file
	var configFileUsed string
	if configFile, _ := flags.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		configFileUsed = v.ConfigFileUsed()
	} else {
		// Try default locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/supercheck")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err == nil {
			configFileUsed = v.ConfigFileUsed()
		}
		// Ignore error if no config file found - will use defaults
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store which config file was used (empty string if none)
	cfg.configFileUsed = configFileUsed

	return cfg, nil
}

// ConfigFileUsed returns the path to the config file that was loaded (empty if none)
func (c *Config) ConfigFileUsed() string {
	return c.configFileUsed
}

// StorageDSN renders the DSN for the configured storage backend.
func (c *Config) StorageDSN() (dialect, dsn string, err error) {
	switch c.Storage.Type {
	case "sqlite":
		return "sqlite", c.Storage.SQLite.Path, nil
	case "postgres":
		p := c.Storage.PostgreSQL
		return "postgres", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			p.Host, p.Port, p.Username, p.Password, p.Database, p.SSLMode), nil
	case "mysql":
		m := c.Storage.MySQL
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			m.Username, m.Password, m.Host, m.Port, m.Database), nil
	default:
		return "", "", fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
}
