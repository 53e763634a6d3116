package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Master       MasterConfig    `mapstructure:"master"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

type MasterConfig struct {
	URL                  string `mapstructure:"url"`
	Email                string `mapstructure:"email"`
	Password             string `mapstructure:"password"`
	Timeout              string `mapstructure:"timeout"`
	SessionCheckInterval string `mapstructure:"session_check_interval"`
}

func (m MasterConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(m.Timeout)
	return d
}

func (m MasterConfig) GetSessionCheckInterval() time.Duration {
	d, _ := time.ParseDuration(m.SessionCheckInterval)
	return d
}

type SyncConfig struct {
	DeleteRecords      bool   `mapstructure:"delete_records"`
	IntervalMinutes    int    `mapstructure:"interval_minutes"`
	DateFormat         string `mapstructure:"date_format"`
	AbortOnCommitError bool   `mapstructure:"abort_on_commit_error"`
	ReplicateAdmins    bool   `mapstructure:"replicate_admins"`
}

type SchedulerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	FullBackupSchedule string `mapstructure:"full_backup_schedule"`
}

type StateStorage struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	AuthToken    string `mapstructure:"auth_token"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the environment names operators already use
// on the master/mirror deployments.
var envBindings = map[string]string{
	"master.url":            "MASTER_URL",
	"master.email":          "MASTER_EMAIL",
	"master.password":       "MASTER_PASS",
	"sync.delete_records":   "DELETE_RECORDS",
	"sync.interval_minutes": "SYNC_INTERVAL",
	"sync.date_format":      "SYNC_DATE_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("master.timeout", "10s")
	v.SetDefault("master.session_check_interval", "5m")

	v.SetDefault("sync.delete_records", false)
	v.SetDefault("sync.interval_minutes", 5)
	v.SetDefault("sync.date_format", "2006-01-02T15:04:05")
	v.SetDefault("sync.abort_on_commit_error", true)
	v.SetDefault("sync.replicate_admins", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.full_backup_schedule", "@daily")

	v.SetDefault("state_storage.type", "sqlite3")
	v.SetDefault("state_storage.file_path", "mirror.db")
	v.SetDefault("state_storage.port", 3306)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads the YAML file at path (if it exists) and overlays
// environment variables. An empty path means environment and defaults only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings the replication engine cannot run without.
func (c *Config) Validate() error {
	if c.Master.URL == "" {
		return fmt.Errorf("master url is required (MASTER_URL)")
	}
	if c.Sync.IntervalMinutes <= 0 {
		return fmt.Errorf("sync interval must be positive, got %d", c.Sync.IntervalMinutes)
	}
	if c.Sync.DateFormat == "" {
		return fmt.Errorf("sync date format must not be empty")
	}
	if c.Master.GetTimeout() <= 0 {
		return fmt.Errorf("invalid master timeout %q", c.Master.Timeout)
	}
	switch c.StateStorage.Type {
	case "mysql", "sqlite3":
	default:
		return fmt.Errorf("unsupported state storage type %q", c.StateStorage.Type)
	}
	return nil
}
