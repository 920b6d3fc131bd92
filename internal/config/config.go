package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mattn/go-shellwords"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// DefaultSchedule runs a backup every day at midnight.
const DefaultSchedule = "0 0 * * *"

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// BackupConfig holds the raw identity fields. They are validated per run.
type BackupConfig struct {
	Project     string `mapstructure:"project"`
	Environment string `mapstructure:"environment"`
	Frequency   string `mapstructure:"frequency"`
	TempDir     string `mapstructure:"temp_dir"`
}

type DatabaseConfig struct {
	Type    string        `mapstructure:"type"`
	URL     string        `mapstructure:"url"`
	Options string        `mapstructure:"options"`
	Tool    string        `mapstructure:"tool"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Bucket         string        `mapstructure:"bucket"`
	Region         string        `mapstructure:"region"`
	Endpoint       string        `mapstructure:"endpoint"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	Checksum       bool          `mapstructure:"checksum"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type ScheduleConfig struct {
	Cron          string `mapstructure:"cron"`
	RunOnStartup  bool   `mapstructure:"run_on_startup"`
	SingleShot    bool   `mapstructure:"single_shot"`
	SkipIfRunning bool   `mapstructure:"skip_if_running"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	BotToken  string `mapstructure:"bot_token"`
	ChatID    int64  `mapstructure:"chat_id"`
	OnSuccess bool   `mapstructure:"on_success"`
}

func (t TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

// envBindings maps config keys to environment variables. When several
// variables are listed the first one that is set wins.
var envBindings = map[string][]string{
	"app.name":                   {"APP_NAME"},
	"log.level":                  {"LOG_LEVEL"},
	"log.file":                   {"LOG_FILE"},
	"log.format":                 {"LOG_FORMAT"},
	"backup.project":             {"RAILWAY_PROJECT_NAME", "BACKUP_PROJECT_NAME"},
	"backup.environment":         {"RAILWAY_ENVIRONMENT_NAME", "BACKUP_ENV"},
	"backup.frequency":           {"BACKUP_FREQUENCY"},
	"backup.temp_dir":            {"BACKUP_TEMP_DIR"},
	"database.type":              {"BACKUP_DATABASE_TYPE"},
	"database.url":               {"BACKUP_DATABASE_URL"},
	"database.options":           {"BACKUP_OPTIONS"},
	"database.tool":              {"BACKUP_DUMP_TOOL"},
	"database.timeout":           {"BACKUP_DUMP_TIMEOUT"},
	"storage.bucket":             {"AWS_S3_BUCKET"},
	"storage.region":             {"AWS_S3_REGION"},
	"storage.endpoint":           {"AWS_S3_ENDPOINT"},
	"storage.force_path_style":   {"AWS_S3_FORCE_PATH_STYLE"},
	"storage.access_key":         {"AWS_ACCESS_KEY_ID"},
	"storage.secret_key":         {"AWS_SECRET_ACCESS_KEY"},
	"storage.checksum":           {"SUPPORT_OBJECT_LOCK"},
	"storage.timeout":            {"BACKUP_UPLOAD_TIMEOUT"},
	"schedule.cron":              {"BACKUP_CRON_SCHEDULE"},
	"schedule.run_on_startup":    {"RUN_ON_STARTUP"},
	"schedule.single_shot":       {"SINGLE_SHOT_MODE"},
	"schedule.skip_if_running":   {"BACKUP_SKIP_OVERLAP"},
	"notify.telegram.bot_token":  {"TELEGRAM_BOT_TOKEN"},
	"notify.telegram.chat_id":    {"TELEGRAM_CHAT_ID"},
	"notify.telegram.on_success": {"TELEGRAM_NOTIFY_SUCCESS"},
}

// Load reads the optional YAML file at path and overlays the environment.
// A missing file is not an error; environment-only deployments are the
// common case.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "snapvault")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("backup.temp_dir", os.TempDir())
	v.SetDefault("database.type", "postgresql")
	v.SetDefault("schedule.cron", DefaultSchedule)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		flagHook,
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// flagHook decodes a string into a bool the way deployment flags are read:
// any value is on except empty, "0", "false", "no" and "off".
func flagHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	switch strings.ToLower(strings.TrimSpace(reflect.ValueOf(data).String())) {
	case "", "0", "false", "no", "off":
		return false, nil
	default:
		return true, nil
	}
}

// Validate checks the settings the process cannot start without. Identity
// fields are resolved and checked by every run instead.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.Database.Type {
	case "postgresql", "postgres", "mongodb":
	default:
		return fmt.Errorf("database.type %q is not supported", c.Database.Type)
	}
	if _, err := shellwords.Parse(c.Database.Options); err != nil {
		return fmt.Errorf("database.options %q: %w", c.Database.Options, err)
	}
	if c.Database.Timeout < 0 {
		return fmt.Errorf("database.timeout must not be negative")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Storage.Region == "" {
		return fmt.Errorf("storage.region is required")
	}
	if c.Storage.Endpoint != "" {
		u, err := url.Parse(c.Storage.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("storage.endpoint %q must be an absolute URL", c.Storage.Endpoint)
		}
	}
	if (c.Storage.AccessKey == "") != (c.Storage.SecretKey == "") {
		return fmt.Errorf("storage.access_key and storage.secret_key must be set together")
	}
	if c.Storage.Timeout < 0 {
		return fmt.Errorf("storage.timeout must not be negative")
	}

	if c.Backup.TempDir == "" {
		return fmt.Errorf("backup.temp_dir is required")
	}

	if !c.Schedule.SingleShot {
		if _, err := ParseSchedule(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron %q: %w", c.Schedule.Cron, err)
		}
	}

	if c.Notify.Telegram.Enabled() && c.Notify.Telegram.ChatID == 0 {
		return fmt.Errorf("notify.telegram.chat_id is required when bot_token is set")
	}

	return nil
}

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule accepts standard five-field cron expressions, an optional
// leading seconds field and descriptors such as @daily or @every 1h.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	return scheduleParser.Parse(spec)
}
