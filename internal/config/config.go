package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Storage    Storage    `mapstructure:"storage"`
	Conversion Conversion `mapstructure:"conversion"`
	Database   Database   `mapstructure:"database"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Retry      Retry      `mapstructure:"retry"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Log        Log        `mapstructure:"log"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort     string        `mapstructure:"http_port"`     // HTTP port to listen on
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // covers conversion and streaming of a download
	MaxUpload    int64         `mapstructure:"max_upload"`    // request body limit in bytes
}

// Storage holds the directories used for uploads and produced artifacts.
type Storage struct {
	UploadDir string `mapstructure:"upload_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// Conversion holds the settings of the conversion lifecycle and external tools.
type Conversion struct {
	Retention           time.Duration `mapstructure:"retention"`            // how long undelivered conversions are kept
	Timeout             time.Duration `mapstructure:"timeout"`              // 0 disables the per-conversion timeout
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"` // 0 disables the periodic sweep
	FFmpegPath          string        `mapstructure:"ffmpeg_path"`
	TesseractPath       string        `mapstructure:"tesseract_path"`
	FontPath            string        `mapstructure:"font_path"` // TTF used for watermarks
	MaxMediaSize        int64         `mapstructure:"max_media_size"`
}

// Database holds database master and slave configuration for the audit log.
type Database struct {
	Enabled        bool           `mapstructure:"enabled"`
	Master         DatabaseNode   `mapstructure:"master"`
	Slaves         []DatabaseNode `mapstructure:"slaves"`
	AuditRetention time.Duration  `mapstructure:"audit_retention"` // 0 keeps audit events forever

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Kafka holds configuration for lifecycle events and maintenance requests.
type Kafka struct {
	Enabled          bool     `mapstructure:"enabled"`
	Brokers          []string `mapstructure:"brokers"`           // List of Kafka broker addresses
	GroupID          string   `mapstructure:"group_id"`          // Consumer group ID
	EventsTopic      string   `mapstructure:"events_topic"`      // lifecycle events are published here
	MaintenanceTopic string   `mapstructure:"maintenance_topic"` // sweep requests are consumed from here
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
	Runtime bool `mapstructure:"runtime"` // include Go runtime and process collectors
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level"`
}

// Addr returns the listen address for the HTTP server.
func (s Server) Addr() string {
	if strings.Contains(s.HTTPPort, ":") {
		return s.HTTPPort
	}

	return ":" + s.HTTPPort
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.max_upload", int64(1<<30)+(1<<20))

	v.SetDefault("storage.upload_dir", "./data/uploads")
	v.SetDefault("storage.output_dir", "./data/outputs")

	v.SetDefault("conversion.retention", time.Hour)
	v.SetDefault("conversion.timeout", 5*time.Minute)
	v.SetDefault("conversion.maintenance_interval", 10*time.Minute)
	v.SetDefault("conversion.ffmpeg_path", "ffmpeg")
	v.SetDefault("conversion.tesseract_path", "tesseract")
	v.SetDefault("conversion.font_path", "")
	v.SetDefault("conversion.max_media_size", int64(1<<30))

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.master.host", "localhost")
	v.SetDefault("database.master.port", "5432")
	v.SetDefault("database.master.user", "postgres")
	v.SetDefault("database.master.pass", "")
	v.SetDefault("database.master.name", "toolbox")
	v.SetDefault("database.master.ssl_mode", "disable")
	v.SetDefault("database.audit_retention", 30*24*time.Hour)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "toolbox")
	v.SetDefault("kafka.events_topic", "toolbox.conversion-events")
	v.SetDefault("kafka.maintenance_topic", "toolbox.maintenance")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 500*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.runtime", true)

	v.SetDefault("log.level", "info")
}

// bindEnv binds the database environment variables shared with the
// docker-compose setup. Everything else is reachable as TOOLBOX_<SECTION>_<KEY>.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration from path, or from ./config/config.yml when
// path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TOOLBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}
