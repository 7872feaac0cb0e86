// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitescraper/internal/api"
	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/logging"
	"github.com/JakeFAU/sitescraper/internal/policy/ratelimit"
	"github.com/JakeFAU/sitescraper/internal/storage/gcs"
	"github.com/JakeFAU/sitescraper/internal/storage/local"
	"github.com/JakeFAU/sitescraper/internal/storage/postgres"
	"github.com/JakeFAU/sitescraper/internal/storage/s3"
	"github.com/JakeFAU/sitescraper/internal/storage/sqlite"
)

// EnvPrefix prefixes every environment override, e.g. SCRAPER_AI_ENABLED=true.
const EnvPrefix = "SCRAPER"

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Mirror drivers.
const (
	MirrorNone = ""
	MirrorGCS  = "gcs"
	MirrorS3   = "s3"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging logging.Config `mapstructure:"logging"`
	Save    local.Config   `mapstructure:"save"`
	AI      AIConfig       `mapstructure:"ai"`
	Browser BrowserConfig  `mapstructure:"browser"`
	Crawl   CrawlConfig    `mapstructure:"crawl"`
	Store   StoreConfig    `mapstructure:"store"`
	Mirror  MirrorConfig   `mapstructure:"mirror"`
	Events  EventsConfig   `mapstructure:"events"`
	Server  ServerConfig   `mapstructure:"server"`
	FTP     FTPConfig      `mapstructure:"ftp"`
}

// AIConfig controls the vision model used to screen pages.
type AIConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Model          string `mapstructure:"model"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-request deadline.
func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BrowserConfig configures the Chrome acquisition channel.
type BrowserConfig struct {
	HideUI             bool   `mapstructure:"hide_ui"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	IdleTimeoutSeconds int    `mapstructure:"idle_timeout_seconds"`
	UserAgent          string `mapstructure:"user_agent"`
	ScrollStepsLimit   int    `mapstructure:"scroll_steps_limit"`
}

// CrawlConfig governs the frontier and relink passes.
type CrawlConfig struct {
	WaitForUserActionOnBlockedPages bool `mapstructure:"wait_for_user_action_on_blocked_pages"`
	RelinkChunkSize                 int  `mapstructure:"relink_chunk_size"`
	// RelinkCheckpoint is where the relink pass records its last page ID.
	RelinkCheckpoint string `mapstructure:"relink_checkpoint"`
	// Politeness paces visits to one domain; zero disables it.
	Politeness ratelimit.Config `mapstructure:",squash"`
}

// StoreConfig selects and configures the address/page store.
type StoreConfig struct {
	Driver   string          `mapstructure:"driver"`
	SQLite   sqlite.Config   `mapstructure:"sqlite"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// MirrorConfig selects the optional object store that saved artifacts are copied to.
type MirrorConfig struct {
	Driver string     `mapstructure:"driver"`
	GCS    gcs.Config `mapstructure:"gcs"`
	S3     s3.Config  `mapstructure:"s3"`
}

// EventsConfig holds crawl event fan-out settings.
type EventsConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig names the topic crawl events are published to. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Port int        `mapstructure:"port"`
	API  api.Config `mapstructure:",squash"`
}

// NavTimeout returns the navigation deadline.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// IdleTimeout returns how long to wait for network idle after load.
func (c BrowserConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// FTPConfig holds the fallback FTP login.
type FTPConfig struct {
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("save.location", "data/pages")
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.model", "gemma3:12b")
	v.SetDefault("ai.endpoint", "http://localhost:11434")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.timeout_seconds", 120)
	v.SetDefault("browser.hide_ui", false)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.idle_timeout_seconds", 30)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.scroll_steps_limit", 90)
	v.SetDefault("crawl.wait_for_user_action_on_blocked_pages", true)
	v.SetDefault("crawl.relink_chunk_size", 100)
	v.SetDefault("crawl.relink_checkpoint", "")
	v.SetDefault("crawl.domain_rps", 0.0)
	v.SetDefault("crawl.domain_burst", 1)
	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.sqlite.path", "data/scraper.db")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", "30m")
	v.SetDefault("mirror.driver", MirrorNone)
	v.SetDefault("mirror.gcs.bucket", "")
	v.SetDefault("mirror.gcs.prefix", "")
	v.SetDefault("mirror.s3.endpoint", "")
	v.SetDefault("mirror.s3.access_key", "")
	v.SetDefault("mirror.s3.secret_key", "")
	v.SetDefault("mirror.s3.bucket", "")
	v.SetDefault("mirror.s3.use_ssl", true)
	v.SetDefault("mirror.s3.region", "")
	v.SetDefault("mirror.s3.prefix", "")
	v.SetDefault("events.pubsub.project_id", "")
	v.SetDefault("events.pubsub.topic", "")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("ftp.username", "")
	v.SetDefault("ftp.password", "")
	v.SetDefault("ftp.timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if strings.TrimSpace(c.Save.BaseDir) == "" {
		return fmt.Errorf("save.location must be set")
	}
	if c.AI.Enabled {
		if c.AI.Model == "" || c.AI.Endpoint == "" {
			return fmt.Errorf("ai.model and ai.endpoint must be set when ai is enabled")
		}
		if c.AI.TimeoutSeconds <= 0 {
			return fmt.Errorf("ai.timeout_seconds must be > 0")
		}
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.idle_timeout_seconds must be > 0")
	}
	if c.Browser.ScrollStepsLimit <= 0 {
		return fmt.Errorf("browser.scroll_steps_limit must be > 0")
	}
	if c.Crawl.RelinkChunkSize <= 0 {
		return fmt.Errorf("crawl.relink_chunk_size must be > 0")
	}
	if c.Crawl.Politeness.RequestsPerSecond < 0 {
		return fmt.Errorf("crawl.domain_rps must be >= 0")
	}
	if c.Crawl.Politeness.Burst < 0 {
		return fmt.Errorf("crawl.domain_burst must be >= 0")
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Mirror.validate(); err != nil {
		return err
	}
	if c.Events.PubSub.Topic != "" && c.Events.PubSub.ProjectID == "" {
		return fmt.Errorf("events.pubsub.project_id must be set when events.pubsub.topic is")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.FTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("ftp.timeout_seconds must be > 0")
	}
	if c.FTP.Password != "" && c.FTP.Username == "" {
		return fmt.Errorf("ftp.username must be set when ftp.password is")
	}
	return nil
}

func (c StoreConfig) validate() error {
	switch c.Driver {
	case StoreSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path must be set for the sqlite driver")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres driver")
		}
		if c.Postgres.MinConns > c.Postgres.MaxConns && c.Postgres.MaxConns > 0 {
			return fmt.Errorf("store.postgres.min_conns must not exceed store.postgres.max_conns")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, postgres, memory", c.Driver)
	}
	return nil
}

func (c MirrorConfig) validate() error {
	switch c.Driver {
	case MirrorNone:
	case MirrorGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("mirror.gcs.bucket must be set for the gcs mirror")
		}
	case MirrorS3:
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("mirror.s3.endpoint and mirror.s3.bucket must be set for the s3 mirror")
		}
	default:
		return fmt.Errorf("mirror.driver %q is not one of gcs, s3", c.Driver)
	}
	return nil
}

// Credentials returns the configured login, or nil for anonymous access.
func (c FTPConfig) Credentials() *crawler.Credentials {
	if c.Username == "" {
		return nil
	}
	return &crawler.Credentials{Username: c.Username, Password: c.Password}
}

// Timeout returns the FTP dial and transfer deadline.
func (c FTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
