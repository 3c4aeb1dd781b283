// Package config loads and validates healthsync configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/healthsync/internal/source/heartcloud"
)

// Store drivers.
const (
	StoreGoogle   = "google"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Artifact drivers.
const (
	ArtifactsNone   = "none"
	ArtifactsLocal  = "local"
	ArtifactsGCS    = "gcs"
	ArtifactsMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Timezone   string           `mapstructure:"timezone"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Oura       OuraConfig       `mapstructure:"oura"`
	Strava     StravaConfig     `mapstructure:"strava"`
	MyAir      MyAirConfig      `mapstructure:"myair"`
	HeartCloud HeartCloudConfig `mapstructure:"heartcloud"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects and configures the worksheet backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	SpreadsheetID   string        `mapstructure:"spreadsheet_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	CredentialsJSON string        `mapstructure:"credentials_json"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
}

// ArtifactsConfig sets where browser diagnostics are written.
type ArtifactsConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// NotifyConfig holds the Pub/Sub topic for run notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig configures Pushgateway delivery for batch runs.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig controls the HTTP trigger.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	RunHistory      int           `mapstructure:"run_history"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrowserConfig configures the headless Chrome session.
type BrowserConfig struct {
	Headless   bool          `mapstructure:"headless"`
	UserAgent  string        `mapstructure:"user_agent"`
	ExecPath   string        `mapstructure:"exec_path"`
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
}

// OuraConfig configures the wearable REST source.
type OuraConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Worksheet string        `mapstructure:"worksheet"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StravaConfig configures the workout source.
type StravaConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RefreshToken string        `mapstructure:"refresh_token"`
	Worksheet    string        `mapstructure:"worksheet"`
	LookbackDays int           `mapstructure:"lookback_days"`
	DetailRate   float64       `mapstructure:"detail_rate"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// MyAirConfig configures the CPAP source.
type MyAirConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Email     string        `mapstructure:"email"`
	Password  string        `mapstructure:"password"`
	Worksheet string        `mapstructure:"worksheet"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// HeartCloudConfig configures the dashboard scrape.
type HeartCloudConfig struct {
	BaseURL        string               `mapstructure:"base_url"`
	LoginPath      string               `mapstructure:"login_path"`
	CandidatePaths []string             `mapstructure:"candidate_paths"`
	Email          string               `mapstructure:"email"`
	Password       string               `mapstructure:"password"`
	Worksheet      string               `mapstructure:"worksheet"`
	Selectors      heartcloud.Selectors `mapstructure:"selectors"`
	WaitTimeout    time.Duration        `mapstructure:"wait_timeout"`
	Settle         time.Duration        `mapstructure:"settle"`
	PageSettle     time.Duration        `mapstructure:"page_settle"`
	Backfill       bool                 `mapstructure:"backfill"`
}

// legacyEnv maps config keys to the secret variable names the scheduled jobs already export.
var legacyEnv = map[string]string{
	"oura.token":             "OURA_TOKEN",
	"heartcloud.email":       "HEARTCLOUD_EMAIL",
	"heartcloud.password":    "HEARTCLOUD_PASSWORD",
	"strava.client_id":       "STRAVA_CLIENT_ID",
	"strava.client_secret":   "STRAVA_CLIENT_SECRET",
	"strava.refresh_token":   "STRAVA_REFRESH_TOKEN",
	"myair.email":            "MYAIR_EMAIL",
	"myair.password":         "MYAIR_PASSWORD",
	"store.credentials_json": "GOOGLE_CREDENTIALS_JSON",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HEALTHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range legacyEnv {
		prefixed := "HEALTHSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "Local")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("store.driver", StoreGoogle)
	v.SetDefault("store.spreadsheet_id", "")
	v.SetDefault("store.credentials_file", "/etc/secrets/gcp-key.pem")
	v.SetDefault("store.credentials_json", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("store.sqlite_path", "healthsync.db")

	v.SetDefault("artifacts.driver", ArtifactsLocal)
	v.SetDefault("artifacts.dir", "diagnostics")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.prefix", "diagnostics")

	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "healthsync")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("server.run_history", 200)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.nav_timeout", "45s")

	v.SetDefault("oura.base_url", "https://api.ouraring.com")
	v.SetDefault("oura.token", "")
	v.SetDefault("oura.worksheet", "oura_data")
	v.SetDefault("oura.timeout", "30s")

	v.SetDefault("strava.base_url", "https://www.strava.com/api/v3")
	v.SetDefault("strava.token_url", "https://www.strava.com/oauth/token")
	v.SetDefault("strava.client_id", "")
	v.SetDefault("strava.client_secret", "")
	v.SetDefault("strava.refresh_token", "")
	v.SetDefault("strava.worksheet", "strava_workouts")
	v.SetDefault("strava.lookback_days", 7)
	v.SetDefault("strava.detail_rate", 1.0)
	v.SetDefault("strava.timeout", "30s")

	v.SetDefault("myair.base_url", "https://myair.resmed.com")
	v.SetDefault("myair.email", "")
	v.SetDefault("myair.password", "")
	v.SetDefault("myair.worksheet", "resmed_cpap")
	v.SetDefault("myair.timeout", "30s")

	sel := heartcloud.DefaultSelectors()
	v.SetDefault("heartcloud.base_url", "https://heartcloud.com")
	v.SetDefault("heartcloud.login_path", "/login")
	v.SetDefault("heartcloud.candidate_paths", heartcloud.DefaultCandidatePaths)
	v.SetDefault("heartcloud.email", "")
	v.SetDefault("heartcloud.password", "")
	v.SetDefault("heartcloud.worksheet", "daily_manual_entry")
	v.SetDefault("heartcloud.selectors.email_field", sel.EmailField)
	v.SetDefault("heartcloud.selectors.password_field", sel.PasswordField)
	v.SetDefault("heartcloud.selectors.login_button", sel.LoginButton)
	v.SetDefault("heartcloud.selectors.sessions_container", sel.SessionsContainer)
	v.SetDefault("heartcloud.selectors.session_row", sel.SessionRow)
	v.SetDefault("heartcloud.selectors.date", sel.Date)
	v.SetDefault("heartcloud.selectors.session_length", sel.SessionLength)
	v.SetDefault("heartcloud.selectors.coherence_score", sel.CoherenceScore)
	v.SetDefault("heartcloud.selectors.achievement_score", sel.AchievementScore)
	v.SetDefault("heartcloud.wait_timeout", "20s")
	v.SetDefault("heartcloud.settle", "5s")
	v.SetDefault("heartcloud.page_settle", "3s")
	v.SetDefault("heartcloud.backfill", false)
}

// Validate enforces required values and reasonable limits. Source credentials are
// checked when each source is built so one source's missing secrets never block another.
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case StoreGoogle:
		if c.Store.SpreadsheetID == "" {
			return errors.New("store.spreadsheet_id must be set for the google driver")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set for the postgres driver")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set for the sqlite driver")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.driver %q is not one of google, postgres, sqlite, memory", c.Store.Driver)
	}
	switch c.Artifacts.Driver {
	case ArtifactsNone, ArtifactsMemory:
	case ArtifactsLocal:
		if c.Artifacts.Dir == "" {
			return errors.New("artifacts.dir must be set for the local driver")
		}
	case ArtifactsGCS:
		if c.Artifacts.Bucket == "" {
			return errors.New("artifacts.bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("artifacts.driver %q is not one of none, local, gcs, memory", c.Artifacts.Driver)
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return errors.New("notify.project_id must be set when notify.topic is set")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.QueueDepth <= 0 {
		return errors.New("server.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Location resolves the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
