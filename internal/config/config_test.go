package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
timezone: America/Chicago
logging:
  development: false
  level: debug
store:
  driver: postgres
  dsn: postgres://localhost/health
artifacts:
  driver: gcs
  bucket: diag
server:
  port: 9090
  queue_depth: 4
auth:
  enabled: true
  api_key: secret
strava:
  lookback_days: 3
  detail_rate: 0.5
heartcloud:
  settle: 2s
  backfill: true
  selectors:
    coherence_score: td.coherence
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "America/Chicago", cfg.Timezone)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, StorePostgres, cfg.Store.Driver)
	require.Equal(t, 30*time.Minute, cfg.Store.MaxConnLifetime)
	require.Equal(t, "diag", cfg.Artifacts.Bucket)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 3, cfg.Strava.LookbackDays)
	require.InDelta(t, 0.5, cfg.Strava.DetailRate, 0)
	require.Equal(t, 2*time.Second, cfg.HeartCloud.Settle)
	require.True(t, cfg.HeartCloud.Backfill)
	require.Equal(t, "td.coherence", cfg.HeartCloud.Selectors.CoherenceScore)
	require.Equal(t, "#email", cfg.HeartCloud.Selectors.EmailField)
	require.Equal(t, "oura_data", cfg.Oura.Worksheet)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "America/Chicago", loc.String())
}

func TestLoadReadsLegacySecretEnv(t *testing.T) {
	t.Setenv("HEALTHSYNC_STORE_DRIVER", "memory")
	t.Setenv("OURA_TOKEN", "legacy-token")
	t.Setenv("HEARTCLOUD_EMAIL", "me@example.com")
	t.Setenv("STRAVA_REFRESH_TOKEN", "legacy-refresh")
	t.Setenv("HEALTHSYNC_STRAVA_REFRESH_TOKEN", "prefixed-refresh")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.Store.Driver)
	require.Equal(t, "legacy-token", cfg.Oura.Token)
	require.Equal(t, "me@example.com", cfg.HeartCloud.Email)
	require.Equal(t, "prefixed-refresh", cfg.Strava.RefreshToken)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, []string{"/", "/home", "/dashboard", "/sessions", "/history", "/review"},
		cfg.HeartCloud.CandidatePaths)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Timezone:  "UTC",
			Store:     StoreConfig{Driver: StoreMemory},
			Artifacts: ArtifactsConfig{Driver: ArtifactsNone},
			Server:    ServerConfig{Port: 8080, QueueDepth: 1},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "excel" }, wantErr: "store.driver"},
		{name: "google without id", mutate: func(c *Config) { c.Store.Driver = StoreGoogle }, wantErr: "spreadsheet_id"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = StorePostgres }, wantErr: "store.dsn"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store.Driver = StoreSQLite }, wantErr: "sqlite_path"},
		{name: "unknown artifacts", mutate: func(c *Config) { c.Artifacts.Driver = "s3" }, wantErr: "artifacts.driver"},
		{name: "local without dir", mutate: func(c *Config) { c.Artifacts.Driver = ArtifactsLocal }, wantErr: "artifacts.dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Artifacts.Driver = ArtifactsGCS }, wantErr: "artifacts.bucket"},
		{name: "topic without project", mutate: func(c *Config) { c.Notify.Topic = "runs" }, wantErr: "notify.project_id"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "bad queue", mutate: func(c *Config) { c.Server.QueueDepth = 0 }, wantErr: "queue_depth"},
		{name: "auth without key", mutate: func(c *Config) { c.Auth.Enabled = true }, wantErr: "auth.api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
