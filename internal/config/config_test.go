package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "webauditor.db", cfg.Store.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 2.0, cfg.Audit.RequestsPerSecond, 0.001)
	assert.Equal(t, 20, cfg.Audit.TimeoutSecs)
	assert.Equal(t, "2026-01", cfg.Terms.Version)
	assert.Equal(t, "AWA", cfg.Terms.RefPrefix)
	assert.InDelta(t, 65.0, cfg.Estimate.HourlyRate, 0.001)
	assert.Equal(t, "https://www.googleapis.com/pagespeedonline/v5", cfg.PageSpeed.BaseURL)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.InDelta(t, 0.25, cfg.CRM.RetryJitter, 0.001)
	assert.Zero(t, cfg.CRM.RetryAttempts, "retry attempts default to the resilience package value")
	assert.Equal(t, "/evidence", cfg.Evidence.BaseDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/audits
log:
  level: debug
  format: console
server:
  port: 9090
estimate:
  hourly_rate: 80
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/audits", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 80.0, cfg.Estimate.HourlyRate, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 20, cfg.Audit.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("WEBAUDITOR_STORE_DRIVER", "postgres")
	t.Setenv("WEBAUDITOR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("WEBAUDITOR_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "webauditor.db"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateServe_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/audits"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateCRM_NoTargets(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("crm")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce.client_id or notion.token")
}

func TestValidateCRM_NotionNeedsLeadDB(t *testing.T) {
	cfg := validDefaults()
	cfg.Notion.Token = "ntn_token"

	err := cfg.Validate("crm")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notion.lead_db")

	cfg.Notion.LeadDB = "lead-db-id"
	assert.NoError(t, cfg.Validate("crm"))
}

func TestValidateCRM_SalesforceFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Salesforce.ClientID = "client-id"

	err := cfg.Validate("crm")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce.username")
	assert.Contains(t, err.Error(), "salesforce.key_path")

	cfg.Salesforce.Username = "svc@awa-labs.com"
	cfg.Salesforce.KeyPath = "key.pem"
	assert.NoError(t, cfg.Validate("crm"))
}

func TestValidateEvidence(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("evidence")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "evidence.host")

	cfg.Evidence.Host = "ftp.internal"
	cfg.Evidence.User = "archiver"
	assert.NoError(t, cfg.Validate("evidence"))
}

func TestValidateUnknownScope(t *testing.T) {
	cfg := validDefaults()
	assert.Error(t, cfg.Validate("bogus"))
}
