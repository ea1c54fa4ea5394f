package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Packages   PackagesConfig   `yaml:"packages" mapstructure:"packages"`
	Terms      TermsConfig      `yaml:"terms" mapstructure:"terms"`
	Estimate   EstimateConfig   `yaml:"estimate" mapstructure:"estimate"`
	PageSpeed  PageSpeedConfig  `yaml:"pagespeed" mapstructure:"pagespeed"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Billing    BillingConfig    `yaml:"billing" mapstructure:"billing"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Evidence   EvidenceConfig   `yaml:"evidence" mapstructure:"evidence"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AuditConfig configures the audit engine.
type AuditConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PackagesConfig points at the package catalog file.
type PackagesConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// TermsConfig holds the terms-of-service content used for consent hashing.
type TermsConfig struct {
	Version     string `yaml:"version" mapstructure:"version"`
	ContentPath string `yaml:"content_path" mapstructure:"content_path"`
	RefPrefix   string `yaml:"ref_prefix" mapstructure:"ref_prefix"`
}

// EstimateConfig configures remediation pricing.
type EstimateConfig struct {
	HourlyRate float64 `yaml:"hourly_rate" mapstructure:"hourly_rate"`
}

// PageSpeedConfig holds PageSpeed Insights API settings.
type PageSpeedConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings for estimate summaries.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// BillingConfig holds the hosted-checkout processor settings.
type BillingConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Key        string `yaml:"key" mapstructure:"key"`
	SuccessURL string `yaml:"success_url" mapstructure:"success_url"`
	CancelURL  string `yaml:"cancel_url" mapstructure:"cancel_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the lead sync.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotionConfig holds Notion API credentials for the lead sync.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// CRMConfig tunes the retry and circuit-breaker policy for lead sync.
// Zero values fall back to the resilience package defaults.
type CRMConfig struct {
	RetryAttempts     int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier   float64 `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	RetryJitter       float64 `yaml:"retry_jitter" mapstructure:"retry_jitter"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// EvidenceConfig configures the consent-evidence FTP share.
type EvidenceConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	BaseDir  string `yaml:"base_dir" mapstructure:"base_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WEBAUDITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "webauditor.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("audit.requests_per_second", 2.0)
	v.SetDefault("audit.timeout_secs", 20)
	v.SetDefault("terms.version", "2026-01")
	v.SetDefault("terms.ref_prefix", "AWA")
	v.SetDefault("estimate.hourly_rate", 65.0)
	v.SetDefault("pagespeed.base_url", "https://www.googleapis.com/pagespeedonline/v5")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("crm.retry_jitter", 0.25)
	v.SetDefault("evidence.base_dir", "/evidence")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required for the given scope are set.
// Scope is one of "serve", "crm", "evidence".
func (c *Config) Validate(scope string) error {
	var missing []string

	switch scope {
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			missing = append(missing, "server.port must be between 1 and 65535")
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the postgres driver")
		}
	case "crm":
		if c.Salesforce.ClientID == "" && c.Notion.Token == "" {
			missing = append(missing, "at least one of salesforce.client_id or notion.token is required")
		}
		if c.Notion.Token != "" && c.Notion.LeadDB == "" {
			missing = append(missing, "notion.lead_db is required when notion.token is set")
		}
		if c.Salesforce.ClientID != "" {
			if c.Salesforce.Username == "" {
				missing = append(missing, "salesforce.username is required")
			}
			if c.Salesforce.KeyPath == "" {
				missing = append(missing, "salesforce.key_path is required")
			}
		}
	case "evidence":
		if c.Evidence.Host == "" {
			missing = append(missing, "evidence.host is required")
		}
		if c.Evidence.User == "" {
			missing = append(missing, "evidence.user is required")
		}
	default:
		return eris.Errorf("config: unknown validation scope %q", scope)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
