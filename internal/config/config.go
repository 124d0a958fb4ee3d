package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "COMMENTWIDGET"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "commentwidget.db"
	defaultLogLevel            = "info"
	defaultLogEncoding         = "json"
	defaultCookieName          = "JWT"
	defaultSiteID              = "remark"
	defaultRemarkTimeout       = 10
	defaultPageSize            = 10
	defaultOAuthPollMillis     = 300
	defaultOAuthTimeoutSeconds = 30
	defaultMaxWidgets          = 10000
	defaultWidgetIdleMinutes   = 1440
)

// AppConfig captures runtime configuration for the widget service.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	RemarkBaseURL string
	RemarkSiteID  string
	RemarkTimeout time.Duration

	DatabasePath string
	RedisURL     string

	SessionSigningSecret string
	SessionCookieName    string

	PageSize          int
	MaxShown          int
	Paginate          bool
	OAuthPollInterval time.Duration
	OAuthTimeout      time.Duration
	MaxWidgets        int
	WidgetIdleTTL     time.Duration

	LogLevel    string
	LogEncoding string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("remark.base_url", "")
	configViper.SetDefault("remark.site_id", defaultSiteID)
	configViper.SetDefault("remark.timeout_seconds", defaultRemarkTimeout)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("widget.page_size", defaultPageSize)
	configViper.SetDefault("widget.max_shown", 0)
	configViper.SetDefault("widget.paginate", false)
	configViper.SetDefault("widget.oauth_poll_ms", defaultOAuthPollMillis)
	configViper.SetDefault("widget.oauth_timeout_seconds", defaultOAuthTimeoutSeconds)
	configViper.SetDefault("widget.max_widgets", defaultMaxWidgets)
	configViper.SetDefault("widget.idle_ttl_minutes", defaultWidgetIdleMinutes)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       splitList(configViper.GetStringSlice("http.allowed_origins")),
		RemarkBaseURL:        strings.TrimRight(strings.TrimSpace(configViper.GetString("remark.base_url")), "/"),
		RemarkSiteID:         strings.TrimSpace(configViper.GetString("remark.site_id")),
		RemarkTimeout:        time.Duration(configViper.GetInt("remark.timeout_seconds")) * time.Second,
		DatabasePath:         configViper.GetString("database.path"),
		RedisURL:             strings.TrimSpace(configViper.GetString("redis.url")),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		PageSize:             configViper.GetInt("widget.page_size"),
		MaxShown:             configViper.GetInt("widget.max_shown"),
		Paginate:             configViper.GetBool("widget.paginate"),
		OAuthPollInterval:    time.Duration(configViper.GetInt("widget.oauth_poll_ms")) * time.Millisecond,
		OAuthTimeout:         time.Duration(configViper.GetInt("widget.oauth_timeout_seconds")) * time.Second,
		MaxWidgets:           configViper.GetInt("widget.max_widgets"),
		WidgetIdleTTL:        time.Duration(configViper.GetInt("widget.idle_ttl_minutes")) * time.Minute,
		LogLevel:             configViper.GetString("log.level"),
		LogEncoding:          configViper.GetString("log.encoding"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.RemarkBaseURL == "" {
		return fmt.Errorf("remark.base_url is required")
	}
	if parsed, err := url.Parse(c.RemarkBaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remark.base_url must be an absolute url")
	}
	if c.RemarkSiteID == "" {
		return fmt.Errorf("remark.site_id is required")
	}
	if c.RemarkTimeout <= 0 {
		return fmt.Errorf("remark.timeout_seconds must be positive")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("widget.page_size must be positive")
	}
	if c.MaxShown < 0 {
		return fmt.Errorf("widget.max_shown must not be negative")
	}
	if c.OAuthPollInterval <= 0 || c.OAuthTimeout <= 0 {
		return fmt.Errorf("widget oauth polling must be positive")
	}
	if c.MaxWidgets <= 0 || c.WidgetIdleTTL <= 0 {
		return fmt.Errorf("widget.max_widgets and widget.idle_ttl_minutes must be positive")
	}
	switch c.LogEncoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding must be json or console")
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated value,
// which is how origins arrive from the environment.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
