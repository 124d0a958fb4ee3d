package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("remark.base_url", "https://remark.example.com/")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RemarkBaseURL != "https://remark.example.com" {
		t.Fatalf("expected trailing slash to be trimmed, got %q", cfg.RemarkBaseURL)
	}
	if cfg.RemarkSiteID != "remark" || cfg.SessionCookieName != "JWT" {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if cfg.PageSize != 10 || cfg.Paginate || cfg.MaxShown != 0 {
		t.Fatalf("unexpected pagination defaults: %#v", cfg)
	}
	if cfg.OAuthPollInterval != 300*time.Millisecond || cfg.OAuthTimeout != 30*time.Second {
		t.Fatalf("unexpected oauth defaults: %s %s", cfg.OAuthPollInterval, cfg.OAuthTimeout)
	}
	if cfg.MaxWidgets != 10000 || cfg.WidgetIdleTTL != 24*time.Hour {
		t.Fatalf("unexpected widget retention defaults: %d %s", cfg.MaxWidgets, cfg.WidgetIdleTTL)
	}
	if cfg.RemarkTimeout != 10*time.Second {
		t.Fatalf("unexpected remark timeout: %s", cfg.RemarkTimeout)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("expected no origins by default, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("COMMENTWIDGET_REMARK_BASE_URL", "http://localhost:8081")
	t.Setenv("COMMENTWIDGET_HTTP_ALLOWED_ORIGINS", "https://blog.example.com, https://docs.example.com")
	t.Setenv("COMMENTWIDGET_WIDGET_PAGE_SIZE", "25")
	t.Setenv("COMMENTWIDGET_LOG_ENCODING", "console")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectedOrigins := []string{"https://blog.example.com", "https://docs.example.com"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, expectedOrigins) {
		t.Fatalf("expected %v, got %v", expectedOrigins, cfg.AllowedOrigins)
	}
	if cfg.PageSize != 25 || cfg.LogEncoding != "console" {
		t.Fatalf("environment overrides were ignored: %#v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name    string
		key     string
		value   any
		message string
	}{
		{name: "missing base url", key: "remark.base_url", value: "", message: "remark.base_url is required"},
		{name: "relative base url", key: "remark.base_url", value: "remark.local", message: "absolute url"},
		{name: "empty site", key: "remark.site_id", value: " ", message: "remark.site_id"},
		{name: "zero page size", key: "widget.page_size", value: 0, message: "widget.page_size"},
		{name: "negative max shown", key: "widget.max_shown", value: -1, message: "widget.max_shown"},
		{name: "unknown encoding", key: "log.encoding", value: "xml", message: "log.encoding"},
		{name: "zero widget bound", key: "widget.max_widgets", value: 0, message: "widget.max_widgets"},
		{name: "empty cookie", key: "session.cookie_name", value: "", message: "session.cookie_name"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("remark.base_url", "https://remark.example.com")
			configViper.Set(testCase.key, testCase.value)

			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), testCase.message) {
				t.Fatalf("expected %q in error, got %v", testCase.message, err)
			}
		})
	}
}
