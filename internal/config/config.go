package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/developingchet/maintenance-gate/internal/filter"
	"github.com/developingchet/maintenance-gate/internal/storage"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// Config holds all application configuration.
type Config struct {
	// Storage
	StoreBackend        string        `koanf:"store_backend"`
	DataDir             string        `koanf:"data_dir"`
	RedisAddr           string        `koanf:"redis_addr"`
	RedisUsername       string        `koanf:"redis_username"`
	RedisPassword       string        `koanf:"redis_password"`
	RedisDB             int           `koanf:"redis_db"`
	RedisKeyPrefix      string        `koanf:"redis_key_prefix"`
	RedisDialTimeout    time.Duration `koanf:"redis_dial_timeout"`
	RedisOpTimeout      time.Duration `koanf:"redis_op_timeout"`
	RedisConnectTimeout time.Duration `koanf:"redis_connect_timeout"`

	// Gate
	FailClosed bool `koanf:"fail_closed"`

	// Request filter
	ExemptPathPrefix  string `koanf:"exempt_path_prefix"`
	StatusCode        int    `koanf:"status_code"`
	RetryAfter        int    `koanf:"retry_after"`
	ContentType       string `koanf:"content_type"`
	TemplateDir       string `koanf:"template_dir"`
	TemplatePath      string `koanf:"template_path"`
	TemplateName      string `koanf:"template_name"`
	TemplateLayout    string `koanf:"template_layout"`
	TemplateExtension string `koanf:"template_extension"`
	TrustProxy        bool   `koanf:"trust_proxy"`
	TrustedProxies    string `koanf:"trusted_proxies"`
	AnnounceHeader    string `koanf:"announce_header"`

	// Gate server
	ListenAddr  string `koanf:"listen_addr"`
	UpstreamURL string `koanf:"upstream_url"`

	// Admin API
	AdminAddr  string `koanf:"admin_addr"`
	AdminToken string `koanf:"admin_token"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// sanitise unquotes every string field.
func (c *Config) sanitise() {
	for _, p := range []*string{
		&c.StoreBackend, &c.DataDir,
		&c.RedisAddr, &c.RedisUsername, &c.RedisPassword, &c.RedisKeyPrefix,
		&c.ExemptPathPrefix, &c.ContentType,
		&c.TemplateDir, &c.TemplatePath, &c.TemplateName, &c.TemplateLayout, &c.TemplateExtension,
		&c.TrustedProxies, &c.AnnounceHeader,
		&c.ListenAddr, &c.UpstreamURL, &c.AdminAddr, &c.AdminToken,
		&c.LogLevel, &c.LogFormat, &c.MetricsAddr, &c.HealthAddr,
	} {
		*p = stripEnvQuotes(*p)
	}
}

// defaults is the lowest configuration layer.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"store_backend":         storage.BackendFile,
		"data_dir":              "/data",
		"redis_addr":            "redis:6379",
		"redis_db":              0,
		"redis_key_prefix":      "maintenance:",
		"redis_dial_timeout":    "5s",
		"redis_op_timeout":      "2s",
		"redis_connect_timeout": "30s",
		"fail_closed":           false,
		"exempt_path_prefix":    "/api/",
		"status_code":           503,
		"retry_after":           3600,
		"content_type":          "text/html; charset=utf-8",
		"template_dir":          "",
		"template_path":         "error",
		"template_name":         "maintenance",
		"template_layout":       "maintenance",
		"template_extension":    ".html",
		"trust_proxy":           false,
		"trusted_proxies":       "",
		"announce_header":       "X-Maintenance-Mode",
		"listen_addr":           ":8080",
		"admin_addr":            "",
		"log_level":             "info",
		"log_format":            "json",
		"metrics_enabled":       true,
		"metrics_addr":          ":9090",
		"health_addr":           ":8081",
		"janitor_interval":      "1m",
		"shutdown_timeout":      "10s",
	}
}

// stripEnvQuotes drops one pair of matching surrounding quotes, as left behind
// by docker --env-file. Mismatched quotes are kept.
func stripEnvQuotes(s string) string {
	for _, q := range []string{`"`, "'"} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Load builds the configuration from defaults, then the optional YAML file at
// path (or CONFIG_FILE when path is empty), then environment variables, then
// _FILE secret injection. Later layers win.
func Load(path string) (*Config, error) {
	// Keys are flat: DATA_DIR becomes data_dir, never a nested path.
	k := koanf.New(".")

	if err := k.Load(&rawProvider{data: defaults()}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = stripEnvQuotes(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a flat YAML mapping whose keys are the lower-case
// environment variable names, e.g. "store_backend: redis".
func loadFile(k *koanf.Koanf, path string) error {
	fk := koanf.New(".")
	if err := fk.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	flat := make(map[string]interface{}, len(fk.Keys()))
	for key, v := range fk.All() {
		if top, _, nested := strings.Cut(key, "."); nested {
			return fmt.Errorf("config file %s: key %q must be a scalar", path, top)
		}
		if _, ok := v.([]interface{}); ok {
			return fmt.Errorf("config file %s: key %q must be a scalar", path, key)
		}
		flat[strings.ToLower(key)] = v
	}
	if err := k.Load(&rawProvider{data: flat}, nil); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// splitList splits a comma-separated setting, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks semantic constraints shared by every command.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case storage.BackendFile, storage.BackendBbolt:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the %s backend", c.StoreBackend)
		}
	case storage.BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("REDIS_DB must be >= 0; got %d", c.RedisDB)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be file, bbolt, or redis; got %q", c.StoreBackend)
	}

	if err := c.FilterOptions().Validate(); err != nil {
		return err
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		return fmt.Errorf("LOG_LEVEL must be a zerolog level (trace, debug, info, warn, error); got %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0; got %s", c.ShutdownTimeout)
	}

	return nil
}

// ValidateServe checks the extra settings the long-running server needs.
func (c *Config) ValidateServe() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("UPSTREAM_URL must be an absolute http:// or https:// URL; got %q", c.UpstreamURL)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if c.AdminAddr != "" && c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required when ADMIN_ADDR is set")
	}
	return nil
}

// StoreOptions maps the storage settings onto storage.Options.
func (c *Config) StoreOptions() storage.Options {
	return storage.Options{
		Backend: c.StoreBackend,
		DataDir: c.DataDir,
		Redis: storage.RedisOptions{
			Addr:           c.RedisAddr,
			Username:       c.RedisUsername,
			Password:       c.RedisPassword,
			DB:             c.RedisDB,
			KeyPrefix:      c.RedisKeyPrefix,
			DialTimeout:    c.RedisDialTimeout,
			OpTimeout:      c.RedisOpTimeout,
			ConnectTimeout: c.RedisConnectTimeout,
		},
	}
}

// FilterOptions maps the request filter settings onto filter.Options.
func (c *Config) FilterOptions() filter.Options {
	return filter.Options{
		ExemptPathPrefix: c.ExemptPathPrefix,
		StatusCode:       c.StatusCode,
		RetryAfter:       c.RetryAfter,
		ContentType:      c.ContentType,
		Template: filter.TemplateOptions{
			Dir:       c.TemplateDir,
			Path:      c.TemplatePath,
			Name:      c.TemplateName,
			Layout:    c.TemplateLayout,
			Extension: c.TemplateExtension,
		},
		TrustProxy:     c.TrustProxy,
		TrustedProxies: splitList(c.TrustedProxies),
		AnnounceHeader: c.AnnounceHeader,
	}
}

// fileSecretKeys may be supplied as <key>_file (env ADMIN_TOKEN_FILE, or the
// same key in the config file) naming a file that holds the value, the usual
// docker/kubernetes secret mount.
var fileSecretKeys = []string{"admin_token", "redis_password"}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		path := stripEnvQuotes(k.String(key + "_file"))
		if path == "" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s_file %s: %w", key, path, err)
		}
		if err := k.Set(key, strings.TrimSpace(string(content))); err != nil {
			return fmt.Errorf("set %s from file: %w", key, err)
		}
	}
	return nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
