// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cors-edge-proxy/config.toml",
	"configs/config.toml",
}

// AdminPrefix is the path prefix reserved for the proxy's own endpoints.
// Requests under it are never forwarded upstream.
const AdminPrefix = "/_proxy"

// Reserved admin routes.
const (
	HealthzPath = AdminPrefix + "/healthz"
	StatusPath  = AdminPrefix + "/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamHost string `kong:"short='u',help='Upstream host to proxy to (overrides config).',env='UPSTREAM_HOST'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Proxy    ProxyConfig    `toml:"proxy"`
	CORS     CORSConfig     `toml:"cors"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig describes the single fixed upstream every request is sent to.
type UpstreamConfig struct {
	Host            string `toml:"host"`
	Scheme          string `toml:"scheme"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`

	// FollowRedirects selects automatic redirect following. When false the
	// proxy sees 3xx responses itself and resolves at most one hop for CSS.
	// A pointer so an omitted key keeps the default (true).
	FollowRedirects *bool `toml:"follow_redirects"`
}

// ProxyConfig holds the header rewriting policy.
type ProxyConfig struct {
	AssetContentTypeCorrection *bool    `toml:"asset_content_type_correction"`
	DebugQuery                 bool     `toml:"debug_query"`
	StrippedRequestHeaders     []string `toml:"stripped_request_headers"`
	StrippedResponseHeaders    []string `toml:"stripped_response_headers"`
}

// CORSConfig holds the values of the forced CORS response headers.
type CORSConfig struct {
	AllowMethods  []string `toml:"allow_methods"`
	AllowHeaders  []string `toml:"allow_headers"`
	ExposeHeaders []string `toml:"expose_headers"`
	MaxAgeSeconds int      `toml:"max_age_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Defaults for the header policy.
var (
	DefaultStrippedRequestHeaders  = []string{"Host", "Accept-Encoding"}
	DefaultStrippedResponseHeaders = []string{"X-Frame-Options", "Content-Security-Policy", "X-Content-Type-Options"}

	DefaultAllowMethods  = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD"}
	DefaultAllowHeaders  = []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin", "User-Agent", "Cache-Control", "Pragma"}
	DefaultExposeHeaders = []string{"Content-Length", "Content-Type", "Cache-Control", "ETag", "Last-Modified"}
)

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/cors-edge-proxy/config.toml then configs/config.toml. If no file is
// found, the CLI flags alone must supply the upstream host.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		if path == "" {
			return nil, fmt.Errorf("config: no config file found (searched %v) and %w", configSearchPaths, err)
		}
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamHost != "" {
		c.Upstream.Host = cli.UpstreamHost
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream host: required, bare host[:port].
	if c.Upstream.Host == "" {
		return fmt.Errorf("upstream.host is required")
	}
	if strings.Contains(c.Upstream.Host, "://") || strings.ContainsAny(c.Upstream.Host, "/?#") {
		return fmt.Errorf("upstream.host must be a bare hostname without scheme or path; got %q", c.Upstream.Host)
	}
	if s := strings.ToLower(c.Upstream.Scheme); s != "" && s != "https" {
		return fmt.Errorf("upstream.scheme must be https; got %q", c.Upstream.Scheme)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.CORS.MaxAgeSeconds < 0 {
		return fmt.Errorf("cors.max_age_seconds must be non-negative; got %d", c.CORS.MaxAgeSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Header names.
	for _, h := range c.Proxy.StrippedRequestHeaders {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("proxy.stripped_request_headers must not contain empty names")
		}
	}
	for _, h := range c.Proxy.StrippedResponseHeaders {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("proxy.stripped_response_headers must not contain empty names")
		}
		if strings.EqualFold(h, "Content-Type") {
			return fmt.Errorf("proxy.stripped_response_headers must not contain Content-Type")
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return fmt.Errorf("metrics.path %q conflicts with the proxied root", p)
		}
		for _, reserved := range []string{HealthzPath, StatusPath} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// SetDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.Scheme == "" {
		c.Upstream.Scheme = "https"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.FollowRedirects == nil {
		c.Upstream.FollowRedirects = boolPtr(true)
	}
	if c.Proxy.AssetContentTypeCorrection == nil {
		c.Proxy.AssetContentTypeCorrection = boolPtr(true)
	}
	if c.Proxy.StrippedRequestHeaders == nil {
		c.Proxy.StrippedRequestHeaders = DefaultStrippedRequestHeaders
	}
	if c.Proxy.StrippedResponseHeaders == nil {
		c.Proxy.StrippedResponseHeaders = DefaultStrippedResponseHeaders
	}
	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = DefaultAllowMethods
	}
	if len(c.CORS.AllowHeaders) == 0 {
		c.CORS.AllowHeaders = DefaultAllowHeaders
	}
	if len(c.CORS.ExposeHeaders) == 0 {
		c.CORS.ExposeHeaders = DefaultExposeHeaders
	}
	if c.CORS.MaxAgeSeconds == 0 {
		c.CORS.MaxAgeSeconds = 86400
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = AdminPrefix + "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "cors-edge-proxy"
	}
}

// FollowsRedirects reports whether the upstream client auto-follows redirects.
func (c *UpstreamConfig) FollowsRedirects() bool {
	return c.FollowRedirects == nil || *c.FollowRedirects
}

// CorrectsAssets reports whether CSS/JS content-type correction is active.
func (c *ProxyConfig) CorrectsAssets() bool {
	return c.AssetContentTypeCorrection == nil || *c.AssetContentTypeCorrection
}

// BaseURL returns the upstream origin, e.g. "https://example.com".
func (c *UpstreamConfig) BaseURL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + c.Host
}

// CanonicalHeaders returns the canonical form of each header name.
func CanonicalHeaders(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, http.CanonicalHeaderKey(strings.TrimSpace(n)))
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
