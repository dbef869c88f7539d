// Package config handles configuration loading, validation and route address resolution.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/edge-gateway/config.toml",
	"configs/config.toml",
	"configs/config.yaml",
}

// defaultRoutes are the backends of this deployment. They apply when the
// config file declares no routes (or there is no config file at all).
var defaultRoutes = []RouteConfig{
	{Name: "user-service", URLEnv: "USER_SERVICE_URL"},
	{Name: "vehicle-station-service", URLEnv: "VEHICLE_SERVICE_URL"},
	{Name: "order-service", URLEnv: "ORDER_SERVICE_URL"},
}

// reservedNames cannot be used as route names because the gateway serves them itself.
var reservedNames = []string{"healthz", "status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	MountPath string `kong:"help='Path prefix all routes are mounted under (overrides config).',env='MOUNT_PATH'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Gateway  GatewayConfig  `toml:"gateway" yaml:"gateway"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Routes   []RouteConfig  `toml:"routes" yaml:"routes"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (8000)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// GatewayConfig controls how inbound paths map onto routes.
type GatewayConfig struct {
	// MountPath is stripped before the service name is read, e.g. "/gateway".
	MountPath string `toml:"mount_path" yaml:"mount_path"`
	// ForwardedHeaders appends X-Forwarded-For/Proto/Host to outbound requests.
	ForwardedHeaders bool `toml:"forwarded_headers" yaml:"forwarded_headers"`
	// AllowUnconfigured keeps routes without an address registered; requests
	// to them fail at request time instead of aborting startup.
	AllowUnconfigured bool `toml:"allow_unconfigured" yaml:"allow_unconfigured"`
}

// UpstreamConfig holds upstream connection settings shared by all routes.
type UpstreamConfig struct {
	TimeoutSeconds     int `toml:"timeout_seconds" yaml:"timeout_seconds"`
	DialTimeoutSeconds int `toml:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	IdleConnections    int `toml:"idle_connections" yaml:"idle_connections"`
}

// RouteConfig binds a logical service name to a backend base address.
type RouteConfig struct {
	Name           string `toml:"name" yaml:"name"`
	URLEnv         string `toml:"url_env" yaml:"url_env"`
	URL            string `toml:"url" yaml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`

	// ResolvedURL is the base address chosen at load time: the URLEnv value
	// when set, otherwise URL. Empty means the route is unconfigured.
	ResolvedURL string `toml:"-" yaml:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the config file, applies CLI overrides and resolves route addresses
// from the environment. When no explicit path is given (via --config or CONFIG_PATH)
// the search paths are tried in order; if none exists the built-in defaults are used.
func Load(cli *CLI) (*Config, error) {
	return load(cli, os.LookupEnv)
}

func load(cli *CLI, lookupEnv func(string) (string, bool)) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validateRoutes(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	if err := cfg.resolveRoutes(lookupEnv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// decodeFile picks the decoder from the file extension.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("config: unsupported file extension %q (want .toml, .yaml or .yml)", ext)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.MountPath != "" {
		c.Gateway.MountPath = cli.MountPath
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.DialTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.dial_timeout_seconds must be non-negative; got %d", c.Upstream.DialTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if m := c.Gateway.MountPath; m != "" {
		if m[0] != '/' {
			return fmt.Errorf("gateway.mount_path must start with '/'; got %q", m)
		}
		if strings.HasSuffix(m, "/") {
			return fmt.Errorf("gateway.mount_path must not end with '/'; got %q", m)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := []string{"/healthz", "/status"}
		if c.Gateway.MountPath != "" {
			reserved = append(reserved, c.Gateway.MountPath)
		}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.DialTimeoutSeconds == 0 {
		c.Upstream.DialTimeoutSeconds = 10
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if len(c.Routes) == 0 {
		c.Routes = append([]RouteConfig(nil), defaultRoutes...)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) validateRoutes() error {
	reserved := append([]string(nil), reservedNames...)
	if c.Gateway.MountPath == "" && c.Metrics.Enabled {
		reserved = append(reserved, firstSegment(c.Metrics.Path))
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Name == "" {
			return fmt.Errorf("routes[%d].name is required", i)
		}
		if strings.Contains(r.Name, "/") {
			return fmt.Errorf("routes[%d].name must not contain '/'; got %q", i, r.Name)
		}
		if c.Gateway.MountPath == "" {
			for _, name := range reserved {
				if r.Name == name {
					return fmt.Errorf("routes[%d].name %q conflicts with a reserved route", i, r.Name)
				}
			}
		}
		if seen[r.Name] {
			return fmt.Errorf("routes[%d].name %q is declared more than once", i, r.Name)
		}
		seen[r.Name] = true
		if r.TimeoutSeconds < 0 {
			return fmt.Errorf("routes[%d].timeout_seconds must be non-negative; got %d", i, r.TimeoutSeconds)
		}
		if r.URLEnv == "" && r.URL == "" && !c.Gateway.AllowUnconfigured {
			return fmt.Errorf("routes[%d] (%s) needs url_env or url", i, r.Name)
		}
	}
	return nil
}

// resolveRoutes reads each route's base address once. A route with no address
// is an error unless gateway.allow_unconfigured is set.
func (c *Config) resolveRoutes(lookupEnv func(string) (string, bool)) error {
	for i := range c.Routes {
		r := &c.Routes[i]

		addr := r.URL
		if r.URLEnv != "" {
			if v, ok := lookupEnv(r.URLEnv); ok && strings.TrimSpace(v) != "" {
				addr = strings.TrimSpace(v)
			}
		}

		if addr == "" {
			if c.Gateway.AllowUnconfigured {
				continue
			}
			if r.URLEnv != "" {
				return fmt.Errorf("route %q has no base address: environment variable %s is not set", r.Name, r.URLEnv)
			}
			return fmt.Errorf("route %q has no base address", r.Name)
		}

		if err := validateBaseURL(addr); err != nil {
			return fmt.Errorf("route %q: %w", r.Name, err)
		}
		r.ResolvedURL = addr
	}
	return nil
}

func validateBaseURL(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("base address is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base address must use http or https; got %q", u.Redacted())
	}
	if u.Host == "" {
		return fmt.Errorf("base address must include a host; got %q", u.Redacted())
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("base address must not carry a query or fragment; got %q", u.Redacted())
	}
	return nil
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

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

// Timeout returns the default per-request upstream deadline.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DialTimeout returns the TCP connect timeout for upstream connections.
func (c *UpstreamConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// Timeout returns the route's deadline override, or zero when it uses the default.
func (r *RouteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// FilePath returns the config file that was loaded, or empty when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
