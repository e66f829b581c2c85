// Package config provides configuration for the ingress service.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bwoudt/jambonz-go/ingress/internal/logger"
	"github.com/bwoudt/jambonz-go/ingress/internal/tracing"
)

// Route binds a path pattern to a built-in application.
type Route struct {
	Path string `toml:"path"`
	App  string `toml:"app"`
}

// DefaultRoutes is used when no route file is configured.
var DefaultRoutes = []Route{
	{Path: "/hello-world", App: "hello-world"},
	{Path: "*", App: "echo"},
}

// Config holds the ingress configuration.
type Config struct {
	// Server settings
	WSPort   int // WebSocket port the platform dials
	HTTPPort int // Internal HTTP port for health, metrics, calls and webhooks

	// WebSocket settings
	Subprotocol        string
	RequireSubprotocol bool
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	MaxMessageSize     int64

	// Routing
	RoutesFile string
	Routes     []Route

	// Call journal; empty disables it
	DatabaseURL string

	// Webhook surface
	WebhookSecret string
	HTTPUsername  string
	HTTPPassword  string

	Log              logger.Config
	MetricsNamespace string
	Tracing          tracing.Config
}

// DefaultMaxMessageSize bounds a single inbound frame. A session:new can carry
// the full SIP INVITE plus application data.
const DefaultMaxMessageSize = 1 << 20

// Load loads configuration from environment variables and the optional
// route file.
func Load() (*Config, error) {
	cfg := &Config{
		WSPort:             getEnvInt("WS_PORT", 3000),
		HTTPPort:           getEnvInt("HTTP_PORT", 3001),
		Subprotocol:        getEnv("WS_SUBPROTOCOL", "ws.jambonz.org"),
		RequireSubprotocol: getEnvBool("WS_REQUIRE_SUBPROTOCOL", true),
		PingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", DefaultMaxMessageSize)),
		RoutesFile:         getEnv("ROUTES_FILE", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		HTTPUsername:       getEnv("HTTP_USERNAME", ""),
		HTTPPassword:       getEnv("HTTP_PASSWORD", ""),
		Log: logger.Config{
			Level:    getEnv("LOG_LEVEL", "info"),
			Format:   getEnv("LOG_FORMAT", "json"),
			Output:   getEnv("LOG_OUTPUT", "stdout"),
			FilePath: getEnv("LOG_FILE", ""),
		},
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "jambonz"),
		Tracing: tracing.Config{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "jambonz-ingress"),
			Endpoint:    getEnv("TRACING_ENDPOINT", ""),
			Protocol:    getEnv("TRACING_PROTOCOL", "grpc"),
			Insecure:    getEnvBool("TRACING_INSECURE", true),
			SamplerRate: getEnvFloat("TRACING_SAMPLER_RATE", 1),
			Environment: getEnv("TRACING_ENVIRONMENT", "dev"),
		},
	}

	cfg.Routes = DefaultRoutes
	if cfg.RoutesFile != "" {
		routes, err := LoadRoutes(cfg.RoutesFile)
		if err != nil {
			return nil, err
		}
		cfg.Routes = routes
	}
	return cfg, nil
}

type routeFile struct {
	Route []Route `toml:"route"`
}

// LoadRoutes reads an ordered route table from a TOML file.
func LoadRoutes(path string) ([]Route, error) {
	var rf routeFile
	if _, err := toml.DecodeFile(path, &rf); err != nil {
		return nil, fmt.Errorf("failed to read routes file %s: %w", path, err)
	}
	if len(rf.Route) == 0 {
		return nil, fmt.Errorf("routes file %s defines no routes", path)
	}
	return rf.Route, nil
}

// Validate checks the configuration. apps lists the application names a
// route may reference.
func (c *Config) Validate(apps []string) error {
	var errs []error
	if c.WSPort <= 0 || c.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid WS_PORT %d", c.WSPort))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort))
	}
	if c.WSPort == c.HTTPPort {
		errs = append(errs, errors.New("WS_PORT and HTTP_PORT must differ"))
	}
	if c.RequireSubprotocol && c.Subprotocol == "" {
		errs = append(errs, errors.New("WS_SUBPROTOCOL is required when WS_REQUIRE_SUBPROTOCOL is set"))
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 || c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("websocket timeouts must be positive"))
	}
	if c.ReadTimeout <= c.PingInterval {
		errs = append(errs, errors.New("WS_READ_TIMEOUT_MS must exceed WS_PING_INTERVAL_MS"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("WS_MAX_MESSAGE_SIZE must be positive"))
	}
	if len(c.Routes) == 0 {
		errs = append(errs, errors.New("no routes configured"))
	}
	for i, r := range c.Routes {
		if r.Path == "" {
			errs = append(errs, fmt.Errorf("route %d: empty path", i))
		}
		if !slices.Contains(apps, r.App) {
			errs = append(errs, fmt.Errorf("route %d (%s): unknown app %q", i, r.Path, r.App))
		}
	}
	if c.Tracing.Enabled && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		errs = append(errs, fmt.Errorf("invalid TRACING_PROTOCOL %q", c.Tracing.Protocol))
	}
	if c.Tracing.SamplerRate < 0 || c.Tracing.SamplerRate > 1 {
		errs = append(errs, errors.New("TRACING_SAMPLER_RATE must be between 0 and 1"))
	}
	if (c.HTTPUsername == "") != (c.HTTPPassword == "") {
		errs = append(errs, errors.New("HTTP_USERNAME and HTTP_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}
