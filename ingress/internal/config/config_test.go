package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownApps = []string{"hello-world", "echo"}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.WSPort)
	assert.Equal(t, 3001, cfg.HTTPPort)
	assert.Equal(t, "ws.jambonz.org", cfg.Subprotocol)
	assert.True(t, cfg.RequireSubprotocol)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, int64(1<<20), cfg.MaxMessageSize)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, 1.0, cfg.Tracing.SamplerRate)
	assert.Equal(t, DefaultRoutes, cfg.Routes)
	assert.Equal(t, "jambonz", cfg.MetricsNamespace)
	assert.NoError(t, cfg.Validate(knownApps))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WS_PORT", "4000")
	t.Setenv("WS_REQUIRE_SUBPROTOCOL", "false")
	t.Setenv("WS_PING_INTERVAL_MS", "500")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.WSPort)
	assert.Equal(t, 3001, cfg.HTTPPort)
	assert.False(t, cfg.RequireSubprotocol)
	assert.Equal(t, 500*time.Millisecond, cfg.PingInterval)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadRoutesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[route]]
path = "/support"
app  = "hello-world"

[[route]]
path = "*"
app  = "echo"
`), 0o644))
	t.Setenv("ROUTES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []Route{{Path: "/support", App: "hello-world"}, {Path: "*", App: "echo"}}, cfg.Routes)
	assert.NoError(t, cfg.Validate(knownApps))
}

func TestLoadRoutesFileErrors(t *testing.T) {
	_, err := LoadRoutes(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = LoadRoutes(empty)
	assert.ErrorContains(t, err, "no routes")
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Routes = []Route{{Path: "/x", App: "nope"}, {Path: "", App: "echo"}}
	cfg.HTTPPort = cfg.WSPort
	cfg.HTTPUsername = "admin"

	err = cfg.Validate(knownApps)
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown app "nope"`)
	assert.ErrorContains(t, err, "empty path")
	assert.ErrorContains(t, err, "must differ")
	assert.ErrorContains(t, err, "set together")
}

func TestValidateTimeouts(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.ReadTimeout = cfg.PingInterval
	assert.ErrorContains(t, cfg.Validate(knownApps), "must exceed")
}

func TestLoadTracingFromEnv(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_PROTOCOL", "http")
	t.Setenv("TRACING_ENDPOINT", "collector:4318")
	t.Setenv("TRACING_SAMPLER_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "http", cfg.Tracing.Protocol)
	assert.Equal(t, "collector:4318", cfg.Tracing.Endpoint)
	assert.Equal(t, 0.25, cfg.Tracing.SamplerRate)
	assert.NoError(t, cfg.Validate(knownApps))

	cfg.Tracing.Protocol = "udp"
	cfg.Tracing.SamplerRate = 3
	err = cfg.Validate(knownApps)
	assert.ErrorContains(t, err, "TRACING_PROTOCOL")
	assert.ErrorContains(t, err, "TRACING_SAMPLER_RATE")
}
