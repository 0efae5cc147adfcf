package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \":9090\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.True(t, cfg.AccessLog.Enabled)
	assert.False(t, cfg.AccessLog.Log2Play)
	assert.False(t, cfg.AccessLog.LogPost)
	assert.Equal(t, DefaultAccessLogPath, cfg.AccessLog.Path)
	assert.Equal(t, int64(1<<20), cfg.AccessLog.MaxBodyBytes)
	assert.Equal(t, 30, cfg.AccessLog.Archive.RetentionDays)
	assert.Equal(t, 1024, cfg.AccessLog.Archive.QueueSize)
	assert.Equal(t, "session", cfg.Session.Cookie)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.LookupTimeout)
	assert.Equal(t, "info", cfg.App.LogLevel)
}

func TestLoad_AccessLogKeys(t *testing.T) {
	path := writeConfig(t, `
accesslog:
  enabled: false
  log2play: true
  logpost: true
  path: /var/log/app/access.log
  archive:
    enabled: true
    retention_days: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.AccessLog.Enabled)
	assert.True(t, cfg.AccessLog.Log2Play)
	assert.True(t, cfg.AccessLog.LogPost)
	assert.True(t, cfg.AccessLog.Archive.Enabled)
	assert.Equal(t, 7, cfg.AccessLog.Archive.RetentionDays)

	p, err := cfg.AccessLogPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/log/app/access.log", p)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ACCESSLOG_ACCESSLOG_LOG2PLAY", "true")
	path := writeConfig(t, "accesslog:\n  log2play: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.AccessLog.Log2Play)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_NoDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.AccessLog.Enabled)
}

func TestResolvePath(t *testing.T) {
	p, err := ResolvePath("/srv/app", "logs/access.log")
	require.NoError(t, err)
	assert.Equal(t, "/srv/app/logs/access.log", p)

	p, err = ResolvePath("/srv/app", "/tmp/../tmp/access.log")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/access.log", p)

	p, err = ResolvePath("/srv/app", "")
	require.NoError(t, err)
	assert.Equal(t, "/srv/app/"+DefaultAccessLogPath, p)

	wd, err := os.Getwd()
	require.NoError(t, err)
	p, err = ResolvePath("", "a.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "a.log"), p)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(&Config{App: AppConfig{LogLevel: "info"}})

	cfg := s.Get()
	cfg.App.LogLevel = "debug"

	assert.Equal(t, "info", s.Get().App.LogLevel)
	assert.Nil(t, (&Store{}).Get())
}

func TestStore_OnChange(t *testing.T) {
	s := NewStore(&Config{})
	var got string
	s.OnChange(func(c *Config) { got = c.App.LogLevel })

	s.set(&Config{App: AppConfig{LogLevel: "warn"}})

	assert.Equal(t, "warn", got)
	assert.Equal(t, "warn", s.Get().App.LogLevel)
}

func TestLoadAndWatch_Reload(t *testing.T) {
	path := writeConfig(t, "app:\n  log_level: info\n")

	store, err := LoadAndWatch(path)
	require.NoError(t, err)
	assert.Equal(t, "info", store.Get().App.LogLevel)

	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: debug\n"), 0o644))

	assert.Eventually(t, func() bool {
		return store.Get().App.LogLevel == "debug"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStore_ListenersSeeEveryReload(t *testing.T) {
	s := NewStore(&Config{})
	var a, b []string
	s.OnChange(func(c *Config) { a = append(a, c.App.LogLevel) })
	s.OnChange(func(c *Config) {
		b = append(b, c.App.LogLevel)
		c.App.LogLevel = "mutated"
	})

	s.set(&Config{App: AppConfig{LogLevel: "warn"}})
	s.set(&Config{App: AppConfig{LogLevel: "error"}})

	assert.Equal(t, []string{"warn", "error"}, a)
	assert.Equal(t, []string{"warn", "error"}, b)
	assert.Equal(t, "error", s.Get().App.LogLevel)
}
