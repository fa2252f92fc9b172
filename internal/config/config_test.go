package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	return dir
}

func TestConfigDir(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "")
		assert.True(t, strings.HasSuffix(ConfigDir(), ".pghere"), "should end with .pghere")
	})

	t.Run("override with PGHERE_CONFIG_DIR", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "/tmp/test-pghere-config")
		assert.Equal(t, "/tmp/test-pghere-config", ConfigDir())
		assert.Equal(t, "/tmp/test-pghere-config/settings.yaml", GlobalSettingsPath())
	})
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "off", s.LogLevel)
	assert.False(t, s.LoggingEnabled())
	assert.Equal(t, "fast", s.StopMode)
	assert.False(t, s.AllowCopy)
	assert.True(t, s.History)
	assert.Equal(t, 55432, s.Server.Port)
	assert.Equal(t, "postgres", s.Server.Username)
	assert.Equal(t, "postgres", s.Server.Database)
	assert.Equal(t, "bench", s.Bench.Project)
	assert.Equal(t, 55434, s.Bench.Port)
	assert.Equal(t, 50000, s.Bench.SmallRows)
	assert.Equal(t, 2000000, s.Bench.LargeRows)
	assert.Equal(t, 256, s.Bench.RowBytes)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	isolate(t)
	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), *s)
}

func TestLoadSettingsPartialFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte("log_level: debug\nserver:\n  port: 6000\n"), 0600))

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.True(t, s.LoggingEnabled())
	assert.Equal(t, 6000, s.Server.Port)
	assert.Equal(t, "postgres", s.Server.Username, "missing keys keep their default")
	assert.Equal(t, "fast", s.StopMode)
}

func TestLoadSettingsInvalid(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte("server: [unterminated"), 0600))
	_, err := LoadSettings()
	assert.Error(t, err)
}

func TestInitAndSaveSettings(t *testing.T) {
	isolate(t)
	require.NoError(t, InitConfigDir())

	data, err := os.ReadFile(GlobalSettingsPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "stop_mode: fast")

	s, err := LoadSettings()
	require.NoError(t, err)
	s.AllowCopy = true
	require.NoError(t, SaveSettings(s))

	require.NoError(t, InitConfigDir(), "existing settings are not overwritten")
	again, err := LoadSettings()
	require.NoError(t, err)
	assert.True(t, again.AllowCopy)
}

func TestProjectConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadProjectConfig(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	created, err := WriteProjectConfig(dir)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = WriteProjectConfig(dir)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigFile), []byte("port: 55500\nstop_mode: immediate\nallow_copy: true\nhistory: false\n"), 0644))
	cfg, err = LoadProjectConfig(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 55500, cfg.Port)

	s := DefaultSettings()
	cfg.Apply(&s)
	assert.Equal(t, "immediate", s.StopMode)
	assert.True(t, s.AllowCopy)
	assert.False(t, s.History)
	assert.Empty(t, s.PgCtl, "unset keys leave settings alone")

	var none *ProjectConfig
	none.Apply(&s)
}

func TestResolveProjectDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Setenv(EnvProject, "")

	tests := []struct {
		name       string
		positional string
		flag       string
		env        string
		settings   *Settings
		want       string
	}{
		{"positional wins", "/a", "/b", "/c", &Settings{DefaultProject: "/d"}, "/a"},
		{"flag", "", "/b", "/c", nil, "/b"},
		{"env", "", "", "/c", &Settings{DefaultProject: "/d"}, "/c"},
		{"settings", "", "", "", &Settings{DefaultProject: "/d"}, "/d"},
		{"default", "", "", "", nil, filepath.Join(wd, "pg_projects", "default")},
		{"relative", "proj", "", "", nil, filepath.Join(wd, "proj")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvProject, tt.env)
			got, err := ResolveProjectDir(tt.positional, tt.flag, tt.settings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
