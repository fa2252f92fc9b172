// Package config loads pghere settings: the global settings file, an
// optional per-project pghere.yaml and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pghere/internal/artifacts"
)

// Environment variables.
const (
	EnvConfigDir = "PGHERE_CONFIG_DIR"
	EnvProject   = "PG_PROJECT"
)

// ProjectConfigFile is the per-project override file inside a project root.
const ProjectConfigFile = "pghere.yaml"

// getConfigDir returns the config directory path.
// Uses PGHERE_CONFIG_DIR if set, otherwise ~/.pghere.
// Computed on every call so tests can isolate it.
func getConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pghere")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// GlobalSettingsPath returns the global settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and a default settings file.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// ServerSettings configures the embedded server.
type ServerSettings struct {
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Version  string `yaml:"version"` // overridden by PG_VERSION
}

// BenchSettings configures the clone benchmark.
type BenchSettings struct {
	Project   string `yaml:"project"`
	Port      int    `yaml:"port"`
	SmallRows int    `yaml:"small_rows"`
	LargeRows int    `yaml:"large_rows"`
	RowBytes  int    `yaml:"row_bytes"`
}

// Settings are the global settings.
type Settings struct {
	LogLevel       string         `yaml:"log_level"`       // trace, debug, info, warn, off
	DefaultProject string         `yaml:"default_project"` // empty: ./pg_projects/default
	PgCtl          string         `yaml:"pg_ctl"`
	StopMode       string         `yaml:"stop_mode"`
	AllowCopy      bool           `yaml:"allow_copy"`
	History        bool           `yaml:"history"`
	BusyTimeout    int            `yaml:"busy_timeout"` // history.db busy_timeout (ms), 0 = default
	Server         ServerSettings `yaml:"server"`
	Bench          BenchSettings  `yaml:"bench"`
}

// LoggingEnabled returns whether a log level other than off/none is set.
func (s *Settings) LoggingEnabled() bool {
	level := strings.ToLower(s.LogLevel)
	return level != "" && level != "none" && level != "off"
}

// DefaultSettings parses the embedded defaults.
func DefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// LoadSettings loads the global settings file on top of the embedded
// defaults, so keys missing from the file keep their default. A missing file
// yields the defaults.
func LoadSettings() (*Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", GlobalSettingsPath(), err)
	}
	return &settings, nil
}

// SaveSettings writes settings to the global settings file.
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# pghere settings\n# See: pghere config --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}

// ProjectConfig is <project>/pghere.yaml. Nil pointers mean "not set".
type ProjectConfig struct {
	Port      int    `yaml:"port"`
	StopMode  string `yaml:"stop_mode"`
	AllowCopy *bool  `yaml:"allow_copy"`
	PgCtl     string `yaml:"pg_ctl"`
	History   *bool  `yaml:"history"`
}

// LoadProjectConfig loads <projectDir>/pghere.yaml.
// Returns nil if the file does not exist.
func LoadProjectConfig(projectDir string) (*ProjectConfig, error) {
	if projectDir == "" {
		return nil, nil
	}
	path := filepath.Join(projectDir, ProjectConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// WriteProjectConfig writes the default pghere.yaml into projectDir unless
// one exists. It reports whether the file was created.
func WriteProjectConfig(projectDir string) (bool, error) {
	path := filepath.Join(projectDir, ProjectConfigFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, artifacts.ProjectConfig, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", ProjectConfigFile, err)
	}
	return true, nil
}

// Apply overlays the project's values on s.
func (p *ProjectConfig) Apply(s *Settings) {
	if p == nil {
		return
	}
	if p.StopMode != "" {
		s.StopMode = p.StopMode
	}
	if p.AllowCopy != nil {
		s.AllowCopy = *p.AllowCopy
	}
	if p.PgCtl != "" {
		s.PgCtl = p.PgCtl
	}
	if p.History != nil {
		s.History = *p.History
	}
}

// DefaultProjectDir is used when no project is given anywhere.
func DefaultProjectDir() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, "pg_projects", "default")
}

// ResolveProjectDir picks the project directory: the positional argument,
// then --project, then $PG_PROJECT, then the settings default, then
// ./pg_projects/default. The result is absolute.
func ResolveProjectDir(positional, flag string, settings *Settings) (string, error) {
	dir := firstNonEmpty(positional, flag, os.Getenv(EnvProject))
	if dir == "" && settings != nil {
		dir = settings.DefaultProject
	}
	if dir == "" {
		dir = DefaultProjectDir()
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	return filepath.Abs(dir)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
