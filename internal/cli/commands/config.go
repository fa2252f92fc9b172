package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pghere/internal/common"
	"pghere/internal/config"
	"pghere/internal/engine"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change global settings",
	Long: `Show or change the global settings in $PGHERE_CONFIG_DIR/settings.yaml
(default ~/.pghere/settings.yaml).

Per-project overrides live in <project>/pghere.yaml, created by init.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a global setting",
	Example: `  pghere config set log_level debug
  pghere config set allow_copy true
  pghere config set server.port 55433`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

// settingFields maps a settings key to its getter and setter.
var settingFields = map[string]struct {
	get func(s *config.Settings) string
	set func(s *config.Settings, v string) error
}{
	"log_level": {
		get: func(s *config.Settings) string { return s.LogLevel },
		set: func(s *config.Settings, v string) error {
			switch v {
			case "trace", "debug", "info", "warn", "off":
				s.LogLevel = v
			case "none", "":
				s.LogLevel = "off"
			default:
				return fmt.Errorf("must be one of trace, debug, info, warn, off")
			}
			return nil
		},
	},
	"default_project": {
		get: func(s *config.Settings) string { return s.DefaultProject },
		set: func(s *config.Settings, v string) error { s.DefaultProject = v; return nil },
	},
	"pg_ctl": {
		get: func(s *config.Settings) string { return s.PgCtl },
		set: func(s *config.Settings, v string) error { s.PgCtl = v; return nil },
	},
	"stop_mode": {
		get: func(s *config.Settings) string { return s.StopMode },
		set: func(s *config.Settings, v string) error {
			mode, err := engine.ParseStopMode(v)
			if err != nil {
				return err
			}
			s.StopMode = string(mode)
			return nil
		},
	},
	"allow_copy": {
		get: func(s *config.Settings) string { return strconv.FormatBool(s.AllowCopy) },
		set: func(s *config.Settings, v string) error { return parseBool(v, &s.AllowCopy) },
	},
	"history": {
		get: func(s *config.Settings) string { return strconv.FormatBool(s.History) },
		set: func(s *config.Settings, v string) error { return parseBool(v, &s.History) },
	},
	"busy_timeout": {
		get: func(s *config.Settings) string { return strconv.Itoa(s.BusyTimeout) },
		set: func(s *config.Settings, v string) error { return parseInt(v, &s.BusyTimeout) },
	},
	"server.port": {
		get: func(s *config.Settings) string { return strconv.Itoa(s.Server.Port) },
		set: func(s *config.Settings, v string) error { return parseInt(v, &s.Server.Port) },
	},
	"server.database": {
		get: func(s *config.Settings) string { return s.Server.Database },
		set: func(s *config.Settings, v string) error { s.Server.Database = v; return nil },
	},
	"server.version": {
		get: func(s *config.Settings) string { return s.Server.Version },
		set: func(s *config.Settings, v string) error {
			if _, err := engine.ParseVersion(v); err != nil {
				return err
			}
			s.Server.Version = v
			return nil
		},
	},
	"bench.port": {
		get: func(s *config.Settings) string { return strconv.Itoa(s.Bench.Port) },
		set: func(s *config.Settings, v string) error { return parseInt(v, &s.Bench.Port) },
	},
}

func parseBool(v string, dst *bool) error {
	switch strings.ToLower(v) {
	case "on", "yes":
		*dst = true
		return nil
	case "off", "no":
		*dst = false
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("want true or false")
	}
	*dst = b
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("want a non-negative integer")
	}
	*dst = n
	return nil
}

func settingKeys() []string {
	keys := make([]string, 0, len(settingFields))
	for k := range settingFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applySetting changes one key of s.
func applySetting(s *config.Settings, key, value string) error {
	field, ok := settingFields[key]
	if !ok {
		return &common.UsageError{Message: fmt.Sprintf("unknown setting %q (one of: %s)", key, strings.Join(settingKeys(), ", "))}
	}
	if err := field.set(s, value); err != nil {
		return &common.UsageError{Message: fmt.Sprintf("invalid value %q for %s: %v", value, key, err)}
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	s, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Settings: %s\n", config.GlobalSettingsPath())
	for _, key := range settingKeys() {
		value := settingFields[key].get(s)
		if value == "" {
			value = "(unset)"
		}
		fmt.Fprintf(out, "  %-16s %s\n", key, value)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "To change a setting:")
	fmt.Fprintln(out, "  pghere config set <key> <value>")
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	s, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := applySetting(s, args[0], args[1]); err != nil {
		return err
	}
	if err := config.SaveSettings(s); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], settingFields[args[0]].get(s))
	return nil
}
