// Copyright 2024 PgHere Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pghere/internal/common"
	"pghere/internal/config"
	"pghere/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Persistent flags.
var (
	flagProject   string
	flagPgCtl     string
	flagAllowCopy bool
	flagLogging   string
)

// settings is loaded once per invocation by the root pre-run hook.
var settings *config.Settings

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var rootCmd = &cobra.Command{
	Use:   "pghere",
	Short: "Local PostgreSQL with instant snapshots",
	Long: `Run a project-local PostgreSQL and checkpoint its data directory.

Snapshots and reverts are copy-on-write clones of the stopped cluster's data
directory. The project's "current" symlink selects which instance the server
runs against.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := config.InitConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		loaded, err := config.LoadSettings()
		if err != nil {
			return err
		}
		settings = loaded
		storage.SetConfigBusyTimeout(settings.BusyTimeout)

		level := settings.LogLevel
		if flagLogging != "" {
			level = flagLogging
		}
		return setupLogging(level, os.Stderr)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("pghere version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagProject, "project", "p", "", "Project directory (env PG_PROJECT, default ./pg_projects/default)")
	pf.StringVar(&flagPgCtl, "pg-ctl", "", "Path to pg_ctl (env PG_CTL)")
	pf.BoolVar(&flagAllowCopy, "allow-copy", false, "Fall back to a plain byte copy when no copy-on-write clone works")
	pf.StringVar(&flagLogging, "logging", "", "Log level: trace, debug, info, warn, off")
}

// setupLogging routes logrus to w at the given level, or discards it.
func setupLogging(level string, w io.Writer) error {
	switch strings.ToLower(level) {
	case "", "off", "none":
		log.SetOutput(io.Discard)
		return nil
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		return &common.UsageError{Message: fmt.Sprintf("invalid log level %q: must be one of trace, debug, info, warn, off", level)}
	}
	log.SetOutput(w)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
