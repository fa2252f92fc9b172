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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pghere/internal/config"
	"pghere/internal/engine"
)

var (
	startUsername string
	startPassword string
	startPort     int
	startDatabase string
	startVersion  string
	startRoot     string
	startCleanup  bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run PostgreSQL in the foreground",
	Long: `Start an embedded PostgreSQL whose data lives in ./pg_local/data and
print its connection string. Binaries are downloaded into ./pg_local/bin on
first use. The server runs until interrupted (Ctrl-C) and is then stopped.

Data is kept between runs unless --cleanup is given.`,
	Example: `  pghere start
  pghere start --database app --port 55433
  PG_VERSION=15 pghere start`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	f := startCmd.Flags()
	f.StringVarP(&startUsername, "username", "u", "", "Superuser name (default postgres)")
	f.StringVar(&startPassword, "password", "", "Superuser password (default postgres)")
	f.IntVar(&startPort, "port", 0, "Port to listen on (default 55432)")
	f.StringVarP(&startDatabase, "database", "d", "", "Database to create if missing (default postgres)")
	f.StringVar(&startVersion, "pg-version", "", "PostgreSQL version, e.g. 16 or 16.4.0 (env PG_VERSION)")
	f.StringVar(&startRoot, "root", "", "Directory holding pg_local/ (default: working directory)")
	f.BoolVar(&startCleanup, "cleanup", false, "Remove the data directory on shutdown")
	rootCmd.AddCommand(startCmd)
}

// serverOptions merges flags, environment and settings, in that order.
func serverOptions(s config.ServerSettings) engine.Options {
	opts := engine.Options{
		Root:          startRoot,
		Username:      pick(startUsername, s.Username),
		Password:      pick(startPassword, s.Password),
		Database:      pick(startDatabase, s.Database),
		Version:       pick(startVersion, os.Getenv(engine.EnvVersion), s.Version),
		Port:          s.Port,
		CleanupOnStop: startCleanup,
	}
	if startPort != 0 {
		opts.Port = startPort
	}
	return opts
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runStart(cmd *cobra.Command, args []string) error {
	s := config.DefaultSettings()
	if settings != nil {
		s = *settings
	}
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := engine.StartServer(ctx, serverOptions(s.Server))
	if err != nil {
		if help := engine.RuntimeHelp(err); help != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), help)
		}
		return err
	}
	fmt.Fprintln(out, h.Banner())
	fmt.Fprintln(out, h.DatabaseConnectionString())

	<-ctx.Done()
	fmt.Fprintln(out, "Stopping PostgreSQL...")

	if err := h.Stop(context.Background(), engine.StopOptions{}); err != nil {
		log.Warnf("[CLI] embedded server stop: %v", err)
		return fmt.Errorf("failed to stop PostgreSQL: %w", err)
	}
	return nil
}
