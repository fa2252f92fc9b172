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

	"github.com/spf13/cobra"

	"pghere/internal/config"
	"pghere/internal/lifecycle"
)

var (
	initStart bool
	initUser  string
)

var initCmd = &cobra.Command{
	Use:   "init [projectDir]",
	Short: "Initialize a pghere project",
	Long: `Initialize a project directory for snapshots.

Creates instances/ and snaps/, initializes a new cluster in
instances/inst_active (via pg_ctl initdb) when it does not exist yet and points
current at it. An existing current symlink is left as is, so init is safe to
run again after reverts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initStart, "start", false, "Start PostgreSQL once the project is ready")
	initCmd.Flags().StringVarP(&initUser, "username", "u", "", "Superuser for a new cluster (default from settings)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd, projectArg(args), openOptions{history: true, create: true})
	if err != nil {
		return err
	}
	defer p.Close()
	out := cmd.OutOrStdout()

	user := initUser
	if user == "" {
		user = p.settings.Server.Username
	}
	res, err := p.orch.Bootstrap(cmd.Context(), lifecycle.BootstrapOptions{User: user, Start: initStart})
	if err != nil {
		return err
	}

	if res.Initialized {
		fmt.Fprintf(out, "Initialized new cluster in %s\n", p.layout.ActiveInstance())
	} else {
		fmt.Fprintf(out, "Reinitialized existing pghere project in %s\n", p.layout.Root)
	}
	if res.Linked {
		fmt.Fprintf(out, "  current -> %s\n", res.Target)
	} else {
		fmt.Fprintf(out, "  current already points at %s (not modified)\n", res.Target)
	}

	created, err := config.WriteProjectConfig(p.layout.Root)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "  created %s\n", config.ProjectConfigFile)
	} else {
		fmt.Fprintf(out, "  %s already exists (not modified)\n", config.ProjectConfigFile)
	}

	if res.Started {
		fmt.Fprintln(out, "  PostgreSQL started")
	}
	return nil
}
