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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pghere/internal/common"
	"pghere/internal/lifecycle"
)

var revertSnap string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [projectDir]",
	Short: "Snapshot the current instance",
	Long: `Stop PostgreSQL, clone the data directory current points at into
snaps/snap_<timestamp> and start PostgreSQL again.

Prints the new snapshot name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshot,
}

var revertCmd = &cobra.Command{
	Use:   "revert [projectDir] <snapName>",
	Short: "Revert to a snapshot",
	Long: `Stop PostgreSQL, clone a snapshot into a new instance, point current at
it and start PostgreSQL again. The snapshot is left untouched so it can be
reverted to any number of times.

A single positional argument is the project directory. Give the snapshot as
a second argument or with --snap.

Prints the new instance name.`,
	Example: `  pghere revert ./pg_projects/app snap_20260109_143012
  pghere revert --snap snap_20260109_143012
  pghere revert ./pg_projects/app --snap snap_20260109_143012`,
	Args: cobra.MaximumNArgs(2),
	RunE: runRevert,
}

var listCmd = &cobra.Command{
	Use:     "list [projectDir]",
	Aliases: []string{"ls"},
	Short:   "List snapshots, oldest first",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runList,
}

func init() {
	revertCmd.Flags().StringVarP(&revertSnap, "snap", "s", "", "Snapshot to revert to")

	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(listCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd, projectArg(args), openOptions{history: true})
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.orch.Snapshot(cmd.Context())
	if err != nil {
		reportPartial(cmd, err, "snapshot", res.Name, p.layout.Current())
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Name)
	return nil
}

// revertArgs splits the positionals of revert. The first positional is
// always the project; the snapshot is the second one or --snap.
func revertArgs(args []string, snap string) (projectDir, snapName string, err error) {
	if snap != "" {
		if len(args) > 1 {
			return "", "", &common.UsageError{Message: "too many arguments: the snapshot is already given by --snap"}
		}
		return projectArg(args), snap, nil
	}
	if len(args) < 2 {
		return "", "", &common.UsageError{Message: "missing snapshot name (usage: pghere revert <projectDir> <snapName> or pghere revert [projectDir] --snap <snapName>)"}
	}
	return args[0], args[1], nil
}

func runRevert(cmd *cobra.Command, args []string) error {
	dir, snap, err := revertArgs(args, revertSnap)
	if err != nil {
		return err
	}
	p, err := openProject(cmd, dir, openOptions{history: true})
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.orch.Revert(cmd.Context(), snap)
	if err != nil {
		reportPartial(cmd, err, "instance", res.Instance, p.layout.Current())
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Instance)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd, projectArg(args), openOptions{})
	if err != nil {
		return err
	}
	defer p.Close()

	names, err := p.orch.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

// reportPartial tells the user about work that completed before a failure,
// such as a snapshot that was cloned before the restart failed.
func reportPartial(cmd *cobra.Command, err error, what, name, current string) {
	var se *lifecycle.StepError
	if !errors.As(err, &se) || !se.EngineTouched() {
		return
	}
	w := cmd.ErrOrStderr()
	if name != "" {
		printWarning(w, "%s %s was created before the failure", what, name)
	}
	if se.Step != lifecycle.StepStop {
		printWarning(w, "PostgreSQL is stopped; fix the cause and run: pg_ctl -D %s start", current)
	}
}
