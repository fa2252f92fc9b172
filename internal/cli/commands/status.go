package commands

import (
	"fmt"
	"io/fs"
	"path/filepath"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pghere/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status [projectDir]",
	Short: "Show the state of a project",
	Long: `Show where current points, how many instances and snapshots exist and
whether PostgreSQL is running against current.

Sizes are apparent sizes. Copy-on-write clones share blocks, so the space
actually used on disk is usually much smaller.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd, projectArg(args), openOptions{history: true})
	if err != nil {
		return err
	}
	defer p.Close()
	out := cmd.OutOrStdout()

	st, err := p.orch.Status(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Project: %s\n", st.Root)
	if st.Current == "" {
		fmt.Fprintln(out, "Current: not initialized (run: pghere init)")
	} else {
		fmt.Fprintf(out, "Current: %s", filepath.Base(st.Current))
		if size, err := dirSize(st.Current); err == nil {
			dim.Fprintf(out, " (%s)", humanize.Bytes(uint64(size)))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Instances: %s\n", humanize.Comma(int64(len(st.Instances))))
	fmt.Fprintf(out, "Snapshots: %s", humanize.Comma(int64(len(st.Snapshots))))
	if n := len(st.Snapshots); n > 0 {
		dim.Fprintf(out, " (latest %s)", st.Snapshots[n-1])
	}
	fmt.Fprintln(out)

	if st.Current != "" {
		fmt.Fprint(out, "PostgreSQL: ")
		if st.Running {
			green.Fprintln(out, "running")
		} else {
			red.Fprintln(out, "stopped")
		}
		if st.RunningErr != nil {
			dim.Fprintf(out, "  (pg_ctl status failed: %v)\n", st.RunningErr)
		}
	}

	if p.history != nil {
		ok, errOK := p.history.Count(cmd.Context(), storage.StatusOK)
		failed, errFailed := p.history.Count(cmd.Context(), storage.StatusFailed)
		if errOK == nil && errFailed == nil {
			fmt.Fprintf(out, "History: %s ok, %s failed\n", humanize.Comma(int64(ok)), humanize.Comma(int64(failed)))
		}
	}
	return nil
}

// dirSize sums the apparent size of the regular files under dir.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
