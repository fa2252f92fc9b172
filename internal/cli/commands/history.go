package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"pghere/internal/storage"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [projectDir]",
	Short: "Show recent snapshot, revert and init operations",
	Long: `Show the operation journal of a project, newest first.

Failed operations show the step that failed and its error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of operations to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd, projectArg(args), openOptions{history: true})
	if err != nil {
		return err
	}
	defer p.Close()
	out := cmd.OutOrStdout()

	if p.history == nil {
		if !p.settings.History {
			fmt.Fprintln(out, "History is disabled (history: false)")
		} else {
			fmt.Fprintf(out, "No history for %s\n", p.layout.Root)
		}
		return nil
	}

	ops, err := p.history.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Fprintln(out, "No operations recorded")
		return nil
	}
	return writeHistoryTable(out, ops, time.Now())
}

func writeHistoryTable(out io.Writer, ops []storage.Operation, now time.Time) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "When", "Op", "Name", "Source", "Strategy", "Duration", "Status")
	for _, op := range ops {
		status := op.Status
		if op.Status == storage.StatusFailed {
			status = fmt.Sprintf("failed at %s: %s", op.Step, op.Error)
		}
		err := table.Append([]string{
			strconv.FormatInt(op.ID, 10),
			humanize.RelTime(op.StartedAt, now, "ago", "from now"),
			op.Op,
			op.Name,
			op.Source,
			op.Strategy,
			op.Duration.Round(time.Millisecond).String(),
			status,
		})
		if err != nil {
			return fmt.Errorf("failed to format history: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render history: %w", err)
	}
	return nil
}
