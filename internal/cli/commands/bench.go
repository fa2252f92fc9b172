package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pghere/internal/clone"
	"pghere/internal/config"
	"pghere/internal/engine"
	"pghere/internal/layout"
	"pghere/internal/lifecycle"
)

// EnvBenchPort overrides the benchmark port.
const EnvBenchPort = "PGPORT_BENCH"

var (
	benchPort      int
	benchSmallRows int
	benchLargeRows int
	benchRowBytes  int
)

var benchCmd = &cobra.Command{
	Use:   "bench [projectDir]",
	Short: "Measure clone time for a small and a large dataset",
	Long: `Seed a table twice (small, then large), stop PostgreSQL and time a clone of
the data directory after each seed. The clones are kept as
snaps/bench_<label>_<timestamp>.

The project defaults to ./pg_projects/bench and is initialized when needed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&benchPort, "port", 0, "Port for the benchmark server (env PGPORT_BENCH, default 55434)")
	f.IntVar(&benchSmallRows, "small-rows", 0, "Rows in the small dataset (default 50,000)")
	f.IntVar(&benchLargeRows, "large-rows", 0, "Rows in the large dataset (default 2,000,000)")
	f.IntVar(&benchRowBytes, "row-bytes", 0, "Payload bytes per row (default 256)")
	rootCmd.AddCommand(benchCmd)
}

// benchConfig is the resolved benchmark parameters.
type benchConfig struct {
	Port      int
	SmallRows int
	LargeRows int
	RowBytes  int
	User      string
}

// dataset is one seed-and-clone round.
type dataset struct {
	Label string
	Rows  int
}

// benchResult is the outcome of one round.
type benchResult struct {
	Snapshot string
	Strategy string
	Seed     time.Duration
	Clone    time.Duration
}

func resolveBenchConfig(s config.BenchSettings, user string) (benchConfig, error) {
	cfg := benchConfig{Port: s.Port, SmallRows: s.SmallRows, LargeRows: s.LargeRows, RowBytes: s.RowBytes, User: user}
	if env := os.Getenv(EnvBenchPort); env != "" {
		port, err := strconv.Atoi(env)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", EnvBenchPort, env, err)
		}
		cfg.Port = port
	}
	if benchPort != 0 {
		cfg.Port = benchPort
	}
	if benchSmallRows != 0 {
		cfg.SmallRows = benchSmallRows
	}
	if benchLargeRows != 0 {
		cfg.LargeRows = benchLargeRows
	}
	if benchRowBytes != 0 {
		cfg.RowBytes = benchRowBytes
	}
	if cfg.Port <= 0 || cfg.SmallRows <= 0 || cfg.LargeRows <= 0 || cfg.RowBytes <= 0 {
		return cfg, fmt.Errorf("port, row counts and row size must be positive")
	}
	return cfg, nil
}

// benchProjectArg defaults the project to pg_projects/<bench.project> when
// nothing else names one.
func benchProjectArg(args []string, s *config.Settings) string {
	if dir := projectArg(args); dir != "" {
		return dir
	}
	if flagProject != "" || os.Getenv(config.EnvProject) != "" || s == nil || s.Bench.Project == "" {
		return ""
	}
	return filepath.Join("pg_projects", s.Bench.Project)
}

func runBench(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd, benchProjectArg(args, settings), openOptions{create: true})
	if err != nil {
		return err
	}
	defer p.Close()
	out := cmd.OutOrStdout()

	cfg, err := resolveBenchConfig(p.settings.Bench, p.settings.Server.Username)
	if err != nil {
		return err
	}
	p.pgctl.Port = cfg.Port

	res, err := p.orch.Bootstrap(cmd.Context(), lifecycle.BootstrapOptions{User: cfg.User})
	if err != nil {
		return err
	}
	if res.Initialized {
		fmt.Fprintln(out, "Initialized new Postgres cluster")
	}

	release, err := lifecycle.Lock(p.layout)
	if err != nil {
		return err
	}
	defer release()

	b := &bench{
		layout: p.layout,
		pgctl:  p.pgctl,
		cloner: clone.New(clone.Options{AllowCopy: p.settings.AllowCopy}),
		cfg:    cfg,
		out:    out,
		now:    time.Now,
	}
	for _, ds := range []dataset{{"small", cfg.SmallRows}, {"large", cfg.LargeRows}} {
		if _, err := b.run(cmd.Context(), ds); err != nil {
			return err
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Done. Snapshots are in %s\n", p.layout.Snaps())
	return nil
}

// bench runs seed-and-clone rounds against one project.
type bench struct {
	layout layout.Layout
	pgctl  *engine.PgCtl
	cloner lifecycle.Cloner
	cfg    benchConfig
	out    io.Writer
	now    func() time.Time
}

func (b *bench) run(ctx context.Context, ds dataset) (result benchResult, err error) {
	current := b.layout.Current()
	fmt.Fprintln(b.out)
	fmt.Fprintf(b.out, "Dataset: %s (%s rows, %d bytes/row, ~%s)\n", ds.Label,
		humanize.Comma(int64(ds.Rows)), b.cfg.RowBytes, humanize.Bytes(uint64(ds.Rows)*uint64(b.cfg.RowBytes)))

	fmt.Fprintln(b.out, "Start Postgres")
	if err := b.pgctl.Start(ctx, current); err != nil {
		return result, err
	}
	running := true
	defer func() {
		if running {
			if serr := b.pgctl.Stop(context.WithoutCancel(ctx), current, engine.StopFast); serr != nil {
				log.Warnf("[Bench] stop after failure: %v", serr)
			}
		}
	}()

	fmt.Fprintln(b.out, "Seed table")
	seedStart := time.Now()
	if err := b.seed(ctx, ds.Rows); err != nil {
		return result, err
	}
	result.Seed = time.Since(seedStart)
	fmt.Fprintf(b.out, "Seed time: %s\n", formatMs(result.Seed))

	fmt.Fprintln(b.out, "Stop Postgres before clone")
	if err := b.pgctl.Stop(ctx, current, engine.StopFast); err != nil {
		return result, err
	}
	running = false

	name := fmt.Sprintf("bench_%s_%s", ds.Label, layout.Timestamp(b.now()))
	if err := layout.ValidateName(name); err != nil {
		return result, err
	}
	dst := b.layout.SnapshotPath(name)
	if _, err := os.Lstat(dst); err == nil {
		return result, fmt.Errorf("snapshot %s already exists", name)
	}
	fmt.Fprintf(b.out, "Clone snapshot: %s\n", name)
	cres, err := b.cloner.Clone(ctx, current, dst)
	if err != nil {
		return result, err
	}
	result.Snapshot, result.Strategy, result.Clone = name, cres.Strategy, cres.Duration
	fmt.Fprintf(b.out, "Clone time: %s (%s)\n", formatMs(result.Clone), result.Strategy)
	return result, nil
}

func (b *bench) seed(ctx context.Context, rows int) error {
	conn := engine.ConnInfo{
		Host:     engine.DefaultHost,
		Port:     b.cfg.Port,
		User:     b.cfg.User,
		Password: engine.DefaultPassword,
		Database: engine.DefaultDatabase,
	}
	db, err := engine.Open(conn.URL())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := engine.WaitReady(ctx, db, 30*time.Second); err != nil {
		return err
	}

	stmts := []struct {
		query string
		args  []interface{}
	}{
		{"DROP TABLE IF EXISTS bench_data", nil},
		{"CREATE TABLE bench_data (id bigserial PRIMARY KEY, payload text)", nil},
		{"INSERT INTO bench_data (payload) SELECT repeat('x', $1) FROM generate_series(1, $2)", []interface{}{b.cfg.RowBytes, rows}},
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("seed failed (%s): %w", s.query, err)
		}
	}
	return nil
}

func formatMs(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}
