package lifecycle

import (
	"context"
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"pghere/internal/clone"
	"pghere/internal/engine"
	"pghere/internal/layout"
)

const integrationPort = 55437

type row struct {
	ID   int
	Note string
}

func readRows(ctx context.Context, g Gomega, db *sql.DB) []row {
	rows, err := db.QueryContext(ctx, "SELECT id, note FROM t ORDER BY id")
	g.Expect(err).NotTo(HaveOccurred())
	defer rows.Close()
	var out []row
	for rows.Next() {
		var r row
		g.Expect(rows.Scan(&r.ID, &r.Note)).To(Succeed())
		out = append(out, r)
	}
	g.Expect(rows.Err()).NotTo(HaveOccurred())
	return out
}

func connect(ctx context.Context, g Gomega) *sql.DB {
	conn := engine.ConnInfo{
		Host:     engine.DefaultHost,
		Port:     integrationPort,
		User:     engine.DefaultUsername,
		Password: engine.DefaultPassword,
		Database: engine.DefaultDatabase,
	}
	db, err := engine.Open(conn.URL())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(engine.WaitReady(ctx, db, 30*time.Second)).To(Succeed())
	return db
}

// TestRoundTripWithPostgres runs the snapshot/revert scenario against a real
// cluster managed through pg_ctl.
func TestRoundTripWithPostgres(t *testing.T) {
	if os.Getenv("PGHERE_INTEGRATION") != "1" {
		t.Skip("set PGHERE_INTEGRATION=1 to run against a real PostgreSQL")
	}
	pgctl := engine.ResolvePgCtl("", "")
	if _, err := exec.LookPath(pgctl); err != nil {
		t.Skipf("pg_ctl not available: %v", err)
	}

	g := NewWithT(t)
	ctx := context.Background()
	l, err := layout.New(filepath.Join(t.TempDir(), "proj"))
	g.Expect(err).NotTo(HaveOccurred())

	eng := &engine.PgCtl{Path: pgctl, Port: integrationPort, LogFile: l.ServerLogPath()}
	o := New(l, eng, clone.New(clone.Options{AllowCopy: true}))
	t.Cleanup(func() {
		_ = eng.Stop(context.Background(), l.Current(), engine.StopImmediate)
	})

	_, err = o.Bootstrap(ctx, BootstrapOptions{User: engine.DefaultUsername, Start: true})
	g.Expect(err).NotTo(HaveOccurred())

	db := connect(ctx, g)
	_, err = db.ExecContext(ctx, "CREATE TABLE t (id int PRIMARY KEY, note text)")
	g.Expect(err).NotTo(HaveOccurred())
	_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (1, 'a'), (2, 'b')")
	g.Expect(err).NotTo(HaveOccurred())
	db.Close()

	snap, err := o.Snapshot(ctx)
	g.Expect(err).NotTo(HaveOccurred())

	db = connect(ctx, g)
	_, err = db.ExecContext(ctx, "DELETE FROM t WHERE id = 1")
	g.Expect(err).NotTo(HaveOccurred())
	_, err = db.ExecContext(ctx, "INSERT INTO t VALUES (3, 'c')")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(readRows(ctx, g, db)).To(Equal([]row{{2, "b"}, {3, "c"}}))
	db.Close()

	rev, err := o.Revert(ctx, snap.Name)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rev.Previous).To(Equal(l.ActiveInstance()))

	db = connect(ctx, g)
	defer db.Close()
	g.Expect(readRows(ctx, g, db)).To(Equal([]row{{1, "a"}, {2, "b"}}))

	names, err := o.List()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(names).To(ConsistOf(snap.Name))
}
