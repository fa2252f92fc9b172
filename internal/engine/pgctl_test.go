package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pghere/internal/common"
)

const fakePgCtl = `#!/bin/sh
echo "$@" >> "$PGCTL_ARGS"
if [ -n "$PGCTL_OUTPUT" ]; then echo "$PGCTL_OUTPUT"; fi
exit ${PGCTL_EXIT:-0}
`

// newFakePgCtl installs a shell script that records its arguments and exits
// with $PGCTL_EXIT.
func newFakePgCtl(t *testing.T) (*PgCtl, func() []string) {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "pg_ctl")
	require.NoError(t, os.WriteFile(bin, []byte(fakePgCtl), 0o755))
	argsFile := filepath.Join(dir, "args")
	t.Setenv("PGCTL_ARGS", argsFile)
	t.Setenv("PGCTL_EXIT", "0")
	t.Setenv("PGCTL_OUTPUT", "")

	calls := func() []string {
		data, err := os.ReadFile(argsFile)
		if os.IsNotExist(err) {
			return nil
		}
		require.NoError(t, err)
		return strings.Split(strings.TrimSpace(string(data)), "\n")
	}
	return &PgCtl{Path: bin}, calls
}

func TestPgCtlStop(t *testing.T) {
	p, calls := newFakePgCtl(t)

	require.NoError(t, p.Stop(context.Background(), "/proj/current", StopFast))
	require.NoError(t, p.Stop(context.Background(), "/proj/current", ""))

	assert.Equal(t, []string{
		"-D /proj/current stop -m fast -w",
		"-D /proj/current stop -m fast -w",
	}, calls())
}

func TestPgCtlStart(t *testing.T) {
	p, calls := newFakePgCtl(t)
	p.LogFile = "/proj/server.log"
	p.Port = 55433

	require.NoError(t, p.Start(context.Background(), "/proj/current"))
	assert.Equal(t, []string{"-D /proj/current -l /proj/server.log -w start -o -p 55433"}, calls())
}

func TestPgCtlFailure(t *testing.T) {
	p, _ := newFakePgCtl(t)
	t.Setenv("PGCTL_EXIT", "1")
	t.Setenv("PGCTL_OUTPUT", "pg_ctl: PID file does not exist")

	err := p.Stop(context.Background(), "/proj/current", StopFast)

	var eng *common.EngineError
	require.True(t, errors.As(err, &eng))
	assert.Equal(t, 1, eng.ExitCode)
	assert.Equal(t, "stop", eng.Action)
	assert.Contains(t, err.Error(), "PID file does not exist")
	assert.Equal(t, common.ExitEngine, common.ExitCode(err))
}

func TestPgCtlMissingBinary(t *testing.T) {
	p := &PgCtl{Path: filepath.Join(t.TempDir(), "pg_ctl")}
	err := p.Start(context.Background(), "/proj/current")

	var eng *common.EngineError
	require.True(t, errors.As(err, &eng))
	assert.Equal(t, -1, eng.ExitCode)
}

func TestPgCtlRunning(t *testing.T) {
	p, _ := newFakePgCtl(t)

	tests := []struct {
		exit    int
		running bool
		wantErr bool
	}{
		{0, true, false},
		{3, false, false},
		{4, false, false},
		{1, false, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("exit %d", tt.exit), func(t *testing.T) {
			t.Setenv("PGCTL_EXIT", fmt.Sprint(tt.exit))
			running, err := p.Running(context.Background(), "/proj/current")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.running, running)
		})
	}
}

func TestPgCtlInitDB(t *testing.T) {
	p, calls := newFakePgCtl(t)
	require.NoError(t, p.InitDB(context.Background(), "/proj/instances/inst_active", ""))
	assert.Equal(t, []string{"initdb -D /proj/instances/inst_active -o --username=postgres --auth=trust --encoding=UTF8"}, calls())
}

func TestParseStopMode(t *testing.T) {
	for in, want := range map[string]StopMode{"": StopFast, "fast": StopFast, "smart": StopSmart, "immediate": StopImmediate} {
		got, err := ParseStopMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStopMode("abrupt")
	assert.Error(t, err)
}

func TestPostmasterPID(t *testing.T) {
	dir := t.TempDir()

	pid, err := PostmasterPID(dir)
	require.NoError(t, err)
	assert.Zero(t, pid)
	assert.False(t, PostmasterAlive(dir))

	pidFile := filepath.Join(dir, "postmaster.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n%s\n1736430612\n55432\n", os.Getpid(), dir)), 0o600))
	pid, err = PostmasterPID(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, PostmasterAlive(dir))

	require.NoError(t, os.WriteFile(pidFile, []byte("garbage\n"), 0o600))
	_, err = PostmasterPID(dir)
	assert.Error(t, err)
}
