package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installVersion(t *testing.T, root, version string, withPgCtl bool) string {
	t.Helper()
	binDir := filepath.Join(BinRoot(root), version, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	path := filepath.Join(binDir, "pg_ctl")
	if withPgCtl {
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	}
	return path
}

func TestInstalledVersions(t *testing.T) {
	root := t.TempDir()
	for _, v := range []string{"9.6", "16.2.0", "16.10.0", "15.4", "latest"} {
		installVersion(t, root, v, true)
	}

	assert.Equal(t, []string{"16.10.0", "16.2.0", "15.4", "9.6"}, InstalledVersions(BinRoot(root)))
	assert.Nil(t, InstalledVersions(filepath.Join(root, "missing")))
}

func TestResolvePgCtl(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvPgCtl, "")

	installVersion(t, root, "16.10.0", false)
	want := installVersion(t, root, "16.2.0", true)
	installVersion(t, root, "15.4", true)

	assert.Equal(t, want, ResolvePgCtl("", root), "newest version that has a pg_ctl")

	t.Setenv(EnvPgCtl, "/opt/pg/bin/pg_ctl")
	assert.Equal(t, "/opt/pg/bin/pg_ctl", ResolvePgCtl("", root))
	assert.Equal(t, "/custom/pg_ctl", ResolvePgCtl("/custom/pg_ctl", root), "explicit override wins")
}

func TestResolvePgCtlFallsBackToPath(t *testing.T) {
	t.Setenv(EnvPgCtl, "")
	t.Setenv("PATH", t.TempDir())
	assert.Equal(t, "pg_ctl", ResolvePgCtl("", t.TempDir()))
}
