package clone

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pghere/internal/common"
)

// writeTree creates a small data-directory-like tree under root.
func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "base", "1"), 0o700))
	require.NoError(t, os.Chmod(root, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "PG_VERSION"), []byte("16\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "base", "1", "1259"), []byte("relation data"), 0o600))
	require.NoError(t, os.Symlink("base/1", filepath.Join(root, "link")))
}

func failing(name string, calls *int) Strategy {
	return StrategyFunc(name, func(ctx context.Context, src, dst string) error {
		*calls++
		return errors.New(name + " unsupported")
	})
}

func TestFirstSuccess(t *testing.T) {
	var aCalls, bCalls, resets int
	b := StrategyFunc("b", func(ctx context.Context, src, dst string) error {
		bCalls++
		return nil
	})

	name, err := FirstSuccess(context.Background(), []Strategy{failing("a", &aCalls), b, failing("c", new(int))}, "/src", "/dst", func() error {
		resets++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "b", name)
	assert.Equal(t, 1, aCalls)
	assert.Equal(t, 1, bCalls)
	assert.Equal(t, 1, resets, "reset runs once per failed attempt")
}

func TestFirstSuccessAllFail(t *testing.T) {
	exit3 := CommandStrategy("tool-a", "sh", func(src, dst string) []string {
		return []string{"-c", "exit 3"}
	})
	exit1 := CommandStrategy("tool-b", "sh", func(src, dst string) []string {
		return []string{"-c", "echo nope >&2; exit 1"}
	})

	_, err := FirstSuccess(context.Background(), []Strategy{exit3, exit1}, "/src", "/dst", nil)

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	require.Len(t, cerr.Attempts, 2)
	assert.Equal(t, 3, cerr.Attempts[0].ExitCode)
	assert.Equal(t, 1, cerr.Attempts[1].ExitCode)
	assert.Equal(t, "clone failed (tool-a exit 3, tool-b exit 1)", err.Error())
	assert.Equal(t, common.ExitClone, common.ExitCode(err))
}

func TestFirstSuccessMissingTool(t *testing.T) {
	missing := CommandStrategy("ghost", filepath.Join(t.TempDir(), "no-such-tool"), func(src, dst string) []string {
		return nil
	})

	_, err := FirstSuccess(context.Background(), []Strategy{missing}, "/src", "/dst", nil)

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, -1, cerr.Attempts[0].ExitCode)
	assert.Contains(t, err.Error(), "ghost:")
}

func TestFirstSuccessNoStrategies(t *testing.T) {
	_, err := FirstSuccess(context.Background(), nil, "/src", "/dst", nil)
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, err.Error(), "no clone strategy available")
}

func TestFirstSuccessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int
	_, err := FirstSuccess(ctx, []Strategy{failing("a", &calls)}, "/src", "/dst", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestEngineCloneCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "instances", "inst_active")
	writeTree(t, src)
	current := filepath.Join(dir, "current")
	require.NoError(t, os.Symlink(src, current))
	dst := filepath.Join(dir, "snaps", "snap_1")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))

	res, err := NewWithStrategies(CopyStrategy()).Clone(context.Background(), current, dst)
	require.NoError(t, err)
	assert.Equal(t, "copy", res.Strategy)

	wantSrc, err := filepath.EvalSymlinks(src)
	require.NoError(t, err)
	assert.Equal(t, wantSrc, res.Source, "symlinked source must be resolved")

	info, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "destination must be a real directory, not a link")
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	data, err := os.ReadFile(filepath.Join(dst, "base", "1", "1259"))
	require.NoError(t, err)
	assert.Equal(t, "relation data", string(data))

	link, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "base/1", link)

	fileInfo, err := os.Stat(filepath.Join(dst, "PG_VERSION"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fileInfo.Mode().Perm())
}

func TestEngineCloneIsIndependent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "snap")
	writeTree(t, src)
	engine := NewWithStrategies(CopyStrategy())

	first := filepath.Join(dir, "inst_1")
	second := filepath.Join(dir, "inst_2")
	_, err := engine.Clone(context.Background(), src, first)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first, "base", "1", "1259"), []byte("mutated"), 0o600))

	_, err = engine.Clone(context.Background(), src, second)
	require.NoError(t, err)

	orig, err := os.ReadFile(filepath.Join(src, "base", "1", "1259"))
	require.NoError(t, err)
	assert.Equal(t, "relation data", string(orig), "writing a clone must not touch its source")

	again, err := os.ReadFile(filepath.Join(second, "base", "1", "1259"))
	require.NoError(t, err)
	assert.Equal(t, "relation data", string(again))
}

func TestEngineCleansPartialDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeTree(t, src)
	dst := filepath.Join(dir, "dst")

	partial := StrategyFunc("partial", func(ctx context.Context, src, dst string) error {
		if err := os.Mkdir(dst, 0o700); err != nil {
			return err
		}
		return errors.New("ran out of space")
	})

	res, err := NewWithStrategies(partial, CopyStrategy()).Clone(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, "copy", res.Strategy)
}

func TestEngineKeepsPreexistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeTree(t, src)
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.Mkdir(dst, 0o755))
	marker := filepath.Join(dst, "keep")
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	var calls int
	_, err := NewWithStrategies(failing("a", &calls)).Clone(context.Background(), src, dst)
	require.Error(t, err)

	_, statErr := os.Stat(marker)
	assert.NoError(t, statErr, "a destination that existed before the call is never removed")
}

func TestEngineMissingSource(t *testing.T) {
	_, err := NewWithStrategies(CopyStrategy()).Clone(context.Background(), filepath.Join(t.TempDir(), "nope"), "/tmp/x")
	assert.Error(t, err)
}

func TestNewStrategyList(t *testing.T) {
	plain := New(Options{})
	withCopy := New(Options{AllowCopy: true})

	assert.NotContains(t, plain.Strategies(), "copy", "a byte copy is never selected implicitly")
	names := withCopy.Strategies()
	require.NotEmpty(t, names)
	assert.Equal(t, "copy", names[len(names)-1])
}
