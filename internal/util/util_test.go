package util

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDatabaseLocked(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	}, DatabaseRetryOptions(ctx)...)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, func() error {
		calls++
		return errors.New("no such table: operations")
	}, DatabaseRetryOptions(ctx)...)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResult(t *testing.T) {
	ctx := context.Background()
	calls := 0
	got, err := RetryWithResult(ctx, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("dial tcp 127.0.0.1:55432: %w", syscall.ECONNREFUSED)
		}
		return 42, nil
	}, ReadinessRetryOptions(ctx, time.Second)...)

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestIsServerStarting(t *testing.T) {
	assert.False(t, IsServerStarting(nil))
	assert.True(t, IsServerStarting(syscall.ECONNREFUSED))
	assert.True(t, IsServerStarting(errors.New("pq: the database system is starting up")))
	assert.False(t, IsServerStarting(errors.New("pq: password authentication failed")))
}

func TestIsDatabaseLocked(t *testing.T) {
	assert.False(t, IsDatabaseLocked(nil))
	assert.True(t, IsDatabaseLocked(errors.New("SQLITE_BUSY: database is locked")))
	assert.False(t, IsDatabaseLocked(errors.New("disk I/O error")))
}

func TestPollUntil(t *testing.T) {
	n := 0
	err := PollUntil(context.Background(), PollConfig{Timeout: time.Second, Interval: 5 * time.Millisecond}, func() bool {
		n++
		return n >= 3
	})
	require.NoError(t, err)

	err = PollUntil(context.Background(), PollConfig{Timeout: 20 * time.Millisecond, Interval: 5 * time.Millisecond}, func() bool {
		return false
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, IsProcessRunning(os.Getpid()))
	assert.False(t, IsProcessRunning(0))
	assert.False(t, IsProcessRunning(-1))
}
