package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"pghere/internal/util"
)

// Connection defaults shared by the embedded server and pg_ctl clusters.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 55432
	DefaultUsername = "postgres"
	DefaultPassword = "postgres"
	DefaultDatabase = "postgres"
)

// ConnInfo describes how to reach a server.
type ConnInfo struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// URL renders c as a postgresql:// connection string. TLS is disabled since
// the server only listens locally.
func (c ConnInfo) URL() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	db := c.Database
	if db == "" {
		db = DefaultDatabase
	}
	u := url.URL{
		Scheme:   "postgresql",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	switch {
	case c.User != "" && c.Password != "":
		u.User = url.UserPassword(c.User, c.Password)
	case c.User != "":
		u.User = url.User(c.User)
	}
	return u.String()
}

// WithDatabase returns connString with its database replaced by db.
func WithDatabase(connString, db string) (string, error) {
	u, err := url.Parse(connString)
	if err != nil {
		return "", fmt.Errorf("invalid connection string: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("invalid connection string: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/" + db
	u.RawPath = ""
	return u.String(), nil
}

// Open returns a lib/pq handle. No connection is made until first use.
func Open(connString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", redact(connString), err)
	}
	return db, nil
}

// WaitReady pings db until it answers or timeout elapses. Only errors that
// look like a server still starting are retried.
func WaitReady(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	err := util.Retry(ctx, func() error {
		return db.PingContext(ctx)
	}, util.ReadinessRetryOptions(ctx, timeout)...)
	if err != nil {
		return fmt.Errorf("server not ready: %w", err)
	}
	return nil
}

// DatabaseExists reports whether a database called name exists.
func DatabaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up database %s: %w", name, err)
	}
	return true, nil
}

// CreateDatabase creates database name. It fails if it already exists.
func CreateDatabase(ctx context.Context, db *sql.DB, name string) error {
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	log.Infof("[Engine] created database %s", name)
	return nil
}

// EnsureDatabase creates name unless it exists or is the default database.
// It reports whether a database was created.
func EnsureDatabase(ctx context.Context, db *sql.DB, name string) (bool, error) {
	if name == "" || name == DefaultDatabase {
		return false, nil
	}
	exists, err := DatabaseExists(ctx, db, name)
	if err != nil || exists {
		return false, err
	}
	if err := CreateDatabase(ctx, db, name); err != nil {
		// duplicate_database: another client created it first.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func redact(connString string) string {
	u, err := url.Parse(connString)
	if err != nil || u.User == nil {
		return connString
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return strings.Replace(u.String(), "xxxxx", "***", 1)
}
