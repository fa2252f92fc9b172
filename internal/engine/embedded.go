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

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	log "github.com/sirupsen/logrus"
)

// EnvVersion selects the PostgreSQL version of the embedded server.
const EnvVersion = "PG_VERSION"

// DefaultVersion is used when no version is requested.
const DefaultVersion = embeddedpostgres.V16

var fullVersionRe = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)

var majorVersions = map[string]embeddedpostgres.PostgresVersion{
	"16": embeddedpostgres.V16,
	"15": embeddedpostgres.V15,
	"14": embeddedpostgres.V14,
}

// ParseVersion accepts "", a major version ("16") or a full version
// ("16.4.0").
func ParseVersion(s string) (embeddedpostgres.PostgresVersion, error) {
	if s == "" {
		return DefaultVersion, nil
	}
	if v, ok := majorVersions[s]; ok {
		return v, nil
	}
	if fullVersionRe.MatchString(s) {
		return embeddedpostgres.PostgresVersion(s), nil
	}
	return "", fmt.Errorf("invalid PostgreSQL version %q (want e.g. 16 or 16.4.0)", s)
}

// Options configures StartServer. Zero values select the defaults.
type Options struct {
	// Root is the project directory; defaults to the working directory.
	Root string
	// DataDir defaults to Root/pg_local/data.
	DataDir string
	// BinariesDir defaults to Root/pg_local/bin/<version>.
	BinariesDir string
	Version     string
	Port        int
	Username    string
	Password    string
	// Database is created after start unless it is "postgres" or
	// CreateDatabaseIfMissing is explicitly false.
	Database                string
	CreateDatabaseIfMissing *bool
	// CleanupOnStop removes DataDir when the server is stopped.
	CleanupOnStop bool
	StartTimeout  time.Duration
}

func (o Options) withDefaults() (Options, error) {
	if o.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return o, err
		}
		o.Root = wd
	}
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return o, err
	}
	o.Root = root

	v, err := ParseVersion(o.Version)
	if err != nil {
		return o, err
	}
	o.Version = string(v)

	if o.DataDir == "" {
		o.DataDir = filepath.Join(o.Root, LocalDir, "data")
	}
	if o.BinariesDir == "" {
		o.BinariesDir = filepath.Join(BinRoot(o.Root), o.Version)
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Username == "" {
		o.Username = DefaultUsername
	}
	if o.Password == "" {
		o.Password = DefaultPassword
	}
	if o.Database == "" {
		o.Database = DefaultDatabase
	}
	if o.StartTimeout == 0 {
		o.StartTimeout = 60 * time.Second
	}
	return o, nil
}

func (o Options) shouldCreateDatabase() bool {
	if o.CreateDatabaseIfMissing != nil {
		return *o.CreateDatabaseIfMissing
	}
	return o.Database != DefaultDatabase
}

// StopOptions controls Handle.Stop.
type StopOptions struct {
	// Cleanup removes the data directory after stopping. When nil the
	// server's CleanupOnStop option decides.
	Cleanup *bool
}

// Handle is a running embedded server.
type Handle struct {
	opts    Options
	pg      *embeddedpostgres.EmbeddedPostgres
	logw    *io.PipeWriter
	banner  string
	mu      sync.Mutex
	stopped bool
}

// StartServer starts an embedded PostgreSQL for a project. Existing data in
// DataDir is reused. Binaries are fetched into BinariesDir on first use.
func StartServer(ctx context.Context, opts Options) (*Handle, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := inspectLocal(opts.Root, opts.DataDir)
	log.WithFields(log.Fields{
		"data":    opts.DataDir,
		"version": opts.Version,
		"port":    opts.Port,
	}).Info("[Engine] starting embedded server")

	h := &Handle{opts: opts, logw: log.StandardLogger().WriterLevel(log.DebugLevel)}
	start := func() error {
		h.pg = embeddedpostgres.NewDatabase(h.config())
		return h.pg.Start()
	}
	if err := start(); err != nil {
		if !NeedsLibxml2Compat(err) {
			h.logw.Close()
			return nil, startError(err)
		}
		patched, perr := EnsureLibxml2Compat(opts.Root)
		if perr != nil || !patched {
			h.logw.Close()
			return nil, startError(err)
		}
		log.Info("[Engine] retrying start with libxml2 compatibility link")
		if err := start(); err != nil {
			h.logw.Close()
			return nil, startError(err)
		}
	}
	h.banner = startupLine(state, opts.Version)

	if opts.shouldCreateDatabase() {
		if _, err := h.EnsureDatabase(ctx, opts.Database); err != nil {
			_ = h.Stop(ctx, StopOptions{})
			return nil, err
		}
	}
	return h, nil
}

func (h *Handle) config() embeddedpostgres.Config {
	return embeddedpostgres.DefaultConfig().
		Version(embeddedpostgres.PostgresVersion(h.opts.Version)).
		Port(uint32(h.opts.Port)).
		Username(h.opts.Username).
		Password(h.opts.Password).
		Database(DefaultDatabase).
		DataPath(h.opts.DataDir).
		RuntimePath(filepath.Join(h.opts.Root, LocalDir, "runtime")).
		BinariesPath(h.opts.BinariesDir).
		StartTimeout(h.opts.StartTimeout).
		Logger(h.logw)
}

func startError(err error) error {
	return fmt.Errorf("failed to start embedded server: %w", err)
}

func (h *Handle) conn(db string) ConnInfo {
	return ConnInfo{
		Host:     DefaultHost,
		Port:     h.opts.Port,
		User:     h.opts.Username,
		Password: h.opts.Password,
		Database: db,
	}
}

// ConnectionString points at the default postgres database.
func (h *Handle) ConnectionString() string { return h.conn(DefaultDatabase).URL() }

// DatabaseConnectionString points at the requested database.
func (h *Handle) DatabaseConnectionString() string { return h.conn(h.opts.Database).URL() }

// Database is the requested database name.
func (h *Handle) Database() string { return h.opts.Database }

// Version is the PostgreSQL version being run.
func (h *Handle) Version() string { return h.opts.Version }

// DataDir is the server's data directory.
func (h *Handle) DataDir() string { return h.opts.DataDir }

// Banner is a one-line description of what was started.
func (h *Handle) Banner() string { return h.banner }

// EnsureDatabase creates name if missing. An empty name means the requested
// database.
func (h *Handle) EnsureDatabase(ctx context.Context, name string) (bool, error) {
	if name == "" {
		name = h.opts.Database
	}
	db, err := Open(h.ConnectionString())
	if err != nil {
		return false, err
	}
	defer db.Close()
	if err := WaitReady(ctx, db, 10*time.Second); err != nil {
		return false, err
	}
	return EnsureDatabase(ctx, db, name)
}

// Stop stops the server. It is safe to call more than once; later calls do
// nothing. Both the stop and the optional cleanup are attempted even if the
// first fails.
func (h *Handle) Stop(ctx context.Context, opts StopOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true

	var errs []error
	if err := h.pg.Stop(); err != nil {
		log.Warnf("[Engine] stop failed: %v", err)
		errs = append(errs, err)
	}
	h.logw.Close()

	cleanup := h.opts.CleanupOnStop
	if opts.Cleanup != nil {
		cleanup = *opts.Cleanup
	}
	if cleanup {
		if err := os.RemoveAll(h.opts.DataDir); err != nil {
			log.Warnf("[Engine] cleanup of %s failed: %v", h.opts.DataDir, err)
			errs = append(errs, err)
		}
	}
	log.Info("[Engine] embedded server stopped")
	return errors.Join(errs...)
}

// localState is what was on disk before the server started.
type localState struct {
	hasData          bool
	installedVersion string
}

func inspectLocal(root, dataDir string) localState {
	s := localState{}
	if _, err := os.Stat(filepath.Join(dataDir, "PG_VERSION")); err == nil {
		s.hasData = true
	}
	if versions := InstalledVersions(BinRoot(root)); len(versions) > 0 {
		s.installedVersion = versions[0]
	}
	return s
}

func startupLine(s localState, running string) string {
	if running == "" {
		running = "default"
	}
	dataPath := LocalDir + "/data/"
	switch {
	case !s.hasData:
		return fmt.Sprintf("Launching PostgreSQL %s into new %s/", running, LocalDir)
	case s.installedVersion != "" && s.installedVersion != running:
		return fmt.Sprintf("Reusing existing %s (%s/bin has %s, running PostgreSQL is %s)", dataPath, LocalDir, s.installedVersion, running)
	default:
		return fmt.Sprintf("Reusing existing %s with PostgreSQL %s", dataPath, running)
	}
}
