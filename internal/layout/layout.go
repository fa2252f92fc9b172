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

// Package layout owns the on-disk structure of a project directory:
//
//	<project>/
//	  instances/        one cluster data directory per generation
//	  snaps/            one directory per snapshot
//	  current           symlink to exactly one entry under instances/
//
// The filesystem is the only source of truth. Nothing here caches a listing.
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pghere/internal/common"
)

// Fixed names inside a project directory.
const (
	InstancesDir   = "instances"
	SnapsDir       = "snaps"
	CurrentLink    = "current"
	ActiveInstance = "inst_active"
	LockFile       = ".pghere.lock"
	HistoryFile    = "history.db"
	ServerLogFile  = "server.log"
)

// Layout derives every path of one project. All methods are pure except
// Ensure and the List functions.
type Layout struct {
	Root string
}

// New returns the layout rooted at projectDir, made absolute.
func New(projectDir string) (Layout, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve project dir: %w", err)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) Instances() string      { return filepath.Join(l.Root, InstancesDir) }
func (l Layout) Snaps() string          { return filepath.Join(l.Root, SnapsDir) }
func (l Layout) Current() string        { return filepath.Join(l.Root, CurrentLink) }
func (l Layout) ActiveInstance() string { return l.InstancePath(ActiveInstance) }
func (l Layout) LockPath() string       { return filepath.Join(l.Root, LockFile) }
func (l Layout) HistoryPath() string    { return filepath.Join(l.Root, HistoryFile) }
func (l Layout) ServerLogPath() string  { return filepath.Join(l.Root, ServerLogFile) }

// SnapshotPath returns snaps/<name>. The name is not validated.
func (l Layout) SnapshotPath(name string) string {
	return filepath.Join(l.Snaps(), name)
}

// InstancePath returns instances/<name>. The name is not validated.
func (l Layout) InstancePath(name string) string {
	return filepath.Join(l.Instances(), name)
}

// Ensure creates instances/ and snaps/ if absent. It is idempotent and fails
// if either path exists as something other than a directory.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Instances(), l.Snaps()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ListSnapshots returns the snapshot directory names under snaps/, ascending.
// The fixed-width timestamp makes this chronological order.
func (l Layout) ListSnapshots() ([]string, error) {
	return listDirs(l.Snaps(), SnapshotPrefix)
}

// ListInstances returns the instance directory names under instances/, ascending.
func (l Layout) ListInstances() ([]string, error) {
	return listDirs(l.Instances(), InstancePrefix)
}

func listDirs(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ValidateName rejects names that would escape their parent directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return &common.PreconditionError{Reason: fmt.Sprintf("invalid snapshot name %q", name), Err: common.ErrInvalidName}
	}
	return nil
}

// RequireDir checks that path exists and is a directory, without following
// a final symlink.
func RequireDir(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &common.PreconditionError{Reason: "not found", Path: path, Err: common.ErrNotFound}
		}
		return err
	}
	if !info.IsDir() {
		return &common.PreconditionError{Reason: "not a directory", Path: path, Err: common.ErrNotDir}
	}
	return nil
}
