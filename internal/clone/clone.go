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

// Package clone copies a directory tree using the cheapest mechanism the
// host filesystem supports.
//
// Strategies are tried in order and the first one that succeeds wins. On
// copy-on-write filesystems the platform strategies are metadata-only and
// finish in roughly constant time regardless of data size. A plain byte copy
// is available but is never selected unless explicitly enabled.
package clone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"pghere/internal/common"
)

// Strategy is one way of producing dst as an independent copy of src.
// src is always a real directory path; dst does not exist yet.
type Strategy interface {
	Name() string
	Clone(ctx context.Context, src, dst string) error
}

// Attempt records the outcome of one failed strategy.
type Attempt struct {
	Strategy string
	ExitCode int // tool exit status, -1 when the strategy is not an external tool or never ran
	Err      error
}

func (a Attempt) String() string {
	if a.ExitCode >= 0 {
		return fmt.Sprintf("%s exit %d", a.Strategy, a.ExitCode)
	}
	return fmt.Sprintf("%s: %v", a.Strategy, a.Err)
}

// Error is returned when every strategy failed. The destination may exist in
// a partial state and must not be used.
type Error struct {
	Source      string
	Destination string
	Attempts    []Attempt
}

func (e *Error) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("clone failed: no clone strategy available on this platform (%s -> %s)", e.Source, e.Destination)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("clone failed (%s)", strings.Join(parts, ", "))
}

// ExitCode implements common.ExitCoder.
func (e *Error) ExitCode() int { return common.ExitClone }

// Result describes a successful clone.
type Result struct {
	Strategy string
	Source   string // resolved source
	Duration time.Duration
}

// FirstSuccess runs strategies in order until one succeeds and returns its
// name. reset, if non-nil, runs after each failed attempt before the next one.
func FirstSuccess(ctx context.Context, strategies []Strategy, src, dst string, reset func() error) (string, error) {
	cerr := &Error{Source: src, Destination: dst}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := s.Clone(ctx, src, dst)
		if err == nil {
			return s.Name(), nil
		}
		log.WithFields(log.Fields{"strategy": s.Name(), "src": src, "dst": dst}).Debugf("[Clone] attempt failed: %v", err)
		cerr.Attempts = append(cerr.Attempts, Attempt{Strategy: s.Name(), ExitCode: exitCodeOf(err), Err: err})
		if reset != nil {
			if rerr := reset(); rerr != nil {
				log.Warnf("[Clone] failed to clean partial destination %s: %v", dst, rerr)
			}
		}
	}
	return "", cerr
}

// Options selects the strategy list built by New.
type Options struct {
	// AllowCopy appends a plain recursive byte copy as the last resort.
	AllowCopy bool
}

// Engine clones directory trees with an ordered strategy list.
type Engine struct {
	strategies []Strategy
}

// New returns an engine with the platform strategies.
func New(opts Options) *Engine {
	strategies := platformStrategies()
	if opts.AllowCopy {
		strategies = append(strategies, CopyStrategy())
	}
	return &Engine{strategies: strategies}
}

// NewWithStrategies returns an engine using exactly the given strategies.
func NewWithStrategies(strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies}
}

// Strategies returns the strategy names in the order they are tried.
func (e *Engine) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Clone copies src to dst. A symlinked src is resolved first so the physical
// data directory is copied, never the link. The caller must make sure dst
// does not exist; Clone does not check. If dst did not exist beforehand, a
// partial result left by a failed strategy is removed before the next one.
func (e *Engine) Clone(ctx context.Context, src, dst string) (Result, error) {
	start := time.Now()
	source, err := resolveSource(src)
	if err != nil {
		return Result{}, err
	}

	_, statErr := os.Lstat(dst)
	preexisting := statErr == nil
	reset := func() error {
		if preexisting {
			return nil
		}
		return os.RemoveAll(dst)
	}

	log.WithFields(log.Fields{"src": source, "dst": dst, "strategies": e.Strategies()}).Debug("[Clone] starting")
	name, err := FirstSuccess(ctx, e.strategies, source, dst, reset)
	if err != nil {
		return Result{Source: source}, err
	}
	res := Result{Strategy: name, Source: source, Duration: time.Since(start)}
	log.WithFields(log.Fields{"strategy": name, "dst": dst, "duration": res.Duration}).Info("[Clone] done")
	return res, nil
}

func resolveSource(src string) (string, error) {
	info, err := os.Lstat(src)
	if err != nil {
		return "", fmt.Errorf("clone source: %w", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return src, nil
	}
	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return "", fmt.Errorf("failed to resolve clone source %s: %w", src, err)
	}
	return resolved, nil
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// commandStrategy runs an external clone tool.
type commandStrategy struct {
	name string
	bin  string
	args func(src, dst string) []string
}

func (c commandStrategy) Name() string { return c.name }

func (c commandStrategy) Clone(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, c.bin, c.args(src, dst)...)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		log.Debugf("[Clone] %s: %s", c.name, strings.TrimSpace(string(out)))
	}
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return &toolError{err: err, output: msg}
		}
		return err
	}
	return nil
}

// toolError keeps the tool's exit status reachable through errors.As.
type toolError struct {
	err    error
	output string
}

func (e *toolError) Error() string { return e.err.Error() + ": " + e.output }
func (e *toolError) Unwrap() error { return e.err }

// CommandStrategy builds a strategy that runs bin with args(src, dst).
func CommandStrategy(name, bin string, args func(src, dst string) []string) Strategy {
	return commandStrategy{name: name, bin: bin, args: args}
}

// funcStrategy adapts a Go function to Strategy.
type funcStrategy struct {
	name string
	fn   func(ctx context.Context, src, dst string) error
}

func (f funcStrategy) Name() string { return f.name }

func (f funcStrategy) Clone(ctx context.Context, src, dst string) error { return f.fn(ctx, src, dst) }

// StrategyFunc wraps fn as a Strategy called name.
func StrategyFunc(name string, fn func(ctx context.Context, src, dst string) error) Strategy {
	return funcStrategy{name: name, fn: fn}
}
