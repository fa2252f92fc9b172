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

package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrNotDir      = errors.New("not a directory")
	ErrNotSymlink  = errors.New("not a symlink")
	ErrInvalidName = errors.New("invalid name")
	ErrLocked      = errors.New("another operation is in progress")
)

// Process exit codes, one per error kind.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitPrecondition = 2
	ExitEngine       = 3
	ExitClone        = 4
	ExitInvariant    = 5
)

// UsageError reports a malformed command line.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// PreconditionError is returned before any mutating action was taken.
// Retrying after fixing the condition is safe.
type PreconditionError struct {
	Reason string
	Path   string
	Err    error
}

func (e *PreconditionError) Error() string {
	msg := e.Reason
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// InvariantError means the current pointer exists but is not a symlink.
// It is never remediated automatically.
type InvariantError struct {
	Path string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("refusing to replace non-symlink current at %s", e.Path)
}

func (e *InvariantError) Unwrap() error { return ErrNotSymlink }

// EngineError is a failed pg_ctl (or embedded server) invocation.
// ExitCode is the control binary's own exit status, -1 if it never ran.
type EngineError struct {
	Action   string
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "engine %s failed", e.Action)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Command != "" {
		fmt.Fprintf(&b, ": %s", e.Command)
	}
	if e.Err != nil && e.ExitCode < 0 {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := lastLine(e.Output); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

// ExitCoder is implemented by errors that pick their own exit status.
type ExitCoder interface {
	ExitCode() int
}

// ExitCode maps an error returned by a command to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var usage *UsageError
	var pre *PreconditionError
	var inv *InvariantError
	var eng *EngineError
	var coder ExitCoder
	switch {
	case errors.As(err, &inv):
		return ExitInvariant
	case errors.As(err, &pre):
		return ExitPrecondition
	case errors.As(err, &eng):
		return ExitEngine
	case errors.As(err, &coder):
		return coder.ExitCode()
	case errors.As(err, &usage):
		return ExitFailure
	}
	return ExitFailure
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
