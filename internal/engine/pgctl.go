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

// Package engine controls the PostgreSQL server for a project: pg_ctl for
// cluster data directories managed by the lifecycle, and an embedded server
// for the plain "start a database here" workflow.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"pghere/internal/common"
	"pghere/internal/util"
)

// StopMode is a pg_ctl shutdown mode.
type StopMode string

const (
	StopSmart     StopMode = "smart"
	StopFast      StopMode = "fast"
	StopImmediate StopMode = "immediate"
)

// ParseStopMode validates a shutdown mode name. An empty string means fast.
func ParseStopMode(s string) (StopMode, error) {
	switch StopMode(s) {
	case "":
		return StopFast, nil
	case StopSmart, StopFast, StopImmediate:
		return StopMode(s), nil
	}
	return "", fmt.Errorf("invalid stop mode %q (want smart, fast or immediate)", s)
}

// pg_ctl status exit codes.
const (
	statusRunning    = 0
	statusNotRunning = 3
	statusNoDataDir  = 4
)

// PgCtl drives a cluster through the pg_ctl binary. Every call blocks until
// pg_ctl reports the operation complete (-w).
type PgCtl struct {
	// Path to pg_ctl; see ResolvePgCtl.
	Path string
	// Port, when non-zero, is passed to the server on start.
	Port int
	// LogFile receives server output on start. Without it the server would
	// inherit pg_ctl's stdout and keep the pipe open.
	LogFile string
}

// Stop shuts the server down and waits until the data directory is released.
func (p *PgCtl) Stop(ctx context.Context, dataDir string, mode StopMode) error {
	if mode == "" {
		mode = StopFast
	}
	if _, err := p.run(ctx, "stop", "-D", dataDir, "stop", "-m", string(mode), "-w"); err != nil {
		return err
	}
	// The data directory is cloned next; make sure no postmaster still holds it.
	err := util.PollUntil(ctx, util.ShutdownPollConfig(), func() bool {
		return !PostmasterAlive(dataDir)
	})
	if err != nil {
		return &common.EngineError{Action: "stop", ExitCode: -1, Err: fmt.Errorf("postmaster still running in %s: %w", dataDir, err)}
	}
	return nil
}

// Start launches the server and waits until it accepts connections.
func (p *PgCtl) Start(ctx context.Context, dataDir string) error {
	args := []string{"-D", dataDir}
	if p.LogFile != "" {
		args = append(args, "-l", p.LogFile)
	}
	args = append(args, "-w", "start")
	if p.Port > 0 {
		args = append(args, "-o", fmt.Sprintf("-p %d", p.Port))
	}
	_, err := p.run(ctx, "start", args...)
	return err
}

// Running reports whether a server is running against dataDir.
func (p *PgCtl) Running(ctx context.Context, dataDir string) (bool, error) {
	_, err := p.run(ctx, "status", "-D", dataDir, "status")
	if err == nil {
		return true, nil
	}
	var eng *common.EngineError
	if errors.As(err, &eng) && (eng.ExitCode == statusNotRunning || eng.ExitCode == statusNoDataDir) {
		return false, nil
	}
	return false, err
}

// InitDB creates a new cluster in dataDir owned by the given superuser with
// trust authentication for local development.
func (p *PgCtl) InitDB(ctx context.Context, dataDir, user string) error {
	if user == "" {
		user = DefaultUsername
	}
	opts := fmt.Sprintf("--username=%s --auth=trust --encoding=UTF8", user)
	_, err := p.run(ctx, "initdb", "initdb", "-D", dataDir, "-o", opts)
	return err
}

func (p *PgCtl) run(ctx context.Context, action string, args ...string) (string, error) {
	bin := p.Path
	if bin == "" {
		bin = "pg_ctl"
	}
	cmdline := bin + " " + strings.Join(args, " ")
	log.WithField("action", action).Debugf("[Engine] %s", cmdline)

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), nil
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	log.WithFields(log.Fields{"action": action, "exit": code}).Debugf("[Engine] pg_ctl output: %s", strings.TrimSpace(string(out)))
	return string(out), &common.EngineError{
		Action:   action,
		Command:  cmdline,
		ExitCode: code,
		Output:   string(out),
		Err:      err,
	}
}

// PostmasterPID returns the pid recorded in dataDir/postmaster.pid, or 0
// when the file does not exist.
func PostmasterPID(dataDir string) (int, error) {
	f, err := os.Open(filepath.Join(dataDir, "postmaster.pid"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, sc.Err()
	}
	pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil {
		return 0, fmt.Errorf("malformed postmaster.pid in %s: %w", dataDir, err)
	}
	return pid, nil
}

// PostmasterAlive is a pg_ctl-free liveness check based on postmaster.pid.
// It can report a stale pid as alive if the pid was reused.
func PostmasterAlive(dataDir string) bool {
	pid, err := PostmasterPID(dataDir)
	if err != nil || pid == 0 {
		return false
	}
	return util.IsProcessRunning(pid)
}
