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

// Package lifecycle sequences snapshot and revert against the engine, the
// clone engine and the current pointer.
//
// The engine is always fully stopped before a clone starts, and current is
// only repointed at a directory the clone has finished populating. Every
// precondition is checked before the engine is touched.
package lifecycle

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"pghere/internal/clone"
	"pghere/internal/engine"
	"pghere/internal/layout"
	"pghere/internal/storage"
)

// Engine starts and stops the server running against a data directory.
// Both calls block until the server has fully stopped or is accepting
// connections.
type Engine interface {
	Stop(ctx context.Context, dataDir string, mode engine.StopMode) error
	Start(ctx context.Context, dataDir string) error
}

// Initializer creates a new cluster. Engines that implement it can bootstrap
// a project.
type Initializer interface {
	InitDB(ctx context.Context, dataDir, user string) error
}

// StatusChecker reports whether a server is running against dataDir.
type StatusChecker interface {
	Running(ctx context.Context, dataDir string) (bool, error)
}

// Cloner copies a data directory.
type Cloner interface {
	Clone(ctx context.Context, src, dst string) (clone.Result, error)
}

// Recorder journals operation outcomes.
type Recorder interface {
	Record(ctx context.Context, op storage.Operation) (int64, error)
}

// Operation names.
const (
	OpSnapshot = "snapshot"
	OpRevert   = "revert"
	OpInit     = "init"
)

// Orchestrator runs lifecycle operations on one project.
type Orchestrator struct {
	Layout   layout.Layout
	Engine   Engine
	Cloner   Cloner
	History  Recorder // optional
	StopMode engine.StopMode
	Now      func() time.Time
}

// New returns an orchestrator that stops the engine in fast mode.
func New(l layout.Layout, eng Engine, cloner Cloner) *Orchestrator {
	return &Orchestrator{
		Layout:   l,
		Engine:   eng,
		Cloner:   cloner,
		StopMode: engine.StopFast,
		Now:      time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) stopMode() engine.StopMode {
	if o.StopMode == "" {
		return engine.StopFast
	}
	return o.StopMode
}

// SnapshotResult describes a new snapshot.
type SnapshotResult struct {
	Name     string
	Path     string
	Strategy string
	Duration time.Duration
}

// Snapshot stops the engine, clones current's instance into a new snapshot
// and starts the engine again.
//
// A stop failure aborts before anything is cloned. A clone failure leaves the
// engine stopped. A start failure is reported together with the snapshot,
// which is complete.
func (o *Orchestrator) Snapshot(ctx context.Context) (res SnapshotResult, err error) {
	l := o.Layout
	started := o.now()
	var step Step
	defer func() {
		o.record(ctx, storage.Operation{
			Op:        OpSnapshot,
			Name:      res.Name,
			Strategy:  res.Strategy,
			StartedAt: started,
			Duration:  o.now().Sub(started),
		}, step, err)
	}()
	fail := func(s Step, e error) (SnapshotResult, error) {
		step = s
		return res, &StepError{Op: OpSnapshot, Step: s, Err: e}
	}

	lock, err := lockProject(l)
	if err != nil {
		return fail(StepLock, err)
	}
	defer lock.release()

	if err := layout.AssertSymlink(l.Current()); err != nil {
		return fail(StepCheck, err)
	}
	if err := l.Ensure(); err != nil {
		return fail(StepCheck, err)
	}
	name, err := l.NextSnapshotName(o.now())
	if err != nil {
		return fail(StepCheck, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(StepCheck, err)
	}

	log.WithField("snapshot", name).Info("[Lifecycle] stopping engine for snapshot")
	if err := o.Engine.Stop(ctx, l.Current(), o.stopMode()); err != nil {
		return fail(StepStop, err)
	}

	dst := l.SnapshotPath(name)
	cres, err := o.Cloner.Clone(ctx, l.Current(), dst)
	if err != nil {
		log.WithField("snapshot", name).Warn("[Lifecycle] clone failed, engine left stopped")
		return fail(StepClone, err)
	}
	res = SnapshotResult{Name: name, Path: dst, Strategy: cres.Strategy, Duration: cres.Duration}

	if err := o.Engine.Start(ctx, l.Current()); err != nil {
		return fail(StepStart, err)
	}
	log.WithFields(log.Fields{"snapshot": name, "strategy": cres.Strategy}).Info("[Lifecycle] snapshot created")
	return res, nil
}

// RevertResult describes the instance created by a revert.
type RevertResult struct {
	Instance string
	Path     string
	Snapshot string
	Previous string // current's target before the revert
	Strategy string
}

// Revert clones snapshot snapName into a new instance, points current at it
// and restarts the engine. The snapshot itself is never written to.
//
// A missing or invalid snapshot fails before the engine is touched. Failures
// after the stop leave the engine stopped; current only moves once the clone
// is complete.
func (o *Orchestrator) Revert(ctx context.Context, snapName string) (res RevertResult, err error) {
	l := o.Layout
	started := o.now()
	res.Snapshot = snapName
	var step Step
	defer func() {
		o.record(ctx, storage.Operation{
			Op:        OpRevert,
			Name:      res.Instance,
			Source:    snapName,
			Strategy:  res.Strategy,
			StartedAt: started,
			Duration:  o.now().Sub(started),
		}, step, err)
	}()
	fail := func(s Step, e error) (RevertResult, error) {
		step = s
		return res, &StepError{Op: OpRevert, Step: s, Err: e}
	}

	if err := layout.ValidateName(snapName); err != nil {
		return fail(StepCheck, err)
	}
	lock, err := lockProject(l)
	if err != nil {
		return fail(StepLock, err)
	}
	defer lock.release()

	if err := layout.AssertSymlink(l.Current()); err != nil {
		return fail(StepCheck, err)
	}
	snapPath := l.SnapshotPath(snapName)
	if err := layout.RequireDir(snapPath); err != nil {
		return fail(StepCheck, err)
	}
	if err := l.Ensure(); err != nil {
		return fail(StepCheck, err)
	}
	instance, err := l.NextInstanceName(o.now())
	if err != nil {
		return fail(StepCheck, err)
	}
	if prev, err := layout.Target(l.Current()); err == nil {
		res.Previous = prev
	}
	if err := ctx.Err(); err != nil {
		return fail(StepCheck, err)
	}

	log.WithFields(log.Fields{"snapshot": snapName, "instance": instance}).Info("[Lifecycle] stopping engine for revert")
	if err := o.Engine.Stop(ctx, l.Current(), o.stopMode()); err != nil {
		return fail(StepStop, err)
	}

	dst := l.InstancePath(instance)
	cres, err := o.Cloner.Clone(ctx, snapPath, dst)
	if err != nil {
		log.WithField("snapshot", snapName).Warn("[Lifecycle] clone failed, engine left stopped")
		return fail(StepClone, err)
	}
	res.Instance, res.Path, res.Strategy = instance, dst, cres.Strategy

	if err := layout.Repoint(l.Current(), dst); err != nil {
		return fail(StepRepoint, err)
	}

	if err := o.Engine.Start(ctx, l.Current()); err != nil {
		return fail(StepStart, err)
	}
	log.WithFields(log.Fields{"snapshot": snapName, "instance": instance}).Info("[Lifecycle] reverted")
	return res, nil
}

// List returns snapshot names in creation order. It never locks or touches
// the engine.
func (o *Orchestrator) List() ([]string, error) {
	return o.Layout.ListSnapshots()
}

// record journals an outcome. Journal failures are logged, never returned.
func (o *Orchestrator) record(ctx context.Context, op storage.Operation, step Step, err error) {
	if o.History == nil {
		return
	}
	op.Status = storage.StatusOK
	if err != nil {
		op.Status = storage.StatusFailed
		op.Step = step.String()
		op.Error = err.Error()
	}
	// Record even when ctx was cancelled mid-operation.
	if _, rerr := o.History.Record(context.WithoutCancel(ctx), op); rerr != nil {
		log.Warnf("[Lifecycle] failed to record %s: %v", op.Op, rerr)
	}
}
