package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"pghere/internal/common"
	"pghere/internal/engine"
	"pghere/internal/layout"
	"pghere/internal/storage"
)

// BootstrapOptions controls Bootstrap.
type BootstrapOptions struct {
	// User is the cluster superuser for a new cluster.
	User string
	// Start starts the engine once current is in place.
	Start bool
}

// BootstrapResult reports what Bootstrap changed.
type BootstrapResult struct {
	Initialized bool // inst_active was created
	Linked      bool // current was created
	Started     bool
	Target      string
}

// Bootstrap prepares a project: the directory skeleton, a cluster in
// instances/inst_active when it is missing, and current pointing at it when
// current is missing. An existing current symlink is left alone, whatever it
// points at; an existing non-symlink current is an invariant violation.
func (o *Orchestrator) Bootstrap(ctx context.Context, opts BootstrapOptions) (res BootstrapResult, err error) {
	l := o.Layout
	started := o.now()
	var step Step
	defer func() {
		o.record(ctx, storage.Operation{
			Op:        OpInit,
			Name:      layout.ActiveInstance,
			StartedAt: started,
			Duration:  o.now().Sub(started),
		}, step, err)
	}()
	fail := func(s Step, e error) (BootstrapResult, error) {
		step = s
		return res, &StepError{Op: OpInit, Step: s, Err: e}
	}

	if err := l.Ensure(); err != nil {
		return fail(StepCheck, err)
	}
	lock, err := lockProject(l)
	if err != nil {
		return fail(StepLock, err)
	}
	defer lock.release()

	currentExists := true
	if err := layout.AssertSymlink(l.Current()); err != nil {
		var inv *common.InvariantError
		if errors.As(err, &inv) {
			return fail(StepCheck, err)
		}
		currentExists = false
	}

	active := l.ActiveInstance()
	if _, err := os.Lstat(active); os.IsNotExist(err) {
		initer, ok := o.Engine.(Initializer)
		if !ok {
			return fail(StepInit, fmt.Errorf("engine cannot initialize a cluster at %s", active))
		}
		log.WithField("dir", active).Info("[Lifecycle] initializing cluster")
		if err := initer.InitDB(ctx, active, opts.User); err != nil {
			return fail(StepInit, err)
		}
		res.Initialized = true
	} else if err != nil {
		return fail(StepCheck, err)
	}

	if !currentExists {
		if err := layout.Repoint(l.Current(), active); err != nil {
			return fail(StepRepoint, err)
		}
		res.Linked = true
	}
	if target, err := layout.Target(l.Current()); err == nil {
		res.Target = target
	}

	if opts.Start {
		running := false
		if sc, ok := o.Engine.(StatusChecker); ok {
			running, _ = sc.Running(ctx, l.Current())
		}
		if !running {
			if err := o.Engine.Start(ctx, l.Current()); err != nil {
				return fail(StepStart, err)
			}
			res.Started = true
		}
	}
	return res, nil
}

// Status is a read-only view of a project.
type Status struct {
	Root      string
	Current   string // target of current, empty if absent
	Instances []string
	Snapshots []string
	Running   bool
	// RunningErr is set when the running state could not be determined.
	RunningErr error
}

// Status inspects the project without locking it.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	l := o.Layout
	st := Status{Root: l.Root}

	if err := layout.AssertSymlink(l.Current()); err != nil {
		var inv *common.InvariantError
		if errors.As(err, &inv) {
			return st, err
		}
	} else if target, err := layout.Target(l.Current()); err == nil {
		st.Current = target
	}

	var err error
	if st.Instances, err = l.ListInstances(); err != nil {
		return st, err
	}
	if st.Snapshots, err = l.ListSnapshots(); err != nil {
		return st, err
	}

	if st.Current == "" {
		return st, nil
	}
	if sc, ok := o.Engine.(StatusChecker); ok {
		st.Running, st.RunningErr = sc.Running(ctx, l.Current())
		if st.RunningErr == nil {
			return st, nil
		}
	}
	st.Running = engine.PostmasterAlive(l.Current())
	return st, nil
}
