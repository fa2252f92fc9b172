package lifecycle

import (
	"fmt"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"pghere/internal/common"
	"pghere/internal/layout"
)

// projectLock serializes mutating operations on one project across
// processes. It is advisory: tools other than pghere ignore it.
type projectLock struct {
	fl *flock.Flock
}

// lockProject takes the project lock without blocking. The project root must
// already exist.
func lockProject(l layout.Layout) (*projectLock, error) {
	if err := layout.RequireDir(l.Root); err != nil {
		return nil, &common.PreconditionError{Reason: "project not initialized (run init first)", Path: l.Root, Err: common.ErrNotFound}
	}
	fl := flock.New(l.LockPath())
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	if !locked {
		return nil, &common.PreconditionError{Reason: "project is busy", Path: l.Root, Err: common.ErrLocked}
	}
	log.Debugf("[Lifecycle] locked %s", l.LockPath())
	return &projectLock{fl: fl}, nil
}

func (p *projectLock) release() {
	if err := p.fl.Unlock(); err != nil {
		log.Warnf("[Lifecycle] failed to release %s: %v", p.fl.Path(), err)
	}
}

// Lock takes the project lock for work that drives the engine outside the
// orchestrator, such as bench. The returned func releases it.
func Lock(l layout.Layout) (release func(), err error) {
	lock, err := lockProject(l)
	if err != nil {
		return nil, err
	}
	return lock.release, nil
}
