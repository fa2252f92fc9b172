package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"pghere/internal/common"
)

const (
	SnapshotPrefix = "snap_"
	InstancePrefix = "inst_"

	// TimestampFormat is local time with one-second resolution.
	TimestampFormat = "20060102_150405"

	maxCollisionSuffix = 99
)

// Timestamp formats t for use in a generated name.
func Timestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}

// NextSnapshotName returns an unused snap_<timestamp> name under snaps/.
func (l Layout) NextSnapshotName(now time.Time) (string, error) {
	return nextName(l.Snaps(), SnapshotPrefix, now)
}

// NextInstanceName returns an unused inst_<timestamp> name under instances/.
func (l Layout) NextInstanceName(now time.Time) (string, error) {
	return nextName(l.Instances(), InstancePrefix, now)
}

// nextName appends _01.._99 when the plain name is taken within the same
// second. The suffix sorts after the plain name and before the next second.
func nextName(dir, prefix string, now time.Time) (string, error) {
	base := prefix + Timestamp(now)
	name := base
	for i := 1; ; i++ {
		_, err := os.Lstat(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
		if i > maxCollisionSuffix {
			return "", &common.PreconditionError{
				Reason: "too many names generated this second",
				Path:   filepath.Join(dir, base),
				Err:    common.ErrExists,
			}
		}
		name = fmt.Sprintf("%s_%02d", base, i)
	}
}
