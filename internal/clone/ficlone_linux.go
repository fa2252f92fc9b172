//go:build linux

package clone

import (
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// cloneFile shares src's extents with a new file dst (btrfs, xfs, bcachefs).
// Filesystems without reflink support fail with EOPNOTSUPP or EXDEV.
func cloneFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		out.Close()
		return fmt.Errorf("FICLONE %s: %w", src, err)
	}
	if err := out.Chmod(perm); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
