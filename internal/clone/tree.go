package clone

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// fileCopier produces dst from the regular file src with the given mode.
type fileCopier func(src, dst string, perm fs.FileMode) error

// copyTree recreates the tree rooted at src under dst. Directories and
// symlinks are recreated directly; regular files go through copyFile. dst
// must not exist. Permissions are preserved exactly (PostgreSQL refuses a
// data directory that is group or world accessible).
func copyTree(ctx context.Context, src, dst string, copyFile fileCopier) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := dst
		if rel != "." {
			target = filepath.Join(dst, rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		perm := info.Mode().Perm()

		switch {
		case d.IsDir():
			if err := os.Mkdir(target, perm); err != nil {
				return err
			}
			return os.Chmod(target, perm)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, perm)
		default:
			return fmt.Errorf("unsupported file type %s at %s", d.Type(), path)
		}
	})
}

// CopyStrategy returns a plain recursive byte copy. It works on any
// filesystem but costs time and space proportional to the data size.
func CopyStrategy() Strategy {
	return StrategyFunc("copy", func(ctx context.Context, src, dst string) error {
		return copyTree(ctx, src, dst, copyFileBytes)
	})
}

func copyFileBytes(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Chmod(perm); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
