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

package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"pghere/internal/common"
)

// AssertSymlink fails unless currentPath is an existing symlink.
// A missing pointer is a precondition failure; a real file or directory
// standing in its place is an invariant violation.
func AssertSymlink(currentPath string) error {
	info, err := os.Lstat(currentPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &common.PreconditionError{
				Reason: "current pointer missing (run init first)",
				Path:   currentPath,
				Err:    common.ErrNotFound,
			}
		}
		return err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return &common.InvariantError{Path: currentPath}
	}
	return nil
}

// Target returns the link target of currentPath.
func Target(currentPath string) (string, error) {
	if err := AssertSymlink(currentPath); err != nil {
		return "", err
	}
	return os.Readlink(currentPath)
}

// Repoint makes currentPath a symlink to targetPath.
//
// If currentPath exists it must already be a symlink; anything else is left
// untouched and reported as an InvariantError. The new link is created under a
// temporary name and renamed over currentPath, so readers never observe a
// missing pointer.
func Repoint(currentPath, targetPath string) error {
	info, err := os.Lstat(currentPath)
	switch {
	case err == nil:
		if info.Mode()&os.ModeSymlink == 0 {
			return &common.InvariantError{Path: currentPath}
		}
	case errors.Is(err, fs.ErrNotExist):
		log.Debugf("[Current] creating %s -> %s", currentPath, targetPath)
		return os.Symlink(targetPath, currentPath)
	default:
		return err
	}

	tmp := filepath.Join(filepath.Dir(currentPath), "."+filepath.Base(currentPath)+".tmp-"+uuid.NewString())
	if err := os.Symlink(targetPath, tmp); err != nil {
		return fmt.Errorf("failed to create temporary link: %w", err)
	}
	if err := os.Rename(tmp, currentPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", currentPath, err)
	}
	log.Debugf("[Current] repointed %s -> %s", currentPath, targetPath)
	return nil
}
