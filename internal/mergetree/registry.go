// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package mergetree

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/linemerge/internal/helpers"
)

// registry tracks the intermediate files of one run so that each can be
// removed as soon as it has been consumed, and everything left can be
// removed at the end. It is safe for concurrent use.
type registry struct {
	dir  string
	lock *helpers.WorkspaceLock
	keep bool
	live mapset.Set[string]
}

func newRegistry(dir string, lock *helpers.WorkspaceLock, keep bool) *registry {
	return &registry{
		dir:  dir,
		lock: lock,
		keep: keep,
		live: mapset.NewSet[string](),
	}
}

// add records path as an intermediate owned by this run.
func (r *registry) add(path string) {
	r.live.Add(path)
}

// owns reports whether path is a live intermediate of this run.
func (r *registry) owns(path string) bool {
	return r.live.Contains(path)
}

// consume deletes an intermediate that is no longer needed. Paths the
// registry does not own, such as user inputs, are left alone.
func (r *registry) consume(path string) error {
	if !r.live.Contains(path) {
		return nil
	}
	if r.keep {
		return nil
	}
	r.live.Remove(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove intermediate %s: %w", path, err)
	}
	slog.Debug("Removed consumed intermediate", slog.String("path", path))
	return nil
}

// cleanup releases the workspace lock, then removes every remaining
// intermediate, the lock marker and the workspace directory. Files already
// moved elsewhere are ignored.
func (r *registry) cleanup() error {
	var errs *multierror.Error
	if err := r.lock.Unlock(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("unlock workspace %s: %w", r.dir, err))
	}

	if r.keep {
		slog.Info("Keeping intermediate files", slog.String("workspace", r.dir), slog.Int("files", r.live.Cardinality()))
		return errs.ErrorOrNil()
	}

	for _, path := range r.live.ToSlice() {
		r.live.Remove(path)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierror.Append(errs, fmt.Errorf("remove intermediate %s: %w", path, err))
		}
	}
	marker := filepath.Join(r.dir, helpers.WorkspaceLockName)
	if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = multierror.Append(errs, fmt.Errorf("remove workspace lock %s: %w", marker, err))
	}
	if err := os.Remove(r.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = multierror.Append(errs, fmt.Errorf("remove workspace %s: %w", r.dir, err))
	}
	return errs.ErrorOrNil()
}

// size is the number of live intermediates.
func (r *registry) size() int {
	return r.live.Cardinality()
}
