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

package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WorkspaceLockName is the marker file every live workspace holds an
// exclusive flock on. The kernel drops the lock when the owning process
// exits, so a workspace whose marker can be locked has been abandoned.
const WorkspaceLockName = ".linemerge.lock"

// WorkspaceLock is the held lock on a workspace's marker file.
type WorkspaceLock struct {
	f *os.File
}

// LockWorkspace creates the marker file in dir and locks it.
func LockWorkspace(dir string) (*WorkspaceLock, error) {
	path := filepath.Join(dir, WorkspaceLockName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock workspace %s: %w", dir, err)
	}
	return &WorkspaceLock{f: f}, nil
}

// Unlock releases the lock. The marker file is left in place.
func (l *WorkspaceLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	// Closing the descriptor releases the flock.
	return f.Close()
}

// tryLockAbandoned locks the marker in dir if it exists and no live
// process holds it. ok is false when dir has no marker or is in use.
func tryLockAbandoned(dir string) (lock *WorkspaceLock, ok bool) {
	f, err := os.OpenFile(filepath.Join(dir, WorkspaceLockName), os.O_RDWR, 0)
	if err != nil {
		return nil, false
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, false
	}
	return &WorkspaceLock{f: f}, true
}
