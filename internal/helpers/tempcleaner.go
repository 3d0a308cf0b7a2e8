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
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanStaleWorkspaces removes directories in dir left behind by runs that
// were killed before they could clean up. A directory is removed only when
// isWorkspace accepts its name, it has not been modified for at least
// maxAge, and its lock marker exists but is not held by a live process.
// It returns the number of directories removed.
func CleanStaleWorkspaces(dir string, isWorkspace func(name string) bool, maxAge time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Info("Failed to read temp dir (ignoring)", slog.String("path", dir), slog.Any("error", err))
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !isWorkspace(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		lock, ok := tryLockAbandoned(path)
		if !ok {
			slog.Debug("Skipping workspace that is in use or not ours", slog.String("path", path))
			continue
		}
		err = os.RemoveAll(path)
		_ = lock.Unlock()
		if err != nil {
			slog.Warn("Failed to remove stale workspace", slog.String("path", path), slog.Any("error", err))
			continue
		}
		slog.Info("Removed stale workspace", slog.String("path", path))
		removed++
	}
	return removed
}
