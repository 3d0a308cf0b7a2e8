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

// Package linewriter writes merged lines to a file, refusing any line that
// would break the sort order of what has already been written.
package linewriter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cardinalhq/linemerge/internal/logctx"
	"github.com/cardinalhq/linemerge/internal/ordering"
)

// DefaultBufferBytes is the write buffer size used when none is configured.
const DefaultBufferBytes = 64 * 1024

var errWriterClosed = errors.New("writer is closed")

// Options tune how output is written.
type Options struct {
	BufferBytes int
}

// Stats counts what a writer did with the lines offered to it.
type Stats struct {
	LinesWritten      int64
	DroppedOutOfOrder int64
}

// Writer is an append-only sink for lines in final order. It is owned by a
// single merge and is not safe for concurrent use.
type Writer struct {
	path   string
	closer io.Closer
	w      *bufio.Writer
	policy *ordering.Policy
	guard  *ordering.MonotonicGuard
	logger *slog.Logger
	closed bool
	stats  Stats
}

// Create creates or truncates path and returns a Writer for it.
func Create(ctx context.Context, path string, policy *ordering.Policy, opts Options) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return New(ctx, f, path, policy, opts), nil
}

// New wraps w. The writer takes ownership of w and closes it on Close.
// path is used only for diagnostics.
func New(ctx context.Context, w io.WriteCloser, path string, policy *ordering.Policy, opts Options) *Writer {
	size := opts.BufferBytes
	if size <= 0 {
		size = DefaultBufferBytes
	}
	return &Writer{
		path:   path,
		closer: w,
		w:      bufio.NewWriterSize(w, size),
		policy: policy,
		guard:  ordering.NewMonotonicGuard(policy),
		logger: logctx.FromContext(ctx).With(slog.String("output", path)),
	}
}

// Write appends line followed by a newline. A line that sorts before the
// last written line is dropped and reported; Write then returns false and
// a nil error.
func (w *Writer) Write(ctx context.Context, line string) (bool, error) {
	if w.closed {
		return false, errWriterClosed
	}

	if !w.guard.Accept(line) {
		w.stats.DroppedOutOfOrder++
		linesDroppedCounter.Add(ctx, 1)
		last, _ := w.guard.Last()
		w.logger.Warn("Ordering violation in merged output, lost line",
			slog.String("line", line),
			slog.String("lastWritten", last))
		return false, nil
	}

	if _, err := w.w.WriteString(line); err != nil {
		return false, fmt.Errorf("failed writing to %s: %w", w.path, err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return false, fmt.Errorf("failed writing to %s: %w", w.path, err)
	}
	w.stats.LinesWritten++
	linesOutCounter.Add(ctx, 1)
	return true, nil
}

// Close flushes buffered lines and closes the file. The file is closed even
// if the flush fails.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.w.Flush()
	var closeErr error
	if w.closer != nil {
		closeErr = w.closer.Close()
		w.closer = nil
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush %s: %w", w.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", w.path, closeErr)
	}
	return nil
}

func (w *Writer) Stats() Stats {
	return w.stats
}

// Policy is the ordering the writer enforces.
func (w *Writer) Policy() *ordering.Policy {
	return w.policy
}

func (w *Writer) Path() string {
	return w.path
}
