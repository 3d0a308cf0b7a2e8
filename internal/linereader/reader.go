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

// Package linereader provides line sources for the merge. Every source
// returns only lines that are valid under the ordering policy and that
// do not go backwards relative to the previous line from the same source.
package linereader

import (
	"context"
	"io"
)

// Reader is the core interface for reading lines from an input.
type Reader interface {
	// Next returns the next accepted line.
	// Returns io.EOF when there are no more lines, and keeps returning
	// io.EOF on every later call.
	Next(ctx context.Context) (string, error)

	// Close releases any resources held by the reader.
	Close() error

	// Stats returns the counters collected so far.
	Stats() Stats
}

// Stats counts what a reader did with the raw lines it saw.
type Stats struct {
	LinesRead         int64
	LinesReturned     int64
	DroppedInvalid    int64
	DroppedOutOfOrder int64
	MissingInputs     int64
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		LinesRead:         s.LinesRead + o.LinesRead,
		LinesReturned:     s.LinesReturned + o.LinesReturned,
		DroppedInvalid:    s.DroppedInvalid + o.DroppedInvalid,
		DroppedOutOfOrder: s.DroppedOutOfOrder + o.DroppedOutOfOrder,
		MissingInputs:     s.MissingInputs + o.MissingInputs,
	}
}

// EmptyReader stands in for an input that has no lines, such as a
// missing file.
type EmptyReader struct {
	missing bool
}

var _ Reader = (*EmptyReader)(nil)

// NewEmptyReader returns a reader that is exhausted from the start.
func NewEmptyReader() *EmptyReader {
	return &EmptyReader{}
}

func (r *EmptyReader) Next(context.Context) (string, error) {
	return "", io.EOF
}

func (r *EmptyReader) Close() error {
	return nil
}

func (r *EmptyReader) Stats() Stats {
	if r.missing {
		return Stats{MissingInputs: 1}
	}
	return Stats{}
}
