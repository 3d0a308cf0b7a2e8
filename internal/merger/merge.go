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

// Package merger merges two presorted line sources into one output.
package merger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cardinalhq/linemerge/internal/linereader"
	"github.com/cardinalhq/linemerge/internal/linewriter"
	"github.com/cardinalhq/linemerge/internal/logctx"
	"github.com/cardinalhq/linemerge/internal/ordering"
)

// Stats describes one two-way merge.
type Stats struct {
	A      linereader.Stats
	B      linereader.Stats
	Output linewriter.Stats
}

// Input returns the combined reader stats of both sides.
func (s Stats) Input() linereader.Stats {
	return s.A.Add(s.B)
}

// Dropped is the number of lines lost in this merge for any reason.
func (s Stats) Dropped() int64 {
	in := s.Input()
	return in.DroppedInvalid + in.DroppedOutOfOrder + s.Output.DroppedOutOfOrder
}

// Options carries the reader and writer settings for MergeFiles.
type Options struct {
	Reader linereader.Options
	Writer linewriter.Options
}

// source holds the pending line of one side of the merge.
type source struct {
	reader  linereader.Reader
	pending string
	ok      bool
}

// fill pulls the next line into pending. ok is false once the reader is
// exhausted.
func (s *source) fill(ctx context.Context) error {
	line, err := s.reader.Next(ctx)
	if err != nil {
		s.ok = false
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	s.pending = line
	s.ok = true
	return nil
}

// Merge streams a and b into out. On equal lines the line from a is written
// first. Once one side is exhausted the other is copied through without
// further comparison. Lines are compared with out's policy, and every line
// goes through out's order guard. Merge does not close a, b or out.
func Merge(ctx context.Context, a, b linereader.Reader, out *linewriter.Writer) error {
	policy := out.Policy()
	sa := &source{reader: a}
	sb := &source{reader: b}

	if err := sa.fill(ctx); err != nil {
		return fmt.Errorf("reading first input: %w", err)
	}
	if err := sb.fill(ctx); err != nil {
		return fmt.Errorf("reading second input: %w", err)
	}

	for sa.ok && sb.ok {
		next := sb
		if policy.Compare(sa.pending, sb.pending) <= 0 {
			next = sa
		}
		if _, err := out.Write(ctx, next.pending); err != nil {
			return err
		}
		if err := next.fill(ctx); err != nil {
			return err
		}
	}

	for _, s := range []*source{sa, sb} {
		if err := tailCopy(ctx, s, out); err != nil {
			return err
		}
	}
	return nil
}

// tailCopy writes the pending line and everything left in s.
func tailCopy(ctx context.Context, s *source, out *linewriter.Writer) error {
	for s.ok {
		if _, err := out.Write(ctx, s.pending); err != nil {
			return err
		}
		if err := s.fill(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MergeFiles opens a and b, merges them into a new file at outPath, and
// closes all three on every path out. The returned stats are valid even
// when an error is returned.
func MergeFiles(ctx context.Context, policy *ordering.Policy, a, b linereader.Ref, outPath string, opts Options) (stats Stats, err error) {
	logger := logctx.FromContext(ctx)

	ra, err := linereader.Open(ctx, a, policy, opts.Reader)
	if err != nil {
		return stats, err
	}
	defer func() {
		stats.A = ra.Stats()
		if cerr := ra.Close(); cerr != nil {
			logger.Error("Failed to close input", slog.String("path", a.Path), slog.Any("error", cerr))
		}
	}()

	rb, err := linereader.Open(ctx, b, policy, opts.Reader)
	if err != nil {
		return stats, err
	}
	defer func() {
		stats.B = rb.Stats()
		if cerr := rb.Close(); cerr != nil {
			logger.Error("Failed to close input", slog.String("path", b.Path), slog.Any("error", cerr))
		}
	}()

	out, err := linewriter.Create(ctx, outPath, policy, opts.Writer)
	if err != nil {
		return stats, err
	}

	mergeErr := Merge(ctx, ra, rb, out)
	closeErr := out.Close()
	stats.Output = out.Stats()

	if mergeErr != nil {
		return stats, fmt.Errorf("failed to merge %s and %s into %s: %w", a.Path, b.Path, outPath, mergeErr)
	}
	return stats, closeErr
}
