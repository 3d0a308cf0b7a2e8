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

package linereader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/linemerge/internal/logctx"
	"github.com/cardinalhq/linemerge/internal/ordering"
)

// DefaultMaxLineBytes is the longest line a FileReader will accept. Longer
// lines are dropped as invalid.
const DefaultMaxLineBytes = 1024 * 1024

// Options tune how files are read.
type Options struct {
	MaxLineBytes int
}

func (o Options) maxLineBytes() int {
	if o.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}
	return o.MaxLineBytes
}

// Ref points at one input of a merge step. User inputs may be missing;
// intermediates are produced by the merge tree and must exist.
type Ref struct {
	Path         string
	Exists       bool
	Intermediate bool
}

// NewRef builds a reference to a user-supplied input. Exists is false when
// the path is missing or is not a regular file.
func NewRef(path string) Ref {
	info, err := os.Stat(path)
	return Ref{
		Path:   path,
		Exists: err == nil && !info.IsDir(),
	}
}

// IntermediateRef builds a reference to a file written by an earlier merge.
func IntermediateRef(path string) Ref {
	return Ref{Path: path, Exists: true, Intermediate: true}
}

// Open returns the reader for ref. A user input that is missing or cannot
// be opened is replaced by an EmptyReader and a warning is logged. An
// intermediate that cannot be opened is an error.
func Open(ctx context.Context, ref Ref, policy *ordering.Policy, opts Options) (Reader, error) {
	logger := logctx.FromContext(ctx)

	if !ref.Exists {
		if ref.Intermediate {
			return nil, fmt.Errorf("intermediate file %s does not exist", ref.Path)
		}
		return missingInput(ctx, logger, ref.Path, nil), nil
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		if ref.Intermediate {
			return nil, fmt.Errorf("failed to open intermediate file %s: %w", ref.Path, err)
		}
		return missingInput(ctx, logger, ref.Path, err), nil
	}

	return NewFileReader(ctx, f, ref.Path, policy, opts), nil
}

func missingInput(ctx context.Context, logger *slog.Logger, path string, err error) *EmptyReader {
	attrs := []any{slog.String("path", path)}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	logger.Warn("Input file not found, substituting empty input", attrs...)
	missingInputsCounter.Add(ctx, 1)
	return &EmptyReader{missing: true}
}

// FileReader reads lines from a file, dropping lines that fail validation
// and lines that would go backwards relative to the previous line.
type FileReader struct {
	path       string
	closer     io.Closer
	br         *bufio.Reader
	maxLine    int
	buf        []byte
	policy     *ordering.Policy
	guard      *ordering.MonotonicGuard
	logger     *slog.Logger
	lineNumber int64
	done       bool
	closed     bool
	stats      Stats
}

var _ Reader = (*FileReader)(nil)

// reasonTooLong labels lines dropped for exceeding Options.MaxLineBytes.
const reasonTooLong = "too_long"

// loggedPrefixBytes is how much of an over-long line is logged.
const loggedPrefixBytes = 64

// NewFileReader wraps r. The reader takes ownership of r and closes it when
// Close is called. path is used only for diagnostics.
func NewFileReader(ctx context.Context, r io.ReadCloser, path string, policy *ordering.Policy, opts Options) *FileReader {
	maxLine := opts.maxLineBytes()
	return &FileReader{
		path:    path,
		closer:  r,
		br:      bufio.NewReaderSize(r, min(64*1024, maxLine+2)),
		maxLine: maxLine,
		policy:  policy,
		guard:   ordering.NewMonotonicGuard(policy),
		logger:  logctx.FromContext(ctx).With(slog.String("path", path)),
	}
}

// readLine returns the next line without its line ending. A line longer
// than maxLine is consumed up to its newline and reported with tooLong set;
// line then holds only its first bytes.
func (r *FileReader) readLine() (line string, tooLong bool, err error) {
	r.buf = r.buf[:0]
	read := 0
	for {
		frag, rerr := r.br.ReadSlice('\n')
		read += len(frag)
		if !tooLong {
			r.buf = append(r.buf, frag...)
			// Allow for a trailing \r\n before deciding.
			if len(r.buf) > r.maxLine+2 {
				tooLong = true
				r.buf = r.buf[:min(len(r.buf), loggedPrefixBytes)]
			}
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF):
			if read == 0 {
				return "", false, io.EOF
			}
		default:
			return "", false, rerr
		}
		break
	}

	if tooLong {
		return string(r.buf), true, nil
	}
	b := bytes.TrimSuffix(r.buf, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	if len(b) > r.maxLine {
		return string(b[:min(len(b), loggedPrefixBytes)]), true, nil
	}
	return string(b), false, nil
}

func (r *FileReader) Next(ctx context.Context) (string, error) {
	if r.done || r.closed {
		return "", io.EOF
	}

	for {
		line, tooLong, err := r.readLine()
		if err != nil {
			r.done = true
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("failed reading %s after line %d: %w", r.path, r.lineNumber, err)
		}
		r.lineNumber++
		r.stats.LinesRead++
		linesInCounter.Add(ctx, 1)

		if tooLong {
			r.stats.DroppedInvalid++
			linesDroppedCounter.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("reason", reasonTooLong),
			))
			r.logger.Warn("Invalid line, lost line",
				slog.String("reason", reasonTooLong),
				slog.String("linePrefix", line),
				slog.Int("maxLineBytes", r.maxLine),
				slog.Int64("lineNumber", r.lineNumber))
			continue
		}

		if err := r.policy.Validate(line); err != nil {
			r.stats.DroppedInvalid++
			reason := ordering.Reason(err)
			linesDroppedCounter.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("reason", reason),
			))
			r.logger.Warn("Invalid line, lost line",
				slog.String("reason", reason),
				slog.String("line", line),
				slog.Int64("lineNumber", r.lineNumber))
			continue
		}

		if !r.guard.Accept(line) {
			r.stats.DroppedOutOfOrder++
			linesDroppedCounter.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("reason", "presort"),
			))
			last, _ := r.guard.Last()
			r.logger.Warn("Input not presorted, lost line",
				slog.String("line", line),
				slog.String("previous", last),
				slog.Int64("lineNumber", r.lineNumber))
			continue
		}

		r.stats.LinesReturned++
		linesOutCounter.Add(ctx, 1)
		return line, nil
	}
}

// Close closes the underlying file.
func (r *FileReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	r.br = nil
	r.buf = nil
	return err
}

func (r *FileReader) Stats() Stats {
	return r.stats
}

// Path returns the path the reader was opened for.
func (r *FileReader) Path() string {
	return r.path
}
