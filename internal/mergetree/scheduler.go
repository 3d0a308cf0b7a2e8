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

// Package mergetree reduces N presorted files to one by merging adjacent
// pairs round after round. An unpaired last file is carried into the next
// round unchanged.
package mergetree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/linemerge/internal/helpers"
	"github.com/cardinalhq/linemerge/internal/idgen"
	"github.com/cardinalhq/linemerge/internal/linereader"
	"github.com/cardinalhq/linemerge/internal/logctx"
	"github.com/cardinalhq/linemerge/internal/merger"
	"github.com/cardinalhq/linemerge/internal/ordering"
)

// WorkspacePrefix starts the name of every run's temporary directory.
const WorkspacePrefix = "linemerge-"

// IsWorkspaceName reports whether name is a run workspace directory name:
// WorkspacePrefix followed by a run ID.
func IsWorkspaceName(name string) bool {
	id, ok := strings.CutPrefix(name, WorkspacePrefix)
	return ok && idgen.IsRunID(id)
}

var (
	// ErrTooFewInputs is returned when fewer than two inputs are given.
	ErrTooFewInputs = errors.New("at least two input files are required")

	// ErrInsufficientDisk is returned when the workspace filesystem has
	// less free space than Options.MinFreeBytes before a round.
	ErrInsufficientDisk = errors.New("insufficient free disk space for merge")
)

// Options control where and how the merge tree runs.
type Options struct {
	// TempDir holds the per-run workspace. Empty means os.TempDir().
	TempDir string

	// Concurrency is the number of merges of one round that may run at
	// the same time. Values below 1 mean 1, which is fully sequential.
	Concurrency int

	// MinFreeBytes, when positive, is the free space required in the
	// workspace filesystem before each round starts.
	MinFreeBytes uint64

	// KeepIntermediates leaves every intermediate file on disk.
	KeepIntermediates bool

	Merge merger.Options
}

// Stats summarises a whole run. Lines are dropped at most once, so the drop
// counters add up across merges without double counting.
type Stats struct {
	Rounds            int
	Merges            int
	LinesWritten      int64
	DroppedInvalid    int64
	DroppedOutOfOrder int64
	MissingInputs     int64
}

func (s *Stats) addMerge(ms merger.Stats) {
	in := ms.Input()
	s.Merges++
	s.DroppedInvalid += in.DroppedInvalid
	s.DroppedOutOfOrder += in.DroppedOutOfOrder + ms.Output.DroppedOutOfOrder
	s.MissingInputs += in.MissingInputs
}

// Result is the outcome of a successful run. Path is an intermediate file
// inside the run's workspace; move it away before calling Cleanup, or
// Cleanup removes it.
type Result struct {
	Path      string
	Workspace string
	Stats     Stats

	reg *registry
}

// Cleanup removes the run's remaining intermediates and its workspace.
func (r *Result) Cleanup() error {
	if r == nil || r.reg == nil {
		return nil
	}
	return r.reg.cleanup()
}

// Scheduler runs merge trees with a fixed policy and options.
type Scheduler struct {
	policy *ordering.Policy
	opts   Options
	ids    *idgen.ULIDGenerator
	tracer trace.Tracer
}

func New(policy *ordering.Policy, opts Options) *Scheduler {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scheduler{
		policy: policy,
		opts:   opts,
		ids:    idgen.NewULIDGenerator(),
		tracer: tracer,
	}
}

// Run merges the files at paths, in the given order, into a single file.
// Missing or unreadable inputs contribute nothing. Any I/O failure on an
// intermediate or an output fails the run; in that case, and on context
// cancellation, every intermediate is removed before returning.
func (s *Scheduler) Run(ctx context.Context, paths []string) (res *Result, err error) {
	if len(paths) < 2 {
		return nil, ErrTooFewInputs
	}

	runID := idgen.RunID()
	ctx, span := s.tracer.Start(ctx, "linemerge.mergetree.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("inputs", len(paths)),
		attribute.String("policy", s.policy.String()),
		attribute.Int("concurrency", s.opts.Concurrency),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "merge tree failed")
		} else {
			span.SetAttributes(
				attribute.Int("rounds", res.Stats.Rounds),
				attribute.Int64("lines_written", res.Stats.LinesWritten),
			)
		}
		span.End()
	}()

	workspace := filepath.Join(s.opts.TempDir, WorkspacePrefix+runID)
	if err := os.Mkdir(workspace, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	lock, err := helpers.LockWorkspace(workspace)
	if err != nil {
		_ = os.RemoveAll(workspace)
		return nil, err
	}

	ctx = logctx.With(ctx, slog.String("runID", runID))
	logger := logctx.FromContext(ctx)
	logger.Info("Starting merge",
		slog.Int("inputs", len(paths)),
		slog.String("policy", s.policy.String()),
		slog.String("workspace", workspace),
		slog.Int("concurrency", s.opts.Concurrency))

	reg := newRegistry(workspace, lock, s.opts.KeepIntermediates)
	result := &Result{Workspace: workspace, reg: reg}

	refs := make([]linereader.Ref, len(paths))
	for i, p := range paths {
		refs[i] = linereader.NewRef(p)
	}

	fail := func(err error) (*Result, error) {
		if cerr := reg.cleanup(); cerr != nil {
			logger.Error("Failed to clean up after merge failure", slog.Any("error", cerr))
		}
		return nil, err
	}

	for round := 1; len(refs) > 1; round++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := s.checkDisk(ctx, workspace); err != nil {
			return fail(err)
		}

		next, err := s.runRound(ctx, reg, round, refs, &result.Stats)
		if err != nil {
			return fail(err)
		}
		refs = next
		result.Stats.Rounds++
		roundsCounter.Add(ctx, 1)
	}

	result.Path = refs[0].Path
	logger.Info("Merge complete",
		slog.String("path", result.Path),
		slog.Int("rounds", result.Stats.Rounds),
		slog.Int("merges", result.Stats.Merges),
		slog.Int64("linesWritten", result.Stats.LinesWritten),
		slog.Int64("droppedInvalid", result.Stats.DroppedInvalid),
		slog.Int64("droppedOutOfOrder", result.Stats.DroppedOutOfOrder),
		slog.Int64("missingInputs", result.Stats.MissingInputs))
	return result, nil
}

// runRound merges refs pairwise and returns the next round's refs in the
// same relative order.
func (s *Scheduler) runRound(ctx context.Context, reg *registry, round int, refs []linereader.Ref, stats *Stats) ([]linereader.Ref, error) {
	pairs := len(refs) / 2
	next := make([]linereader.Ref, (len(refs)+1)/2)

	logctx.FromContext(ctx).Debug("Starting round",
		slog.Int("round", round),
		slog.Int("files", len(refs)),
		slog.Int("pairs", pairs))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i := range pairs {
		a, b := refs[2*i], refs[2*i+1]
		outPath := filepath.Join(reg.dir, fmt.Sprintf("r%d-%d-%s.txt", round, i, s.ids.Make(time.Now())))
		reg.add(outPath)

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mctx := logctx.With(gctx, slog.Int("round", round), slog.Int("pair", i))

			ms, err := s.mergePair(mctx, round, i, a, b, outPath)

			mu.Lock()
			stats.addMerge(ms)
			if len(refs) == 2 {
				stats.LinesWritten = ms.Output.LinesWritten
			}
			mu.Unlock()

			if err != nil {
				return err
			}

			for _, in := range []linereader.Ref{a, b} {
				if err := reg.consume(in.Path); err != nil {
					logctx.FromContext(mctx).Warn("Failed to remove consumed intermediate", slog.Any("error", err))
				}
			}
			next[i] = linereader.IntermediateRef(outPath)
			return nil
		})
	}

	if len(refs)%2 == 1 {
		carried := refs[len(refs)-1]
		logctx.FromContext(ctx).Debug("Carrying unpaired file forward",
			slog.Int("round", round),
			slog.String("path", carried.Path))
		next[pairs] = carried
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("round %d: %w", round, err)
	}
	return next, nil
}

func (s *Scheduler) mergePair(ctx context.Context, round, pair int, a, b linereader.Ref, outPath string) (merger.Stats, error) {
	ctx, span := s.tracer.Start(ctx, "linemerge.mergetree.merge_pair", trace.WithAttributes(
		attribute.Int("round", round),
		attribute.Int("pair", pair),
		attribute.String("input_a", a.Path),
		attribute.String("input_b", b.Path),
		attribute.String("output", outPath),
	))
	defer span.End()

	logger := logctx.FromContext(ctx)
	logger.Debug("Merging pair",
		slog.String("a", a.Path),
		slog.String("b", b.Path),
		slog.String("output", outPath))

	start := time.Now()
	ms, err := merger.MergeFiles(ctx, s.policy, a, b, outPath, s.opts.Merge)
	status := "ok"
	if err != nil {
		status = "error"
	}
	mergesCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
	mergeDuration.Record(ctx, time.Since(start).Seconds(), otelmetric.WithAttributes(attribute.String("status", status)))

	span.SetAttributes(
		attribute.Int64("lines_written", ms.Output.LinesWritten),
		attribute.Int64("lines_dropped", ms.Dropped()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge failed")
		logger.Error("Merge step failed", slog.Any("error", err))
		return ms, err
	}
	logger.Debug("Merged pair",
		slog.Int64("linesWritten", ms.Output.LinesWritten),
		slog.Int64("dropped", ms.Dropped()),
		slog.Duration("elapsed", time.Since(start)))
	return ms, nil
}

func (s *Scheduler) checkDisk(ctx context.Context, workspace string) error {
	usage, err := helpers.DiskUsage(workspace)
	if err != nil {
		logctx.FromContext(ctx).Warn("Failed to read disk usage (ignoring)", slog.String("path", workspace), slog.Any("error", err))
		return nil
	}
	logctx.FromContext(ctx).Debug("Workspace disk usage",
		slog.Uint64("freeBytes", usage.FreeBytes),
		slog.Uint64("totalBytes", usage.TotalBytes))
	if s.opts.MinFreeBytes > 0 && usage.FreeBytes < s.opts.MinFreeBytes {
		return fmt.Errorf("%w: %d bytes free in %s, %d required", ErrInsufficientDisk, usage.FreeBytes, workspace, s.opts.MinFreeBytes)
	}
	return nil
}
