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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/linemerge/config"
	"github.com/cardinalhq/linemerge/internal/helpers"
	"github.com/cardinalhq/linemerge/internal/linereader"
	"github.com/cardinalhq/linemerge/internal/linewriter"
	"github.com/cardinalhq/linemerge/internal/merger"
	"github.com/cardinalhq/linemerge/internal/mergetree"
	"github.com/cardinalhq/linemerge/internal/ordering"
)

// policyFromFlags maps the command line flags onto an ordering policy.
// Cobra has already rejected conflicting or missing flags.
func policyFromFlags(cmd *cobra.Command) (*ordering.Policy, error) {
	direction := ordering.Ascending
	if desc, _ := cmd.Flags().GetBool("descending"); desc {
		direction = ordering.Descending
	}

	keyType := ordering.KeyUnset
	if s, _ := cmd.Flags().GetBool("string"); s {
		keyType = ordering.StringKey
	}
	if i, _ := cmd.Flags().GetBool("integer"); i {
		keyType = ordering.IntegerKey
	}

	return ordering.Build(direction, keyType)
}

func mergeOptions(cfg *config.Config) mergetree.Options {
	return mergetree.Options{
		TempDir:           cfg.Merge.TempDir,
		Concurrency:       cfg.Merge.Concurrency,
		MinFreeBytes:      cfg.Merge.MinFreeBytes,
		KeepIntermediates: cfg.Merge.KeepIntermediates,
		Merge: merger.Options{
			Reader: linereader.Options{MaxLineBytes: cfg.IO.MaxLineBytes},
			Writer: linewriter.Options{BufferBytes: cfg.IO.BufferBytes},
		},
	}
}

func runMerge(cmd *cobra.Command, args []string) error {
	policy, err := policyFromFlags(cmd)
	if err != nil {
		return err
	}

	// From here on failures are runtime errors, not usage errors.
	cmd.SilenceUsage = true

	doneCtx, doneFx, err := setupTelemetry(servicename)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	start := time.Now()
	err = mergeAndPlace(doneCtx, policy, cfg, args[0], args[1:])

	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	runsCounter.Add(doneCtx, 1, attrs)
	runDuration.Record(doneCtx, time.Since(start).Seconds(), attrs)

	if err != nil {
		slog.Error("Merge failed", slog.Any("error", err))
	}
	return err
}

// mergeAndPlace merges inputs and moves the result to output. output is
// only touched once the whole tree has been merged successfully.
func mergeAndPlace(ctx context.Context, policy *ordering.Policy, cfg *config.Config, output string, inputs []string) error {
	if age := cfg.Cleanup.StaleWorkspaceAge; age > 0 {
		if n := helpers.CleanStaleWorkspaces(cfg.Merge.TempDir, mergetree.IsWorkspaceName, age); n > 0 {
			slog.Info("Removed stale workspaces", slog.Int("count", n))
		}
	}

	res, err := mergetree.New(policy, mergeOptions(cfg)).Run(ctx, inputs)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			slog.Warn("Failed to clean up workspace", slog.String("workspace", res.Workspace), slog.Any("error", err))
		}
	}()

	if err := placeOutput(res.Path, output); err != nil {
		return err
	}

	slog.Info("Wrote merged output",
		slog.String("output", output),
		slog.Int("inputs", len(inputs)),
		slog.Int("rounds", res.Stats.Rounds),
		slog.Int64("linesWritten", res.Stats.LinesWritten),
		slog.Int64("droppedInvalid", res.Stats.DroppedInvalid),
		slog.Int64("droppedOutOfOrder", res.Stats.DroppedOutOfOrder),
		slog.Int64("missingInputs", res.Stats.MissingInputs))
	return nil
}
