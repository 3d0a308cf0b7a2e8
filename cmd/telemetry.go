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
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/linemerge/internal/helpers"
	"github.com/cardinalhq/linemerge/internal/idgen"
)

var (
	meter = otel.Meter("github.com/cardinalhq/linemerge")

	runDuration metric.Float64Histogram
	runsCounter metric.Int64Counter
)

func init() {
	var err error
	runDuration, err = meter.Float64Histogram(
		"linemerge.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("The duration in seconds of a complete merge run, including placement of the output"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.duration histogram: %w", err))
	}

	runsCounter, err = meter.Int64Counter(
		"linemerge.runs",
		metric.WithDescription("The number of merge runs, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create runs counter: %w", err))
	}
}

// setupTelemetry configures the default logger and, when OTLP export is
// enabled, the OpenTelemetry SDK. Logs go to stderr so that nothing but the
// merge itself ever touches the output file.
// The returned context is cancelled on SIGINT or SIGTERM, and the returned
// function flushes and stops telemetry.
func setupTelemetry(servicename string) (context.Context, func() error, error) {
	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	var opts *slog.HandlerOptions
	if helpers.AnyEnvSet("DEBUG", "LINEMERGE_DEBUG") {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	if os.Getenv("OTEL_SERVICE_NAME") != "" && helpers.GetBoolEnv("ENABLE_OTLP_TELEMETRY", false) {
		slog.SetDefault(slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stderr, opts),
			otelslog.NewHandler(servicename),
		)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", idgen.InstanceID),
		))
		slog.Info("OpenTelemetry exporting enabled")

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			doneCancel()
			return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
			slog.Warn("failed to start runtime metrics", slog.Any("error", err))
		}

		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", slog.Any("error", err))
		}

		f = func() error {
			defer doneCancel()
			slog.Debug("Shutting down OpenTelemetry SDK")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", idgen.InstanceID),
		))
	}

	return doneCtx, f, nil
}
