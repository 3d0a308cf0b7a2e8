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
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer trace.Tracer = otel.Tracer("github.com/cardinalhq/linemerge/internal/mergetree")

	roundsCounter otelmetric.Int64Counter
	mergesCounter otelmetric.Int64Counter
	mergeDuration otelmetric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/linemerge/internal/mergetree")

	var err error
	roundsCounter, err = meter.Int64Counter(
		"linemerge.mergetree.rounds",
		otelmetric.WithDescription("Number of merge tree rounds completed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rounds counter: %w", err))
	}

	mergesCounter, err = meter.Int64Counter(
		"linemerge.mergetree.merges",
		otelmetric.WithDescription("Number of two-way merges attempted"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create merges counter: %w", err))
	}

	mergeDuration, err = meter.Float64Histogram(
		"linemerge.mergetree.merge.duration",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("The duration in seconds of a single two-way merge"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create merge.duration histogram: %w", err))
	}
}
