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

package linewriter

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	linesOutCounter     otelmetric.Int64Counter
	linesDroppedCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/linemerge/internal/linewriter")

	var err error
	linesOutCounter, err = meter.Int64Counter(
		"linemerge.writer.lines.out",
		otelmetric.WithDescription("Number of lines written to merge outputs"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lines.out counter: %w", err))
	}

	linesDroppedCounter, err = meter.Int64Counter(
		"linemerge.writer.lines.dropped",
		otelmetric.WithDescription("Number of lines dropped because they would break output order"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lines.dropped counter: %w", err))
	}
}
