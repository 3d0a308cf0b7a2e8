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
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	linesInCounter       otelmetric.Int64Counter
	linesOutCounter      otelmetric.Int64Counter
	linesDroppedCounter  otelmetric.Int64Counter
	missingInputsCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/linemerge/internal/linereader")

	var err error
	linesInCounter, err = meter.Int64Counter(
		"linemerge.reader.lines.in",
		otelmetric.WithDescription("Number of raw lines read from input files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lines.in counter: %w", err))
	}

	linesOutCounter, err = meter.Int64Counter(
		"linemerge.reader.lines.out",
		otelmetric.WithDescription("Number of lines handed to the merge after validation"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lines.out counter: %w", err))
	}

	linesDroppedCounter, err = meter.Int64Counter(
		"linemerge.reader.lines.dropped",
		otelmetric.WithDescription("Number of input lines dropped as malformed or out of order"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lines.dropped counter: %w", err))
	}

	missingInputsCounter, err = meter.Int64Counter(
		"linemerge.reader.missing_inputs",
		otelmetric.WithDescription("Number of input files replaced by an empty input"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create missing_inputs counter: %w", err))
	}
}
