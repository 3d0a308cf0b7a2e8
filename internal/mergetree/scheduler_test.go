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
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cardinalhq/linemerge/internal/helpers"
	"github.com/cardinalhq/linemerge/internal/idgen"
	"github.com/cardinalhq/linemerge/internal/ordering"
)

func buildPolicy(t *testing.T, d ordering.Direction, k ordering.KeyType) *ordering.Policy {
	t.Helper()
	p, err := ordering.Build(d, k)
	require.NoError(t, err)
	return p
}

func writeFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func workspaceEntries(t *testing.T, tempDir string) []string {
	t.Helper()
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// sortedInts makes n ascending integer lines starting at start with the given step.
func sortedInts(start, step, n int) []string {
	lines := make([]string, n)
	for i := range n {
		lines[i] = strconv.Itoa(start + i*step)
	}
	return lines
}

func runTree(t *testing.T, p *ordering.Policy, opts Options, paths []string) []string {
	t.Helper()
	res, err := New(p, opts).Run(context.Background(), paths)
	require.NoError(t, err)
	lines := readLines(t, res.Path)
	require.NoError(t, res.Cleanup())
	return lines
}

func TestRun_TooFewInputs(t *testing.T) {
	p := buildPolicy(t, ordering.Ascending, ordering.IntegerKey)
	tmp := t.TempDir()
	s := New(p, Options{TempDir: tmp})

	_, err := s.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrTooFewInputs)

	_, err = s.Run(context.Background(), []string{writeFile(t, t.TempDir(), "a.txt", "1")})
	assert.ErrorIs(t, err, ErrTooFewInputs)

	assert.Empty(t, workspaceEntries(t, tmp), "no workspace may be created for a usage error")
}

func TestRun_NWayCorrectness(t *testing.T) {
	for n := 2; n <= 7; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			p := buildPolicy(t, ordering.Ascending, ordering.IntegerKey)
			dir := t.TempDir()
			tmp := t.TempDir()

			var paths []string
			var want []int
			for i := range n {
				lines := sortedInts(i, n, 10)
				paths = append(paths, writeFile(t, dir, fmt.Sprintf("in%d.txt", i), lines...))
				for _, l := range lines {
					v, _ := strconv.Atoi(l)
					want = append(want, v)
				}
			}
			slices.Sort(want)

			res, err := New(p, Options{TempDir: tmp}).Run(context.Background(), paths)
			require.NoError(t, err)

			got := readLines(t, res.Path)
			require.Len(t, got, len(want))
			for i, v := range want {
				assert.Equal(t, strconv.Itoa(v), got[i])
			}

			assert.Equal(t, n-1, res.Stats.Merges, "a pairwise tree always does n-1 merges")
			assert.Equal(t, int64(len(want)), res.Stats.LinesWritten)

			require.NoError(t, res.Cleanup())
			assert.Empty(t, workspaceEntries(t, tmp))
		})
	}
}

func TestRun_RoundCount(t *testing.T) {
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	dir := t.TempDir()

	tests := []struct {
		n      int
		rounds int
	}{
		{2, 1}, {3, 2}, {4, 2}, {5, 3}, {8, 3}, {9, 4},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.n), func(t *testing.T) {
			var paths []string
			for i := range tt.n {
				paths = append(paths, writeFile(t, dir, fmt.Sprintf("f%d-%d.txt", tt.n, i), fmt.Sprintf("k%02d", i)))
			}
			res, err := New(p, Options{TempDir: t.TempDir()}).Run(context.Background(), paths)
			require.NoError(t, err)
			defer res.Cleanup()
			assert.Equal(t, tt.rounds, res.Stats.Rounds)
		})
	}
}

func TestRun_RandomizedAgainstSort(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	p := buildPolicy(t, ordering.Ascending, ordering.IntegerKey)
	dir := t.TempDir()

	var paths []string
	var want []int
	for i := range 5 {
		count := rng.IntN(50)
		vals := make([]int, count)
		for j := range vals {
			vals[j] = rng.IntN(200) - 100
		}
		slices.Sort(vals)
		want = append(want, vals...)
		lines := make([]string, count)
		for j, v := range vals {
			lines[j] = strconv.Itoa(v)
		}
		paths = append(paths, writeFile(t, dir, fmt.Sprintf("r%d.txt", i), lines...))
	}
	slices.Sort(want)

	got := runTree(t, p, Options{TempDir: t.TempDir()}, paths)
	require.Len(t, got, len(want))
	for i, v := range want {
		assert.Equal(t, strconv.Itoa(v), got[i])
	}
}

func TestRun_DirectionInversion(t *testing.T) {
	dir := t.TempDir()
	asc := []string{
		writeFile(t, dir, "a-asc.txt", "apple", "fig", "plum"),
		writeFile(t, dir, "b-asc.txt", "banana", "kiwi"),
		writeFile(t, dir, "c-asc.txt", "cherry", "grape", "zucchini"),
	}
	desc := []string{
		writeFile(t, dir, "a-desc.txt", "plum", "fig", "apple"),
		writeFile(t, dir, "b-desc.txt", "kiwi", "banana"),
		writeFile(t, dir, "c-desc.txt", "zucchini", "grape", "cherry"),
	}

	up := runTree(t, buildPolicy(t, ordering.Ascending, ordering.StringKey), Options{TempDir: t.TempDir()}, asc)
	down := runTree(t, buildPolicy(t, ordering.Descending, ordering.StringKey), Options{TempDir: t.TempDir()}, desc)

	assert.Equal(t, []string{"apple", "banana", "cherry", "fig", "grape", "kiwi", "plum", "zucchini"}, up)
	reversed := slices.Clone(up)
	slices.Reverse(reversed)
	assert.Equal(t, reversed, down)
}

func TestRun_AscendingInputsUnderDescendingMode(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "a.txt", "apple", "fig", "plum"),
		writeFile(t, dir, "b.txt", "banana", "kiwi"),
		writeFile(t, dir, "c.txt", "cherry", "grape", "zucchini"),
	}

	res, err := New(buildPolicy(t, ordering.Descending, ordering.StringKey), Options{TempDir: t.TempDir()}).Run(context.Background(), paths)
	require.NoError(t, err)
	defer res.Cleanup()

	// Only the first line of each file respects descending order; every
	// later line goes up and is dropped by its source.
	valid := []string{"apple", "banana", "cherry"}
	slices.Reverse(valid)
	assert.Equal(t, valid, readLines(t, res.Path))
	assert.Equal(t, int64(5), res.Stats.DroppedOutOfOrder)
	assert.Zero(t, res.Stats.DroppedInvalid)
}

func TestRun_MissingAndMalformedInputs(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.IntegerKey)
	paths := []string{
		writeFile(t, dir, "a.txt", "1", "3", "5"),
		filepath.Join(dir, "missing.txt"),
		writeFile(t, dir, "b.txt", "2", "x", "4", "3", "6"),
	}

	res, err := New(p, Options{TempDir: t.TempDir()}).Run(context.Background(), paths)
	require.NoError(t, err)
	defer res.Cleanup()

	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, readLines(t, res.Path))
	assert.Equal(t, int64(1), res.Stats.MissingInputs)
	assert.Equal(t, int64(1), res.Stats.DroppedInvalid)
	assert.Equal(t, int64(1), res.Stats.DroppedOutOfOrder)
}

func TestRun_AllInputsMissing(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)

	got := runTree(t, p, Options{TempDir: t.TempDir()}, []string{
		filepath.Join(dir, "x.txt"),
		filepath.Join(dir, "y.txt"),
		filepath.Join(dir, "z.txt"),
	})
	assert.Empty(t, got)
}

func TestRun_RemergeIsStable(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	a := writeFile(t, dir, "a.txt", "a", "c", "e")
	b := writeFile(t, dir, "b.txt", "b", "c", "d")

	first := runTree(t, p, Options{TempDir: t.TempDir()}, []string{a, b})
	again := writeFile(t, dir, "again.txt", first...)
	empty := writeFile(t, dir, "empty.txt")

	second := runTree(t, p, Options{TempDir: t.TempDir()}, []string{again, empty})
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "c", "c", "d", "e"}, second)
}

func TestRun_ConcurrencyMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.IntegerKey)

	var paths []string
	for i := range 9 {
		paths = append(paths, writeFile(t, dir, fmt.Sprintf("c%d.txt", i), sortedInts(i%3, 3, 20)...))
	}

	seq := runTree(t, p, Options{TempDir: t.TempDir(), Concurrency: 1}, paths)
	par := runTree(t, p, Options{TempDir: t.TempDir(), Concurrency: 4}, paths)
	assert.Equal(t, seq, par)
	assert.Len(t, seq, 180)
}

func TestRun_IntermediatesConsumed(t *testing.T) {
	dir := t.TempDir()
	tmp := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.IntegerKey)

	var paths []string
	for i := range 5 {
		paths = append(paths, writeFile(t, dir, fmt.Sprintf("i%d.txt", i), strconv.Itoa(i)))
	}

	res, err := New(p, Options{TempDir: tmp}).Run(context.Background(), paths)
	require.NoError(t, err)

	entries, err := os.ReadDir(res.Workspace)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{filepath.Base(res.Path), helpers.WorkspaceLockName}, names,
		"only the final file and the lock marker may remain before cleanup")
	assert.Equal(t, 1, res.reg.size())
	assert.True(t, IsWorkspaceName(filepath.Base(res.Workspace)))

	require.NoError(t, res.Cleanup())
	assert.NoDirExists(t, res.Workspace)

	for _, in := range paths {
		assert.FileExists(t, in, "user inputs are never removed")
	}
}

func TestRun_KeepIntermediates(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.IntegerKey)

	var paths []string
	for i := range 4 {
		paths = append(paths, writeFile(t, dir, fmt.Sprintf("k%d.txt", i), strconv.Itoa(i)))
	}

	res, err := New(p, Options{TempDir: t.TempDir(), KeepIntermediates: true}).Run(context.Background(), paths)
	require.NoError(t, err)
	require.NoError(t, res.Cleanup())

	entries, err := os.ReadDir(res.Workspace)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "two first-round files, the final file and the lock marker")
}

func TestRun_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	tmp := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	paths := []string{
		writeFile(t, dir, "a.txt", "a"),
		writeFile(t, dir, "b.txt", "b"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(p, Options{TempDir: tmp}).Run(ctx, paths)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, workspaceEntries(t, tmp))
}

func TestRun_InsufficientDisk(t *testing.T) {
	dir := t.TempDir()
	tmp := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	paths := []string{
		writeFile(t, dir, "a.txt", "a"),
		writeFile(t, dir, "b.txt", "b"),
	}

	_, err := New(p, Options{TempDir: tmp, MinFreeBytes: ^uint64(0)}).Run(context.Background(), paths)
	assert.ErrorIs(t, err, ErrInsufficientDisk)
	assert.Empty(t, workspaceEntries(t, tmp))
}

func TestRun_OverlongLineIsDropped(t *testing.T) {
	dir := t.TempDir()
	tmp := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	paths := []string{
		writeFile(t, dir, "a.txt", "a", "m"+strings.Repeat("x", 2*1024*1024), "z"),
		writeFile(t, dir, "b.txt", "b", "c"),
		writeFile(t, dir, "c.txt", "d", "e", "f"),
	}

	res, err := New(p, Options{TempDir: tmp}).Run(context.Background(), paths)
	require.NoError(t, err)
	defer res.Cleanup()

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "z"}, readLines(t, res.Path))
	assert.Equal(t, int64(1), res.Stats.DroppedInvalid)
	assert.Equal(t, int64(7), res.Stats.LinesWritten)
}

func TestRun_LineCapFromOptions(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	paths := []string{
		writeFile(t, dir, "a.txt", "a", strings.Repeat("z", 512)),
		writeFile(t, dir, "b.txt", "b"),
	}

	opts := Options{TempDir: t.TempDir()}
	opts.Merge.Reader.MaxLineBytes = 64
	got := runTree(t, p, opts, paths)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRun_BadTempDir(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	paths := []string{
		writeFile(t, dir, "a.txt", "a"),
		writeFile(t, dir, "b.txt", "b"),
	}

	_, err := New(p, Options{TempDir: filepath.Join(dir, "no", "such", "dir")}).Run(context.Background(), paths)
	assert.Error(t, err)
}

func TestRun_RecordsSpans(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	paths := []string{
		writeFile(t, dir, "a.txt", "a", "d"),
		writeFile(t, dir, "b.txt", "b"),
		writeFile(t, dir, "c.txt", "c"),
	}

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	s := New(p, Options{TempDir: t.TempDir()})
	s.tracer = provider.Tracer("test")

	res, err := s.Run(context.Background(), paths)
	require.NoError(t, err)
	defer res.Cleanup()

	spans := recorder.Ended()
	require.Len(t, spans, 3, "one run span and one span per merge")

	var run sdktrace.ReadOnlySpan
	var pairs []sdktrace.ReadOnlySpan
	for _, span := range spans {
		switch span.Name() {
		case "linemerge.mergetree.run":
			run = span
		case "linemerge.mergetree.merge_pair":
			pairs = append(pairs, span)
		}
	}
	require.NotNil(t, run)
	require.Len(t, pairs, 2)
	for _, pair := range pairs {
		assert.Equal(t, run.SpanContext().SpanID(), pair.Parent().SpanID())
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range run.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, int64(3), attrs["inputs"].AsInt64())
	assert.Equal(t, int64(2), attrs["rounds"].AsInt64())
	assert.Equal(t, int64(4), attrs["lines_written"].AsInt64())
}

func TestRun_FailedRunSpanHasError(t *testing.T) {
	dir := t.TempDir()
	p := buildPolicy(t, ordering.Ascending, ordering.StringKey)
	paths := []string{
		writeFile(t, dir, "a.txt", "a"),
		writeFile(t, dir, "b.txt", "b"),
	}

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	s := New(p, Options{TempDir: t.TempDir(), MinFreeBytes: ^uint64(0)})
	s.tracer = provider.Tracer("test")

	_, err := s.Run(context.Background(), paths)
	require.ErrorIs(t, err, ErrInsufficientDisk)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events(), "the error is recorded as an event")
}

func TestIsWorkspaceName(t *testing.T) {
	assert.True(t, IsWorkspaceName(WorkspacePrefix+idgen.RunID()))
	assert.False(t, IsWorkspaceName(WorkspacePrefix+"stale"))
	assert.False(t, IsWorkspaceName("other-"+idgen.RunID()))
	assert.False(t, IsWorkspaceName(idgen.RunID()))
}
