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
	"os"

	"github.com/spf13/cobra"
)

const servicename = "linemerge"

// newRootCmd builds the linemerge command. It is a single command: the
// flags select the ordering, the positional arguments name the output
// followed by two or more presorted inputs.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linemerge [-a|-d] (-s|-i) <outputFile> <inputFile1> <inputFile2> [inputFile...]",
		Short: "Merge presorted line files into one sorted file",
		Long: `Merge two or more files whose lines are already sorted into a single sorted file.

Lines must not contain whitespace. In integer mode every line must be an integer.
Malformed lines, and lines that break the sort order of their file, are dropped
with a warning. Missing input files are treated as empty.`,
		Args: cobra.MinimumNArgs(3),
		RunE: runMerge,
	}

	cmd.Flags().BoolP("ascending", "a", false, "ascending sort mode (default)")
	cmd.Flags().BoolP("descending", "d", false, "descending sort mode")
	cmd.MarkFlagsMutuallyExclusive("ascending", "descending")

	cmd.Flags().BoolP("string", "s", false, "string data type")
	cmd.Flags().BoolP("integer", "i", false, "integer data type")
	cmd.MarkFlagsMutuallyExclusive("string", "integer")
	cmd.MarkFlagsOneRequired("string", "integer")

	return cmd
}

// Execute runs the command and exits non-zero on any failure.
// This is called by main.main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
