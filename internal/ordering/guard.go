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

package ordering

// Guard filters a stream of lines so that only non-decreasing lines pass.
type Guard interface {
	// Accept reports whether line may follow the last accepted line.
	// Accepted lines become the new last line.
	Accept(line string) bool

	// Last returns the last accepted line, if any.
	Last() (string, bool)
}

// MonotonicGuard is a Guard backed by a Policy. It is not safe for
// concurrent use; every source and every output owns its own instance.
type MonotonicGuard struct {
	policy *Policy
	last   string
	seen   bool
}

var _ Guard = (*MonotonicGuard)(nil)

// NewMonotonicGuard returns a guard with no last line.
func NewMonotonicGuard(policy *Policy) *MonotonicGuard {
	return &MonotonicGuard{policy: policy}
}

func (g *MonotonicGuard) Accept(line string) bool {
	if g.seen && g.policy.Compare(g.last, line) > 0 {
		return false
	}
	g.last = line
	g.seen = true
	return true
}

func (g *MonotonicGuard) Last() (string, bool) {
	return g.last, g.seen
}
