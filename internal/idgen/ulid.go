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

package idgen

import (
	crand "crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDGenerator makes lowercase ULIDs that sort in creation order, even
// within the same millisecond. Safe for concurrent use.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(crand.Reader, 0),
	}
}

func (u *ULIDGenerator) Make(t time.Time) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(t), u.entropy).String())
}

// RunID returns a fresh identifier for one merge run.
func RunID() string {
	return strings.ToLower(ulid.Make().String())
}

// IsRunID reports whether s has the shape RunID produces.
func IsRunID(s string) bool {
	if len(s) != ulid.EncodedSize || s != strings.ToLower(s) {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
