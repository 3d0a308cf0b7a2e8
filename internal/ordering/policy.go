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

// Package ordering defines how lines are compared and which lines are
// acceptable input for a given key type.
package ordering

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Direction selects ascending or descending output. The zero value is ascending.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	switch d {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts "ascending"/"asc"/"a" and "descending"/"desc"/"d".
// An empty string is ascending.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ascending", "asc", "a":
		return Ascending, nil
	case "descending", "desc", "d":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown sort direction %q", s)
	}
}

// KeyType selects how a line is interpreted for comparison. The zero value
// is unset and is rejected by Build, since there is no default key type.
type KeyType int

const (
	KeyUnset KeyType = iota
	StringKey
	IntegerKey
)

func (k KeyType) String() string {
	switch k {
	case KeyUnset:
		return "unset"
	case StringKey:
		return "string"
	case IntegerKey:
		return "integer"
	default:
		return fmt.Sprintf("KeyType(%d)", int(k))
	}
}

// ParseKeyType accepts "string"/"s" and "integer"/"int"/"i".
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "s":
		return StringKey, nil
	case "integer", "int", "i":
		return IntegerKey, nil
	case "":
		return KeyUnset, ErrUnsetKeyType
	default:
		return KeyUnset, fmt.Errorf("unknown data type %q", s)
	}
}

var (
	// ErrUnsetKeyType is returned by Build when no key type was selected.
	ErrUnsetKeyType = errors.New("data type must be selected (string or integer)")

	// ErrWhitespace marks a line containing whitespace.
	ErrWhitespace = errors.New("line contains whitespace")

	// ErrNotInteger marks a line that does not parse as an integer in integer mode.
	ErrNotInteger = errors.New("line is not an integer")
)

// Policy is an immutable comparator plus validity check. Build one per run
// and pass it to every component that needs it.
type Policy struct {
	direction Direction
	keyType   KeyType
}

// Build returns the policy for the given direction and key type.
func Build(direction Direction, keyType KeyType) (*Policy, error) {
	switch direction {
	case Ascending, Descending:
	default:
		return nil, fmt.Errorf("invalid sort direction %v", direction)
	}
	switch keyType {
	case StringKey, IntegerKey:
	case KeyUnset:
		return nil, ErrUnsetKeyType
	default:
		return nil, fmt.Errorf("invalid data type %v", keyType)
	}
	return &Policy{direction: direction, keyType: keyType}, nil
}

func (p *Policy) Direction() Direction { return p.direction }

func (p *Policy) KeyType() KeyType { return p.keyType }

func (p *Policy) String() string {
	return p.keyType.String() + "/" + p.direction.String()
}

// Compare returns a negative number when a sorts before b, zero when they
// are equal under the key type, and a positive number otherwise.
// Both lines must have passed Validate.
func (p *Policy) Compare(a, b string) int {
	c := p.compareAscending(a, b)
	if p.direction == Descending {
		return -c
	}
	return c
}

func (p *Policy) compareAscending(a, b string) int {
	if p.keyType == IntegerKey {
		// Validated lines always parse; a failure here compares as zero.
		ai, _ := strconv.ParseInt(a, 10, 64)
		bi, _ := strconv.ParseInt(b, 10, 64)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// Validate reports why a line cannot take part in the merge, or nil.
func (p *Policy) Validate(line string) error {
	if p.keyType == IntegerKey {
		if _, err := strconv.ParseInt(line, 10, 64); err != nil {
			return ErrNotInteger
		}
	}
	if strings.IndexFunc(line, unicode.IsSpace) >= 0 {
		return ErrWhitespace
	}
	return nil
}

// IsValid is Validate(line) == nil.
func (p *Policy) IsValid(line string) bool {
	return p.Validate(line) == nil
}

// Reason maps a validation error to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotInteger):
		return "not_integer"
	case errors.Is(err, ErrWhitespace):
		return "whitespace"
	default:
		return "invalid"
	}
}
