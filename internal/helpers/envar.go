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

package helpers

import (
	"os"
	"strings"
)

// GetBoolEnv reads a boolean environment variable.
// "true", "1", "yes", "on", "enable" and "enabled" are true and "false", "0",
// "no", "off", "disable" and "disabled" are false (case insensitive).
// Unset or empty returns defaultValue; any other non-empty value is true.
func GetBoolEnv(envVar string, defaultValue bool) bool {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))

	switch env {
	case "true", "1", "yes", "on", "enable", "enabled":
		return true
	case "false", "0", "no", "off", "disable", "disabled":
		return false
	case "":
		return defaultValue
	default:
		return true
	}
}

// AnyEnvSet reports whether any of the named variables has a non-empty value.
func AnyEnvSet(names ...string) bool {
	for _, name := range names {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}
