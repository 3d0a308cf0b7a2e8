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

package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for a merge run.
type Config struct {
	Merge   MergeConfig   `mapstructure:"merge"`
	IO      IOConfig      `mapstructure:"io"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
}

type MergeConfig struct {
	TempDir           string `mapstructure:"temp_dir"`
	Concurrency       int    `mapstructure:"concurrency"`
	MinFreeBytes      uint64 `mapstructure:"min_free_bytes"`
	KeepIntermediates bool   `mapstructure:"keep_intermediates"`
}

type IOConfig struct {
	MaxLineBytes int `mapstructure:"max_line_bytes"`
	BufferBytes  int `mapstructure:"buffer_bytes"`
}

type CleanupConfig struct {
	// StaleWorkspaceAge is how old an abandoned workspace must be before
	// it is removed at startup. Zero disables the sweep.
	StaleWorkspaceAge time.Duration `mapstructure:"stale_workspace_age"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Merge: MergeConfig{
			TempDir:     os.TempDir(),
			Concurrency: 1,
		},
		IO: IOConfig{
			MaxLineBytes: 1024 * 1024,
			BufferBytes:  64 * 1024,
		},
		Cleanup: CleanupConfig{
			StaleWorkspaceAge: 24 * time.Hour,
		},
	}
}

// Load reads configuration from an optional linemerge.yaml in the current
// directory and from environment variables. Environment variables use the
// prefix "LINEMERGE" and the dot character in keys is replaced by an
// underscore. For example, "merge.temp_dir" becomes "LINEMERGE_MERGE_TEMP_DIR".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("linemerge")
	v.AddConfigPath(".")
	v.SetEnvPrefix("LINEMERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Merge.TempDir == "" {
		cfg.Merge.TempDir = os.TempDir()
	}
	if cfg.Merge.Concurrency < 1 {
		cfg.Merge.Concurrency = 1
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
