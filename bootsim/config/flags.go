// Copyright 2026 The degrados Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"

	"github.com/BurntSushi/toml"

	"degrados.dev/degrados/bootsim/flag"
	"degrados.dev/degrados/pkg/paging"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Logging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")

	// Machine flags.
	flagSet.String("machine", "", "machine description (.toml, .yaml or .yml). Empty uses the built-in PC.")

	// Kernel flags.
	flagSet.String("allocator", "area", "frame allocator: area (default) or bitmap.")
	flagSet.Bool("selftest", false, "run the translate and map-unmap paging checks before remapping the kernel.")
	flagSet.Bool("guard-page", true, "unmap the bootloader's P4 frame after switching tables.")
	flagSet.Bool("section-flags", false, "map kernel sections with their ELF permissions instead of writable.")
	flagSet.Uint64("temporary-page", uint64(paging.DefaultTemporaryPage), "page number used to edit inactive page tables.")

	// Output flags.
	flagSet.Var(colorModePtr(ColorAuto), "color", "color console output: auto (default), always or never.")
	flagSet.Int("parallelism", 4, "number of scenario machines selftest runs at once.")
}

// NewFromFlags creates a new Config with values coming from command line flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(flag.Get(fl.Value))
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

// ApplyFile sets flags from a TOML file whose keys are flag names. Flags
// already set on the command line keep their values.
func ApplyFile(flagSet *flag.FlagSet, path string) error {
	values := map[string]any{}
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if flagSet.Lookup(name) == nil {
			return fmt.Errorf("config file %q: unknown flag %q", path, name)
		}
		if flag.IsSet(flagSet, name) {
			continue
		}
		if err := flagSet.Set(name, fmt.Sprint(values[name])); err != nil {
			return fmt.Errorf("config file %q: %w", path, err)
		}
	}
	return nil
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
