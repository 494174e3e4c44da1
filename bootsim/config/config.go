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

// Package config holds the bootsim configuration, populated from flags and
// an optional TOML file.
package config

import (
	"fmt"
	"reflect"

	"degrados.dev/degrados/pkg/kernel"
	"degrados.dev/degrados/pkg/log"
	"degrados.dev/degrados/pkg/machine"
	"degrados.dev/degrados/pkg/paging"
)

// Config holds configuration that is shared by all commands.
type Config struct {
	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format, "text" or "json".
	LogFormat string `flag:"log-format"`

	// Machine is the path of a machine description in TOML or YAML. Empty
	// selects the built-in description.
	Machine string `flag:"machine"`

	// Allocator selects the frame allocator: "area" or "bitmap".
	Allocator string `flag:"allocator"`

	// SelfTest runs the paging scenarios during boot.
	SelfTest bool `flag:"selftest"`

	// GuardPage unmaps the bootloader's P4 frame after remapping.
	GuardPage bool `flag:"guard-page"`

	// SectionFlags maps kernel sections with their ELF permissions instead
	// of writable.
	SectionFlags bool `flag:"section-flags"`

	// TemporaryPage is the page number used for editing inactive tables.
	TemporaryPage uint64 `flag:"temporary-page"`

	// Color controls ANSI colors in console output.
	Color ColorMode `flag:"color"`

	// Parallelism bounds how many scenario machines run at once.
	Parallelism int `flag:"parallelism"`
}

func (c *Config) validate() error {
	switch c.Allocator {
	case kernel.AreaAllocator, kernel.BitmapAllocator:
	default:
		return fmt.Errorf("invalid allocator %q, must be %q or %q", c.Allocator, kernel.AreaAllocator, kernel.BitmapAllocator)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.TemporaryPage == 0 {
		return fmt.Errorf("temporary page must not be zero")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
	}
}

// KernelOptions returns the kernel boot options.
func (c *Config) KernelOptions() kernel.Options {
	return kernel.Options{
		Allocator:           c.Allocator,
		SelfTest:            c.SelfTest,
		PreciseSectionFlags: c.SectionFlags,
		GuardPage:           c.GuardPage,
		TemporaryPage:       paging.Page(c.TemporaryPage),
	}
}

// Description returns the machine description to boot.
func (c *Config) Description() (*machine.Description, error) {
	if c.Machine == "" {
		return machine.DefaultDescription(), nil
	}
	return machine.LoadDescription(c.Machine)
}

// ColorMode controls colored output.
type ColorMode int

const (
	// ColorAuto colors output written to a terminal.
	ColorAuto ColorMode = iota

	// ColorAlways always colors output.
	ColorAlways

	// ColorNever never colors output.
	ColorNever
)

func colorModePtr(v ColorMode) *ColorMode {
	return &v
}

// Set implements flag.Value.Set.
func (c *ColorMode) Set(v string) error {
	switch v {
	case "auto":
		*c = ColorAuto
	case "always":
		*c = ColorAlways
	case "never":
		*c = ColorNever
	default:
		return fmt.Errorf("invalid color mode %q", v)
	}
	return nil
}

// Get implements flag.Getter.Get.
func (c *ColorMode) Get() any {
	return *c
}

// String implements flag.Value.String.
func (c ColorMode) String() string {
	switch c {
	case ColorAuto:
		return "auto"
	case ColorAlways:
		return "always"
	case ColorNever:
		return "never"
	default:
		panic(fmt.Sprintf("Invalid color mode %d", c))
	}
}
