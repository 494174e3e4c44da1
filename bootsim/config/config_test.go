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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"degrados.dev/degrados/bootsim/flag"
	"degrados.dev/degrados/pkg/kernel"
	"degrados.dev/degrados/pkg/paging"
)

func newFlagSet(t *testing.T) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		LogFormat:     "text",
		Allocator:     kernel.AreaAllocator,
		GuardPage:     true,
		TemporaryPage: uint64(paging.DefaultTemporaryPage),
		Color:         ColorAuto,
		Parallelism:   4,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newFlagSet(t)
	testFlags.Set("debug", "true")
	testFlags.Set("allocator", "bitmap")
	testFlags.Set("guard-page", "true") // Matches default value.
	testFlags.Set("color", "never")
	testFlags.Set("temporary-page", "4096")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"--debug=true",
		"--allocator=bitmap",
		"--temporary-page=4096",
		"--color=never",
	}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
	opts := c.KernelOptions()
	if opts.Allocator != kernel.BitmapAllocator || opts.TemporaryPage != 4096 || !opts.GuardPage {
		t.Errorf("KernelOptions = %+v", opts)
	}
}

func TestInvalid(t *testing.T) {
	for name, value := range map[string]string{
		"allocator":      "buddy",
		"log-format":     "xml",
		"temporary-page": "0",
		"parallelism":    "0",
	} {
		t.Run(name, func(t *testing.T) {
			testFlags := newFlagSet(t)
			if err := testFlags.Set(name, value); err != nil {
				t.Fatalf("Set(%q, %q) failed: %v", name, value, err)
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags accepted %s=%s", name, value)
			}
		})
	}
	if err := newFlagSet(t).Set("color", "sometimes"); err == nil {
		t.Errorf("color=sometimes accepted")
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootsim.toml")
	content := strings.Join([]string{
		`allocator = "bitmap"`,
		`selftest = true`,
		`temporary-page = 0xdeadb`,
		`parallelism = 2`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	testFlags := newFlagSet(t)
	// Command line flags take precedence over the file.
	if err := testFlags.Parse([]string{"--parallelism=8"}); err != nil {
		t.Fatal(err)
	}
	if err := ApplyFile(testFlags, path); err != nil {
		t.Fatalf("ApplyFile failed: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if c.Allocator != "bitmap" || !c.SelfTest || c.TemporaryPage != 0xdeadb || c.Parallelism != 8 {
		t.Errorf("config after ApplyFile = %+v", c)
	}
}

func TestApplyFileUnknownFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootsim.toml")
	if err := os.WriteFile(path, []byte("frobnicate = true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ApplyFile(newFlagSet(t), path); err == nil {
		t.Errorf("ApplyFile accepted an unknown flag")
	}
}
