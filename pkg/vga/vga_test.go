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

package vga

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"degrados.dev/degrados/pkg/machine"
)

func newWriter(t *testing.T) *Writer {
	t.Helper()
	m, _, err := machine.Boot(machine.DefaultDescription())
	if err != nil {
		t.Fatalf("machine.Boot failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return NewWriter(m, BufferAddress)
}

func lines(t *testing.T, w *Writer) []string {
	t.Helper()
	l, err := w.Lines()
	if err != nil {
		t.Fatalf("Lines failed: %v", err)
	}
	return l
}

func TestWriteAndScroll(t *testing.T) {
	w := newWriter(t)
	fmt.Fprintf(w, "Hello %s\nworld", "degrados")
	got := lines(t, w)
	want := make([]string, Height)
	want[Height-2] = "Hello degrados"
	want[Height-1] = "world"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("screen mismatch (-want +got):\n%s", diff)
	}

	for i := 0; i < Height+5; i++ {
		fmt.Fprintf(w, "\nline %d", i)
	}
	got = lines(t, w)
	if got[0] != "line 5" || got[Height-1] != fmt.Sprintf("line %d", Height+4) {
		t.Errorf("after scrolling first=%q last=%q", got[0], got[Height-1])
	}
}

func TestWrapAndPlaceholder(t *testing.T) {
	w := newWriter(t)
	fmt.Fprint(w, strings.Repeat("x", Width)+"y\x01")
	got := lines(t, w)
	if got[Height-2] != strings.Repeat("x", Width) {
		t.Errorf("wrapped row = %q", got[Height-2])
	}
	if want := "y\xfe"; got[Height-1] != want {
		t.Errorf("last row = %q, want %q", got[Height-1], want)
	}
}

func TestColors(t *testing.T) {
	w := newWriter(t)
	w.SetColor(Yellow, Blue)
	fmt.Fprint(w, "A")
	screen, err := w.Screen()
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	c := screen[Height-1][0]
	if c.Char != 'A' || c.Color.Foreground() != Yellow || c.Color.Background() != Blue {
		t.Errorf("cell = %+v", c)
	}

	var plain, ansi strings.Builder
	if err := w.Render(&plain, false); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if plain.String() != "A\n" {
		t.Errorf("Render = %q, want %q", plain.String(), "A\n")
	}
	if err := w.Render(&ansi, true); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if want := "\x1b[93mA\x1b[0m\n"; ansi.String() != want {
		t.Errorf("Render(color) = %q, want %q", ansi.String(), want)
	}
}

func TestClear(t *testing.T) {
	w := newWriter(t)
	fmt.Fprint(w, "junk\nmore")
	if err := w.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if diff := cmp.Diff(make([]string, Height), lines(t, w)); diff != "" {
		t.Errorf("screen not blank (-want +got):\n%s", diff)
	}
}

func TestGlobalConsole(t *testing.T) {
	Printf("dropped %d", 1)
	w := newWriter(t)
	Init(w)
	defer Init(nil)
	Printf("status: %s", "ok")
	Println()
	Println("done")
	got := lines(t, w)
	if got[Height-3] != "status: ok" || got[Height-2] != "done" {
		t.Errorf("console rows = %q", got[Height-3:])
	}
	if Console() != w {
		t.Errorf("Console() did not return the installed writer")
	}
}
