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

package log

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %v, expected: %v", i, l, expected[i])
		}
	}
}

func TestMissingNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	n, err := w.Write([]byte("no newline"))
	if err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if n != len("no newline") {
		t.Errorf("Write returned %d, want %d", n, len("no newline"))
	}
	if len(tw.lines) != 1 || tw.lines[0] != "no newline\n" {
		t.Errorf("got writes %q, want one write of %q", tw.lines, "no newline\n")
	}
}

func TestOneWritePerRecord(t *testing.T) {
	tw := &testWriter{}
	w := &Writer{Next: tw}
	for _, e := range []Emitter{w, GoogleEmitter{w}, JSONEmitter{w}} {
		tw.lines = nil
		e.Emit(0, Info, time.Now(), "remapped %d sections", 5)
		if len(tw.lines) != 1 {
			t.Errorf("%T: got %d writes, want 1: %q", e, len(tw.lines), tw.lines)
			continue
		}
		if !strings.HasSuffix(tw.lines[0], "\n") {
			t.Errorf("%T: record %q does not end in a newline", e, tw.lines[0])
		}
	}
}

func TestGoogleEmitter(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 8000, time.UTC)
	e.Emit(0, Warning, ts, "mapped %d frames", 3)
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(tw.lines), tw.lines)
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0304 05:06:07.000008 ") {
		t.Errorf("unexpected header in %q", line)
	}
	if !strings.HasSuffix(line, "] mapped 3 frames\n") {
		t.Errorf("unexpected message in %q", line)
	}
	if !strings.Contains(line, "log_test.go:") {
		t.Errorf("caller missing from %q", line)
	}
}

func TestLevels(t *testing.T) {
	tw := &testWriter{}
	l := BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("hidden")
	l.Infof("shown %d", 1)
	l.Warningf("shown %d", 2)
	if len(tw.lines) != 2 {
		t.Fatalf("got lines %v, want two", tw.lines)
	}
	l.SetLevel(Debug)
	l.Debugf("now shown")
	if len(tw.lines) != 3 || !l.IsLogging(Debug) {
		t.Fatalf("debug message not emitted after SetLevel: %v", tw.lines)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &testWriter{}, &testWriter{}
	m := MultiEmitter{&Writer{Next: a}, &Writer{Next: b}}
	m.Emit(0, Info, time.Now(), "both %s", "targets")
	if len(a.lines) != 1 || len(b.lines) != 1 || a.lines[0] != b.lines[0] {
		t.Errorf("emitters diverged: %v vs %v", a.lines, b.lines)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	l := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}, time.Hour)
	for i := 0; i < 10; i++ {
		l.Warningf("fault %d", i)
	}
	if len(tw.lines) != 1 {
		t.Errorf("rate limited logger emitted %d lines, want 1", len(tw.lines))
	}
}
