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
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{in: `"warning"`, want: Warning},
		{in: `"info"`, want: Info},
		{in: `"debug"`, want: Debug},
		{in: `0`, want: Warning},
		{in: `1`, want: Info},
		{in: `2`, want: Debug},
	} {
		var got Level
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, got, tc.want)
		}
		b, err := json.Marshal(got)
		if err != nil {
			t.Errorf("Marshal(%v) failed: %v", got, err)
		} else if want := `"` + levelNames[got] + `"`; string(b) != want {
			t.Errorf("Marshal(%v) = %s, want %s", got, b, want)
		}
	}
	for _, in := range []string{`3`, `"fatal"`, `-1`} {
		var l Level
		if err := json.Unmarshal([]byte(in), &l); err == nil {
			t.Errorf("Unmarshal(%s) succeeded", in)
		}
	}
	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("Marshal(Level(7)) succeeded")
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)
	e.Emit(0, Info, ts, "mapped %v", "0xb8000")
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(tw.lines), tw.lines)
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("Unmarshal(%q) failed: %v", tw.lines[0], err)
	}
	if !strings.HasPrefix(got.Caller, "json_test.go:") {
		t.Errorf("caller = %q, want json_test.go:<line>", got.Caller)
	}
	want := jsonLog{Msg: "mapped 0xb8000", Level: Info, Time: ts, Caller: got.Caller}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
}
