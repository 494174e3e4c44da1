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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	if !b.IsEmpty() {
		t.Fatalf("new bitmap is not empty")
	}
	for _, i := range []uint32{0, 63, 64, 129} {
		b.Add(i)
	}
	b.Add(64)
	if got := b.GetNumOnes(); got != 4 {
		t.Errorf("GetNumOnes() = %d, want 4", got)
	}
	if diff := cmp.Diff([]uint32{0, 63, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	b.Remove(63)
	b.Remove(63)
	if b.IsSet(63) || !b.IsSet(64) {
		t.Errorf("IsSet after Remove is wrong")
	}
	if got := b.GetNumOnes(); got != 3 {
		t.Errorf("GetNumOnes() = %d, want 3", got)
	}
}

func TestFirstZero(t *testing.T) {
	b := New(100)
	b.AddRange(0, 70)
	got, err := b.FirstZero(0)
	if err != nil || got != 70 {
		t.Fatalf("FirstZero(0) = %d, %v, want 70, nil", got, err)
	}
	b.AddRange(70, 100)
	if _, err := b.FirstZero(0); err == nil {
		t.Fatalf("FirstZero on a full bitmap succeeded")
	}
	b.Remove(99)
	if got, err := b.FirstZero(80); err != nil || got != 99 {
		t.Fatalf("FirstZero(80) = %d, %v, want 99, nil", got, err)
	}
	if _, err := b.FirstZero(100); err == nil {
		t.Fatalf("FirstZero past the end succeeded")
	}
}

func TestAddOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Add past the end did not panic")
		}
	}()
	b := New(10)
	b.Add(10)
}
