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

package memory

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"degrados.dev/degrados/pkg/multiboot"
)

func testAreas() []multiboot.MemoryArea {
	return []multiboot.MemoryArea{
		{Base: 0x100000, Length: 0x8000, Type: multiboot.MemoryAvailable},
		{Base: 0, Length: 0x3800, Type: multiboot.MemoryAvailable},
		{Base: 0x3800, Length: 0x800, Type: multiboot.MemoryReserved},
	}
}

func drain(a FrameAllocator) []Frame {
	var out []Frame
	for {
		f, ok := a.AllocateFrame()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func TestFrameContaining(t *testing.T) {
	for _, tc := range []struct {
		addr PhysAddr
		want Frame
	}{
		{0, 0},
		{4095, 0},
		{4096, 1},
		{0x10f123, 0x10f},
	} {
		if got := FrameContaining(tc.addr); got != tc.want {
			t.Errorf("FrameContaining(%v) = %v, want %v", tc.addr, got, tc.want)
		}
	}
	if got := Frame(0x10f).StartAddress(); got != 0x10f000 {
		t.Errorf("StartAddress() = %v, want 0x10f000", got)
	}
}

func TestFrameRange(t *testing.T) {
	got := slices.Collect(FrameRange(3, 6))
	if diff := cmp.Diff([]Frame{3, 4, 5, 6}, got); diff != "" {
		t.Errorf("FrameRange(3, 6) mismatch (-want +got):\n%s", diff)
	}
	if got := slices.Collect(FrameRange(5, 5)); len(got) != 1 {
		t.Errorf("FrameRange(5, 5) = %v, want one frame", got)
	}
	if got := slices.Collect(FrameRange(6, 5)); len(got) != 0 {
		t.Errorf("FrameRange(6, 5) = %v, want none", got)
	}
}

func TestAreaFrameAllocator(t *testing.T) {
	kernel := FrameSpan{Start: 0x101, End: 0x102}
	boot := SpanOf(0x1000, 0x1800)
	a := NewAreaFrameAllocator(testAreas(), kernel, boot)
	want := []Frame{0, 2, 3, 0x100, 0x103, 0x104, 0x105, 0x106, 0x107}
	if diff := cmp.Diff(want, drain(a)); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}
	if a.Allocated() != uint64(len(want)) {
		t.Errorf("Allocated() = %d, want %d", a.Allocated(), len(want))
	}
	if _, ok := a.AllocateFrame(); ok {
		t.Errorf("exhausted allocator returned a frame")
	}
}

func TestAreaFrameAllocatorNoAreas(t *testing.T) {
	a := NewAreaFrameAllocator(nil)
	if f, ok := a.AllocateFrame(); ok {
		t.Errorf("AllocateFrame() = %v with no memory", f)
	}
}

func TestBitmapAllocator(t *testing.T) {
	kernel := FrameSpan{Start: 0x101, End: 0x102}
	b, err := NewBitmapAllocator(testAreas(), kernel, SpanOf(0x1000, 0x1800))
	if err != nil {
		t.Fatalf("NewBitmapAllocator: %v", err)
	}
	// Frame 3 straddles the end of the low area and is never handed out.
	if got := b.FreeFrames(); got != 8 {
		t.Errorf("FreeFrames() = %d, want 8", got)
	}
	first := drain(b)
	want := []Frame{0, 2, 0x100, 0x103, 0x104, 0x105, 0x106, 0x107}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}

	b.Free(2)
	if b.IsAllocated(2) {
		t.Errorf("frame 2 still allocated after Free")
	}
	if f, ok := b.AllocateFrame(); !ok || f != 2 {
		t.Errorf("AllocateFrame() after Free = %v, %v, want 2, true", f, ok)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("double Free did not panic")
		}
	}()
	b.Free(2)
	b.Free(2)
}

func TestBitmapAllocatorPartialFrames(t *testing.T) {
	b, err := NewBitmapAllocator([]multiboot.MemoryArea{
		{Base: 0, Length: 0x9fc00, Type: multiboot.MemoryAvailable},
		{Base: 0x9fc00, Length: 0x400, Type: multiboot.MemoryReserved},
		{Base: 0x100800, Length: 0x2000, Type: multiboot.MemoryAvailable},
	})
	if err != nil {
		t.Fatalf("NewBitmapAllocator: %v", err)
	}
	for _, tc := range []struct {
		frame     Frame
		allocated bool
	}{
		{frame: 0x9e, allocated: false},
		{frame: 0x9f, allocated: true},
		{frame: 0x100, allocated: true},
		{frame: 0x101, allocated: false},
		{frame: 0x102, allocated: true},
	} {
		if got := b.IsAllocated(tc.frame); got != tc.allocated {
			t.Errorf("IsAllocated(%v) = %t, want %t", tc.frame, got, tc.allocated)
		}
	}
	if got := b.FreeFrames(); got != 0x9f+1 {
		t.Errorf("FreeFrames() = %d, want %d", got, 0x9f+1)
	}
}

func TestMustAllocate(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrOutOfFrames) {
			t.Errorf("recovered %v, want ErrOutOfFrames", r)
		}
	}()
	MustAllocate(NewAreaFrameAllocator(nil))
}

func TestBootReservations(t *testing.T) {
	var bld multiboot.Builder
	bld.AddSection(multiboot.ElfSection{Flags: 2, Addr: 0x100000, Size: 0x5000})
	bld.AddSection(multiboot.ElfSection{Flags: 3, Addr: 0x105000, Size: 0x1800})
	info, err := multiboot.Parse(0x200000, bld.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := BootReservations(info)
	if err != nil {
		t.Fatalf("BootReservations: %v", err)
	}
	want := []FrameSpan{{Start: 0x100, End: 0x106}, {Start: 0x200, End: 0x200}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BootReservations mismatch (-want +got):\n%s", diff)
	}

	var empty multiboot.Builder
	info, _ = multiboot.Parse(0, empty.Bytes())
	if _, err := BootReservations(info); err == nil {
		t.Errorf("BootReservations without sections succeeded")
	}
}
