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
	"fmt"
	"slices"

	"degrados.dev/degrados/pkg/multiboot"
)

// FrameSpan is an inclusive range of frames that must never be handed out,
// such as the frames holding the kernel image or the boot information.
type FrameSpan struct {
	Start Frame
	End   Frame
}

// Contains returns true if f is within the span.
func (s FrameSpan) Contains(f Frame) bool {
	return s.Start <= f && f <= s.End
}

// String implements fmt.Stringer.String.
func (s FrameSpan) String() string {
	return fmt.Sprintf("[%#x, %#x]", uint64(s.Start), uint64(s.End))
}

// SpanOf returns the frames covering the physical range [start, end).
// end must be greater than start.
func SpanOf(start, end PhysAddr) FrameSpan {
	return FrameSpan{Start: FrameContaining(start), End: FrameContaining(end - 1)}
}

// BootReservations returns the frames occupied by the kernel image and by
// the boot information structure itself.
func BootReservations(info *multiboot.Info) ([]FrameSpan, error) {
	sections, ok := info.ElfSections()
	if !ok {
		return nil, fmt.Errorf("boot information has no ELF sections tag")
	}
	start, ok := sections.KernelStart()
	if !ok {
		return nil, fmt.Errorf("kernel image has no allocated sections")
	}
	end, _ := sections.KernelEnd()
	return []FrameSpan{
		SpanOf(PhysAddr(start), PhysAddr(end)),
		SpanOf(PhysAddr(info.StartAddress()), PhysAddr(info.EndAddress())),
	}, nil
}

// AreaFrameAllocator hands out frames linearly from the available memory
// areas, lowest address first, skipping reserved spans. It never reuses a
// frame.
type AreaFrameAllocator struct {
	nextFree  Frame
	current   int
	areas     []multiboot.MemoryArea
	reserved  []FrameSpan
	allocated uint64
}

// NewAreaFrameAllocator creates an allocator over the given areas.
func NewAreaFrameAllocator(areas []multiboot.MemoryArea, reserved ...FrameSpan) *AreaFrameAllocator {
	a := &AreaFrameAllocator{
		current:  -1,
		reserved: slices.Clone(reserved),
	}
	for _, area := range areas {
		if area.Type == multiboot.MemoryAvailable && area.Length > 0 {
			a.areas = append(a.areas, area)
		}
	}
	a.chooseNextArea()
	return a
}

// AllocateFrame implements FrameAllocator.AllocateFrame.
func (a *AreaFrameAllocator) AllocateFrame() (Frame, bool) {
	for a.current >= 0 {
		frame := a.nextFree
		area := a.areas[a.current]
		if last := FrameContaining(PhysAddr(area.EndAddress() - 1)); frame > last {
			a.chooseNextArea()
			continue
		}
		if span, ok := a.reservedSpan(frame); ok {
			a.nextFree = span.End + 1
			continue
		}
		a.nextFree++
		a.allocated++
		return frame, true
	}
	return 0, false
}

// Allocated returns the number of frames handed out so far.
func (a *AreaFrameAllocator) Allocated() uint64 {
	return a.allocated
}

func (a *AreaFrameAllocator) reservedSpan(f Frame) (FrameSpan, bool) {
	for _, s := range a.reserved {
		if s.Contains(f) {
			return s, true
		}
	}
	return FrameSpan{}, false
}

// chooseNextArea selects the lowest area that still has frames at or above
// nextFree.
func (a *AreaFrameAllocator) chooseNextArea() {
	a.current = -1
	for i, area := range a.areas {
		last := FrameContaining(PhysAddr(area.EndAddress() - 1))
		if last < a.nextFree {
			continue
		}
		if a.current < 0 || area.Base < a.areas[a.current].Base {
			a.current = i
		}
	}
	if a.current < 0 {
		return
	}
	if start := FrameContaining(PhysAddr(a.areas[a.current].Base)); a.nextFree < start {
		a.nextFree = start
	}
}
