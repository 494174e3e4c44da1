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

	"degrados.dev/degrados/pkg/bitmap"
	"degrados.dev/degrados/pkg/multiboot"
)

// BitmapAllocator tracks every frame below the top of available memory with
// one bit, set when the frame is in use or not RAM. Allocation is first fit
// starting after the most recent allocation.
type BitmapAllocator struct {
	used bitmap.Bitmap
	hint uint32
}

// NewBitmapAllocator creates an allocator over the given areas.
func NewBitmapAllocator(areas []multiboot.MemoryArea, reserved ...FrameSpan) (*BitmapAllocator, error) {
	var top uint64
	for _, area := range areas {
		if area.Type == multiboot.MemoryAvailable && area.EndAddress() > top {
			top = area.EndAddress()
		}
	}
	frames := (top + PageSize - 1) / PageSize
	if frames > uint64(bitmap.MaxBitEntryLimit) {
		return nil, fmt.Errorf("%d frames exceed the bitmap limit", frames)
	}
	n := uint32(frames)
	b := &BitmapAllocator{used: bitmap.New(n)}
	b.used.AddRange(0, n)
	for _, area := range areas {
		if area.Type != multiboot.MemoryAvailable {
			continue
		}
		// Only frames lying wholly inside the area are RAM.
		start := (area.Base + PageSize - 1) / PageSize
		end := area.EndAddress() / PageSize
		for f := start; f < end; f++ {
			b.used.Remove(uint32(f))
		}
	}
	for _, s := range reserved {
		if uint64(s.Start) >= frames {
			continue
		}
		b.used.AddRange(uint32(s.Start), uint32(min(uint64(s.End)+1, frames)))
	}
	return b, nil
}

// AllocateFrame implements FrameAllocator.AllocateFrame.
func (b *BitmapAllocator) AllocateFrame() (Frame, bool) {
	if b.used.Size() == 0 {
		return 0, false
	}
	bit, err := b.used.FirstZero(b.hint)
	if err != nil && b.hint != 0 {
		bit, err = b.used.FirstZero(0)
	}
	if err != nil {
		return 0, false
	}
	b.used.Add(bit)
	b.hint = bit
	return Frame(bit), true
}

// Free returns a frame to the allocator. Freeing a frame that is not
// allocated panics.
func (b *BitmapAllocator) Free(f Frame) {
	if uint64(f) >= uint64(b.used.Size()) || !b.used.IsSet(uint32(f)) {
		panic(fmt.Sprintf("freeing unallocated %v", f))
	}
	b.used.Remove(uint32(f))
}

// IsAllocated returns true if f is in use.
func (b *BitmapAllocator) IsAllocated(f Frame) bool {
	return uint64(f) < uint64(b.used.Size()) && b.used.IsSet(uint32(f))
}

// FreeFrames returns the number of frames still available.
func (b *BitmapAllocator) FreeFrames() uint32 {
	return b.used.Size() - b.used.GetNumOnes()
}
