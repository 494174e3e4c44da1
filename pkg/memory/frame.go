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

// Package memory manages physical memory: frames and frame allocators.
package memory

import (
	"errors"
	"fmt"
	"iter"

	"degrados.dev/degrados/pkg/hostarch"
)

// PageSize is the size of a physical frame.
const PageSize = hostarch.PageSize

// ErrOutOfFrames is the panic value (wrapped) when an allocation that
// cannot fail finds the allocator exhausted.
var ErrOutOfFrames = errors.New("out of physical frames")

// PhysAddr is a physical address.
type PhysAddr uint64

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// Frame is a physical frame number: a physical address divided by PageSize.
type Frame uint64

// FrameContaining returns the frame containing the given physical address.
func FrameContaining(addr PhysAddr) Frame {
	return Frame(addr / PageSize)
}

// Number returns the frame number.
func (f Frame) Number() uint64 {
	return uint64(f)
}

// StartAddress returns the first physical address of the frame.
func (f Frame) StartAddress() PhysAddr {
	return PhysAddr(f) * PageSize
}

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	return fmt.Sprintf("Frame(%#x)", uint64(f))
}

// FrameRange yields every frame from start to end, both inclusive.
func FrameRange(start, end Frame) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for f := start; f <= end; f++ {
			if !yield(f) {
				return
			}
			if f == ^Frame(0) {
				return
			}
		}
	}
}

// FrameAllocator hands out physical frames. A false result means the
// allocator is exhausted.
type FrameAllocator interface {
	AllocateFrame() (Frame, bool)
}

// MustAllocate allocates a frame from a and panics if none is available.
// Running out of memory during early boot has no recovery path.
func MustAllocate(a FrameAllocator) Frame {
	f, ok := a.AllocateFrame()
	if !ok {
		panic(fmt.Errorf("%w: allocator %T", ErrOutOfFrames, a))
	}
	return f
}
