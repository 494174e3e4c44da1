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

package paging

import (
	"fmt"

	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/memory"
)

// DefaultTemporaryPage is the page number used to reach frames that are not
// otherwise mapped. It lies far from the kernel's identity mapping.
const DefaultTemporaryPage Page = 0xcafebabe

// tinyFrames is the number of frames a TemporaryPage may need for the
// P3, P2 and P1 tables on the way to its page.
const tinyFrames = 3

// tinyAllocator holds the frames reserved for a temporary page's tables.
type tinyAllocator struct {
	frames []memory.Frame
}

func newTinyAllocator(alloc memory.FrameAllocator) *tinyAllocator {
	t := &tinyAllocator{frames: make([]memory.Frame, 0, tinyFrames)}
	for i := 0; i < tinyFrames; i++ {
		t.frames = append(t.frames, memory.MustAllocate(alloc))
	}
	return t
}

// AllocateFrame implements memory.FrameAllocator.AllocateFrame.
func (t *tinyAllocator) AllocateFrame() (memory.Frame, bool) {
	if len(t.frames) == 0 {
		return 0, false
	}
	f := t.frames[0]
	t.frames = t.frames[1:]
	return f, true
}

// TemporaryPage maps one frame at a time at a fixed page, for editing
// tables that are not part of the active hierarchy.
type TemporaryPage struct {
	page  Page
	alloc *tinyAllocator
}

// NewTemporaryPage reserves the frames page may need for its tables from
// alloc.
func NewTemporaryPage(page Page, alloc memory.FrameAllocator) *TemporaryPage {
	return &TemporaryPage{
		page:  page,
		alloc: newTinyAllocator(alloc),
	}
}

// Page returns the page frames are mapped at.
func (t *TemporaryPage) Page() Page {
	return t.page
}

// Map maps frame writable at the temporary page in the active table and
// returns its address. It panics if the temporary page is in use.
func (t *TemporaryPage) Map(frame memory.Frame, active *ActivePageTable) hostarch.Addr {
	if _, ok := active.TranslatePage(t.page); ok {
		panic(fmt.Errorf("%w: temporary %v", ErrAlreadyMapped, t.page))
	}
	active.MapTo(t.page, frame, Writable, t.alloc)
	return t.page.StartAddress()
}

// MapTableFrame maps frame and returns it as a table.
func (t *TemporaryPage) MapTableFrame(frame memory.Frame, active *ActivePageTable) *Table {
	return &Table{mem: active.cpu, addr: t.Map(frame, active)}
}

// Unmap removes the temporary mapping.
func (t *TemporaryPage) Unmap(active *ActivePageTable) {
	active.Unmap(t.page, t.alloc)
}
