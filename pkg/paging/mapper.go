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

// Mapper reads and modifies the table hierarchy reachable through P4Address.
type Mapper struct {
	cpu CPU
	p4  *P4Table
}

func newMapper(cpu CPU) *Mapper {
	return &Mapper{
		cpu: cpu,
		p4:  &P4Table{Table{mem: cpu, addr: P4Address}},
	}
}

// P4 returns the P4 table.
func (m *Mapper) P4() *P4Table {
	return m.p4
}

// Translate returns the physical address addr maps to.
func (m *Mapper) Translate(addr hostarch.Addr) (memory.PhysAddr, bool) {
	frame, ok := m.TranslatePage(PageContaining(addr))
	if !ok {
		return 0, false
	}
	return frame.StartAddress() + memory.PhysAddr(addr.PageOffset()), true
}

// TranslatePage returns the frame page maps to, decoding 1 GiB and 2 MiB
// pages. It panics if a huge page's frame is misaligned.
func (m *Mapper) TranslatePage(page Page) (memory.Frame, bool) {
	p3, ok := m.p4.NextTable(page.P4Index())
	if !ok {
		return 0, false
	}
	if e := p3.At(page.P3Index()); e.Flags().Contains(Present | Huge) {
		start, _ := e.PointedFrame()
		if start.Number()%(EntryCount*EntryCount) != 0 {
			panic(fmt.Errorf("%w: 1 GiB page at %v", ErrMisalignedHugePage, start))
		}
		return start + memory.Frame(page.P2Index()*EntryCount+page.P1Index()), true
	}
	p2, ok := p3.NextTable(page.P3Index())
	if !ok {
		return 0, false
	}
	if e := p2.At(page.P2Index()); e.Flags().Contains(Present | Huge) {
		start, _ := e.PointedFrame()
		if start.Number()%EntryCount != 0 {
			panic(fmt.Errorf("%w: 2 MiB page at %v", ErrMisalignedHugePage, start))
		}
		return start + memory.Frame(page.P1Index()), true
	}
	p1, ok := p2.NextTable(page.P2Index())
	if !ok {
		return 0, false
	}
	return p1.At(page.P1Index()).PointedFrame()
}

// MapTo maps page to frame, creating intermediate tables with alloc. It
// panics if page is already mapped.
func (m *Mapper) MapTo(page Page, frame memory.Frame, flags EntryFlags, alloc memory.FrameAllocator) {
	p3 := m.p4.NextTableCreate(page.P4Index(), alloc)
	p2 := p3.NextTableCreate(page.P3Index(), alloc)
	p1 := p2.NextTableCreate(page.P2Index(), alloc)
	if e := p1.At(page.P1Index()); !e.IsUnused() {
		panic(fmt.Errorf("%w: %v -> %v", ErrAlreadyMapped, page, e))
	}
	p1.Set(page.P1Index(), frame, flags|Present)
}

// Map maps page to a newly allocated frame.
func (m *Mapper) Map(page Page, flags EntryFlags, alloc memory.FrameAllocator) {
	m.MapTo(page, memory.MustAllocate(alloc), flags, alloc)
}

// IdentityMap maps the page with frame's address to frame.
func (m *Mapper) IdentityMap(frame memory.Frame, flags EntryFlags, alloc memory.FrameAllocator) {
	m.MapTo(PageContaining(hostarch.Addr(frame.StartAddress())), frame, flags, alloc)
}

// Unmap removes the mapping of page and flushes it from the TLB. The frame
// and any tables left empty are not returned to alloc. It panics if the page
// is not mapped or is part of a huge page.
func (m *Mapper) Unmap(page Page, alloc memory.FrameAllocator) {
	if _, ok := m.TranslatePage(page); !ok {
		panic(fmt.Errorf("%w: %v", ErrNotMapped, page))
	}
	p3, ok := m.p4.NextTable(page.P4Index())
	if !ok {
		panic(fmt.Errorf("%w: unmapping %v", ErrHugePageUnsupported, page))
	}
	p2, ok := p3.NextTable(page.P3Index())
	if !ok {
		panic(fmt.Errorf("%w: unmapping %v from a 1 GiB page", ErrHugePageUnsupported, page))
	}
	p1, ok := p2.NextTable(page.P2Index())
	if !ok {
		panic(fmt.Errorf("%w: unmapping %v from a 2 MiB page", ErrHugePageUnsupported, page))
	}
	p1.SetUnused(page.P1Index())
	m.cpu.FlushTLBEntry(page.StartAddress())
}

// Mapping is a present leaf entry.
type Mapping struct {
	Page  Page
	Frame memory.Frame

	// Size is the size of the mapping: a page, 2 MiB or 1 GiB.
	Size  uint64
	Flags EntryFlags
}

// String implements fmt.Stringer.String.
func (mp Mapping) String() string {
	return fmt.Sprintf("%v -> %v (%#x) %v", mp.Page.StartAddress(), mp.Frame.StartAddress(), mp.Size, mp.Flags)
}

// Walk calls visit for every present leaf mapping in address order, until
// visit returns false. The recursive entry is skipped.
func (m *Mapper) Walk(visit func(Mapping) bool) {
	for i4 := 0; i4 < RecursiveIndex; i4++ {
		p3, ok := m.p4.NextTable(i4)
		if !ok {
			continue
		}
		if !m.walkP3(p3, i4, visit) {
			return
		}
	}
}

func leaf(e Entry, page Page, size uint64) Mapping {
	frame, _ := e.PointedFrame()
	return Mapping{Page: page, Frame: frame, Size: size, Flags: e.Flags()}
}

func (m *Mapper) walkP3(p3 *P3Table, i4 int, visit func(Mapping) bool) bool {
	for i3 := 0; i3 < EntryCount; i3++ {
		if e := p3.At(i3); e.Flags().Contains(Present | Huge) {
			if !visit(leaf(e, pageOf(i4, i3, 0, 0), hostarch.GiantPageSize)) {
				return false
			}
			continue
		}
		p2, ok := p3.NextTable(i3)
		if !ok {
			continue
		}
		if !m.walkP2(p2, i4, i3, visit) {
			return false
		}
	}
	return true
}

func (m *Mapper) walkP2(p2 *P2Table, i4, i3 int, visit func(Mapping) bool) bool {
	for i2 := 0; i2 < EntryCount; i2++ {
		if e := p2.At(i2); e.Flags().Contains(Present | Huge) {
			if !visit(leaf(e, pageOf(i4, i3, i2, 0), hostarch.HugePageSize)) {
				return false
			}
			continue
		}
		p1, ok := p2.NextTable(i2)
		if !ok {
			continue
		}
		for i1 := 0; i1 < EntryCount; i1++ {
			e := p1.At(i1)
			if !e.Flags().Contains(Present) {
				continue
			}
			if !visit(leaf(e, pageOf(i4, i3, i2, i1), hostarch.PageSize)) {
				return false
			}
		}
	}
	return true
}
