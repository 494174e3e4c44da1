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
	"degrados.dev/degrados/pkg/log"
	"degrados.dev/degrados/pkg/memory"
)

const (
	// EntryCount is the number of entries in a table.
	EntryCount = 512

	// entrySize is the size of an entry in bytes.
	entrySize = 8

	// RecursiveIndex is the P4 slot that maps the P4 table itself.
	RecursiveIndex = EntryCount - 1

	// P4Address is the virtual address of the active P4 table.
	P4Address hostarch.Addr = 0xffff_ffff_ffff_f000
)

// NextTableAddress returns the virtual address of the table referenced by
// entry index of the table at parent, assuming recursive mapping. The shift
// discards the top index, which is always the recursive one.
func NextTableAddress(parent hostarch.Addr, index int) hostarch.Addr {
	return parent<<9 | hostarch.Addr(index)<<hostarch.PageShift
}

// TableAddress returns the virtual address of the level table (1 through 4)
// that serves page.
func TableAddress(level int, page Page) hostarch.Addr {
	if level < 1 || level > 4 {
		panic(fmt.Sprintf("invalid table level %d", level))
	}
	addr := hostarch.UpperBottom
	for i := 0; i < level; i++ {
		addr |= RecursiveIndex << (39 - 9*i)
	}
	indices := uint64(page) & (1<<36 - 1)
	return addr | hostarch.Addr(indices>>(9*level))<<hostarch.PageShift
}

// Table is a page table of any level, accessed through virtual memory.
type Table struct {
	mem  Memory
	addr hostarch.Addr
}

// Address returns the virtual address the table is accessed at.
func (t *Table) Address() hostarch.Addr {
	return t.addr
}

func (t *Table) entryAddress(i int) hostarch.Addr {
	if i < 0 || i >= EntryCount {
		panic(fmt.Sprintf("table index %d out of range", i))
	}
	return t.addr + hostarch.Addr(i*entrySize)
}

// At returns entry i.
func (t *Table) At(i int) Entry {
	return Entry(t.mem.Load64(t.entryAddress(i)))
}

// Set points entry i at frame. Present is always added to flags.
func (t *Table) Set(i int, frame memory.Frame, flags EntryFlags) {
	t.mem.Store64(t.entryAddress(i), uint64(makeEntry(frame, flags|Present)))
}

// SetUnused clears entry i.
func (t *Table) SetUnused(i int) {
	t.mem.Store64(t.entryAddress(i), 0)
}

// Zero clears every entry.
func (t *Table) Zero() {
	for i := 0; i < EntryCount; i++ {
		t.SetUnused(i)
	}
}

// nextTable returns the address of the child table at entry i, if present.
func (t *Table) nextTable(i int) (*Table, bool) {
	flags := t.At(i).Flags()
	if !flags.Contains(Present) || flags.Contains(Huge) {
		return nil, false
	}
	return &Table{mem: t.mem, addr: NextTableAddress(t.addr, i)}, true
}

// nextTableCreate returns the child table at entry i, allocating and zeroing
// it first if the entry is unused.
func (t *Table) nextTableCreate(i int, alloc memory.FrameAllocator) *Table {
	e := t.At(i)
	if e.Flags().Contains(Huge) {
		panic(fmt.Errorf("%w: creating table under huge entry %d of table %v", ErrHugePageUnsupported, i, t.addr))
	}
	if e.IsUnused() {
		frame := memory.MustAllocate(alloc)
		t.Set(i, frame, Present|Writable)
		child := &Table{mem: t.mem, addr: NextTableAddress(t.addr, i)}
		child.Zero()
		log.Debugf("Created table in %v at %v", frame, child.addr)
		return child
	}
	child, ok := t.nextTable(i)
	if !ok {
		panic(fmt.Sprintf("entry %d of table %v is neither unused nor a table: %v", i, t.addr, e))
	}
	return child
}

// P4Table is a level 4 table.
type P4Table struct{ Table }

// P3Table is a level 3 table. Entries may map 1 GiB pages.
type P3Table struct{ Table }

// P2Table is a level 2 table. Entries may map 2 MiB pages.
type P2Table struct{ Table }

// P1Table is a level 1 table. Its entries map 4 KiB pages and have no
// children.
type P1Table struct{ Table }

// NextTable returns the P3 table at entry i, if present.
func (t *P4Table) NextTable(i int) (*P3Table, bool) {
	c, ok := t.nextTable(i)
	if !ok {
		return nil, false
	}
	return &P3Table{*c}, true
}

// NextTableCreate returns the P3 table at entry i, creating it if needed.
func (t *P4Table) NextTableCreate(i int, alloc memory.FrameAllocator) *P3Table {
	return &P3Table{*t.nextTableCreate(i, alloc)}
}

// NextTable returns the P2 table at entry i, if present and not a huge page.
func (t *P3Table) NextTable(i int) (*P2Table, bool) {
	c, ok := t.nextTable(i)
	if !ok {
		return nil, false
	}
	return &P2Table{*c}, true
}

// NextTableCreate returns the P2 table at entry i, creating it if needed.
func (t *P3Table) NextTableCreate(i int, alloc memory.FrameAllocator) *P2Table {
	return &P2Table{*t.nextTableCreate(i, alloc)}
}

// NextTable returns the P1 table at entry i, if present and not a huge page.
func (t *P2Table) NextTable(i int) (*P1Table, bool) {
	c, ok := t.nextTable(i)
	if !ok {
		return nil, false
	}
	return &P1Table{*c}, true
}

// NextTableCreate returns the P1 table at entry i, creating it if needed.
func (t *P2Table) NextTableCreate(i int, alloc memory.FrameAllocator) *P1Table {
	return &P1Table{*t.nextTableCreate(i, alloc)}
}
