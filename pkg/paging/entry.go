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
	"strings"

	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/memory"
	"degrados.dev/degrados/pkg/multiboot"
)

// EntryFlags are the flag bits of a page table entry.
type EntryFlags uint64

// Entry flags defined by the architecture.
const (
	Present      EntryFlags = 1 << 0
	Writable     EntryFlags = 1 << 1
	User         EntryFlags = 1 << 2
	WriteThrough EntryFlags = 1 << 3
	NoCache      EntryFlags = 1 << 4
	Accessed     EntryFlags = 1 << 5
	Dirty        EntryFlags = 1 << 6
	Huge         EntryFlags = 1 << 7
	Global       EntryFlags = 1 << 8
	NoExecute    EntryFlags = 1 << 63
)

var flagNames = []struct {
	flag EntryFlags
	name string
}{
	{Present, "PRESENT"},
	{Writable, "WRITABLE"},
	{User, "USER"},
	{WriteThrough, "WRITE_THROUGH"},
	{NoCache, "NO_CACHE"},
	{Accessed, "ACCESSED"},
	{Dirty, "DIRTY"},
	{Huge, "HUGE_PAGE"},
	{Global, "GLOBAL"},
	{NoExecute, "NO_EXECUTE"},
}

// Contains returns true if all of want are set in f.
func (f EntryFlags) Contains(want EntryFlags) bool {
	return f&want == want
}

// String implements fmt.Stringer.String.
func (f EntryFlags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Contains(fn.flag) {
			names = append(names, fn.name)
			f &^= fn.flag
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("%#x", uint64(f)))
	}
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}

// FlagsForMemoryType returns the caching bits selecting t.
func FlagsForMemoryType(t hostarch.MemoryType) EntryFlags {
	switch t {
	case hostarch.MemoryTypeWriteThrough:
		return WriteThrough
	case hostarch.MemoryTypeUncached:
		return NoCache | WriteThrough
	default:
		return 0
	}
}

// FlagsForSection returns the flags a kernel section is mapped with. Unless
// precise is set every section is writable; otherwise only writable
// sections are, and sections without code are not executable.
func FlagsForSection(s multiboot.ElfSection, precise bool) EntryFlags {
	if !precise {
		return Writable
	}
	var flags EntryFlags
	if s.IsWritable() {
		flags |= Writable
	}
	if !s.IsExecutable() {
		flags |= NoExecute
	}
	return flags
}

// addressMask selects the frame address of an entry.
const addressMask = 0x000f_ffff_ffff_f000

// Entry is a page table entry: a frame address and flags.
type Entry uint64

// makeEntry returns an entry pointing at frame.
func makeEntry(frame memory.Frame, flags EntryFlags) Entry {
	return Entry(uint64(frame.StartAddress())&addressMask | uint64(flags))
}

// IsUnused returns true if the entry is zero.
func (e Entry) IsUnused() bool {
	return e == 0
}

// Flags returns the entry's non-address bits.
func (e Entry) Flags() EntryFlags {
	return EntryFlags(e) &^ addressMask
}

// PointedFrame returns the frame the entry points to, if it is present.
func (e Entry) PointedFrame() (memory.Frame, bool) {
	if !e.Flags().Contains(Present) {
		return 0, false
	}
	return memory.FrameContaining(memory.PhysAddr(uint64(e) & addressMask)), true
}

// String implements fmt.Stringer.String.
func (e Entry) String() string {
	if e.IsUnused() {
		return "unused"
	}
	return fmt.Sprintf("%#x %v", uint64(e)&addressMask, e.Flags())
}
