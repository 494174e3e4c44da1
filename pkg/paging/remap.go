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

	"degrados.dev/degrados/pkg/bits"
	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/log"
	"degrados.dev/degrados/pkg/memory"
	"degrados.dev/degrados/pkg/multiboot"
)

// IdentityRegion is a physical range identity mapped by RemapKernel in
// addition to the kernel image.
type IdentityRegion struct {
	Name  string
	Start memory.PhysAddr

	// End is exclusive.
	End        memory.PhysAddr
	MemoryType hostarch.MemoryType
	Writable   bool
}

// RemapOptions configures RemapKernel.
type RemapOptions struct {
	// TemporaryPage is the page used to edit the new table. Zero selects
	// DefaultTemporaryPage.
	TemporaryPage Page

	// PreciseSectionFlags maps read-only sections read-only and data
	// sections non-executable, instead of mapping everything writable.
	PreciseSectionFlags bool

	// Regions are identity mapped after the kernel sections and the boot
	// information. Frames already mapped are skipped.
	Regions []IdentityRegion
}

// RemapStats describes the table built by RemapKernel.
type RemapStats struct {
	Sections      int
	SectionFrames int
	ExtraFrames   int
}

// RemapKernel builds a new table hierarchy that identity maps the kernel
// image, the boot information and opts.Regions, and switches to it. It
// returns the previous table, whose frame is no longer used as a P4.
func RemapKernel(active *ActivePageTable, alloc memory.FrameAllocator, info *multiboot.Info, opts RemapOptions) (*InactivePageTable, RemapStats) {
	sections, ok := info.ElfSections()
	if !ok {
		panic(fmt.Errorf("%w: ELF sections", ErrMissingBootTag))
	}
	page := opts.TemporaryPage
	if page == 0 {
		page = DefaultTemporaryPage
	}
	tmp := NewTemporaryPage(page, alloc)
	table := NewInactivePageTable(memory.MustAllocate(alloc), active, tmp)

	var stats RemapStats
	active.With(table, tmp, func(m *Mapper) {
		for _, s := range sections.Sections() {
			if !s.IsAllocated() || s.Size == 0 {
				continue
			}
			if !bits.IsAligned(s.StartAddress(), hostarch.PageSize) {
				panic(fmt.Errorf("%w: section at %#x", ErrUnalignedSection, s.StartAddress()))
			}
			flags := FlagsForSection(s, opts.PreciseSectionFlags)
			log.Infof("Mapping section at %#x, size %#x, flags %s as %v", s.StartAddress(), s.Size, s.FlagString(), flags)
			start := memory.FrameContaining(memory.PhysAddr(s.StartAddress()))
			end := memory.FrameContaining(memory.PhysAddr(s.EndAddress() - 1))
			for f := range memory.FrameRange(start, end) {
				m.IdentityMap(f, flags, alloc)
				stats.SectionFrames++
			}
			stats.Sections++
		}

		start := memory.FrameContaining(memory.PhysAddr(info.StartAddress()))
		end := memory.FrameContaining(memory.PhysAddr(info.EndAddress() - 1))
		stats.ExtraFrames += identityMapMissing(m, start, end, 0, alloc)
		for _, r := range opts.Regions {
			if r.End <= r.Start {
				continue
			}
			flags := FlagsForMemoryType(r.MemoryType)
			if r.Writable {
				flags |= Writable
			}
			log.Infof("Mapping region %q [%v, %v) as %v", r.Name, r.Start, r.End, flags)
			stats.ExtraFrames += identityMapMissing(m, memory.FrameContaining(r.Start), memory.FrameContaining(r.End-1), flags, alloc)
		}
	})

	old := active.Switch(table)
	log.Infof("Switched to new table; previous P4 at %v", old.frame)
	return old, stats
}

// identityMapMissing identity maps the frames in [start, end] that are not
// mapped yet and returns how many it mapped.
func identityMapMissing(m *Mapper, start, end memory.Frame, flags EntryFlags, alloc memory.FrameAllocator) int {
	n := 0
	for f := range memory.FrameRange(start, end) {
		if _, ok := m.TranslatePage(PageContaining(hostarch.Addr(f.StartAddress()))); ok {
			continue
		}
		m.IdentityMap(f, flags, alloc)
		n++
	}
	return n
}
