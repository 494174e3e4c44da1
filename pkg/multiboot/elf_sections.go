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

package multiboot

import (
	"debug/elf"
	"fmt"
	"iter"
	"strings"

	"degrados.dev/degrados/pkg/hostarch"
)

// sectionHeaderSize is the size of an ELF64 section header.
const sectionHeaderSize = 64

// ElfSection is one section header of the loaded kernel image.
type ElfSection struct {
	NameIndex uint32
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// IsAllocated returns true if the section occupies memory at run time.
func (s ElfSection) IsAllocated() bool {
	return s.Flags&elf.SHF_ALLOC != 0
}

// IsWritable returns true if the section is writable at run time.
func (s ElfSection) IsWritable() bool {
	return s.Flags&elf.SHF_WRITE != 0
}

// IsExecutable returns true if the section contains instructions.
func (s ElfSection) IsExecutable() bool {
	return s.Flags&elf.SHF_EXECINSTR != 0
}

// StartAddress returns the load address of the section.
func (s ElfSection) StartAddress() uint64 {
	return s.Addr
}

// EndAddress returns the address one past the section.
func (s ElfSection) EndAddress() uint64 {
	return s.Addr + s.Size
}

// FlagString renders the flags the way readelf does ("WAX").
func (s ElfSection) FlagString() string {
	var b strings.Builder
	if s.IsWritable() {
		b.WriteByte('W')
	}
	if s.IsAllocated() {
		b.WriteByte('A')
	}
	if s.IsExecutable() {
		b.WriteByte('X')
	}
	return b.String()
}

// ParseSectionFlags is the inverse of FlagString.
func ParseSectionFlags(s string) (elf.SectionFlag, error) {
	var f elf.SectionFlag
	for _, c := range s {
		switch c {
		case 'W', 'w':
			f |= elf.SHF_WRITE
		case 'A', 'a':
			f |= elf.SHF_ALLOC
		case 'X', 'x':
			f |= elf.SHF_EXECINSTR
		default:
			return 0, fmt.Errorf("unknown section flag %q in %q", c, s)
		}
	}
	return f, nil
}

// ElfSectionsTag is the decoded ELF sections tag.
type ElfSectionsTag struct {
	sections []ElfSection

	// StringTableIndex is the index of the section name string table.
	StringTableIndex uint32
}

// Sections yields every section header, including the null section and
// sections that are not loaded.
func (t *ElfSectionsTag) Sections() iter.Seq2[int, ElfSection] {
	return func(yield func(int, ElfSection) bool) {
		for i, s := range t.sections {
			if !yield(i, s) {
				return
			}
		}
	}
}

// Len returns the number of section headers.
func (t *ElfSectionsTag) Len() int {
	return len(t.sections)
}

// KernelStart returns the lowest address of any allocated section.
func (t *ElfSectionsTag) KernelStart() (uint64, bool) {
	var (
		start uint64
		found bool
	)
	for _, s := range t.sections {
		if !s.IsAllocated() {
			continue
		}
		if !found || s.StartAddress() < start {
			start, found = s.StartAddress(), true
		}
	}
	return start, found
}

// KernelEnd returns the address one past the highest allocated section.
func (t *ElfSectionsTag) KernelEnd() (uint64, bool) {
	var (
		end   uint64
		found bool
	)
	for _, s := range t.sections {
		if !s.IsAllocated() {
			continue
		}
		if !found || s.EndAddress() > end {
			end, found = s.EndAddress(), true
		}
	}
	return end, found
}

func parseElfSections(body []byte) (*ElfSectionsTag, error) {
	if len(body) < 12 {
		return nil, fmt.Errorf("%w: ELF sections tag too short", ErrMalformed)
	}
	num := int(hostarch.ByteOrder.Uint32(body[0:]))
	entSize := int(hostarch.ByteOrder.Uint32(body[4:]))
	if entSize < sectionHeaderSize {
		return nil, fmt.Errorf("%w: section header size %d", ErrMalformed, entSize)
	}
	if 12+num*entSize > len(body) {
		return nil, fmt.Errorf("%w: %d sections of %d bytes overrun the tag", ErrMalformed, num, entSize)
	}
	t := &ElfSectionsTag{
		StringTableIndex: hostarch.ByteOrder.Uint32(body[8:]),
		sections:         make([]ElfSection, 0, num),
	}
	for i := 0; i < num; i++ {
		h := body[12+i*entSize:]
		t.sections = append(t.sections, ElfSection{
			NameIndex: hostarch.ByteOrder.Uint32(h[0:]),
			Type:      elf.SectionType(hostarch.ByteOrder.Uint32(h[4:])),
			Flags:     elf.SectionFlag(hostarch.ByteOrder.Uint64(h[8:])),
			Addr:      hostarch.ByteOrder.Uint64(h[16:]),
			Offset:    hostarch.ByteOrder.Uint64(h[24:]),
			Size:      hostarch.ByteOrder.Uint64(h[32:]),
			Link:      hostarch.ByteOrder.Uint32(h[40:]),
			Info:      hostarch.ByteOrder.Uint32(h[44:]),
			AddrAlign: hostarch.ByteOrder.Uint64(h[48:]),
			EntSize:   hostarch.ByteOrder.Uint64(h[56:]),
		})
	}
	return t, nil
}

func (t *ElfSectionsTag) encode() []byte {
	body := make([]byte, 12+sectionHeaderSize*len(t.sections))
	hostarch.ByteOrder.PutUint32(body[0:], uint32(len(t.sections)))
	hostarch.ByteOrder.PutUint32(body[4:], sectionHeaderSize)
	hostarch.ByteOrder.PutUint32(body[8:], t.StringTableIndex)
	for i, s := range t.sections {
		h := body[12+i*sectionHeaderSize:]
		hostarch.ByteOrder.PutUint32(h[0:], s.NameIndex)
		hostarch.ByteOrder.PutUint32(h[4:], uint32(s.Type))
		hostarch.ByteOrder.PutUint64(h[8:], uint64(s.Flags))
		hostarch.ByteOrder.PutUint64(h[16:], s.Addr)
		hostarch.ByteOrder.PutUint64(h[24:], s.Offset)
		hostarch.ByteOrder.PutUint64(h[32:], s.Size)
		hostarch.ByteOrder.PutUint32(h[40:], s.Link)
		hostarch.ByteOrder.PutUint32(h[44:], s.Info)
		hostarch.ByteOrder.PutUint64(h[48:], s.AddrAlign)
		hostarch.ByteOrder.PutUint64(h[56:], s.EntSize)
	}
	return body
}
