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

import "degrados.dev/degrados/pkg/hostarch"

// Builder encodes a boot information structure. The simulated bootloader uses
// it the way a real bootloader fills in the structure before jumping to the
// kernel. Tags are only emitted for the parts that were set.
type Builder struct {
	loaderName  string
	commandLine string
	memoryMap   *MemoryMapTag
	sections    *ElfSectionsTag
}

// SetLoaderName sets the bootloader name tag.
func (b *Builder) SetLoaderName(name string) {
	b.loaderName = name
}

// SetCommandLine sets the command line tag.
func (b *Builder) SetCommandLine(cmdline string) {
	b.commandLine = cmdline
}

// AddMemoryArea appends an entry to the memory map tag.
func (b *Builder) AddMemoryArea(a MemoryArea) {
	if b.memoryMap == nil {
		b.memoryMap = &MemoryMapTag{}
	}
	b.memoryMap.areas = append(b.memoryMap.areas, a)
}

// AddSection appends a section header to the ELF sections tag. The first
// call also emits the null section header ELF requires at index 0.
func (b *Builder) AddSection(s ElfSection) {
	if b.sections == nil {
		b.sections = &ElfSectionsTag{sections: []ElfSection{{}}}
	}
	b.sections.sections = append(b.sections.sections, s)
}

// Size returns the size of the encoded structure.
func (b *Builder) Size() int {
	return len(b.Bytes())
}

// Bytes returns the encoded structure.
func (b *Builder) Bytes() []byte {
	out := make([]byte, headerSize)
	if b.loaderName != "" {
		out = appendTag(out, TagLoaderName, append([]byte(b.loaderName), 0))
	}
	if b.commandLine != "" {
		out = appendTag(out, TagCommandLine, append([]byte(b.commandLine), 0))
	}
	if b.memoryMap != nil {
		out = appendTag(out, TagMemoryMap, b.memoryMap.encode())
	}
	if b.sections != nil {
		out = appendTag(out, TagElfSections, b.sections.encode())
	}
	out = appendTag(out, TagEnd, nil)
	hostarch.ByteOrder.PutUint32(out[0:], uint32(len(out)))
	return out
}

func appendTag(out []byte, t TagType, body []byte) []byte {
	var hdr [tagHeader]byte
	hostarch.ByteOrder.PutUint32(hdr[0:], uint32(t))
	hostarch.ByteOrder.PutUint32(hdr[4:], uint32(tagHeader+len(body)))
	out = append(out, hdr[:]...)
	out = append(out, body...)
	for len(out)%tagAlign != 0 {
		out = append(out, 0)
	}
	return out
}
