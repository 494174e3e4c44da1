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

// Package multiboot decodes the boot information structure a multiboot2
// compliant bootloader hands to the kernel, and encodes it for the simulated
// bootloader.
//
// The structure starts with a fixed 8-byte header (total size, reserved)
// followed by 8-byte aligned tags, each beginning with a 32-bit type and a
// 32-bit size, and is terminated by a tag of type 0 and size 8.
package multiboot

import (
	"errors"
	"fmt"
	"io"

	"degrados.dev/degrados/pkg/hostarch"
)

// TagType identifies a boot information tag.
type TagType uint32

// Tag types used by the kernel.
const (
	TagEnd         TagType = 0
	TagCommandLine TagType = 1
	TagLoaderName  TagType = 2
	TagMemoryMap   TagType = 6
	TagElfSections TagType = 9
)

const (
	headerSize = 8
	tagHeader  = 8
	tagAlign   = 8

	// maxInfoSize bounds the structure so a corrupt header cannot make Load
	// allocate arbitrary amounts of memory.
	maxInfoSize = 1 << 20
)

var (
	// ErrMalformed is returned for structurally invalid boot information.
	ErrMalformed = errors.New("malformed boot information")
)

// Info is a decoded boot information structure.
type Info struct {
	addr uint64
	data []byte
	tags map[TagType][]byte

	memoryMap   *MemoryMapTag
	elfSections *ElfSectionsTag
}

// Load reads the boot information structure at physical address addr from r.
func Load(r io.ReaderAt, addr uint64) (*Info, error) {
	var hdr [headerSize]byte
	if _, err := r.ReadAt(hdr[:], int64(addr)); err != nil {
		return nil, fmt.Errorf("reading boot information header at %#x: %w", addr, err)
	}
	total := hostarch.ByteOrder.Uint32(hdr[0:])
	if total < headerSize+tagHeader || total > maxInfoSize {
		return nil, fmt.Errorf("%w: total size %d", ErrMalformed, total)
	}
	data := make([]byte, total)
	if _, err := r.ReadAt(data, int64(addr)); err != nil {
		return nil, fmt.Errorf("reading boot information at %#x: %w", addr, err)
	}
	return Parse(addr, data)
}

// Parse decodes a boot information structure that was loaded at addr. The
// memory map and ELF sections tags are decoded eagerly, so a present but
// malformed tag fails Parse instead of reading as absent.
func Parse(addr uint64, data []byte) (*Info, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	total := int(hostarch.ByteOrder.Uint32(data[0:]))
	if total != len(data) {
		return nil, fmt.Errorf("%w: header says %d bytes, have %d", ErrMalformed, total, len(data))
	}
	info := &Info{
		addr: addr,
		data: data,
		tags: make(map[TagType][]byte),
	}
	for off := headerSize; ; {
		if off+tagHeader > total {
			return nil, fmt.Errorf("%w: missing end tag", ErrMalformed)
		}
		typ := TagType(hostarch.ByteOrder.Uint32(data[off:]))
		size := int(hostarch.ByteOrder.Uint32(data[off+4:]))
		if size < tagHeader || off+size > total {
			return nil, fmt.Errorf("%w: tag %d at offset %d has size %d", ErrMalformed, typ, off, size)
		}
		if typ == TagEnd {
			break
		}
		if _, ok := info.tags[typ]; !ok {
			info.tags[typ] = data[off+tagHeader : off+size]
		}
		off += (size + tagAlign - 1) &^ (tagAlign - 1)
	}
	if body, ok := info.tags[TagMemoryMap]; ok {
		m, err := parseMemoryMap(body)
		if err != nil {
			return nil, err
		}
		info.memoryMap = m
	}
	if body, ok := info.tags[TagElfSections]; ok {
		s, err := parseElfSections(body)
		if err != nil {
			return nil, err
		}
		info.elfSections = s
	}
	return info, nil
}

// StartAddress returns the physical address of the structure.
func (i *Info) StartAddress() uint64 {
	return i.addr
}

// EndAddress returns the physical address one past the structure.
func (i *Info) EndAddress() uint64 {
	return i.addr + uint64(len(i.data))
}

// TotalSize returns the size of the structure in bytes.
func (i *Info) TotalSize() int {
	return len(i.data)
}

// HasTag returns true if a tag of the given type is present.
func (i *Info) HasTag(t TagType) bool {
	_, ok := i.tags[t]
	return ok
}

// MemoryMap returns the memory map tag, if present.
func (i *Info) MemoryMap() (*MemoryMapTag, bool) {
	return i.memoryMap, i.memoryMap != nil
}

// ElfSections returns the ELF sections tag, if present.
func (i *Info) ElfSections() (*ElfSectionsTag, bool) {
	return i.elfSections, i.elfSections != nil
}

// LoaderName returns the bootloader name tag, if present.
func (i *Info) LoaderName() (string, bool) {
	return i.stringTag(TagLoaderName)
}

// CommandLine returns the kernel command line tag, if present.
func (i *Info) CommandLine() (string, bool) {
	return i.stringTag(TagCommandLine)
}

func (i *Info) stringTag(t TagType) (string, bool) {
	body, ok := i.tags[t]
	if !ok {
		return "", false
	}
	for n, c := range body {
		if c == 0 {
			return string(body[:n]), true
		}
	}
	return string(body), true
}
