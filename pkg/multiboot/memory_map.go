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
	"fmt"
	"iter"

	"degrados.dev/degrados/pkg/hostarch"
)

// MemoryAreaType classifies a memory map entry.
type MemoryAreaType uint32

// Memory area types defined by multiboot2.
const (
	MemoryAvailable       MemoryAreaType = 1
	MemoryReserved        MemoryAreaType = 2
	MemoryACPIReclaimable MemoryAreaType = 3
	MemoryNVS             MemoryAreaType = 4
	MemoryBad             MemoryAreaType = 5
)

// String implements fmt.Stringer.String.
func (t MemoryAreaType) String() string {
	switch t {
	case MemoryAvailable:
		return "available"
	case MemoryReserved:
		return "reserved"
	case MemoryACPIReclaimable:
		return "acpi"
	case MemoryNVS:
		return "nvs"
	case MemoryBad:
		return "bad"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// memoryAreaSize is the size of one memory map entry.
const memoryAreaSize = 24

// MemoryArea is one entry of the memory map.
type MemoryArea struct {
	Base   uint64
	Length uint64
	Type   MemoryAreaType
}

// StartAddress returns the first physical address of the area.
func (a MemoryArea) StartAddress() uint64 {
	return a.Base
}

// EndAddress returns the physical address one past the area.
func (a MemoryArea) EndAddress() uint64 {
	return a.Base + a.Length
}

// String implements fmt.Stringer.String.
func (a MemoryArea) String() string {
	return fmt.Sprintf("[%#x, %#x) %v", a.Base, a.EndAddress(), a.Type)
}

// MemoryMapTag is the decoded memory map tag.
type MemoryMapTag struct {
	areas []MemoryArea
}

// Areas returns all entries of the memory map.
func (m *MemoryMapTag) Areas() []MemoryArea {
	return m.areas
}

// AvailableAreas yields the entries usable as RAM.
func (m *MemoryMapTag) AvailableAreas() iter.Seq[MemoryArea] {
	return func(yield func(MemoryArea) bool) {
		for _, a := range m.areas {
			if a.Type != MemoryAvailable || a.Length == 0 {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

func parseMemoryMap(body []byte) (*MemoryMapTag, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: memory map tag too short", ErrMalformed)
	}
	entrySize := int(hostarch.ByteOrder.Uint32(body[0:]))
	if entrySize < memoryAreaSize {
		return nil, fmt.Errorf("%w: memory map entry size %d", ErrMalformed, entrySize)
	}
	m := &MemoryMapTag{}
	for off := 8; off+entrySize <= len(body); off += entrySize {
		e := body[off:]
		m.areas = append(m.areas, MemoryArea{
			Base:   hostarch.ByteOrder.Uint64(e[0:]),
			Length: hostarch.ByteOrder.Uint64(e[8:]),
			Type:   MemoryAreaType(hostarch.ByteOrder.Uint32(e[16:])),
		})
	}
	return m, nil
}

func (m *MemoryMapTag) encode() []byte {
	body := make([]byte, 8+memoryAreaSize*len(m.areas))
	hostarch.ByteOrder.PutUint32(body[0:], memoryAreaSize)
	for i, a := range m.areas {
		e := body[8+i*memoryAreaSize:]
		hostarch.ByteOrder.PutUint64(e[0:], a.Base)
		hostarch.ByteOrder.PutUint64(e[8:], a.Length)
		hostarch.ByteOrder.PutUint32(e[16:], uint32(a.Type))
	}
	return body
}
