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
	"bytes"
	"debug/elf"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"degrados.dev/degrados/pkg/hostarch"
)

func testSections() []ElfSection {
	return []ElfSection{
		{Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x101000, Size: 0x9000, AddrAlign: 4096},
		{Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Addr: 0x10a000, Size: 0x1234, AddrAlign: 4096},
		{Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: 0x10c000, Size: 0x4000, AddrAlign: 4096},
		{Type: elf.SHT_SYMTAB, Size: 0x800},
	}
}

func testBuilder() *Builder {
	var b Builder
	b.SetLoaderName("bootsim")
	b.SetCommandLine("console=vga")
	b.AddMemoryArea(MemoryArea{Base: 0, Length: 0x9fc00, Type: MemoryAvailable})
	b.AddMemoryArea(MemoryArea{Base: 0x9fc00, Length: 0x400, Type: MemoryReserved})
	b.AddMemoryArea(MemoryArea{Base: 0x100000, Length: 0x7ee0000, Type: MemoryAvailable})
	for _, s := range testSections() {
		b.AddSection(s)
	}
	return &b
}

func TestRoundTrip(t *testing.T) {
	raw := testBuilder().Bytes()
	if len(raw)%8 != 0 {
		t.Fatalf("encoded size %d is not 8-byte aligned", len(raw))
	}
	info, err := Load(bytes.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if info.TotalSize() != len(raw) || info.EndAddress() != uint64(len(raw)) {
		t.Errorf("TotalSize() = %d, EndAddress() = %#x; want %d", info.TotalSize(), info.EndAddress(), len(raw))
	}

	if name, ok := info.LoaderName(); !ok || name != "bootsim" {
		t.Errorf("LoaderName() = %q, %v", name, ok)
	}
	if cmdline, ok := info.CommandLine(); !ok || cmdline != "console=vga" {
		t.Errorf("CommandLine() = %q, %v", cmdline, ok)
	}

	mm, ok := info.MemoryMap()
	if !ok {
		t.Fatalf("memory map tag missing")
	}
	var avail []MemoryArea
	for a := range mm.AvailableAreas() {
		avail = append(avail, a)
	}
	want := []MemoryArea{
		{Base: 0, Length: 0x9fc00, Type: MemoryAvailable},
		{Base: 0x100000, Length: 0x7ee0000, Type: MemoryAvailable},
	}
	if diff := cmp.Diff(want, avail); diff != "" {
		t.Errorf("AvailableAreas() mismatch (-want +got):\n%s", diff)
	}
	if len(mm.Areas()) != 3 {
		t.Errorf("len(Areas()) = %d, want 3", len(mm.Areas()))
	}

	es, ok := info.ElfSections()
	if !ok {
		t.Fatalf("ELF sections tag missing")
	}
	var got []ElfSection
	for i, s := range es.Sections() {
		if i == 0 {
			if s != (ElfSection{}) {
				t.Errorf("section 0 is not the null section: %+v", s)
			}
			continue
		}
		got = append(got, s)
	}
	if diff := cmp.Diff(testSections(), got); diff != "" {
		t.Errorf("Sections() mismatch (-want +got):\n%s", diff)
	}
	if start, ok := es.KernelStart(); !ok || start != 0x101000 {
		t.Errorf("KernelStart() = %#x, %v", start, ok)
	}
	if end, ok := es.KernelEnd(); !ok || end != 0x110000 {
		t.Errorf("KernelEnd() = %#x, %v", end, ok)
	}
}

func TestMissingTags(t *testing.T) {
	var b Builder
	b.SetLoaderName("bootsim")
	info, err := Parse(0x1000, b.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, ok := info.MemoryMap(); ok {
		t.Errorf("MemoryMap() found a tag that was never written")
	}
	if _, ok := info.ElfSections(); ok {
		t.Errorf("ElfSections() found a tag that was never written")
	}
	if info.StartAddress() != 0x1000 {
		t.Errorf("StartAddress() = %#x, want 0x1000", info.StartAddress())
	}
}

func TestMalformed(t *testing.T) {
	good := testBuilder().Bytes()

	truncated := append([]byte(nil), good[:len(good)-8]...)
	// Keep the header consistent so only the missing end tag is detected.
	truncated[0] = byte(len(truncated))
	truncated[1] = byte(len(truncated) >> 8)

	badSize := append([]byte(nil), good...)
	badSize[0]++

	for name, data := range map[string][]byte{
		"short":      {1, 2, 3},
		"no end tag": truncated,
		"size":       badSize,
	} {
		if _, err := Parse(0, data); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: Parse() = %v, want ErrMalformed", name, err)
		}
	}
}

// tagBody returns the offset of the body of the first tag of type t in data.
func tagBody(t *testing.T, data []byte, typ TagType) int {
	t.Helper()
	for off := headerSize; off+tagHeader <= len(data); {
		size := int(hostarch.ByteOrder.Uint32(data[off+4:]))
		if TagType(hostarch.ByteOrder.Uint32(data[off:])) == typ {
			return off + tagHeader
		}
		if size < tagHeader {
			break
		}
		off += (size + tagAlign - 1) &^ (tagAlign - 1)
	}
	t.Fatalf("no tag of type %d", typ)
	return 0
}

func TestMalformedTag(t *testing.T) {
	for _, tc := range []struct {
		name string
		typ  TagType
		// field is the offset in the tag body of the 32-bit entry size.
		field int
	}{
		{name: "memory map entry size", typ: TagMemoryMap, field: 0},
		{name: "section header size", typ: TagElfSections, field: 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data := testBuilder().Bytes()
			hostarch.ByteOrder.PutUint32(data[tagBody(t, data, tc.typ)+tc.field:], 1)
			info, err := Parse(0, data)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("Parse() = %v, %v; want ErrMalformed", info, err)
			}
		})
	}
}

func TestSectionFlags(t *testing.T) {
	for _, s := range []string{"", "A", "WA", "AX", "WAX"} {
		f, err := ParseSectionFlags(s)
		if err != nil {
			t.Fatalf("ParseSectionFlags(%q): %v", s, err)
		}
		if got := (ElfSection{Flags: f}).FlagString(); got != s {
			t.Errorf("FlagString() = %q, want %q", got, s)
		}
	}
	if _, err := ParseSectionFlags("R"); err == nil {
		t.Errorf("ParseSectionFlags(R) succeeded")
	}
}
