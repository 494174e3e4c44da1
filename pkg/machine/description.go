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

package machine

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"degrados.dev/degrados/pkg/bits"
	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/multiboot"
)

// Description describes a machine and the kernel image its bootloader
// loads. It can be read from TOML or YAML.
type Description struct {
	// Name identifies the description in logs.
	Name string `toml:"name" yaml:"name"`

	// Memory is the firmware memory map. Available areas are backed by RAM.
	Memory []MemoryRegion `toml:"memory" yaml:"memory"`

	// Devices are memory-mapped device regions.
	Devices []DeviceRegion `toml:"device" yaml:"devices"`

	// Sections are the kernel image's section headers.
	Sections []Section `toml:"section" yaml:"sections"`

	// BootTables is the physical address of the three frames the
	// bootloader builds its page tables in. It must lie inside a writable
	// allocated section.
	BootTables uint64 `toml:"boot_tables" yaml:"boot_tables"`

	// CommandLine is passed to the kernel in the boot information.
	CommandLine string `toml:"command_line" yaml:"command_line"`

	// OmitMemoryMap and OmitElfSections drop the respective boot
	// information tags.
	OmitMemoryMap   bool `toml:"omit_memory_map" yaml:"omit_memory_map"`
	OmitElfSections bool `toml:"omit_elf_sections" yaml:"omit_elf_sections"`
}

// MemoryRegion is one firmware memory map entry.
type MemoryRegion struct {
	Base   uint64 `toml:"base" yaml:"base"`
	Length uint64 `toml:"length" yaml:"length"`

	// Type is one of "available", "reserved", "acpi", "nvs" or "bad".
	Type string `toml:"type" yaml:"type"`
}

// DeviceRegion is a memory-mapped device.
type DeviceRegion struct {
	Name   string `toml:"name" yaml:"name"`
	Base   uint64 `toml:"base" yaml:"base"`
	Length uint64 `toml:"length" yaml:"length"`
}

// Section is one kernel section header.
type Section struct {
	Name string `toml:"name" yaml:"name"`
	Addr uint64 `toml:"addr" yaml:"addr"`
	Size uint64 `toml:"size" yaml:"size"`

	// Flags uses readelf notation, e.g. "WA" or "AX".
	Flags string `toml:"flags" yaml:"flags"`

	// Type is "progbits" (default), "nobits", "symtab" or "strtab".
	Type string `toml:"type" yaml:"type"`
}

var areaTypes = map[string]multiboot.MemoryAreaType{
	"":          multiboot.MemoryAvailable,
	"available": multiboot.MemoryAvailable,
	"reserved":  multiboot.MemoryReserved,
	"acpi":      multiboot.MemoryACPIReclaimable,
	"nvs":       multiboot.MemoryNVS,
	"bad":       multiboot.MemoryBad,
}

var sectionTypes = map[string]elf.SectionType{
	"":         elf.SHT_PROGBITS,
	"progbits": elf.SHT_PROGBITS,
	"nobits":   elf.SHT_NOBITS,
	"symtab":   elf.SHT_SYMTAB,
	"strtab":   elf.SHT_STRTAB,
}

// AreaType returns the multiboot type of the region.
func (r MemoryRegion) AreaType() (multiboot.MemoryAreaType, error) {
	t, ok := areaTypes[r.Type]
	if !ok {
		return 0, fmt.Errorf("unknown memory type %q", r.Type)
	}
	return t, nil
}

// Header returns the ELF section header for the section.
func (s Section) Header() (multiboot.ElfSection, error) {
	typ, ok := sectionTypes[s.Type]
	if !ok {
		return multiboot.ElfSection{}, fmt.Errorf("section %q: unknown type %q", s.Name, s.Type)
	}
	flags, err := multiboot.ParseSectionFlags(s.Flags)
	if err != nil {
		return multiboot.ElfSection{}, fmt.Errorf("section %q: %w", s.Name, err)
	}
	return multiboot.ElfSection{
		Type:      typ,
		Flags:     flags,
		Addr:      s.Addr,
		Size:      s.Size,
		AddrAlign: hostarch.PageSize,
	}, nil
}

// KernelRange returns the span of the allocated sections.
func (d *Description) KernelRange() (start, end uint64, ok bool) {
	for _, s := range d.Sections {
		h, err := s.Header()
		if err != nil || !h.IsAllocated() {
			continue
		}
		if !ok || h.StartAddress() < start {
			start = h.StartAddress()
		}
		if !ok || h.EndAddress() > end {
			end = h.EndAddress()
		}
		ok = true
	}
	return start, end, ok
}

// BootInfoAddress returns where the bootloader places the boot information:
// the first page after the kernel image.
func (d *Description) BootInfoAddress() uint64 {
	_, end, _ := d.KernelRange()
	return bits.AlignUp(end, hostarch.PageSize)
}

// inRAM returns true if [addr, addr+n) lies inside one available region.
func (d *Description) inRAM(addr, n uint64) bool {
	for _, r := range d.Memory {
		if t, err := r.AreaType(); err != nil || t != multiboot.MemoryAvailable {
			continue
		}
		if addr >= r.Base && addr+n <= r.Base+r.Length {
			return true
		}
	}
	return false
}

// Validate checks the description for consistency.
func (d *Description) Validate() error {
	if len(d.Memory) == 0 {
		return fmt.Errorf("machine %q: no memory", d.Name)
	}
	for _, r := range d.Memory {
		if _, err := r.AreaType(); err != nil {
			return fmt.Errorf("machine %q: memory at %#x: %w", d.Name, r.Base, err)
		}
	}
	for _, dev := range d.Devices {
		if dev.Length == 0 {
			return fmt.Errorf("machine %q: device %q is empty", d.Name, dev.Name)
		}
	}
	var tablesCovered bool
	for _, s := range d.Sections {
		h, err := s.Header()
		if err != nil {
			return fmt.Errorf("machine %q: %w", d.Name, err)
		}
		if !h.IsAllocated() {
			continue
		}
		if !d.inRAM(s.Addr, s.Size) {
			return fmt.Errorf("machine %q: section %q [%#x, %#x) is not in available memory", d.Name, s.Name, s.Addr, s.Addr+s.Size)
		}
		if h.IsWritable() && d.BootTables >= s.Addr && d.BootTables+3*hostarch.PageSize <= s.Addr+s.Size {
			tablesCovered = true
		}
	}
	if _, _, ok := d.KernelRange(); !ok {
		return fmt.Errorf("machine %q: no allocated sections", d.Name)
	}
	if !bits.IsAligned(d.BootTables, hostarch.PageSize) || !tablesCovered {
		return fmt.Errorf("machine %q: boot tables at %#x must be page aligned inside a writable section", d.Name, d.BootTables)
	}
	if !d.inRAM(d.BootInfoAddress(), hostarch.PageSize) {
		return fmt.Errorf("machine %q: no memory for boot information at %#x", d.Name, d.BootInfoAddress())
	}
	return nil
}

// LoadDescription reads a description from a .toml, .yaml or .yml file.
func LoadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := &Description{}
	switch filepath.Ext(path) {
	case ".toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(d)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decoding %q: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(d); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%q: unknown description format %q", path, filepath.Ext(path))
	}
	if d.Name == "" {
		d.Name = filepath.Base(path)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// DefaultDescription returns a small PC: 127 MiB of RAM above 1 MiB, a VGA
// text buffer and a kernel image of the usual shape.
func DefaultDescription() *Description {
	return &Description{
		Name: "default",
		Memory: []MemoryRegion{
			{Base: 0x0, Length: 0x9fc00, Type: "available"},
			{Base: 0x9fc00, Length: 0x400, Type: "reserved"},
			{Base: 0xf0000, Length: 0x10000, Type: "reserved"},
			{Base: 0x100000, Length: 0x7ee0000, Type: "available"},
			{Base: 0xfffc0000, Length: 0x40000, Type: "reserved"},
		},
		Devices: []DeviceRegion{
			{Name: "vga", Base: 0xb8000, Length: 0x8000},
		},
		Sections: []Section{
			{Name: ".multiboot_header", Addr: 0x100000, Size: 0x18, Flags: "A"},
			{Name: ".text", Addr: 0x101000, Size: 0xa3c5, Flags: "AX"},
			{Name: ".rodata", Addr: 0x10c000, Size: 0x2a40, Flags: "A"},
			{Name: ".data", Addr: 0x10f000, Size: 0x890, Flags: "WA"},
			{Name: ".bss", Addr: 0x110000, Size: 0x7000, Flags: "WA", Type: "nobits"},
			{Name: ".symtab", Size: 0x1788, Type: "symtab"},
			{Name: ".strtab", Size: 0x1a2d, Type: "strtab"},
			{Name: ".shstrtab", Size: 0x47, Type: "strtab"},
		},
		BootTables:  0x110000,
		CommandLine: "",
	}
}
