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
	"debug/elf"
	"fmt"
	"hash/fnv"

	"degrados.dev/degrados/pkg/cleanup"
	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/log"
	"degrados.dev/degrados/pkg/multiboot"
)

// LoaderName is the bootloader name reported in the boot information.
const LoaderName = "bootsim"

// Boot tables are the P4, P3 and P2 tables, in this order, starting at
// Description.BootTables.
const bootTableFrames = 3

// SectionSignature is the 64-bit value the loader stores at the start of a
// loaded PROGBITS section, so that the kernel image's mapping can be checked.
func SectionSignature(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// Boot builds a machine from the description and performs what a multiboot2
// bootloader does before entering a 64-bit kernel:
//
//   - backs RAM and device regions;
//   - loads the kernel sections;
//   - builds page tables that identity map the first GiB with 2 MiB pages
//     and map the P4 table recursively through its last entry;
//   - writes the boot information on the page following the kernel;
//   - loads CR3.
//
// It returns the machine and the physical address of the boot information.
func Boot(desc *Description) (*Machine, uint64, error) {
	if err := desc.Validate(); err != nil {
		return nil, 0, err
	}
	mem := NewPhysicalMemory()
	cu := cleanup.Make(func() { _ = mem.Close() })
	defer cu.Clean()

	for _, r := range desc.Memory {
		if t, _ := r.AreaType(); t != multiboot.MemoryAvailable {
			continue
		}
		if err := mem.Add(fmt.Sprintf("ram@%#x", r.Base), r.Base, r.Length, RAM); err != nil {
			return nil, 0, err
		}
	}
	for _, dev := range desc.Devices {
		if err := mem.Add(dev.Name, dev.Base, dev.Length, Device); err != nil {
			return nil, 0, err
		}
	}

	var info multiboot.Builder
	info.SetLoaderName(LoaderName)
	info.SetCommandLine(desc.CommandLine)
	for _, s := range desc.Sections {
		h, err := s.Header()
		if err != nil {
			return nil, 0, err
		}
		if err := loadSection(mem, s, h); err != nil {
			return nil, 0, err
		}
		if !desc.OmitElfSections {
			info.AddSection(h)
		}
	}
	if !desc.OmitMemoryMap {
		for _, r := range desc.Memory {
			t, _ := r.AreaType()
			info.AddMemoryArea(multiboot.MemoryArea{Base: r.Base, Length: r.Length, Type: t})
		}
	}

	if err := buildBootTables(mem, desc.BootTables); err != nil {
		return nil, 0, err
	}

	bootInfo := desc.BootInfoAddress()
	if _, err := mem.WriteAt(info.Bytes(), int64(bootInfo)); err != nil {
		return nil, 0, fmt.Errorf("writing boot information at %#x: %w", bootInfo, err)
	}

	m := New(mem)
	m.SetCR3(desc.BootTables)
	cu.Release()
	log.Infof("Machine %q booted: CR3=%#x, boot information at %#x (%d bytes)", desc.Name, desc.BootTables, bootInfo, info.Size())
	return m, bootInfo, nil
}

func loadSection(mem *PhysicalMemory, s Section, h multiboot.ElfSection) error {
	if !h.IsAllocated() || h.Type != elf.SHT_PROGBITS || h.Size < 8 {
		return nil
	}
	if err := mem.Store64(h.Addr, SectionSignature(s.Name)); err != nil {
		return fmt.Errorf("loading section %q: %w", s.Name, err)
	}
	log.Debugf("Loaded section %q at %#x", s.Name, h.Addr)
	return nil
}

func buildBootTables(mem *PhysicalMemory, base uint64) error {
	for i := uint64(0); i < bootTableFrames; i++ {
		if err := mem.ZeroFrame(base + i*hostarch.PageSize); err != nil {
			return fmt.Errorf("boot tables: %w", err)
		}
	}
	p4 := base
	p3 := base + hostarch.PageSize
	p2 := base + 2*hostarch.PageSize
	entries := []struct {
		addr, value uint64
	}{
		{p4 + 0*entrySize, p3 | ptePresent | pteWritable},
		{p4 + (entriesPerTable-1)*entrySize, p4 | ptePresent | pteWritable},
		{p3 + 0*entrySize, p2 | ptePresent | pteWritable},
	}
	for i := uint64(0); i < entriesPerTable; i++ {
		entries = append(entries, struct{ addr, value uint64 }{
			p2 + i*entrySize,
			i*hostarch.HugePageSize | ptePresent | pteWritable | pteHuge,
		})
	}
	for _, e := range entries {
		if err := mem.Store64(e.addr, e.value); err != nil {
			return fmt.Errorf("boot tables: %w", err)
		}
	}
	return nil
}
