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

package kernel

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"degrados.dev/degrados/pkg/machine"
	"degrados.dev/degrados/pkg/multiboot"
	"degrados.dev/degrados/pkg/paging"
	"degrados.dev/degrados/pkg/vga"
)

func newMachine(t *testing.T, desc *machine.Description) (*machine.Machine, uint64) {
	t.Helper()
	m, info, err := machine.Boot(desc)
	if err != nil {
		t.Fatalf("machine.Boot failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, info
}

func screen(t *testing.T, m *machine.Machine) []string {
	t.Helper()
	lines, err := vga.NewWriter(m, vga.BufferAddress).Lines()
	if err != nil {
		t.Fatalf("reading the screen failed: %v", err)
	}
	return lines
}

func TestBoot(t *testing.T) {
	m, info := newMachine(t, machine.DefaultDescription())
	k, err := Boot(m, info, Options{SelfTest: true, GuardPage: true})
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	defer k.Shutdown()

	if Running() != k {
		t.Errorf("Running() did not return the booted kernel")
	}
	want := Stats{
		MemoryAreas: []multiboot.MemoryArea{
			{Base: 0, Length: 0x9fc00, Type: multiboot.MemoryAvailable},
			{Base: 0x100000, Length: 0x7ee0000, Type: multiboot.MemoryAvailable},
		},
		KernelStart:      0x100000,
		KernelEnd:        0x117000,
		BootInfoStart:    0x117000,
		BootInfoEnd:      k.Info.EndAddress(),
		FramesAllocated:  k.Stats.FramesAllocated,
		Remap:            paging.RemapStats{Sections: 5, SectionFrames: 23, ExtraFrames: 2},
		GuardPage:        0x110000,
		VerifiedSections: 5,
	}
	if diff := cmp.Diff(want, k.Stats); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
	if k.Stats.FramesAllocated == 0 {
		t.Errorf("no frames allocated")
	}
	if got := m.CR3(); got == 0x110000 {
		t.Errorf("CR3 still points at the bootloader's tables")
	}

	lines := screen(t, m)
	for _, want := range []string{"Hello World!", "guard page at 0x110000", "It did not crash!", "None = None"} {
		if !slices.Contains(lines, want) {
			t.Errorf("screen lacks %q:\n%s", want, strings.Join(lines, "\n"))
		}
	}
}

func TestBootWhileRunning(t *testing.T) {
	m, info := newMachine(t, machine.DefaultDescription())
	k, err := Boot(m, info, Options{})
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	m2, info2 := newMachine(t, machine.DefaultDescription())
	if _, err := Boot(m2, info2, Options{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Boot: got %v, want ErrAlreadyRunning", err)
	}
	k.Shutdown()
	k2, err := Boot(m2, info2, Options{})
	if err != nil {
		t.Fatalf("Boot after Shutdown failed: %v", err)
	}
	k2.Shutdown()
}

func TestBootAllocators(t *testing.T) {
	for _, alloc := range []string{AreaAllocator, BitmapAllocator} {
		t.Run(alloc, func(t *testing.T) {
			m, info := newMachine(t, machine.DefaultDescription())
			k, err := Boot(m, info, Options{Allocator: alloc, SelfTest: true})
			if err != nil {
				t.Fatalf("Boot failed: %v", err)
			}
			k.Shutdown()
		})
	}
}

func TestBootPreciseSectionFlags(t *testing.T) {
	m, info := newMachine(t, machine.DefaultDescription())
	k, err := Boot(m, info, Options{PreciseSectionFlags: true})
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	defer k.Shutdown()
	if _, err := m.WriteAt([]byte{0}, 0x10c000); !errors.Is(err, machine.ErrPageFault) {
		t.Errorf("write to .rodata: got %v, want page fault", err)
	}
	if _, err := m.WriteAt([]byte{0}, 0x10f000); err != nil {
		t.Errorf("write to .data failed: %v", err)
	}
}

func TestBootHalts(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(d *machine.Description)
		stage  string
		want   error
	}{
		{
			name:   "no memory map",
			mutate: func(d *machine.Description) { d.OmitMemoryMap = true },
			stage:  "boot information",
			want:   paging.ErrMissingBootTag,
		},
		{
			name:   "no ELF sections",
			mutate: func(d *machine.Description) { d.OmitElfSections = true },
			stage:  "boot information",
			want:   paging.ErrMissingBootTag,
		},
		{
			name:   "unaligned section",
			mutate: func(d *machine.Description) { d.Sections[2].Addr = 0x10c100 },
			stage:  "remap",
			want:   paging.ErrUnalignedSection,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			desc := machine.DefaultDescription()
			tc.mutate(desc)
			m, info := newMachine(t, desc)
			k, err := Boot(m, info, Options{})
			if k != nil {
				k.Shutdown()
				t.Fatalf("Boot succeeded")
			}
			var halt *Halt
			if !errors.As(err, &halt) {
				t.Fatalf("Boot returned %v, want *Halt", err)
			}
			if halt.Stage != tc.stage || !errors.Is(err, tc.want) {
				t.Errorf("Boot halted with %v, want %v during %s", err, tc.want, tc.stage)
			}
			if Running() != nil {
				t.Errorf("a halted kernel is running")
			}
		})
	}
}

// corruptMemoryMap overwrites the entry size of the memory map tag in the boot
// information at addr.
func corruptMemoryMap(t *testing.T, m *machine.Machine, addr uint64) {
	t.Helper()
	mem := m.Physical()
	total, err := mem.Load64(addr)
	if err != nil {
		t.Fatalf("reading the boot information header: %v", err)
	}
	end := addr + total&0xffffffff
	for off := addr + 8; off+8 <= end; {
		hdr, err := mem.Load64(off)
		if err != nil {
			t.Fatalf("reading tag at %#x: %v", off, err)
		}
		typ, size := multiboot.TagType(hdr&0xffffffff), hdr>>32
		if typ == multiboot.TagMemoryMap {
			if _, err := mem.WriteAt([]byte{1, 0, 0, 0}, int64(off+8)); err != nil {
				t.Fatalf("writing entry size: %v", err)
			}
			return
		}
		if typ == multiboot.TagEnd || size < 8 {
			break
		}
		off += (size + 7) &^ 7
	}
	t.Fatalf("no memory map tag in the boot information")
}

func TestBootHaltsOnMalformedMemoryMap(t *testing.T) {
	m, info := newMachine(t, machine.DefaultDescription())
	corruptMemoryMap(t, m, info)
	k, err := Boot(m, info, Options{})
	if k != nil {
		k.Shutdown()
		t.Fatalf("Boot succeeded with a malformed memory map")
	}
	var halt *Halt
	if !errors.As(err, &halt) || halt.Stage != "boot information" || !errors.Is(err, multiboot.ErrMalformed) {
		t.Errorf("Boot returned %v, want a halt during boot information wrapping ErrMalformed", err)
	}
}

func TestHaltShownOnConsole(t *testing.T) {
	desc := machine.DefaultDescription()
	desc.OmitMemoryMap = true
	m, info := newMachine(t, desc)
	if _, err := Boot(m, info, Options{}); err == nil {
		t.Fatalf("Boot succeeded")
	}
	text := strings.Join(screen(t, m), "")
	if !strings.Contains(text, "HALT: kernel halted during boot information") {
		t.Errorf("console shows %q, want a halt message", text)
	}
}

func TestScenarios(t *testing.T) {
	for _, s := range Scenarios {
		t.Run(s.Name, func(t *testing.T) {
			m, info := newMachine(t, machine.DefaultDescription())
			var out bytes.Buffer
			if err := RunScenario(s, m, info, AreaAllocator, &out); err != nil {
				t.Fatalf("RunScenario failed: %v\n%s", err, out.String())
			}
			if out.Len() == 0 {
				t.Errorf("scenario printed nothing")
			}
		})
	}
	if _, ok := LookupScenario("map-unmap"); !ok {
		t.Errorf("LookupScenario(map-unmap) failed")
	}
	if _, ok := LookupScenario("nope"); ok {
		t.Errorf("LookupScenario(nope) succeeded")
	}
}

func TestScenarioHalts(t *testing.T) {
	desc := machine.DefaultDescription()
	desc.OmitElfSections = true
	m, info := newMachine(t, desc)
	s, _ := LookupScenario("remap")
	var out bytes.Buffer
	err := RunScenario(s, m, info, AreaAllocator, &out)
	var halt *Halt
	if !errors.As(err, &halt) || halt.Stage != "remap" || !errors.Is(err, paging.ErrMissingBootTag) {
		t.Errorf("RunScenario = %v, want halt in remap with ErrMissingBootTag", err)
	}
	if !strings.Contains(out.String(), "HALT") {
		t.Errorf("halt not reported: %q", out.String())
	}
}
