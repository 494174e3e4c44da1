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
	"fmt"
	"io"

	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/memory"
	"degrados.dev/degrados/pkg/multiboot"
	"degrados.dev/degrados/pkg/paging"
)

// ScenarioEnv is what a scenario runs against: the bootloader's tables,
// freshly taken over.
type ScenarioEnv struct {
	Machine Machine
	Active  *paging.ActivePageTable
	Alloc   memory.FrameAllocator
	Info    *multiboot.Info
	Out     io.Writer
}

// Scenario is a named paging check.
type Scenario struct {
	Name string
	Run  func(env *ScenarioEnv) error
}

// Scenarios lists every paging check, in the order they are reported.
var Scenarios = []Scenario{
	{Name: "translate", Run: translateScenario},
	{Name: "map-unmap", Run: mapUnmapScenario},
	{Name: "with", Run: withScenario},
	{Name: "switch", Run: switchScenario},
	{Name: "remap", Run: remapScenario},
}

// bootScenarios run during Boot when Options.SelfTest is set.
var bootScenarios = Scenarios[:2]

// LookupScenario returns the scenario with the given name.
func LookupScenario(name string) (Scenario, bool) {
	for _, s := range Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// RunScenario runs s on a machine fresh out of its bootloader. Fatal
// conditions are returned as *Halt.
func RunScenario(s Scenario, m Machine, bootInfo uint64, allocator string, out io.Writer) (err error) {
	stage := s.Name
	defer func() {
		if r := recover(); r != nil {
			err = newHalt(r, stage, out)
		}
	}()
	info := loadBootInfo(m, bootInfo)
	env := &ScenarioEnv{
		Machine: m,
		Active:  paging.NewActivePageTable(m),
		Alloc:   newAllocator(info, allocator),
		Info:    info,
		Out:     out,
	}
	return s.Run(env)
}

func formatTranslation(phys memory.PhysAddr, ok bool) string {
	if !ok {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", phys)
}

func translateScenario(env *ScenarioEnv) error {
	for _, tc := range []struct {
		addr hostarch.Addr
		ok   bool
	}{
		{0, true},
		{4096, true},
		{512 * 4096, true},
		{300 * 512 * 4096, true},
		{512 * 512 * 4096, false},
		{512*512*4096 - 1, true},
	} {
		phys, ok := env.Active.Translate(tc.addr)
		fmt.Fprintf(env.Out, "translate(%v) = %s\n", tc.addr, formatTranslation(phys, ok))
		if ok != tc.ok || (ok && phys != memory.PhysAddr(tc.addr)) {
			return fmt.Errorf("translate(%v) = %s, want identity=%t", tc.addr, formatTranslation(phys, ok), tc.ok)
		}
	}
	return nil
}

func mapUnmapScenario(env *ScenarioEnv) error {
	// The 42nd P3 entry of the first P4 entry.
	const addr hostarch.Addr = 42 * 512 * 512 * 4096
	page := paging.PageContaining(addr)
	frame := memory.MustAllocate(env.Alloc)
	phys, ok := env.Active.Translate(addr)
	fmt.Fprintf(env.Out, "None = %s, map to %v\n", formatTranslation(phys, ok), frame)
	if ok {
		return fmt.Errorf("%v mapped before MapTo", page)
	}

	env.Active.MapTo(page, frame, 0, env.Alloc)
	phys, ok = env.Active.Translate(addr)
	fmt.Fprintf(env.Out, "Some = %s\n", formatTranslation(phys, ok))
	if !ok || phys != frame.StartAddress() {
		return fmt.Errorf("%v maps to %s after MapTo, want %v", page, formatTranslation(phys, ok), frame.StartAddress())
	}

	next, ok := env.Alloc.AllocateFrame()
	fmt.Fprintf(env.Out, "next free frame: %v\n", next)
	if !ok || next == frame {
		return fmt.Errorf("next allocation returned %v (ok=%t), mapped frame is %v", next, ok, frame)
	}
	fmt.Fprintf(env.Out, "%#x\n", env.Machine.Load64(page.StartAddress()))

	env.Active.Unmap(page, env.Alloc)
	phys, ok = env.Active.Translate(addr)
	fmt.Fprintf(env.Out, "None = %s\n", formatTranslation(phys, ok))
	if ok {
		return fmt.Errorf("%v still mapped after Unmap", page)
	}
	return nil
}

func withScenario(env *ScenarioEnv) error {
	original := env.Active.Frame()
	tmp := paging.NewTemporaryPage(paging.DefaultTemporaryPage, env.Alloc)
	table := paging.NewInactivePageTable(memory.MustAllocate(env.Alloc), env.Active, tmp)
	page := paging.PageContaining(0x4000_0000_0000)
	target := memory.MustAllocate(env.Alloc)

	var inside memory.Frame
	var insideOK bool
	env.Active.With(table, tmp, func(m *paging.Mapper) {
		m.MapTo(page, target, paging.Writable, env.Alloc)
		inside, insideOK = m.TranslatePage(page)
	})
	fmt.Fprintf(env.Out, "inside with: %v -> %v\n", page, inside)
	if !insideOK || inside != target {
		return fmt.Errorf("mapping inside With = %v, want %v", inside, target)
	}
	if f, ok := env.Active.TranslatePage(page); ok {
		return fmt.Errorf("mapping made in the inactive table is active: %v", f)
	}
	if f, _ := env.Active.P4().At(paging.RecursiveIndex).PointedFrame(); f != original {
		return fmt.Errorf("recursive entry points at %v after With, want %v", f, original)
	}
	fmt.Fprintf(env.Out, "recursive entry restored to %v\n", original)
	return nil
}

func switchScenario(env *ScenarioEnv) error {
	original := env.Active.Frame()
	tmp := paging.NewTemporaryPage(paging.DefaultTemporaryPage, env.Alloc)
	frame := memory.MustAllocate(env.Alloc)
	table := paging.NewInactivePageTable(frame, env.Active, tmp)

	old := env.Active.Switch(table)
	fmt.Fprintf(env.Out, "switched from %v to %v\n", old.Frame(), env.Active.Frame())
	if old.Frame() != original || env.Active.Frame() != frame {
		return fmt.Errorf("switch: old %v active %v, want old %v active %v", old.Frame(), env.Active.Frame(), original, frame)
	}
	back := env.Active.Switch(old)
	fmt.Fprintf(env.Out, "switched back from %v to %v\n", back.Frame(), env.Active.Frame())
	if back.Frame() != frame || env.Active.Frame() != original {
		return fmt.Errorf("switch back: got %v active %v, want %v active %v", back.Frame(), env.Active.Frame(), frame, original)
	}
	return nil
}

func remapScenario(env *ScenarioEnv) error {
	old, stats := paging.RemapKernel(env.Active, env.Alloc, env.Info, paging.RemapOptions{})
	fmt.Fprintf(env.Out, "remapped %d sections (%d frames); old table %v\n", stats.Sections, stats.SectionFrames, old.Frame())
	sections, _ := env.Info.ElfSections()
	for _, s := range sections.Sections() {
		if !s.IsAllocated() || s.Size == 0 {
			continue
		}
		for addr := hostarch.Addr(s.StartAddress()); addr < hostarch.Addr(s.EndAddress()); addr += hostarch.PageSize {
			if phys, ok := env.Active.Translate(addr); !ok || phys != memory.PhysAddr(addr) {
				return fmt.Errorf("section page %v maps to %s, want identity", addr, formatTranslation(phys, ok))
			}
		}
	}
	return nil
}
