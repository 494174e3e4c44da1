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

// Package kernel is the kernel's entry point: it takes over from the
// bootloader, sets up frame allocation and replaces the bootloader's page
// tables with its own.
package kernel

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/log"
	"degrados.dev/degrados/pkg/memory"
	"degrados.dev/degrados/pkg/multiboot"
	"degrados.dev/degrados/pkg/paging"
	"degrados.dev/degrados/pkg/vga"
)

// Machine is the hardware the kernel runs on.
type Machine interface {
	paging.CPU
	io.ReaderAt
	io.WriterAt
}

// Frame allocator kinds.
const (
	AreaAllocator   = "area"
	BitmapAllocator = "bitmap"
)

// Options configures Boot.
type Options struct {
	// Allocator is AreaAllocator (default) or BitmapAllocator.
	Allocator string

	// SelfTest runs the translate and map-unmap scenarios before remapping.
	SelfTest bool

	// PreciseSectionFlags maps kernel sections with their ELF permissions.
	PreciseSectionFlags bool

	// GuardPage unmaps the bootloader's P4 frame after the switch.
	GuardPage bool

	// TemporaryPage overrides paging.DefaultTemporaryPage.
	TemporaryPage paging.Page
}

// ErrAlreadyRunning is returned by Boot while another kernel is running.
var ErrAlreadyRunning = errors.New("a kernel is already running")

// Halt is the error returned when the kernel hits a fatal condition.
type Halt struct {
	// Stage is the boot step that failed.
	Stage string

	// Reason is the fatal error.
	Reason error
}

// Error implements error.Error.
func (h *Halt) Error() string {
	return fmt.Sprintf("kernel halted during %s: %v", h.Stage, h.Reason)
}

// Unwrap returns the fatal error.
func (h *Halt) Unwrap() error {
	return h.Reason
}

// newHalt builds the *Halt for a recovered panic and reports it on out, if
// set.
func newHalt(r any, stage string, out io.Writer) *Halt {
	reason, ok := r.(error)
	if !ok {
		reason = fmt.Errorf("%v", r)
	}
	h := &Halt{Stage: stage, Reason: reason}
	log.Warningf("%v", h)
	if out != nil {
		fmt.Fprintf(out, "\nHALT: %v\n", h)
	}
	return h
}

// Stats describes a boot.
type Stats struct {
	MemoryAreas     []multiboot.MemoryArea
	KernelStart     uint64
	KernelEnd       uint64
	BootInfoStart   uint64
	BootInfoEnd     uint64
	FramesAllocated uint64
	Remap           paging.RemapStats

	// GuardPage is the unmapped page below the kernel stack, if any.
	GuardPage        hostarch.Addr
	VerifiedSections int
}

// Kernel is a booted kernel.
type Kernel struct {
	Active  *paging.ActivePageTable
	Info    *multiboot.Info
	Console *vga.Writer
	Stats   Stats

	alloc *countingAllocator
}

// Allocator returns the kernel's frame allocator.
func (k *Kernel) Allocator() memory.FrameAllocator {
	return k.alloc
}

var (
	mu      sync.Mutex
	running *Kernel
)

// Running returns the running kernel, or nil.
func Running() *Kernel {
	mu.Lock()
	defer mu.Unlock()
	return running
}

// Shutdown releases the running kernel and its console.
func (k *Kernel) Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if running == k {
		running = nil
		vga.Init(nil)
	}
}

// countingAllocator counts frames handed out by the wrapped allocator.
type countingAllocator struct {
	memory.FrameAllocator
	allocated uint64
}

// AllocateFrame implements memory.FrameAllocator.AllocateFrame.
func (c *countingAllocator) AllocateFrame() (memory.Frame, bool) {
	f, ok := c.FrameAllocator.AllocateFrame()
	if ok {
		c.allocated++
	}
	return f, ok
}

// loadBootInfo reads the boot information and checks the tags the kernel
// cannot run without.
func loadBootInfo(m Machine, addr uint64) *multiboot.Info {
	info, err := multiboot.Load(m, addr)
	if err != nil {
		panic(err)
	}
	if !info.HasTag(multiboot.TagMemoryMap) {
		panic(fmt.Errorf("%w: memory map", paging.ErrMissingBootTag))
	}
	if !info.HasTag(multiboot.TagElfSections) {
		panic(fmt.Errorf("%w: ELF sections", paging.ErrMissingBootTag))
	}
	return info
}

// newAllocator returns a frame allocator over the available memory that
// skips the kernel image and the boot information.
func newAllocator(info *multiboot.Info, kind string) *countingAllocator {
	mm, _ := info.MemoryMap()
	reserved, err := memory.BootReservations(info)
	if err != nil {
		panic(err)
	}
	var alloc memory.FrameAllocator
	switch kind {
	case "", AreaAllocator:
		alloc = memory.NewAreaFrameAllocator(mm.Areas(), reserved...)
	case BitmapAllocator:
		b, err := memory.NewBitmapAllocator(mm.Areas(), reserved...)
		if err != nil {
			panic(err)
		}
		alloc = b
	default:
		panic(fmt.Sprintf("unknown frame allocator %q", kind))
	}
	return &countingAllocator{FrameAllocator: alloc}
}

// Boot runs the kernel on m, whose bootloader left the boot information at
// bootInfo. Fatal conditions are returned as *Halt.
func Boot(m Machine, bootInfo uint64, opts Options) (k *Kernel, err error) {
	mu.Lock()
	defer mu.Unlock()
	if running != nil {
		return nil, ErrAlreadyRunning
	}

	var out io.Writer
	stage := "console"
	defer func() {
		if r := recover(); r != nil {
			k, err = nil, newHalt(r, stage, out)
			vga.Init(nil)
		}
	}()

	console := vga.NewWriter(m, vga.BufferAddress)
	if cerr := console.Clear(); cerr != nil {
		panic(cerr)
	}
	vga.Init(console)
	out = console
	vga.Printf("Hello World!\n")

	stage = "boot information"
	info := loadBootInfo(m, bootInfo)
	k = &Kernel{
		Info:    info,
		Console: console,
	}
	reportMemory(info, &k.Stats)

	stage = "frame allocator"
	k.alloc = newAllocator(info, opts.Allocator)
	k.Active = paging.NewActivePageTable(m)

	if opts.SelfTest {
		stage = "self-test"
		env := &ScenarioEnv{Machine: m, Active: k.Active, Alloc: k.alloc, Info: info, Out: console}
		for _, s := range bootScenarios {
			if err := s.Run(env); err != nil {
				panic(fmt.Errorf("scenario %s: %w", s.Name, err))
			}
		}
	}

	stage = "remap"
	old, remap := paging.RemapKernel(k.Active, k.alloc, info, paging.RemapOptions{
		TemporaryPage:       opts.TemporaryPage,
		PreciseSectionFlags: opts.PreciseSectionFlags,
		Regions: []paging.IdentityRegion{{
			Name:       "vga",
			Start:      memory.PhysAddr(vga.BufferAddress),
			End:        memory.PhysAddr(vga.BufferAddress) + vga.BufferSize,
			MemoryType: hostarch.MemoryTypeUncached,
			Writable:   true,
		}},
	})
	k.Stats.Remap = remap
	vga.Printf("NEW TABLE!!!\n")

	if opts.GuardPage {
		stage = "guard page"
		guard := paging.PageContaining(hostarch.Addr(old.Frame().StartAddress()))
		k.Active.Unmap(guard, k.alloc)
		k.Stats.GuardPage = guard.StartAddress()
		vga.Printf("guard page at %v\n", guard.StartAddress())
	}

	stage = "verify"
	k.Stats.VerifiedSections = verify(m, k)
	k.Stats.FramesAllocated = k.alloc.allocated
	vga.Printf("It did not crash!\n")
	log.Infof("Kernel booted: %d sections verified, %d frames allocated", k.Stats.VerifiedSections, k.Stats.FramesAllocated)

	running = k
	return k, nil
}

func reportMemory(info *multiboot.Info, stats *Stats) {
	mm, _ := info.MemoryMap()
	sections, _ := info.ElfSections()
	vga.Printf("memory areas:\n")
	for area := range mm.AvailableAreas() {
		vga.Printf("    start: %#x, length: %#x\n", area.Base, area.Length)
		stats.MemoryAreas = append(stats.MemoryAreas, area)
	}
	stats.KernelStart, _ = sections.KernelStart()
	stats.KernelEnd, _ = sections.KernelEnd()
	stats.BootInfoStart = info.StartAddress()
	stats.BootInfoEnd = info.EndAddress()
	vga.Printf("kernel_start: %#x, kernel_end: %#x\n", stats.KernelStart, stats.KernelEnd)
	vga.Printf("multiboot_start: %#x, multiboot_end: %#x\n", stats.BootInfoStart, stats.BootInfoEnd)
	log.Infof("Kernel image [%#x, %#x), boot information [%#x, %#x)", stats.KernelStart, stats.KernelEnd, stats.BootInfoStart, stats.BootInfoEnd)
}

// verify reads every page of every loaded section through the new tables
// and checks that the guard page faults. It returns the number of sections
// checked.
func verify(m Machine, k *Kernel) int {
	sections, _ := k.Info.ElfSections()
	var buf [8]byte
	n := 0
	for _, s := range sections.Sections() {
		if !s.IsAllocated() || s.Size == 0 {
			continue
		}
		for addr := hostarch.Addr(s.StartAddress()); addr < hostarch.Addr(s.EndAddress()); addr += hostarch.PageSize {
			if k.Stats.GuardPage != 0 && addr == k.Stats.GuardPage {
				continue
			}
			if _, err := m.ReadAt(buf[:], int64(addr)); err != nil {
				panic(fmt.Errorf("section at %#x: %w", s.StartAddress(), err))
			}
		}
		n++
	}
	if k.Stats.GuardPage != 0 {
		if _, err := m.ReadAt(buf[:], int64(k.Stats.GuardPage)); err == nil {
			panic(fmt.Sprintf("guard page %v is readable", k.Stats.GuardPage))
		}
	}
	if _, err := multiboot.Load(m, k.Info.StartAddress()); err != nil {
		panic(fmt.Errorf("boot information unreadable after remap: %w", err))
	}
	return n
}
