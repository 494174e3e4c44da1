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

// Package machine simulates the parts of an x86_64 machine a kernel's
// virtual memory code talks to: physical memory, the CR3 register, a
// 4-level MMU and its TLB.
//
// Page table entries are interpreted with the hardware bit layout directly;
// the machine knows nothing about how the kernel builds its tables.
package machine

import (
	"errors"
	"fmt"
	"time"

	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/log"
)

// Hardware page table entry bits.
const (
	ptePresent  = 1 << 0
	pteWritable = 1 << 1
	pteHuge     = 1 << 7
	pteAddrMask = 0x000f_ffff_ffff_f000

	entriesPerTable = 512
	entrySize       = 8
)

// ErrPageFault is matched by every *PageFault.
var ErrPageFault = errors.New("page fault")

// PageFault describes a failed translation. Loads and stores through the
// MMU panic with a *PageFault.
type PageFault struct {
	// Addr is the faulting virtual address.
	Addr hostarch.Addr

	// Write is true for store accesses.
	Write bool

	// Present is true for protection violations on a present mapping.
	Present bool

	// Level is the table level whose entry stopped the walk, or 0 if the
	// address was rejected before the walk.
	Level int

	// Reason is a short human readable cause.
	Reason string
}

// Error implements error.Error.
func (f *PageFault) Error() string {
	access := "read"
	if f.Write {
		access = "write"
	}
	return fmt.Sprintf("page fault: %s at %v: %s", access, f.Addr, f.Reason)
}

// Is implements errors.Is.
func (f *PageFault) Is(target error) bool {
	return target == ErrPageFault
}

// faultLog reports faults without flooding the log when a caller probes.
var faultLog = log.BasicRateLimitedLogger(time.Second)

// Machine is a single simulated CPU attached to physical memory.
//
// A Machine is not safe for concurrent use.
type Machine struct {
	mem *PhysicalMemory
	cr3 uint64
	tlb tlb

	// writeProtect mirrors CR0.WP: supervisor writes honor the writable
	// bits.
	writeProtect bool

	faults uint64
}

// New returns a machine using the given physical memory. CR3 is zero until
// loaded.
func New(mem *PhysicalMemory) *Machine {
	return &Machine{
		mem:          mem,
		writeProtect: true,
	}
}

// Physical returns the machine's physical memory.
func (m *Machine) Physical() *PhysicalMemory {
	return m.mem
}

// Close releases the machine's physical memory.
func (m *Machine) Close() error {
	return m.mem.Close()
}

// SetWriteProtect sets whether read-only mappings reject writes.
func (m *Machine) SetWriteProtect(enabled bool) {
	m.writeProtect = enabled
	m.tlb.flush()
}

// CR3 returns the physical address of the active P4 table.
func (m *Machine) CR3() uint64 {
	return m.cr3
}

// SetCR3 loads a new P4 table address and flushes the TLB.
func (m *Machine) SetCR3(v uint64) {
	m.cr3 = v & pteAddrMask
	m.tlb.flush()
}

// FlushTLB invalidates every cached translation.
func (m *Machine) FlushTLB() {
	m.tlb.flush()
}

// FlushTLBEntry invalidates the cached translation of the page containing
// addr.
func (m *Machine) FlushTLBEntry(addr hostarch.Addr) {
	m.tlb.flushPage(uint64(addr.RoundDown()))
}

// TLBStats returns the TLB counters.
func (m *Machine) TLBStats() TLBStats {
	return m.tlb.stats
}

// Faults returns the number of page faults raised so far.
func (m *Machine) Faults() uint64 {
	return m.faults
}

// levelShift returns the shift of the index bits for a level, 1 through 4.
func levelShift(level int) uint {
	return hostarch.PageShift + 9*uint(level-1)
}

// walk translates addr using the page tables only.
func (m *Machine) walk(addr hostarch.Addr, write bool) (frame uint64, writable bool, fault *PageFault) {
	if !addr.IsCanonical() {
		return 0, false, &PageFault{Addr: addr, Write: write, Reason: "non-canonical address"}
	}
	table := m.cr3
	writable = true
	for level := 4; level >= 1; level-- {
		index := (uint64(addr) >> levelShift(level)) % entriesPerTable
		entry, err := m.mem.Load64(table + index*entrySize)
		if err != nil {
			return 0, false, &PageFault{Addr: addr, Write: write, Level: level, Reason: fmt.Sprintf("P%d table at %#x: %v", level, table, err)}
		}
		if entry&ptePresent == 0 {
			return 0, false, &PageFault{Addr: addr, Write: write, Level: level, Reason: fmt.Sprintf("P%d entry %d not present", level, index)}
		}
		writable = writable && entry&pteWritable != 0
		next := entry & pteAddrMask
		switch {
		case level == 1:
			return next, writable, nil
		case entry&pteHuge != 0 && (level == 2 || level == 3):
			size := uint64(1) << levelShift(level)
			offset := uint64(addr) % size
			return (next &^ (size - 1)) + offset&^(hostarch.PageSize-1), writable, nil
		case entry&pteHuge != 0:
			return 0, false, &PageFault{Addr: addr, Write: write, Present: true, Level: level, Reason: "huge bit set in P4 entry"}
		}
		table = next
	}
	panic("unreachable")
}

// access translates addr for a load or store, filling the TLB.
func (m *Machine) access(addr hostarch.Addr, write bool) (uint64, *PageFault) {
	page := uint64(addr.RoundDown())
	e, ok := m.tlb.lookup(page)
	if !ok {
		frame, writable, fault := m.walk(addr, write)
		if fault != nil {
			return 0, m.raise(fault)
		}
		e = tlbEntry{frame: frame, writable: writable}
		m.tlb.insert(page, e)
	}
	if write && m.writeProtect && !e.writable {
		return 0, m.raise(&PageFault{Addr: addr, Write: true, Present: true, Level: 1, Reason: "write to read-only mapping"})
	}
	return e.frame + addr.PageOffset(), nil
}

func (m *Machine) raise(f *PageFault) *PageFault {
	m.faults++
	faultLog.Debugf("%v", f)
	return f
}

// Translate returns the physical address addr maps to under the current
// page tables, bypassing the TLB.
func (m *Machine) Translate(addr hostarch.Addr) (uint64, error) {
	frame, _, fault := m.walk(addr, false)
	if fault != nil {
		return 0, fault
	}
	return frame + addr.PageOffset(), nil
}

// Load64 reads the 64-bit value at a virtual address. It panics with a
// *PageFault if the address is not mapped.
func (m *Machine) Load64(addr hostarch.Addr) uint64 {
	var buf [8]byte
	if _, err := m.ReadAt(buf[:], int64(addr)); err != nil {
		panic(err)
	}
	return hostarch.ByteOrder.Uint64(buf[:])
}

// Store64 writes a 64-bit value at a virtual address. It panics with a
// *PageFault if the address is not mapped writable.
func (m *Machine) Store64(addr hostarch.Addr, v uint64) {
	var buf [8]byte
	hostarch.ByteOrder.PutUint64(buf[:], v)
	if _, err := m.WriteAt(buf[:], int64(addr)); err != nil {
		panic(err)
	}
}

// ReadAt implements io.ReaderAt over virtual addresses.
func (m *Machine) ReadAt(b []byte, off int64) (int, error) {
	return m.copyVirtual(b, hostarch.Addr(off), false)
}

// WriteAt implements io.WriterAt over virtual addresses.
func (m *Machine) WriteAt(b []byte, off int64) (int, error) {
	return m.copyVirtual(b, hostarch.Addr(off), true)
}

func (m *Machine) copyVirtual(b []byte, addr hostarch.Addr, write bool) (int, error) {
	done := 0
	for done < len(b) {
		cur := addr + hostarch.Addr(done)
		phys, fault := m.access(cur, write)
		if fault != nil {
			return done, fault
		}
		n := min(len(b)-done, int(hostarch.PageSize-cur.PageOffset()))
		var err error
		if write {
			_, err = m.mem.WriteAt(b[done:done+n], int64(phys))
		} else {
			_, err = m.mem.ReadAt(b[done:done+n], int64(phys))
		}
		if err != nil {
			return done, fmt.Errorf("access %v -> %#x: %w", cur, phys, err)
		}
		done += n
	}
	return done, nil
}
