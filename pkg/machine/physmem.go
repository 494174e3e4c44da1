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
	"errors"
	"fmt"

	"github.com/google/btree"
	"golang.org/x/sys/unix"

	"degrados.dev/degrados/pkg/bits"
	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/log"
)

// ErrBusError is returned for accesses to physical addresses that no region
// backs.
var ErrBusError = errors.New("bus error")

// RegionKind describes what backs a physical region.
type RegionKind int

const (
	// RAM is ordinary memory.
	RAM RegionKind = iota

	// Device is memory-mapped device memory, e.g. the VGA text buffer.
	Device
)

// String implements fmt.Stringer.String.
func (k RegionKind) String() string {
	switch k {
	case RAM:
		return "ram"
	case Device:
		return "device"
	default:
		return fmt.Sprintf("RegionKind(%d)", int(k))
	}
}

// region is one contiguous, page-aligned piece of physical memory. The
// backing store is an anonymous host mapping so that untouched memory costs
// nothing.
type region struct {
	name  string
	kind  RegionKind
	start uint64
	end   uint64
	mem   []byte
}

func (r *region) less(o *region) bool {
	return r.start < o.start
}

// RegionInfo describes a physical region.
type RegionInfo struct {
	Name  string
	Kind  RegionKind
	Start uint64
	End   uint64
}

// PhysicalMemory is the physical address space of a machine.
type PhysicalMemory struct {
	regions *btree.BTreeG[*region]
}

// NewPhysicalMemory returns an empty physical address space.
func NewPhysicalMemory() *PhysicalMemory {
	return &PhysicalMemory{
		regions: btree.NewG(8, (*region).less),
	}
}

// Add backs [base, base+length) rounded out to page boundaries.
func (p *PhysicalMemory) Add(name string, base, length uint64, kind RegionKind) error {
	if length == 0 {
		return fmt.Errorf("region %q is empty", name)
	}
	start := bits.AlignDown(base, hostarch.PageSize)
	end := bits.AlignUp(base+length, hostarch.PageSize)
	if end <= start {
		return fmt.Errorf("region %q [%#x, %#x) wraps", name, base, base+length)
	}
	var conflict *region
	p.regions.Ascend(func(r *region) bool {
		if r.start < end && start < r.end {
			conflict = r
			return false
		}
		return true
	})
	if conflict != nil {
		return fmt.Errorf("region %q [%#x, %#x) overlaps %q [%#x, %#x)", name, start, end, conflict.name, conflict.start, conflict.end)
	}
	mem, err := unix.Mmap(-1, 0, int(end-start), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return fmt.Errorf("backing region %q (%d bytes): %w", name, end-start, err)
	}
	p.regions.ReplaceOrInsert(&region{
		name:  name,
		kind:  kind,
		start: start,
		end:   end,
		mem:   mem,
	})
	log.Debugf("Physical region %q [%#x, %#x) %v", name, start, end, kind)
	return nil
}

// Close releases all backing memory.
func (p *PhysicalMemory) Close() error {
	var firstErr error
	p.regions.Ascend(func(r *region) bool {
		if err := unix.Munmap(r.mem); err != nil && firstErr == nil {
			firstErr = err
		}
		r.mem = nil
		return true
	})
	p.regions.Clear(false)
	return firstErr
}

// Regions returns the regions ordered by address.
func (p *PhysicalMemory) Regions() []RegionInfo {
	var out []RegionInfo
	p.regions.Ascend(func(r *region) bool {
		out = append(out, RegionInfo{Name: r.name, Kind: r.kind, Start: r.start, End: r.end})
		return true
	})
	return out
}

// Contains returns true if [addr, addr+n) is backed by a single region.
func (p *PhysicalMemory) Contains(addr, n uint64) bool {
	_, _, err := p.slice(addr, n)
	return err == nil
}

// slice returns the backing bytes for [addr, addr+n).
func (p *PhysicalMemory) slice(addr, n uint64) (*region, []byte, error) {
	var found *region
	p.regions.DescendLessOrEqual(&region{start: addr}, func(r *region) bool {
		found = r
		return false
	})
	if found == nil || addr >= found.end || n > found.end-addr {
		return nil, nil, fmt.Errorf("%w: [%#x, %#x)", ErrBusError, addr, addr+n)
	}
	off := addr - found.start
	return found, found.mem[off : off+n], nil
}

// ReadAt implements io.ReaderAt over physical addresses.
func (p *PhysicalMemory) ReadAt(b []byte, off int64) (int, error) {
	_, src, err := p.slice(uint64(off), uint64(len(b)))
	if err != nil {
		return 0, err
	}
	return copy(b, src), nil
}

// WriteAt implements io.WriterAt over physical addresses.
func (p *PhysicalMemory) WriteAt(b []byte, off int64) (int, error) {
	_, dst, err := p.slice(uint64(off), uint64(len(b)))
	if err != nil {
		return 0, err
	}
	return copy(dst, b), nil
}

// Load64 reads the 64-bit value at a physical address.
func (p *PhysicalMemory) Load64(addr uint64) (uint64, error) {
	_, src, err := p.slice(addr, 8)
	if err != nil {
		return 0, err
	}
	return hostarch.ByteOrder.Uint64(src), nil
}

// Store64 writes a 64-bit value at a physical address.
func (p *PhysicalMemory) Store64(addr, v uint64) error {
	_, dst, err := p.slice(addr, 8)
	if err != nil {
		return err
	}
	hostarch.ByteOrder.PutUint64(dst, v)
	return nil
}

// ZeroFrame clears the frame at the given page-aligned physical address.
func (p *PhysicalMemory) ZeroFrame(addr uint64) error {
	_, dst, err := p.slice(addr, hostarch.PageSize)
	if err != nil {
		return err
	}
	clear(dst)
	return nil
}
