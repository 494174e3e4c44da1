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

// Package hostarch describes the x86_64 address space the kernel runs in:
// page sizes, canonical address rules and address arithmetic.
package hostarch

import (
	"encoding/binary"
	"fmt"

	"degrados.dev/degrados/pkg/bits"
)

// ByteOrder is the byte order of page-table entries and every other
// multi-byte value in simulated memory.
var ByteOrder = binary.LittleEndian

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page (and of a physical frame).
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the 2 MiB huge page size, mapped
	// directly by a P2 entry.
	HugePageShift = 21

	// HugePageSize is the size of a P2 huge page.
	HugePageSize = 1 << HugePageShift

	// GiantPageShift is the binary log of the 1 GiB page size, mapped
	// directly by a P3 entry.
	GiantPageShift = 30

	// GiantPageSize is the size of a P3 huge page.
	GiantPageSize = 1 << GiantPageShift

	// VirtualAddressBits is the number of implemented virtual address bits
	// with 4-level paging.
	VirtualAddressBits = 48

	// LowerTop is the first non-canonical address above the lower half.
	LowerTop Addr = 1 << (VirtualAddressBits - 1)

	// UpperBottom is the first canonical address of the upper half.
	UpperBottom Addr = 0xffff_8000_0000_0000
)

// Addr represents a virtual address.
type Addr uintptr

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(v))
}

// IsCanonical returns true if v is in canonical form: bits 63 through 47
// are all equal.
func (v Addr) IsCanonical() bool {
	return v < LowerTop || v >= UpperBottom
}

// SignExtend returns v with bit 47 copied into bits 48-63.
func (v Addr) SignExtend() Addr {
	if v&(1<<(VirtualAddressBits-1)) != 0 {
		return v | UpperBottom
	}
	return v &^ UpperBottom
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return bits.AlignDown(v, PageSize)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = bits.AlignUp(v, PageSize)
	ok = addr >= v
	return
}

// MustRoundUp is equivalent to RoundUp, but panics if rounding up wraps
// around.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("hostarch.Addr(%d).RoundUp() wraps", v))
	}
	return addr
}

// HugeRoundDown returns the address rounded down to the nearest huge page
// boundary.
func (v Addr) HugeRoundDown() Addr {
	return bits.AlignDown(v, HugePageSize)
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & (PageSize - 1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength adds the given length to start and returns the result. ok is
// true iff adding the length did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// AddrRange is a range of Addrs.
//
// type AddrRange <=> struct { Start, End Addr }, with End exclusive.
type AddrRange struct {
	Start Addr
	End   Addr
}

// Length returns the length of the range.
func (ar AddrRange) Length() uint64 {
	return uint64(ar.End - ar.Start)
}

// WellFormed returns true if ar.Start <= ar.End.
func (ar AddrRange) WellFormed() bool {
	return ar.Start <= ar.End
}

// Contains returns true if ar contains x.
func (ar AddrRange) Contains(x Addr) bool {
	return ar.Start <= x && x < ar.End
}

// IsPageAligned returns true if both ar.Start and ar.End are page-aligned.
func (ar AddrRange) IsPageAligned() bool {
	return ar.Start.IsPageAligned() && ar.End.IsPageAligned()
}

// String implements fmt.Stringer.String.
func (ar AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uintptr(ar.Start), uintptr(ar.End))
}
