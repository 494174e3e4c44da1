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

// Package paging manages the x86_64 4-level page table of the running
// kernel.
//
// The active P4 table maps itself through its last entry, so every table of
// the active hierarchy is reachable at a fixed virtual address computed from
// the page it serves. All table accesses go through virtual memory; nothing
// in this package reads physical memory directly.
package paging

import (
	"errors"

	"degrados.dev/degrados/pkg/hostarch"
)

// Fatal conditions. They are raised with panic, wrapped with context.
var (
	ErrNonCanonical           = errors.New("non-canonical virtual address")
	ErrAlreadyMapped          = errors.New("page already mapped")
	ErrNotMapped              = errors.New("page not mapped")
	ErrHugePageUnsupported    = errors.New("operation not supported on huge pages")
	ErrMisalignedHugePage     = errors.New("misaligned huge page")
	ErrMissingBootTag         = errors.New("boot information tag missing")
	ErrUnalignedSection       = errors.New("kernel section not page aligned")
	ErrRecursiveMappingBroken = errors.New("recursive mapping broken")
	ErrTableConsumed          = errors.New("inactive page table already consumed")
	ErrNestedWith             = errors.New("page table already being edited through With")
)

// Memory is 64-bit access to virtual memory.
type Memory interface {
	// Load64 reads the value at addr. Faults panic.
	Load64(addr hostarch.Addr) uint64

	// Store64 writes the value at addr. Faults panic.
	Store64(addr hostarch.Addr, v uint64)
}

// CPU is the processor state paging needs.
type CPU interface {
	Memory

	// CR3 returns the physical address of the active P4 table.
	CR3() uint64

	// SetCR3 activates another P4 table. This flushes the TLB.
	SetCR3(v uint64)

	// FlushTLB invalidates all cached translations.
	FlushTLB()

	// FlushTLBEntry invalidates the cached translation for addr.
	FlushTLBEntry(addr hostarch.Addr)
}
