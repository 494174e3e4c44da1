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

package paging

import (
	"fmt"

	"degrados.dev/degrados/pkg/memory"
)

// ActivePageTable is the table hierarchy loaded in CR3. Only one may exist
// per CPU.
type ActivePageTable struct {
	Mapper

	// editing is set while With has the recursive entry pointed at an
	// inactive table.
	editing bool
}

// NewActivePageTable returns the active table of cpu. It panics if the
// loaded P4 does not map itself through RecursiveIndex.
func NewActivePageTable(cpu CPU) *ActivePageTable {
	a := &ActivePageTable{Mapper: *newMapper(cpu)}
	a.checkRecursiveMapping()
	return a
}

// Frame returns the frame of the loaded P4 table.
func (a *ActivePageTable) Frame() memory.Frame {
	return memory.FrameContaining(memory.PhysAddr(a.cpu.CR3()))
}

func (a *ActivePageTable) checkRecursiveMapping() {
	want := a.Frame()
	got, ok, fault := a.reachP4()
	switch {
	case fault != nil:
		panic(fmt.Errorf("%w: P4 at %v: %v", ErrRecursiveMappingBroken, want, fault))
	case !ok || got != want:
		panic(fmt.Errorf("%w: P4 at %v is reached at %v", ErrRecursiveMappingBroken, want, got))
	}
}

// reachP4 translates P4Address, capturing the fault if the walk hits one.
func (a *ActivePageTable) reachP4() (frame memory.Frame, ok bool, fault any) {
	defer func() {
		fault = recover()
	}()
	frame, ok = a.TranslatePage(PageContaining(P4Address))
	return frame, ok, nil
}

// With runs body with a Mapper that edits table instead of the active
// hierarchy. The active P4's recursive entry is pointed at table for the
// duration and restored through tmp afterwards. body must not call With or
// Switch on a.
func (a *ActivePageTable) With(table *InactivePageTable, tmp *TemporaryPage, body func(*Mapper)) {
	a.mustNotBeEditing("With")
	table.mustBeLive()
	a.editing = true
	backup := a.Frame()
	p4 := tmp.MapTableFrame(backup, a)

	a.p4.Set(RecursiveIndex, table.frame, Present|Writable)
	a.cpu.FlushTLB()

	body(&a.Mapper)

	p4.Set(RecursiveIndex, backup, Present|Writable)
	a.cpu.FlushTLB()

	tmp.Unmap(a)
	a.editing = false
	a.checkRecursiveMapping()
}

func (a *ActivePageTable) mustNotBeEditing(op string) {
	if a.editing {
		panic(fmt.Errorf("%w: %s called from inside With", ErrNestedWith, op))
	}
}

// Switch loads table into CR3 and returns the previously active table.
// table is consumed and must not be used again.
func (a *ActivePageTable) Switch(table *InactivePageTable) *InactivePageTable {
	a.mustNotBeEditing("Switch")
	next := table.take()
	old := &InactivePageTable{frame: a.Frame()}
	a.cpu.SetCR3(uint64(next.StartAddress()))
	a.checkRecursiveMapping()
	return old
}
