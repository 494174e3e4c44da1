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

// InactivePageTable is a P4 table that is not loaded in CR3. It owns its
// frame until handed to ActivePageTable.Switch.
type InactivePageTable struct {
	frame    memory.Frame
	consumed bool
}

// NewInactivePageTable turns frame into an empty P4 table that maps itself
// through its recursive entry. The frame is edited through tmp.
func NewInactivePageTable(frame memory.Frame, active *ActivePageTable, tmp *TemporaryPage) *InactivePageTable {
	table := tmp.MapTableFrame(frame, active)
	table.Zero()
	table.Set(RecursiveIndex, frame, Present|Writable)
	tmp.Unmap(active)
	return &InactivePageTable{frame: frame}
}

// Frame returns the frame holding the P4 table.
func (t *InactivePageTable) Frame() memory.Frame {
	t.mustBeLive()
	return t.frame
}

// String implements fmt.Stringer.String.
func (t *InactivePageTable) String() string {
	if t.consumed {
		return "inactive table (consumed)"
	}
	return fmt.Sprintf("inactive table at %v", t.frame)
}

func (t *InactivePageTable) mustBeLive() {
	if t.consumed {
		panic(fmt.Errorf("%w: table at %v", ErrTableConsumed, t.frame))
	}
}

// take consumes the table and returns its frame.
func (t *InactivePageTable) take() memory.Frame {
	t.mustBeLive()
	t.consumed = true
	return t.frame
}
