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
	"iter"

	"degrados.dev/degrados/pkg/hostarch"
)

// Page is a virtual page number: a canonical virtual address divided by the
// page size.
type Page uint64

// PageContaining returns the page containing addr. It panics if addr is not
// canonical.
func PageContaining(addr hostarch.Addr) Page {
	if !addr.IsCanonical() {
		panic(fmt.Errorf("%w: %v", ErrNonCanonical, addr))
	}
	return Page(addr / hostarch.PageSize)
}

// pageOf returns the page with the given table indices.
func pageOf(p4, p3, p2, p1 int) Page {
	addr := hostarch.Addr(p4)<<39 | hostarch.Addr(p3)<<30 | hostarch.Addr(p2)<<21 | hostarch.Addr(p1)<<12
	return PageContaining(addr.SignExtend())
}

// StartAddress returns the first virtual address of the page.
func (p Page) StartAddress() hostarch.Addr {
	return hostarch.Addr(p) * hostarch.PageSize
}

// P4Index returns the index of the page's entry in the P4 table.
func (p Page) P4Index() int {
	return int(p>>27) & (EntryCount - 1)
}

// P3Index returns the index of the page's entry in its P3 table.
func (p Page) P3Index() int {
	return int(p>>18) & (EntryCount - 1)
}

// P2Index returns the index of the page's entry in its P2 table.
func (p Page) P2Index() int {
	return int(p>>9) & (EntryCount - 1)
}

// P1Index returns the index of the page's entry in its P1 table.
func (p Page) P1Index() int {
	return int(p) & (EntryCount - 1)
}

// String implements fmt.Stringer.String.
func (p Page) String() string {
	return fmt.Sprintf("page %v", p.StartAddress())
}

// PageRange yields the pages from start to end, both inclusive.
func PageRange(start, end Page) iter.Seq[Page] {
	return func(yield func(Page) bool) {
		if start > end {
			return
		}
		for p := start; ; p++ {
			if !yield(p) || p == end {
				return
			}
		}
	}
}
