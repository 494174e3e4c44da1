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

// tlbEntry caches one 4 KiB translation. Huge pages are cached per 4 KiB
// page they are accessed through.
type tlbEntry struct {
	frame    uint64
	writable bool
}

// TLBStats counts translation cache events.
type TLBStats struct {
	Hits        uint64
	Misses      uint64
	Flushes     uint64
	PageFlushes uint64
}

// tlb is the translation lookaside buffer. Entries are never invalidated by
// page table writes, only by explicit flushes and CR3 loads.
type tlb struct {
	entries map[uint64]tlbEntry
	stats   TLBStats
}

func (t *tlb) lookup(page uint64) (tlbEntry, bool) {
	e, ok := t.entries[page]
	if ok {
		t.stats.Hits++
	} else {
		t.stats.Misses++
	}
	return e, ok
}

func (t *tlb) insert(page uint64, e tlbEntry) {
	if t.entries == nil {
		t.entries = make(map[uint64]tlbEntry)
	}
	t.entries[page] = e
}

func (t *tlb) flush() {
	clear(t.entries)
	t.stats.Flushes++
}

func (t *tlb) flushPage(page uint64) {
	delete(t.entries, page)
	t.stats.PageFlushes++
}
