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

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"degrados.dev/degrados/bootsim/config"
	"degrados.dev/degrados/bootsim/flag"
	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/kernel"
	"degrados.dev/degrados/pkg/memory"
	"degrados.dev/degrados/pkg/paging"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	remap bool
	raw   bool
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print the machine's physical regions and page table mappings"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags] - print physical regions and every present mapping.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.remap, "remap", true, "boot the kernel and dump its tables instead of the bootloader's.")
	f.BoolVar(&d.raw, "raw", false, "print every leaf mapping instead of coalesced ranges.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	m, bootInfo, err := bootMachine(conf)
	if err != nil {
		Fatalf("booting machine: %v", err)
	}
	defer m.Close()

	active := paging.NewActivePageTable(m)
	if d.remap {
		k, err := kernel.Boot(m, bootInfo, conf.KernelOptions())
		if err != nil {
			Fatalf("booting kernel: %v", err)
		}
		defer k.Shutdown()
		active = k.Active
	}

	fmt.Printf("physical regions:\n")
	for _, r := range m.Physical().Regions() {
		fmt.Printf("    %#x-%#x %-6v %s\n", r.Start, r.End, r.Kind, r.Name)
	}
	fmt.Printf("P4 frame: %v\n", active.Frame())
	fmt.Printf("mappings:\n")

	var mappings []paging.Mapping
	active.Walk(func(mp paging.Mapping) bool {
		mappings = append(mappings, mp)
		return true
	})
	if d.raw {
		for _, mp := range mappings {
			fmt.Printf("    %v\n", mp)
		}
	} else {
		writeRanges(os.Stdout, coalesce(mappings))
	}
	tlb := m.TLBStats()
	fmt.Printf("tlb: %d hits, %d misses, %d flushes, %d page flushes\n", tlb.Hits, tlb.Misses, tlb.Flushes, tlb.PageFlushes)
	return subcommands.ExitSuccess
}

// mappingRange is a run of mappings that are contiguous both virtually and
// physically, with the same page size and flags.
type mappingRange struct {
	Start hostarch.Addr
	End   hostarch.Addr
	Phys  memory.PhysAddr
	Size  uint64
	Flags paging.EntryFlags
	Count int
}

// coalesce merges adjacent mappings. The input is in address order, as
// produced by Mapper.Walk.
func coalesce(mappings []paging.Mapping) []mappingRange {
	var out []mappingRange
	for _, mp := range mappings {
		start := mp.Page.StartAddress()
		phys := mp.Frame.StartAddress()
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.End == start && last.Phys+memory.PhysAddr(last.End-last.Start) == phys && last.Size == mp.Size && last.Flags == mp.Flags {
				last.End += hostarch.Addr(mp.Size)
				last.Count++
				continue
			}
		}
		out = append(out, mappingRange{
			Start: start,
			End:   start + hostarch.Addr(mp.Size),
			Phys:  phys,
			Size:  mp.Size,
			Flags: mp.Flags,
			Count: 1,
		})
	}
	return out
}

func writeRanges(w io.Writer, ranges []mappingRange) {
	for _, r := range ranges {
		fmt.Fprintf(w, "    %v-%v -> %v %4d x %-8s %v\n", r.Start, r.End, r.Phys, r.Count, pageSizeName(r.Size), r.Flags)
	}
}

func pageSizeName(size uint64) string {
	switch size {
	case hostarch.HugePageSize:
		return "2M"
	case hostarch.GiantPageSize:
		return "1G"
	default:
		return fmt.Sprintf("%dK", size>>10)
	}
}
