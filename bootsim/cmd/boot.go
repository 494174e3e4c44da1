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
	"errors"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"degrados.dev/degrados/bootsim/config"
	"degrados.dev/degrados/bootsim/flag"
	"degrados.dev/degrados/pkg/kernel"
	"degrados.dev/degrados/pkg/log"
	"degrados.dev/degrados/pkg/machine"
	"degrados.dev/degrados/pkg/vga"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// stats prints the boot statistics after the console.
	stats bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel on a simulated machine and show its console"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot the kernel and print the VGA console.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.stats, "stats", true, "print boot statistics after the console.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	k, err := kernel.Boot(m, bootInfo, conf.KernelOptions())
	color := useColor(conf, os.Stdout)
	if err != nil {
		var halt *kernel.Halt
		if !errors.As(err, &halt) {
			Fatalf("booting kernel: %v", err)
		}
		// The console is still readable unless the halt broke the mappings
		// of the buffer itself.
		if rerr := vga.NewWriter(m, vga.BufferAddress).Render(os.Stdout, color); rerr != nil {
			log.Warningf("Rendering console after halt: %v", rerr)
		}
		fmt.Fprintf(os.Stderr, "%v\n", halt)
		return subcommands.ExitFailure
	}
	defer k.Shutdown()

	if err := k.Console.Render(os.Stdout, color); err != nil {
		Fatalf("rendering console: %v", err)
	}
	if b.stats {
		printStats(k.Stats, m.TLBStats(), m.Faults())
	}
	return subcommands.ExitSuccess
}

func printStats(s kernel.Stats, tlb machine.TLBStats, faults uint64) {
	fmt.Printf("\nmemory areas:\n")
	for _, a := range s.MemoryAreas {
		fmt.Printf("    %v\n", a)
	}
	fmt.Printf("kernel:           %#x-%#x\n", s.KernelStart, s.KernelEnd)
	fmt.Printf("boot information: %#x-%#x\n", s.BootInfoStart, s.BootInfoEnd)
	fmt.Printf("frames allocated: %d\n", s.FramesAllocated)
	fmt.Printf("remap:            %d sections, %d section frames, %d extra frames\n", s.Remap.Sections, s.Remap.SectionFrames, s.Remap.ExtraFrames)
	if s.GuardPage != 0 {
		fmt.Printf("guard page:       %v\n", s.GuardPage)
	}
	fmt.Printf("verified:         %d sections\n", s.VerifiedSections)
	fmt.Printf("tlb:              %d hits, %d misses, %d flushes, %d page flushes\n", tlb.Hits, tlb.Misses, tlb.Flushes, tlb.PageFlushes)
	fmt.Printf("page faults:      %d\n", faults)
}
