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
	"os"

	"github.com/google/subcommands"

	"degrados.dev/degrados/bootsim/config"
	"degrados.dev/degrados/bootsim/flag"
	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/kernel"
	"degrados.dev/degrados/pkg/machine"
	"degrados.dev/degrados/pkg/paging"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct {
	beforeRemap bool
}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses through the kernel's page tables"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate [flags] <addr>... - print the physical address each virtual address maps to.

Addresses use Go integer syntax, e.g. 0xb8000 or 0xffff_ffff_ffff_f000.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Translate) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&t.beforeRemap, "before-remap", false, "translate with the bootloader's tables instead of booting the kernel.")
}

// Execute implements subcommands.Command.Execute.
func (t *Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var addrs []hostarch.Addr
	for _, arg := range f.Args() {
		addr, err := parseAddr(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
		addrs = append(addrs, addr)
	}

	m, bootInfo, err := bootMachine(conf)
	if err != nil {
		Fatalf("booting machine: %v", err)
	}
	defer m.Close()

	var active *paging.ActivePageTable
	if t.beforeRemap {
		active = paging.NewActivePageTable(m)
	} else {
		k, err := kernel.Boot(m, bootInfo, conf.KernelOptions())
		if err != nil {
			Fatalf("booting kernel: %v", err)
		}
		defer k.Shutdown()
		active = k.Active
	}

	for _, addr := range addrs {
		fmt.Printf("%v: %s\n", addr, describeTranslation(&active.Mapper, m, addr))
	}
	return subcommands.ExitSuccess
}

// describeTranslation reports what the mapper makes of addr, cross-checked
// with a hardware walk.
func describeTranslation(mapper *paging.Mapper, m *machine.Machine, addr hostarch.Addr) string {
	if !addr.IsCanonical() {
		return "non-canonical"
	}
	phys, ok := mapper.Translate(addr)
	if !ok {
		return "not mapped"
	}
	mmu, err := m.Translate(addr)
	if err != nil {
		return fmt.Sprintf("%v (mmu: %v)", phys, err)
	}
	if uint64(phys) != mmu {
		return fmt.Sprintf("%v (mmu: %#x)", phys, mmu)
	}
	return phys.String()
}
