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

// Package cmd holds implementations of the bootsim commands.
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"degrados.dev/degrados/bootsim/config"
	"degrados.dev/degrados/pkg/hostarch"
	"degrados.dev/degrados/pkg/log"
	"degrados.dev/degrados/pkg/machine"
)

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(128)
}

// bootMachine loads the configured machine description and runs its
// bootloader. It returns the machine and the boot information address.
func bootMachine(conf *config.Config) (*machine.Machine, uint64, error) {
	desc, err := conf.Description()
	if err != nil {
		return nil, 0, fmt.Errorf("loading machine description: %w", err)
	}
	return machine.Boot(desc)
}

// useColor returns true if console output to f should carry ANSI colors.
func useColor(conf *config.Config, f *os.File) bool {
	switch conf.Color {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	default:
		return term.IsTerminal(int(f.Fd()))
	}
}

// parseAddr parses a virtual address in Go integer syntax, e.g. 0xb8000 or
// 0xffff_ffff_ffff_f000.
func parseAddr(s string) (hostarch.Addr, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return hostarch.Addr(v), nil
}
