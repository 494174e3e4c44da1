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

// Package flag wraps the standard flag package so that commands and config
// share one import.
package flag

import "flag"

// FlagSet is an alias for flag.FlagSet.
type FlagSet = flag.FlagSet

// Flag is an alias for flag.Flag.
type Flag = flag.Flag

// Value is an alias for flag.Value.
type Value = flag.Value

// Error handling modes.
const (
	ContinueOnError = flag.ContinueOnError
	ExitOnError     = flag.ExitOnError
)

// Aliases for the standard flag package functions.
var (
	Bool        = flag.Bool
	CommandLine = flag.CommandLine
	Int         = flag.Int
	Lookup      = flag.Lookup
	NewFlagSet  = flag.NewFlagSet
	Parse       = flag.Parse
	String      = flag.String
	Uint64      = flag.Uint64
	Var         = flag.Var
)

// Get returns the flag's underlying value.
func Get(v flag.Value) any {
	return v.(flag.Getter).Get()
}

// IsSet returns true if the named flag was set explicitly in flagSet.
func IsSet(flagSet *FlagSet, name string) bool {
	set := false
	flagSet.Visit(func(f *Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
