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

// Package cli is the main entrypoint for bootsim.
package cli

import (
	"context"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"

	"degrados.dev/degrados/bootsim/cmd"
	"degrados.dev/degrados/bootsim/config"
	"degrados.dev/degrados/bootsim/flag"
	"degrados.dev/degrados/pkg/log"
)

// configFlagName is the flag naming a TOML file with flag defaults.
const configFlagName = "config"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)
	configFile := flag.String(configFlagName, "", "TOML file of flag values. Flags given on the command line win.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *configFile != "" {
		if err := config.ApplyFile(flag.CommandLine, *configFile); err != nil {
			cmd.Fatalf("%v", err)
		}
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	// Set up logging. Console output goes to stdout, so logs to stderr are
	// kept to warnings unless debugging.
	var logFile io.Writer = os.Stderr
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		logFile = f
	} else if !conf.Debug {
		log.SetLevel(log.Warning)
	}
	if conf.Debug {
		log.SetLevel(log.Debug)
	}
	log.SetTarget(newEmitter(conf.LogFormat, logFile))

	const delimString = `**************** bootsim ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// bootsim.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Boot), "")
	cb(new(cmd.Translate), "")
	cb(new(cmd.Dump), "")

	const debugGroup = "debug"
	cb(new(cmd.SelfTest), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
