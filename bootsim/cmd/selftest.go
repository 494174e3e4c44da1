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
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"degrados.dev/degrados/bootsim/config"
	"degrados.dev/degrados/bootsim/flag"
	"degrados.dev/degrados/pkg/kernel"
	"degrados.dev/degrados/pkg/log"
	"degrados.dev/degrados/pkg/machine"
)

// SelfTest implements subcommands.Command for the "selftest" command.
type SelfTest struct {
	scenarios string
	verbose   bool
}

// Name implements subcommands.Command.Name.
func (*SelfTest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*SelfTest) Synopsis() string {
	return "run the paging scenarios, each on its own machine"
}

// Usage implements subcommands.Command.Usage.
func (*SelfTest) Usage() string {
	return `selftest [flags] - run paging scenarios concurrently.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *SelfTest) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.scenarios, "scenarios", "", "comma separated scenarios to run, default all.")
	f.BoolVar(&s.verbose, "v", false, "print the output of passing scenarios too.")
}

// scenarioResult is the outcome of one scenario.
type scenarioResult struct {
	name   string
	output string
	err    error
}

// Execute implements subcommands.Command.Execute.
func (s *SelfTest) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	scenarios, err := selectScenarios(s.scenarios)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	desc, err := conf.Description()
	if err != nil {
		Fatalf("loading machine description: %v", err)
	}

	results, err := runScenarios(ctx, desc, scenarios, conf.Allocator, conf.Parallelism)
	if err != nil {
		Fatalf("running scenarios: %v", err)
	}

	failed := 0
	for _, r := range results {
		status := "PASS"
		if r.err != nil {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%s\t%s\n", status, r.name)
		if r.err != nil || s.verbose {
			for _, line := range strings.Split(strings.TrimRight(r.output, "\n"), "\n") {
				fmt.Printf("\t%s\n", line)
			}
		}
		if r.err != nil {
			fmt.Printf("\terror: %v\n", r.err)
		}
	}
	if failed > 0 {
		fmt.Printf("%d of %d scenarios failed\n", failed, len(results))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// selectScenarios resolves a comma separated list of scenario names. An
// empty list selects every scenario.
func selectScenarios(names string) ([]kernel.Scenario, error) {
	if names == "" {
		return kernel.Scenarios, nil
	}
	var out []kernel.Scenario
	for _, name := range strings.Split(names, ",") {
		sc, ok := kernel.LookupScenario(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		out = append(out, sc)
	}
	return out, nil
}

// runScenarios boots one machine per scenario and runs them with at most
// parallelism machines alive at once. Scenario failures are reported in the
// results; the returned error is for machines that could not boot.
func runScenarios(ctx context.Context, desc *machine.Description, scenarios []kernel.Scenario, allocator string, parallelism int) ([]scenarioResult, error) {
	results := make([]scenarioResult, len(scenarios))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, sc := range scenarios {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, bootInfo, err := machine.Boot(desc)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", sc.Name, err)
			}
			defer m.Close()

			var out bytes.Buffer
			err = kernel.RunScenario(sc, m, bootInfo, allocator, &out)
			log.Debugf("Scenario %s finished, err: %v", sc.Name, err)
			results[i] = scenarioResult{name: sc.Name, output: out.String(), err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
