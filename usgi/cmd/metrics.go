// Copyright 2026 The user-sgi Authors.
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

	"github.com/cptn-popcorn/user-sgi/usgi/cmd/util"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/flag"
)

// Metrics implements subcommands.Command for the "metrics" command.
type Metrics struct{}

// Name implements subcommands.Command.Name.
func (*Metrics) Name() string {
	return "metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Metrics) Synopsis() string {
	return "print metric data from the daemon"
}

// Usage implements subcommands.Command.Usage.
func (*Metrics) Usage() string {
	return `metrics [name] - print metric data from the daemon.

Without an argument the full Prometheus export is printed. With a metric
name (without the exporter prefix) only that metric's integer value is
printed.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Metrics) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Metrics) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	c := connect(ctx, conf)
	data, err := c.Metrics(ctx)
	if err != nil {
		util.Fatalf("error getting metrics: %v", err)
	}
	if f.NArg() == 1 {
		val, _, err := data.GetPrometheusInteger(conf.ExporterPrefix+f.Arg(0), nil)
		if err != nil {
			util.Fatalf("error reading metric %q: %v", f.Arg(0), err)
		}
		fmt.Println(val)
		return subcommands.ExitSuccess
	}
	os.Stdout.WriteString(string(data))
	return subcommands.ExitSuccess
}
