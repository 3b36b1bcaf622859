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

	"github.com/google/subcommands"

	"github.com/cptn-popcorn/user-sgi/usgi/cmd/util"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/flag"
)

// Probe implements subcommands.Command for the "probe" command.
type Probe struct{}

// Name implements subcommands.Command.Name.
func (*Probe) Name() string {
	return "probe"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Probe) Synopsis() string {
	return "bind the device from its device tree node"
}

// Usage implements subcommands.Command.Usage.
func (*Probe) Usage() string {
	return `probe [node] - bind the device from its device tree node.

Without an argument the first compatible node of the daemon's device tree
is used.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Probe) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Probe) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	c := connect(ctx, conf)
	if err := c.Probe(ctx, f.Arg(0)); err != nil {
		util.Fatalf("error probing device: %v", err)
	}
	return subcommands.ExitSuccess
}
