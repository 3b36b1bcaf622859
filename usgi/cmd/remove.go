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

// Remove implements subcommands.Command for the "remove" command.
type Remove struct{}

// Name implements subcommands.Command.Name.
func (*Remove) Name() string {
	return "remove"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Remove) Synopsis() string {
	return "tear down the active device"
}

// Usage implements subcommands.Command.Usage.
func (*Remove) Usage() string {
	return `remove - tear down the active device.

Blocked watchers are woken and the count attribute disappears. The interrupt
counter keeps its value; a later probe continues where it stopped.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Remove) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Remove) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	c := connect(ctx, conf)
	if err := c.Remove(ctx); err != nil {
		util.Fatalf("error removing device: %v", err)
	}
	return subcommands.ExitSuccess
}
