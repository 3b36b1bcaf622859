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

	"github.com/cptn-popcorn/user-sgi/usgi/boot"
	"github.com/cptn-popcorn/user-sgi/usgi/cmd/util"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/flag"
)

// Run implements subcommands.Command for the "run" command.
type Run struct{}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run the usgi daemon"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run - run the usgi daemon until it is told to stop.

The daemon claims the configured root directory, binds the device from the
device tree (--device-tree) if one describes it, and serves the control
socket (--address) until it receives SIGINT, SIGTERM or SIGQUIT.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Run) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	l, err := boot.New(conf)
	if err != nil {
		return util.Errorf("error initializing daemon: %v", err)
	}
	if err := l.Run(ctx); err != nil {
		return util.Errorf("error running daemon: %v", err)
	}
	return subcommands.ExitSuccess
}
