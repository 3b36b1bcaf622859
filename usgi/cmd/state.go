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
	"encoding/json"
	"os"

	"github.com/google/subcommands"

	"github.com/cptn-popcorn/user-sgi/pkg/log"
	"github.com/cptn-popcorn/user-sgi/usgi/cmd/util"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/flag"
)

// State implements subcommands.Command for the "state" command.
type State struct{}

// Name implements subcommands.Command.Name.
func (*State) Name() string {
	return "state"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*State) Synopsis() string {
	return "get the state of the daemon and its device"
}

// Usage implements subcommands.Command.Usage.
func (*State) Usage() string {
	return `state - get the state of the daemon and its device`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*State) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*State) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	c := connect(ctx, conf)
	st, err := c.State(ctx)
	if err != nil {
		util.Fatalf("error getting state: %v", err)
	}
	log.Debugf("Returning state %+v", st)

	// Write json-encoded state directly to stdout.
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		util.Fatalf("error marshaling state: %v", err)
	}
	os.Stdout.Write(b)
	return subcommands.ExitSuccess
}
