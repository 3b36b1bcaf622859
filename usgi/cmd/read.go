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

	"github.com/google/subcommands"

	"github.com/cptn-popcorn/user-sgi/usgi/cmd/util"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/flag"
)

// Read implements subcommands.Command for the "read" command.
type Read struct{}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "read the count attribute of the active device"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read - print the current interrupt count of the active device`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Read) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Read) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	c := connect(ctx, conf)
	val, err := c.Count(ctx)
	if err != nil {
		util.Fatalf("error reading count: %v", err)
	}
	fmt.Println(val)
	return subcommands.ExitSuccess
}
