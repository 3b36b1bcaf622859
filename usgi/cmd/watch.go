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
	"strconv"

	"github.com/google/subcommands"

	"github.com/cptn-popcorn/user-sgi/usgi/cmd/util"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/flag"
)

// Watch implements subcommands.Command for the "watch" command.
type Watch struct {
	updates int
}

// Name implements subcommands.Command.Name.
func (*Watch) Name() string {
	return "watch"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Watch) Synopsis() string {
	return "print the interrupt count whenever it changes"
}

// Usage implements subcommands.Command.Usage.
func (*Watch) Usage() string {
	return `watch [flags] - print the current interrupt count, then every new value.

The command blocks on the daemon's count attribute and prints a line each
time an interrupt is delivered. It exits when the device is removed.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Watch) SetFlags(f *flag.FlagSet) {
	f.IntVar(&w.updates, "n", 0, "exit after this many count changes; 0 means watch forever")
}

// Execute implements subcommands.Command.Execute.
func (w *Watch) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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
	last64, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		util.Fatalf("malformed count %q: %v", val, err)
	}
	last := uint32(last64)
	fmt.Println(val)

	for printed := 0; w.updates == 0 || printed < w.updates; {
		cur, err := c.Watch(ctx, last)
		if err != nil {
			util.Fatalf("error watching count: %v", err)
		}
		if cur == last {
			// The server side watch window expired without a change.
			continue
		}
		fmt.Println(cur)
		last = cur
		printed++
	}
	return subcommands.ExitSuccess
}
