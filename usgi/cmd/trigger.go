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
	"strconv"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"github.com/cptn-popcorn/user-sgi/pkg/ipi"
	"github.com/cptn-popcorn/user-sgi/pkg/log"
	"github.com/cptn-popcorn/user-sgi/pkg/usersgi"
	"github.com/cptn-popcorn/user-sgi/usgi/cmd/util"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/flag"
)

// Trigger implements subcommands.Command for the "trigger" command.
type Trigger struct{}

// Name implements subcommands.Command.Name.
func (*Trigger) Name() string {
	return "trigger"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Trigger) Synopsis() string {
	return "generate a software interrupt"
}

// Usage implements subcommands.Command.Usage.
func (*Trigger) Usage() string {
	return `trigger [line] - generate a software interrupt.

The interrupt line's backing signal is sent to the daemon process, exactly
as any other process on the machine would raise it. Without an argument the
active device's line is used.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Trigger) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Trigger) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	c := connect(ctx, conf)
	var line uint32
	if f.NArg() == 1 {
		n, err := strconv.ParseUint(f.Arg(0), 10, 32)
		if err != nil || n >= ipi.NumLines {
			util.Fatalf("invalid interrupt line %q, must be 0 to %d", f.Arg(0), ipi.NumLines-1)
		}
		line = uint32(n)
	} else {
		st, err := c.State(ctx)
		if err != nil {
			util.Fatalf("error getting state: %v", err)
		}
		if st.State != usersgi.StateActive {
			util.Fatalf("no active device, pass an interrupt line explicitly")
		}
		line = st.IPINumber
	}

	pid, err := c.PID(ctx)
	if err != nil {
		util.Fatalf("error getting daemon PID: %v", err)
	}
	sig := ipi.SignalFor(line)
	log.Debugf("Sending %v to PID %d for line %d", sig, pid, line)
	if err := unix.Kill(pid, sig); err != nil {
		util.Fatalf("error sending signal %v to PID %d: %v", sig, pid, err)
	}
	return subcommands.ExitSuccess
}
