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

// Package util provides helpers shared by the command implementations.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/cptn-popcorn/user-sgi/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages are
// consumed by wrapper tooling driving usgi and can show up to end users.
var ErrorLogger io.Writer

// Errorf logs the error to the error log (--log), to stderr, and to debug
// logs. It returns subcommands.ExitFailure for convenience with
// subcommands.Command.Execute implementations.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	// When usgi is driven by a supervisor we might not have access to stderr,
	// so the message also goes to the log file configured by the --log flag.
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, format+"\n", args...)
	}
	return subcommands.ExitFailure
}

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	// Return an error that is unlikely to be used by the application.
	os.Exit(128)
}
