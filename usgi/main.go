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

// Binary usgi observes software generated interrupts from userspace: it
// counts deliveries on a claimed interrupt line and exposes the count as a
// pollable attribute over a control socket.
package main

import (
	"github.com/cptn-popcorn/user-sgi/usgi/cli"
)

func main() {
	cli.Main()
}
