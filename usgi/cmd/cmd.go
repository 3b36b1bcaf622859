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

// Package cmd holds implementations of the usgi commands.
package cmd

import (
	"context"
	"time"

	"github.com/cptn-popcorn/user-sgi/usgi/client"
	"github.com/cptn-popcorn/user-sgi/usgi/cmd/util"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
)

// connectTimeout is how long commands keep retrying the daemon health check
// before giving up.
const connectTimeout = 2 * time.Second

// connect returns a client for the daemon serving conf's root directory,
// after verifying that the daemon answers.
func connect(ctx context.Context, conf *config.Config) *client.Client {
	c := client.New(conf)
	hctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.HealthCheck(hctx); err != nil {
		util.Fatalf("cannot reach usgi daemon for root directory %q: %v", conf.RootDir, err)
	}
	return c
}
