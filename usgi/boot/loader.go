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

// Package boot assembles the interrupt plumbing, the driver, and the control
// server into the running daemon.
package boot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
	"github.com/cptn-popcorn/user-sgi/pkg/ipi"
	"github.com/cptn-popcorn/user-sgi/pkg/log"
	"github.com/cptn-popcorn/user-sgi/pkg/metric"
	"github.com/cptn-popcorn/user-sgi/pkg/prometheus"
	"github.com/cptn-popcorn/user-sgi/pkg/sync"
	"github.com/cptn-popcorn/user-sgi/pkg/sysfs"
	"github.com/cptn-popcorn/user-sgi/pkg/usersgi"
	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/devtree"
	"github.com/cptn-popcorn/user-sgi/usgi/server"
)

const (
	// lockFilename is the instance lock file inside the root directory.
	lockFilename = "usgi.lock"

	// pidFilename is the pid file inside the root directory.
	pidFilename = "usgi.pid"

	// shutdownTimeout is the maximum amount of time to wait for in-flight
	// requests to drain on shutdown. Device removal wakes blocked watch
	// requests first, so draining is normally instant.
	shutdownTimeout = 10 * time.Second

	// httpTimeout is the timeout on non-blocking HTTP request handling.
	httpTimeout = 1 * time.Minute
)

// Daemon lifecycle metrics. The interrupt count itself is not a metric
// object: interrupts_total below reads the live driver counter, so the
// handler path stays free of metric code.
var (
	probes         = metric.MustCreateNewUint64Metric("probes_total", "Number of probe attempts.")
	probeFailures  = metric.MustCreateNewUint64Metric("probe_failures_total", "Number of probe attempts that failed.")
	removes        = metric.MustCreateNewUint64Metric("removes_total", "Number of devices removed.")
	attributeReads = metric.MustCreateNewUint64Metric("attribute_reads_total", "Number of count attribute reads served.")
	watchSessions  = metric.MustCreateNewUint64Metric("watch_sessions_total", "Number of watch sessions served.")
)

// activeDriver backs the driver-bound metrics below. The daemon creates one
// Loader per process; tests that create several observe the most recent.
var activeDriver atomic.Pointer[usersgi.Driver]

var metricInit sync.Once

// initMetrics registers the driver-bound metrics and freezes registration.
func initMetrics() {
	metricInit.Do(func() {
		metric.MustRegisterCustomUint64Metric("interrupts_total", prometheus.TypeCounter,
			"Number of software generated interrupts delivered to the handler.",
			func() uint64 {
				if d := activeDriver.Load(); d != nil {
					return uint64(d.Count())
				}
				return 0
			})
		metric.MustRegisterCustomUint64Metric("device_active", prometheus.TypeGauge,
			"Whether a device instance is currently active.",
			func() uint64 {
				if d := activeDriver.Load(); d != nil && d.Status().State == usersgi.StateActive {
					return 1
				}
				return 0
			})
		if err := metric.Initialize(); err != nil {
			panic(err)
		}
	})
}

// Loader assembles the dispatch table, the attribute registry, the driver
// and the device tree, and owns the daemon lifecycle.
type Loader struct {
	conf     *config.Config
	table    *ipi.Table
	registry *sysfs.Registry
	driver   *usersgi.Driver
	tree     *devtree.Tree

	startDelivery func() func()

	// mu serializes Probe and Remove. The driver is specified against a
	// framework that never runs lifecycle operations concurrently; this
	// lock is that framework.
	mu sync.Mutex
}

// New creates a Loader from conf. The device tree, when configured, is
// loaded eagerly so that a bad description fails the daemon before it binds
// anything.
func New(conf *config.Config) (*Loader, error) {
	l := &Loader{
		conf:     conf,
		table:    ipi.NewTable(),
		registry: sysfs.NewRegistry(),
	}
	l.driver = usersgi.NewDriver(l.table, l.registry)
	if conf.DeviceTree != "" {
		tree, err := devtree.Load(conf.DeviceTree)
		if err != nil {
			return nil, err
		}
		l.tree = tree
	}
	l.startDelivery = ipi.PrepareDelivery(l.table)
	activeDriver.Store(l.driver)
	initMetrics()
	return l, nil
}

// ProbeBoot instantiates the first compatible node of the device tree, if
// there is one. A board without our device is not an error.
func (l *Loader) ProbeBoot() error {
	if l.tree == nil {
		return nil
	}
	nodes := l.tree.Match(usersgi.Compatible)
	if len(nodes) == 0 {
		log.Infof("Device tree has no %q node", usersgi.Compatible)
		return nil
	}
	if len(nodes) > 1 {
		log.Warningf("Device tree has %d %q nodes, only %q will be probed", len(nodes), usersgi.Compatible, nodes[0].Name)
	}
	return l.probeNode(nodes[0])
}

// Probe instantiates the named device tree node, or the first compatible
// node when name is empty. It implements server.Backend.
func (l *Loader) Probe(name string) error {
	if l.tree == nil {
		return fmt.Errorf("no device tree configured: %w", linuxerr.ENODEV)
	}
	var node devtree.Node
	if name == "" {
		nodes := l.tree.Match(usersgi.Compatible)
		if len(nodes) == 0 {
			return fmt.Errorf("device tree has no %q node: %w", usersgi.Compatible, linuxerr.ENODEV)
		}
		node = nodes[0]
	} else {
		n, ok := l.tree.Lookup(name)
		if !ok {
			return fmt.Errorf("no node %q in device tree: %w", name, linuxerr.ENODEV)
		}
		if n.Compatible != usersgi.Compatible {
			return fmt.Errorf("node %q is compatible %q, not %q: %w", name, n.Compatible, usersgi.Compatible, linuxerr.ENODEV)
		}
		node = n
	}
	return l.probeNode(node)
}

func (l *Loader) probeNode(node devtree.Node) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	probes.Increment()
	dn, err := node.DriverNode()
	if err == nil {
		err = l.driver.Probe(dn)
	}
	if err != nil {
		probeFailures.Increment()
		return err
	}
	return nil
}

// Remove tears down the active device. It implements server.Backend.
func (l *Loader) Remove() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.driver.Remove(); err != nil {
		return err
	}
	removes.Increment()
	return nil
}

// DeviceStatus implements server.Backend.
func (l *Loader) DeviceStatus() usersgi.Status {
	return l.driver.Status()
}

// Lines implements server.Backend.
func (l *Loader) Lines() map[uint32]string {
	return l.table.Claimed()
}

// ReadCount implements server.Backend. The value is read through the
// attribute registry the way an external observer would, not peeked from
// the counter.
func (l *Loader) ReadCount() (string, error) {
	path, err := l.driver.CountPath()
	if err != nil {
		return "", err
	}
	f, err := l.registry.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	val, err := f.ReadValue()
	if err != nil {
		return "", err
	}
	attributeReads.Increment()
	return val, nil
}

// WaitCount implements server.Backend. It blocks until the count differs
// from last, the attribute goes away, or ctx is done. A done context is the
// long poll expiring, not an error; the unchanged value is returned.
func (l *Loader) WaitCount(ctx context.Context, last uint32) (uint32, error) {
	watchSessions.Increment()
	path, err := l.driver.CountPath()
	if err != nil {
		return 0, err
	}
	f, err := l.registry.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for {
		val, err := f.ReadValue()
		if err != nil {
			return 0, err
		}
		attributeReads.Increment()
		cur64, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("malformed count value %q: %w", val, linuxerr.EIO)
		}
		cur := uint32(cur64)
		if cur != last {
			return cur, nil
		}
		if err := f.WaitChanged(ctx); err != nil {
			if errors.Is(err, linuxerr.ENODEV) {
				return 0, err
			}
			return cur, nil
		}
	}
}

// lockRoot takes the instance lock in the root directory. The daemon holds
// it for its lifetime; a second instance fails instead of fighting over the
// backing signals.
func lockRoot(rootDir string) (func() error, error) {
	if err := os.MkdirAll(rootDir, 0711); err != nil {
		return nil, fmt.Errorf("error creating root directory %q: %v", rootDir, err)
	}
	f := filepath.Join(rootDir, lockFilename)
	l := flock.New(f)
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("error acquiring lock on %q: %v", f, err)
	}
	if !locked {
		return nil, fmt.Errorf("%q is locked, another instance is running: %w", f, linuxerr.EBUSY)
	}
	return l.Unlock, nil
}

// Run binds the control socket and serves until the process is told to stop
// or ctx is canceled. It returns after teardown is complete.
func (l *Loader) Run(ctx context.Context) error {
	unlock, err := lockRoot(l.conf.RootDir)
	if err != nil {
		return err
	}
	defer unlock()

	pid := os.Getpid()
	pidFile := filepath.Join(l.conf.RootDir, pidFilename)
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", pid)), 0644); err != nil {
		return fmt.Errorf("cannot write PID to file %q: %w", pidFile, err)
	}
	defer os.Remove(pidFile)
	log.Infof("Wrote PID %d to file %v.", pid, pidFile)

	socket := l.conf.Socket()
	listener, err := (&net.ListenConfig{}).Listen(ctx, "unix", socket)
	if err != nil {
		return fmt.Errorf("cannot listen on unix domain socket %q: %w", socket, err)
	}
	defer os.Remove(socket)
	os.Chmod(socket, 0777)

	stopDelivery := l.startDelivery()
	defer stopDelivery()

	if err := l.ProbeBoot(); err != nil {
		// The board stays up with the device unbound, as a kernel would;
		// an operator can fix the description and probe again.
		log.Warningf("Boot probe failed: %v", err)
	}

	srv := http.Server{
		Handler: server.NewHandler(l, server.Options{
			RootDir:        l.conf.RootDir,
			ExporterPrefix: l.conf.ExporterPrefix,
			WatchTimeout:   l.conf.WatchTimeout,
			PID:            pid,
		}),
		ReadTimeout: httpTimeout,
		// Writes stay open for the duration of a watch long poll.
		WriteTimeout: l.conf.WatchTimeout + httpTimeout,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, unix.SIGINT, unix.SIGTERM, unix.SIGQUIT)
	defer signal.Stop(shutdownCh)

	log.Infof("Control server serving on %s for root directory %s.", socket, l.conf.RootDir)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			return fmt.Errorf("cannot serve on address %s: %w", socket, err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-shutdownCh:
			log.Infof("Caught signal %v, stopping.", sig)
		case <-gctx.Done():
		}
		// Tear down the device first: removal wakes blocked watch
		// requests, letting Shutdown drain them promptly.
		if err := l.Remove(); err != nil && !errors.Is(err, linuxerr.ENODEV) {
			log.Warningf("Teardown remove failed: %v", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	log.Infof("Server has stopped accepting requests.")
	return err
}
