// Copyright 2025 The user-sgi Authors.
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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cptn-popcorn/user-sgi/pkg/atomicbitops"
	"github.com/cptn-popcorn/user-sgi/pkg/log"
	"github.com/cptn-popcorn/user-sgi/pkg/prometheus"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInitializationDone indicates that the caller tried to create a
	// new metric after initialization.
	ErrInitializationDone = errors.New("metric cannot be created after initialization is complete")
)

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored.
type Uint64Metric struct {
	value atomicbitops.Uint64
}

// Value returns the current value of the metric.
func (m *Uint64Metric) Value() uint64 {
	return m.value.Load()
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment() {
	m.value.Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64) {
	m.value.Add(v)
}

// customUint64Metric is a metric backed by a value function.
type customUint64Metric struct {
	// metric describes the metric. It is immutable.
	metric *prometheus.Metric

	// value returns the current value of the metric.
	value func() uint64
}

var (
	// initialized indicates that all metrics are registered. allMetrics
	// is immutable once initialized is true.
	initialized bool

	// allMetrics are the registered metrics.
	allMetrics = makeMetricSet()
)

// metricSet holds metric data.
type metricSet struct {
	uint64Metrics map[string]customUint64Metric
}

// makeMetricSet returns a new metricSet.
func makeMetricSet() *metricSet {
	return &metricSet{
		uint64Metrics: make(map[string]customUint64Metric),
	}
}

// RegisterCustomUint64Metric registers a metric with the given name, backed
// by the given value function.
//
// Register must only be called at init and will return an error if called
// after Initialize.
//
// Preconditions:
//   - name must be globally unique.
//   - Initialize has not been called.
func RegisterCustomUint64Metric(name string, typ prometheus.Type, description string, value func() uint64) error {
	if initialized {
		return ErrInitializationDone
	}
	if _, ok := allMetrics.uint64Metrics[name]; ok {
		return ErrNameInUse
	}
	if err := prometheus.VerifyName(name); err != nil {
		return err
	}
	allMetrics.uint64Metrics[name] = customUint64Metric{
		metric: &prometheus.Metric{
			Name: name,
			Type: typ,
			Help: description,
		},
		value: value,
	}
	return nil
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func MustRegisterCustomUint64Metric(name string, typ prometheus.Type, description string, value func() uint64) {
	if err := RegisterCustomUint64Metric(name, typ, description, value); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
//
// Metrics must be statically defined (i.e., at init).
func NewUint64Metric(name string, description string) (*Uint64Metric, error) {
	var m Uint64Metric
	return &m, RegisterCustomUint64Metric(name, prometheus.TypeCounter, description, m.Value)
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name string, description string) *Uint64Metric {
	m, err := NewUint64Metric(name, description)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Initialize marks the metric registration as complete. Metrics cannot be
// registered and snapshots cannot be taken before Initialize is called.
//
// Preconditions:
//   - All metrics are registered.
//   - Initialize has not been called.
func Initialize() error {
	if initialized {
		return errors.New("metric.Initialize called twice")
	}
	initialized = true
	log.Debugf("%d metrics registered", len(allMetrics.uint64Metrics))
	return nil
}

// Snapshot returns a snapshot of the values of all registered metrics.
//
// Preconditions:
//   - Initialize has been called.
func Snapshot() (*prometheus.Snapshot, error) {
	if !initialized {
		return nil, errors.New("metrics have not been initialized")
	}
	names := make([]string, 0, len(allMetrics.uint64Metrics))
	for name := range allMetrics.uint64Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	snapshot := prometheus.NewSnapshot()
	for _, name := range names {
		m := allMetrics.uint64Metrics[name]
		snapshot.Add(prometheus.NewIntData(m.metric, int64(m.value())))
	}
	return snapshot, nil
}
