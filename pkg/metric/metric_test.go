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

package metric

import (
	"bytes"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/cptn-popcorn/user-sgi/pkg/prometheus"
)

// reset clears all global state in the metric package.
func reset() {
	initialized = false
	allMetrics = makeMetricSet()
}

func TestIncrement(t *testing.T) {
	reset()
	m := MustCreateNewUint64Metric("foo_total", "A counter.")
	if got := m.Value(); got != 0 {
		t.Errorf("fresh value: got %d, wanted 0", got)
	}
	m.Increment()
	if got := m.Value(); got != 1 {
		t.Errorf("value after Increment: got %d, wanted 1", got)
	}
	m.IncrementBy(5)
	if got := m.Value(); got != 6 {
		t.Errorf("value after IncrementBy(5): got %d, wanted 6", got)
	}
}

func TestNameInUse(t *testing.T) {
	reset()
	if _, err := NewUint64Metric("foo_total", "A counter."); err != nil {
		t.Fatalf("NewUint64Metric failed: %v", err)
	}
	if _, err := NewUint64Metric("foo_total", "Another counter."); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate registration: got %v, wanted ErrNameInUse", err)
	}
}

func TestBadName(t *testing.T) {
	reset()
	for _, name := range []string{"", "Foo", "2foo", "foo-bar"} {
		if _, err := NewUint64Metric(name, "A counter."); err == nil {
			t.Errorf("NewUint64Metric(%q) unexpectedly succeeded", name)
		}
	}
}

func TestRegistrationFreeze(t *testing.T) {
	reset()
	if _, err := Snapshot(); err == nil {
		t.Error("Snapshot before Initialize unexpectedly succeeded")
	}
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := NewUint64Metric("foo_total", "A counter."); !errors.Is(err, ErrInitializationDone) {
		t.Errorf("registration after Initialize: got %v, wanted ErrInitializationDone", err)
	}
	if err := Initialize(); err == nil {
		t.Error("second Initialize unexpectedly succeeded")
	}
}

func TestExport(t *testing.T) {
	reset()
	interrupts := MustCreateNewUint64Metric("interrupts_total", "Total number of interrupts delivered.")
	probes := MustCreateNewUint64Metric("probes_total", "Total number of successful probes.")
	MustRegisterCustomUint64Metric("device_active", prometheus.TypeGauge, "Whether a device is active.", func() uint64 { return 1 })

	interrupts.IncrementBy(42)
	probes.Increment()
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	snapshot, err := Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	var buf bytes.Buffer
	if _, err := prometheus.Write(&buf, prometheus.ExportOptions{CommentHeader: "Test export."}, snapshot, prometheus.SnapshotExportOptions{
		ExporterPrefix: "usgi_",
		ExtraLabels:    map[string]string{"pid": "1234"},
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	families, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("exported data does not parse: %v", err)
	}

	for _, test := range []struct {
		name string
		typ  dto.MetricType
		want float64
	}{
		{"usgi_interrupts_total", dto.MetricType_COUNTER, 42},
		{"usgi_probes_total", dto.MetricType_COUNTER, 1},
		{"usgi_device_active", dto.MetricType_GAUGE, 1},
	} {
		family, found := families[test.name]
		if !found {
			t.Errorf("metric %q not exported", test.name)
			continue
		}
		if got := family.GetType(); got != test.typ {
			t.Errorf("metric %q: got type %v, wanted %v", test.name, got, test.typ)
		}
		if n := len(family.GetMetric()); n != 1 {
			t.Errorf("metric %q: got %d data points, wanted 1", test.name, n)
			continue
		}
		data := family.GetMetric()[0]
		var got float64
		switch test.typ {
		case dto.MetricType_COUNTER:
			got = data.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			got = data.GetGauge().GetValue()
		}
		if got != test.want {
			t.Errorf("metric %q: got value %v, wanted %v", test.name, got, test.want)
		}
		labels := make(map[string]string, len(data.GetLabel()))
		for _, label := range data.GetLabel() {
			labels[label.GetName()] = label.GetValue()
		}
		if labels["pid"] != "1234" {
			t.Errorf("metric %q: got labels %v, wanted pid=1234", test.name, labels)
		}
	}
}
