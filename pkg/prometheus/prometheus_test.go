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

package prometheus

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestVerifyName(t *testing.T) {
	for _, name := range []string{"a", "foo_total", "x2", "device_active"} {
		if err := VerifyName(name); err != nil {
			t.Errorf("VerifyName(%q) failed: %v", name, err)
		}
	}
	for _, name := range []string{"", "Foo", "2foo", "foo-bar", "foo total", "_foo"} {
		if err := VerifyName(name); err == nil {
			t.Errorf("VerifyName(%q) unexpectedly succeeded", name)
		}
	}
}

func TestNumberString(t *testing.T) {
	for _, test := range []struct {
		number Number
		want   string
	}{
		{Number{}, "0"},
		{Number{Int: 7}, "7"},
		{Number{Int: -3}, "-3"},
		{Number{Float: 1.5}, "1.500000"},
		{Number{Float: math.Inf(1)}, "+Inf"},
		{Number{Float: math.Inf(-1)}, "-Inf"},
		{Number{Float: math.NaN()}, "NaN"},
	} {
		if got := test.number.String(); got != test.want {
			t.Errorf("Number %+v: got %q, wanted %q", test.number, got, test.want)
		}
	}
}

func TestIsInteger(t *testing.T) {
	for _, test := range []struct {
		number Number
		want   bool
	}{
		{Number{}, true},
		{Number{Int: 7}, true},
		{Number{Float: 3}, true},
		{Number{Float: 3.5}, false},
		{Number{Float: math.Inf(1)}, false},
		{Number{Float: math.NaN()}, false},
	} {
		if got := test.number.IsInteger(); got != test.want {
			t.Errorf("IsInteger(%+v): got %v, wanted %v", test.number, got, test.want)
		}
	}
}

func TestWrite(t *testing.T) {
	oldNow := timeNow
	defer func() { timeNow = oldNow }()
	when := time.UnixMilli(1234567890)
	timeNow = func() time.Time { return when }

	counter := &Metric{Name: "interrupts_total", Type: TypeCounter, Help: "Total interrupts delivered."}
	gauge := &Metric{Name: "device_active", Type: TypeGauge, Help: "Whether a device is active."}
	snapshot := NewSnapshot().Add(
		NewIntData(counter, 42),
		LabeledIntData(gauge, map[string]string{"name": "user_sgi@1"}, 1),
	)

	var buf bytes.Buffer
	if _, err := Write(&buf, ExportOptions{CommentHeader: "Test data."}, snapshot, SnapshotExportOptions{
		ExporterPrefix: "usgi_",
		ExtraLabels:    map[string]string{"pid": "99"},
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"# Test data.\n",
		"# HELP usgi_interrupts_total Total interrupts delivered.\n",
		"# TYPE usgi_interrupts_total counter\n",
		`usgi_interrupts_total{pid="99"} 42 1234567890` + "\n",
		"# TYPE usgi_device_active gauge\n",
		`usgi_device_active{name="user_sgi@1",pid="99"} 1 1234567890` + "\n",
		"# End of metric data.\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}

	// device_active sorts before interrupts_total.
	if gaugeAt, counterAt := strings.Index(out, "usgi_device_active"), strings.Index(out, "usgi_interrupts_total"); gaugeAt > counterAt {
		t.Errorf("metrics are not sorted by name:\n%s", out)
	}
}

func TestWriteDuplicateLabel(t *testing.T) {
	metric := &Metric{Name: "foo", Type: TypeCounter}
	snapshot := NewSnapshot().Add(LabeledIntData(metric, map[string]string{"pid": "1"}, 3))
	var buf bytes.Buffer
	if _, err := Write(&buf, ExportOptions{}, snapshot, SnapshotExportOptions{
		ExtraLabels: map[string]string{"pid": "2"},
	}); err == nil {
		t.Error("Write with duplicate label unexpectedly succeeded")
	}
}
