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

// Package config provides basic infrastructure to set configuration settings
// for usgi. The configuration is set by flags to the main binary. They can
// also propagate to a different process using the same flags.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cptn-popcorn/user-sgi/pkg/log"
	"github.com/cptn-popcorn/user-sgi/pkg/prometheus"
)

// Config holds configuration for the whole binary. Fields with a `flag` tag
// are populated from the identically-named command line flag by NewFromFlags.
type Config struct {
	// RootDir is the runtime state directory. The control socket, the
	// instance lock and the pid file live under it.
	RootDir string `flag:"root"`

	// LogFilename is the filename to log to, if specified.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if specified.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// DeviceTree is the path of the declarative device description that the
	// run command instantiates at startup. Empty means no devices are probed
	// until an explicit probe request arrives.
	DeviceTree string `flag:"device-tree"`

	// Address is the control socket address.
	Address string `flag:"address"`

	// ExporterPrefix is prepended to every metric name served on /metrics.
	ExporterPrefix string `flag:"exporter-prefix"`

	// WatchTimeout bounds how long a watch request may hold its reader
	// before returning the unchanged count.
	WatchTimeout time.Duration `flag:"watch-timeout"`
}

func (c *Config) validate() error {
	if err := validateLogFormat(c.LogFormat); err != nil {
		return err
	}
	if err := validateLogFormat(c.DebugLogFormat); err != nil {
		return err
	}
	if c.ExporterPrefix != "" {
		if err := prometheus.VerifyName(c.ExporterPrefix); err != nil {
			return fmt.Errorf("invalid exporter-prefix: %v", err)
		}
	}
	if c.WatchTimeout <= 0 {
		return fmt.Errorf("invalid watch-timeout %v, must be positive", c.WatchTimeout)
	}
	return nil
}

func validateLogFormat(format string) error {
	switch format {
	case "text", "json", "json-k8s":
		return nil
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
	}
}

// Socket returns the control socket path, with the %RUNTIME_ROOT% variable in
// Address replaced by the root directory.
func (c *Config) Socket() string {
	return strings.ReplaceAll(c.Address, "%RUNTIME_ROOT%", c.RootDir)
}

// Log logs important aspects of the configuration to the given log target.
func (c *Config) Log() {
	log.Infof("RootDir: %s", c.RootDir)
	log.Infof("Socket: %s", c.Socket())
	log.Infof("DeviceTree: %s", c.DeviceTree)
	if c.Debug {
		obj := reflect.ValueOf(c).Elem()
		st := obj.Type()
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			var val any
			if strVal := obj.Field(i).String(); strVal == "" {
				val = "(empty)"
			} else {
				val = obj.Field(i).Interface()
			}
			if flagName, hasFlag := f.Tag.Lookup("flag"); hasFlag {
				log.Infof("Config.%s (--%s): %v", f.Name, flagName, val)
			} else {
				log.Infof("Config.%s: %v", f.Name, val)
			}
		}
	}
}
