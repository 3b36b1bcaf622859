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

package server

import (
	"errors"
	"net/http"
	"runtime"

	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
	"github.com/cptn-popcorn/user-sgi/pkg/log"
)

// httpResult is returned by HTTP handlers.
type httpResult struct {
	code int
	err  error
}

// httpOK is the "everything went fine" HTTP result.
var httpOK = httpResult{code: http.StatusOK}

// errorResult maps a backend error to an HTTP result, using the unix error
// the backend wrapped to pick the status code. Internal errors are translated
// to their errno form first.
func errorResult(err error) httpResult {
	if translated, ok := linuxerr.TranslateError(err); ok {
		err = translated
	}
	switch {
	case errors.Is(err, linuxerr.ENODEV), errors.Is(err, linuxerr.ENOENT):
		return httpResult{http.StatusNotFound, err}
	case errors.Is(err, linuxerr.EINVAL):
		return httpResult{http.StatusBadRequest, err}
	case errors.Is(err, linuxerr.EBUSY):
		return httpResult{http.StatusConflict, err}
	default:
		return httpResult{http.StatusInternalServerError, err}
	}
}

// logRequest wraps an HTTP handler and adds logging to it.
func logRequest(f func(w http.ResponseWriter, req *http.Request) httpResult) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		log.Infof("Request: %s %s", req.Method, req.URL.Path)
		defer func() {
			if r := recover(); r != nil {
				log.Warningf("Request: %s %s: Panic:\n%v", req.Method, req.URL.Path, r)
			}
		}()
		result := f(w, req)
		if result.err != nil {
			http.Error(w, result.err.Error(), result.code)
			log.Warningf("Request: %s %s: Failed with HTTP code %d: %v", req.Method, req.URL.Path, result.code, result.err)
		}
		// Run GC after every request to keep memory usage as predictable and as
		// flat as possible.
		runtime.GC()
	}
}
