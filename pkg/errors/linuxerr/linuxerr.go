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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	"golang.org/x/sys/unix"

	"github.com/cptn-popcorn/user-sgi/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or syscall.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comparable. The Errno method returns
// an errno number such that the error can be compared to unix/syscall.Errno
// (e.g. unix.Errno(EPERM.Errno()) == unix.EPERM is true). Converting
// unix/syscall.Errno to the errors should be done via the lookup methods
// provided.
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(unix.EPERM, "operation not permitted")
	ENOENT                = errors.New(unix.ENOENT, "no such file or directory")
	EINTR                 = errors.New(unix.EINTR, "interrupted system call")
	EIO                   = errors.New(unix.EIO, "I/O error")
	EAGAIN                = errors.New(unix.EAGAIN, "try again")
	ENOMEM                = errors.New(unix.ENOMEM, "out of memory")
	EACCES                = errors.New(unix.EACCES, "permission denied")
	EBUSY                 = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST                = errors.New(unix.EEXIST, "file exists")
	ENODEV                = errors.New(unix.ENODEV, "no such device")
	ENOTDIR               = errors.New(unix.ENOTDIR, "not a directory")
	EISDIR                = errors.New(unix.EISDIR, "is a directory")
	EINVAL                = errors.New(unix.EINVAL, "invalid argument")
	ESPIPE                = errors.New(unix.ESPIPE, "illegal seek")
	ERANGE                = errors.New(unix.ERANGE, "math result not representable")
	ENOSYS                = errors.New(unix.ENOSYS, "invalid system call number")
	ENODATA               = errors.New(unix.ENODATA, "no data available")
	EOPNOTSUPP            = errors.New(unix.EOPNOTSUPP, "operation not supported")
	ETIMEDOUT             = errors.New(unix.ETIMEDOUT, "connection timed out")
	ECANCELED             = errors.New(unix.ECANCELED, "operation canceled")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
	ENOTSUP     = EOPNOTSUPP
)

// errorSlice holds errors by errno for fast translation between errnos and
// *errors.Error. Only the errnos above appear; everything else maps to nil
// and is reported by ErrorFromUnix as a plain errno.
var errorSlice = func() []*errors.Error {
	s := make([]*errors.Error, unix.EHWPOISON+1)
	for _, e := range []*errors.Error{
		EPERM, ENOENT, EINTR, EIO, EAGAIN, ENOMEM, EACCES, EBUSY, EEXIST,
		ENODEV, ENOTDIR, EISDIR, EINVAL, ESPIPE, ERANGE, ENOSYS, ENODATA,
		EOPNOTSUPP, ETIMEDOUT, ECANCELED,
	} {
		s[e.Errno()] = e
	}
	return s
}()

// ErrorFromUnix returns a linuxerr from a unix.Errno.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if int(err) < len(errorSlice) {
		if e := errorSlice[err]; e != nil {
			return e
		}
	}
	return err
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}
