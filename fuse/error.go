//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package fuse

import (
	"errors"
	"os"
	"syscall"

	"bazil.org/fuse"
	"github.com/sirupsen/logrus"
)

// IOerror encapsulates errors to be delivered to the Bazil FUSE library,
// which demands error types satisfying its 'errorNumber' interface. Every
// error crossing the bridge goes through errnoError() so provider errnos
// reach the caller verbatim and everything else degrades to a sane code.
type IOerror struct {
	RcvError error
	Code     syscall.Errno
	Message  string
}

func (e IOerror) Error() string {
	return e.Message
}

// Errno satisfies the fuse.ErrorNumber interface, which lets IOerror
// values travel through Bazil FUSE unmodified.
func (e IOerror) Errno() fuse.Errno {
	return fuse.Errno(e.Code)
}

// errnoError wraps err for the FUSE boundary, extracting the errno from
// the usual I/O error flavors.
func errnoError(err error) error {
	if err == nil {
		return nil
	}

	var errno syscall.Errno

	switch v := err.(type) {
	case IOerror:
		return v
	case syscall.Errno:
		errno = v
	case *os.PathError:
		if !errors.As(v.Err, &errno) {
			errno = syscall.EIO
		}
	case *os.SyscallError:
		if !errors.As(v.Err, &errno) {
			errno = syscall.EIO
		}
	default:
		errno = syscall.EIO
	}

	return IOerror{RcvError: err, Code: errno, Message: err.Error()}
}

// trap converts a panic inside a FUSE callback into ENOMEM.
func trap(op string, err *error) {
	if r := recover(); r != nil {
		logrus.Errorf("fuse: %s: trapped panic: %v", op, r)
		*err = IOerror{Code: syscall.ENOMEM, Message: "trapped panic"}
	}
}
