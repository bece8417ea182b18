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
	"context"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"

	"github.com/nemomobile/statefs/vfs"
)

// File adapts a vfs property file to Bazil FUSE. It holds (parent, name)
// rather than the file itself: loader files replace themselves with the
// real property file on first open, and resolving per operation makes the
// swap transparent while the kernel node identity stays put.
type File struct {
	name   string
	path   string
	parent vfs.DirNode
	server *Service
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)

func (f *File) resolve() (vfs.File, error) {
	e, ok := f.parent.Lookup(f.name)
	if !ok {
		return nil, fuse.ENOENT
	}
	file, ok := e.(vfs.File)
	if !ok {
		return nil, fuse.Errno(syscall.EISDIR)
	}
	return file, nil
}

// Attr FS operation.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) (err error) {
	defer trap("getattr", &err)
	logrus.Debugf("fuse: requested Attr() operation for entry %v", f.path)

	file, err := f.resolve()
	if err != nil {
		return err
	}

	a.Mode = file.Mode()
	a.Size = file.Size()
	a.Nlink = 1
	a.BlockSize = 1024
	a.Valid = 0
	return nil
}

// Open FS operation.
func (f *File) Open(
	ctx context.Context,
	req *fuse.OpenRequest,
	resp *fuse.OpenResponse) (h fs.Handle, err error) {

	defer trap("open", &err)
	logrus.Debugf("fuse: requested Open() operation for entry %v (req ID=%#x)",
		f.path, uint64(req.ID))

	file, err := f.resolve()
	if err != nil {
		return nil, err
	}

	vh, err := file.Open(int(req.Flags))
	if err != nil {
		logrus.Debugf("fuse: Open() error: %v", err)
		return nil, errnoError(err)
	}

	//
	// Property files lack truthful sizes: the advertised size is a
	// fake large value for not-yet-loaded properties, and live values
	// change underneath the page cache. O_DIRECT ensures all read/write
	// requests reach the server regardless; the cost of bypassing the
	// page cache is irrelevant for this kind of FS.
	//
	resp.Flags |= fuse.OpenDirectIO

	return &handle{path: f.path, h: vh, server: f.server}, nil
}

// Setattr FS operation. Size changes are accepted as no-ops to let
// write()/truncate() sequences through; chmod is applied in-memory only;
// time updates are ignored.
func (f *File) Setattr(
	ctx context.Context,
	req *fuse.SetattrRequest,
	resp *fuse.SetattrResponse) (err error) {

	defer trap("setattr", &err)
	logrus.Debugf("fuse: requested Setattr() operation for entry %v", f.path)

	if req.Valid.Mode() {
		file, err := f.resolve()
		if err != nil {
			return err
		}
		if ms, ok := file.(vfs.ModeSetter); ok {
			ms.SetMode(req.Mode)
		} else {
			return fuse.EPERM
		}
	}
	return nil
}

// Fsync FS operation; nothing to sync.
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return nil
}

// Forget FS operation.
func (f *File) Forget() {
	logrus.Debugf("fuse: requested Forget() operation for entry %v", f.path)
	f.server.forget(f.path)
}

// handle is the per-open FUSE handle over a vfs handle.
type handle struct {
	path   string
	h      vfs.Handle
	server *Service
}

var _ fs.HandleReader = (*handle)(nil)
var _ fs.HandleWriter = (*handle)(nil)
var _ fs.HandleReleaser = (*handle)(nil)
var _ fs.HandlePoller = (*handle)(nil)

// Read FS operation.
func (h *handle) Read(
	ctx context.Context,
	req *fuse.ReadRequest,
	resp *fuse.ReadResponse) (err error) {

	defer trap("read", &err)
	logrus.Debugf("fuse: requested Read() operation for entry %v (req ID=%#x)",
		h.path, uint64(req.ID))

	data := make([]byte, req.Size)
	n, err := h.h.ReadAt(data, req.Offset)
	if err != nil {
		logrus.Debugf("fuse: Read() error: %v", err)
		return errnoError(err)
	}
	resp.Data = data[:n]
	return nil
}

// Write FS operation.
func (h *handle) Write(
	ctx context.Context,
	req *fuse.WriteRequest,
	resp *fuse.WriteResponse) (err error) {

	defer trap("write", &err)
	logrus.Debugf("fuse: requested Write() operation for entry %v (req ID=%#x)",
		h.path, uint64(req.ID))

	n, err := h.h.WriteAt(req.Data, req.Offset)
	if err != nil {
		logrus.Debugf("fuse: Write() error: %v", err)
		return errnoError(err)
	}
	resp.Size = n
	return nil
}

// Flush FS operation; nothing buffered server-side.
func (h *handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return nil
}

// Release FS operation.
func (h *handle) Release(ctx context.Context, req *fuse.ReleaseRequest) (err error) {
	defer trap("release", &err)
	logrus.Debugf("fuse: requested Release() operation for entry %v (req ID=%#x)",
		h.path, uint64(req.ID))

	if err := h.h.Release(); err != nil {
		return errnoError(err)
	}
	return nil
}

// Poll FS operation; edge-triggered on provider change notifications.
func (h *handle) Poll(
	ctx context.Context,
	req *fuse.PollRequest,
	resp *fuse.PollResponse) (err error) {

	defer trap("poll", &err)
	logrus.Debugf("fuse: requested Poll() operation for entry %v", h.path)

	p, ok := h.h.(vfs.Poller)
	if !ok {
		return fuse.Errno(syscall.ENOSYS)
	}

	var ph vfs.PollHandle
	if wk, ok := req.Wakeup(); ok {
		ph = &pollWakeup{conn: h.server.conn, wk: wk}
	}

	ready, err := p.Poll(ph)
	if err != nil {
		return errnoError(err)
	}
	if ready {
		resp.REvents |= fuse.PollIn
	}
	return nil
}
