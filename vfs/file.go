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

package vfs

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nemomobile/statefs"
)

// LoaderFileSize is the size advertised by not-yet-materialized property
// files. Many tools check the size before reading; a zero would make them
// stop short, so a fake big-enough value is reported instead.
const LoaderFileSize = 1024

// ModeSetter is implemented by files accepting in-memory chmod.
type ModeSetter interface {
	SetMode(m os.FileMode)
}

//
// Fake file: serves a fixed default value when the provider library can't
// be loaded or lacks a configured property. Writes are denied; poll is
// accepted but never signals.
//

type fakeFile struct {
	mu   sync.RWMutex
	data []byte
	mode os.FileMode
}

// NewFakeFile makes a file serving content read-only-style semantics.
func NewFakeFile(content string, mode os.FileMode) File {
	return &fakeFile{data: []byte(content), mode: mode}
}

func (f *fakeFile) Mode() os.FileMode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

func (f *fakeFile) SetMode(m os.FileMode) {
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
}

func (f *fakeFile) Size() uint64 {
	if len(f.data) == 0 {
		// keep stat sizes positive so tools don't short-circuit
		return LoaderFileSize
	}
	return uint64(len(f.data))
}

func (f *fakeFile) Open(flags int) (Handle, error) {
	return &fakeHandle{file: f}, nil
}

type fakeHandle struct {
	file *fakeFile
}

func (h *fakeHandle) ReadAt(p []byte, off int64) (int, error) {
	h.file.mu.RLock()
	defer h.file.mu.RUnlock()
	if h.file.mode&0444 == 0 {
		return 0, syscall.EPERM
	}
	if off >= int64(len(h.file.data)) {
		return 0, nil
	}
	return copy(p, h.file.data[off:]), nil
}

func (h *fakeHandle) WriteAt(p []byte, off int64) (int, error) {
	return 0, syscall.EACCES
}

func (h *fakeHandle) Release() error { return nil }

// Poll accepts the handle but a fake value never changes.
func (h *fakeHandle) Poll(ph PollHandle) (bool, error) {
	return false, nil
}

//
// Loader file: stands in for a property before its provider is loaded.
// The first open triggers provider loading and re-opens whatever file
// materialized under the same name.
//

type loaderFile struct {
	mode os.FileMode
	load func() (File, error)
}

// NewLoaderFile makes a lazy-loading placeholder file.
func NewLoaderFile(mode os.FileMode, load func() (File, error)) File {
	return &loaderFile{mode: mode, load: load}
}

func (f *loaderFile) Mode() os.FileMode { return f.mode }

func (f *loaderFile) Size() uint64 { return LoaderFileSize }

func (f *loaderFile) Open(flags int) (Handle, error) {
	repl, err := f.load()
	if err != nil {
		return nil, err
	}
	return repl.Open(flags)
}

//
// Property files: backed by a live provider handle. Continuous files
// forward reads and writes; discrete files additionally connect a slot on
// first open and wake pollers through the notification pump.
//

type propFile struct {
	mu      sync.RWMutex
	prop    *statefs.PropHandle
	mode    os.FileMode
	owner   *PluginDir
	handles map[*propHandle]struct{}

	// set for discrete files
	pollable    bool
	onFirstOpen func()
	onLastClose func()
}

// NewContinuousFile wraps a live continuous property.
func NewContinuousFile(prop *statefs.PropHandle, mode os.FileMode, owner *PluginDir) File {
	return &propFile{
		prop:    prop,
		mode:    mode,
		owner:   owner,
		handles: make(map[*propHandle]struct{}),
	}
}

func (f *propFile) Mode() os.FileMode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

func (f *propFile) SetMode(m os.FileMode) {
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
}

func (f *propFile) Size() uint64 {
	if n := f.prop.Size(); n > 0 {
		return uint64(n)
	}
	return LoaderFileSize
}

func (f *propFile) Open(flags int) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := len(f.handles) == 0
	if first && f.onFirstOpen != nil {
		f.onFirstOpen()
	}

	io, err := f.prop.Open(flags)
	if err != nil {
		if first && f.onLastClose != nil {
			f.onLastClose()
		}
		return nil, err
	}

	h := &propHandle{file: f, io: io}
	f.handles[h] = struct{}{}
	f.owner.ref()
	return h, nil
}

func (f *propFile) release(h *propHandle) error {
	f.mu.Lock()
	if _, ok := f.handles[h]; !ok {
		f.mu.Unlock()
		return syscall.EBADF
	}
	delete(f.handles, h)
	f.prop.Close(h.io)
	if len(f.handles) == 0 && f.onLastClose != nil {
		f.onLastClose()
	}
	f.mu.Unlock()

	f.owner.unref()
	return nil
}

// teardown runs on provider removal or server exit. Handles can still be
// open on the exit path; the slot must be detached before the node goes.
func (f *propFile) teardown() {
	f.mu.Lock()
	open := len(f.handles) > 0
	f.mu.Unlock()

	if open {
		logrus.Debugf("vfs: property %v torn down with open handles", f.prop.Name())
		if f.pollable {
			f.prop.Disconnect()
		}
	}
	f.prop.Release()
}

// snapshotHandles copies the open-handle set under the write lock.
func (f *propFile) snapshotHandles() []*propHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	hs := make([]*propHandle, 0, len(f.handles))
	for h := range f.handles {
		hs = append(hs, h)
	}
	return hs
}

type propHandle struct {
	file *propFile
	io   statefs.IoHandle

	mu      sync.Mutex
	cache   []byte
	changed bool
	wakeup  PollHandle
}

func (h *propHandle) ReadAt(p []byte, off int64) (int, error) {
	if h.file.Mode()&0444 == 0 {
		return 0, syscall.EPERM
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if off == 0 {
		n, err := h.file.prop.Read(h.io, p, 0)
		if err != nil {
			return 0, err
		}
		h.cache = append(h.cache[:0], p[:n]...)
		h.changed = false
		return n, nil
	}

	// non-zero offsets are served from the cache filled at offset 0
	if off >= int64(len(h.cache)) {
		return 0, nil
	}
	return copy(p, h.cache[off:]), nil
}

func (h *propHandle) WriteAt(p []byte, off int64) (int, error) {
	if h.file.Mode()&0222 == 0 {
		return 0, syscall.EPERM
	}
	if len(p) == 0 {
		return 0, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.prop.Write(h.io, p, off)
}

func (h *propHandle) Release() error {
	return h.file.release(h)
}

// Poll reports readiness and arms the wakeup for the next change. Only
// discrete files are pollable.
func (h *propHandle) Poll(ph PollHandle) (bool, error) {
	if !h.file.pollable {
		return false, syscall.ENOSYS
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.wakeup = ph
	return h.changed, nil
}

// markChanged flips the changed flag and consumes the armed wakeup, if
// any.
func (h *propHandle) markChanged() {
	h.mu.Lock()
	h.changed = true
	w := h.wakeup
	h.wakeup = nil
	h.mu.Unlock()

	if w != nil {
		w.Wakeup()
	}
}

// discreteFile adds change subscription on top of propFile. The slot is
// embedded in the (heap-allocated, never copied) file, so its address
// stays stable for the whole connection, which providers rely on.
type discreteFile struct {
	propFile
	slot    statefs.Slot
	pending int32 // atomic; set while a delivery task is in flight
}

// NewDiscreteFile wraps a live discrete property.
func NewDiscreteFile(prop *statefs.PropHandle, mode os.FileMode, owner *PluginDir) File {
	f := &discreteFile{
		propFile: propFile{
			prop:     prop,
			mode:     mode,
			owner:    owner,
			handles:  make(map[*propHandle]struct{}),
			pollable: true,
		},
	}
	f.slot.OnChanged = func(*statefs.Slot, statefs.Property) { f.notify() }
	f.onFirstOpen = func() {
		if !f.prop.Connect(&f.slot) {
			logrus.Errorf("vfs: can't connect %v", f.prop.Name())
		}
	}
	f.onLastClose = func() { f.prop.Disconnect() }
	return f
}

// notify is the slot trampoline. It coalesces: while a delivery task is in
// flight further calls are dropped; the next read observes the latest
// value either way.
func (f *discreteFile) notify() {
	if !atomic.CompareAndSwapInt32(&f.pending, 0, 1) {
		return
	}
	if !f.owner.enqueue(f.deliver) {
		atomic.StoreInt32(&f.pending, 0)
	}
}

// deliver runs on the provider's task queue: snapshot the open handles
// under the file lock, then mark and wake each outside of it.
func (f *discreteFile) deliver() {
	snapshot := f.snapshotHandles()
	for _, h := range snapshot {
		h.markChanged()
	}
	atomic.StoreInt32(&f.pending, 0)
}
