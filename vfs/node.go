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

// Package vfs is the mutable directory tree behind the statefs mount:
// providers/<provider>/<ns>/<property> files plus the namespaces/ symlink
// view. The FUSE bridge maps kernel operations onto it; providers are
// loaded lazily on first property access.
package vfs

import (
	"os"
	"sort"
	"sync"
	"syscall"
)

// Tree-wide umask applied to property file modes. Set once at startup,
// before the mount.
var globalUmask os.FileMode = 0022

// SetUmask sets the tree-wide umask (file_umask= mount option).
func SetUmask(m os.FileMode) { globalUmask = m }

// Umask returns the tree-wide umask.
func Umask() os.FileMode { return globalUmask }

// DirKind controls which mutations a directory accepts from VFS callers.
type DirKind int

const (
	// DirRO refuses create and remove.
	DirRO DirKind = iota
	// DirReadRm allows removal of children, no creation.
	DirReadRm
	// DirRW allows both.
	DirRW
)

// PollHandle is armed by a poller and consumed (fired) at most once.
type PollHandle interface {
	Wakeup()
}

// Handle is the per-open state of a file. All offsets are absolute.
type Handle interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Release() error
}

// Poller is implemented by handles of pollable files. Continuous property
// handles implement it too and answer ENOSYS; for handles that leave it
// unimplemented the bridge answers ENOSYS.
type Poller interface {
	// Poll reports current readiness and arms ph for the next change.
	Poll(ph PollHandle) (ready bool, err error)
}

// File is a leaf node of the tree.
type File interface {
	Mode() os.FileMode
	Size() uint64
	Open(flags int) (Handle, error)
}

// Symlink is a leaf pointing elsewhere in the tree.
type Symlink struct {
	Target string

	// owner is the provider that contributed the link; used to resolve
	// same-(ns, prop) collisions between providers.
	owner string
}

// Entry is anything a directory can hold: *Dir, File or *Symlink.
type Entry interface{}

// DirEnt pairs a name with its entry for listings.
type DirEnt struct {
	Name  string
	Entry Entry
}

// DirNode is the directory surface the FUSE bridge drives. *Dir implements
// it; the specialized directories inherit it by embedding.
type DirNode interface {
	Kind() DirKind
	Mode() os.FileMode
	Lookup(name string) (Entry, bool)
	List() []DirEnt
	Remove(name string) error
	Len() int
}

// Dir is a directory node. Each directory carries its own RW lock:
// readdir/lookup take it shared, child mutation takes it exclusive. Tree
// mutations lock parent before child, root to leaf.
type Dir struct {
	mu       sync.RWMutex
	kind     DirKind
	children map[string]Entry
}

// NewDir makes an empty directory of the given kind.
func NewDir(kind DirKind) *Dir {
	return &Dir{
		kind:     kind,
		children: make(map[string]Entry),
	}
}

// Kind returns the directory kind.
func (d *Dir) Kind() DirKind { return d.kind }

// Mode returns the directory file mode.
func (d *Dir) Mode() os.FileMode {
	return os.ModeDir | (0755 &^ globalUmask)
}

// Lookup finds a child by name.
func (d *Dir) Lookup(name string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.children[name]
	return e, ok
}

// LookupFile finds a child file by name.
func (d *Dir) LookupFile(name string) (File, bool) {
	e, ok := d.Lookup(name)
	if !ok {
		return nil, false
	}
	f, ok := e.(File)
	return f, ok
}

// List snapshots the children in name order.
func (d *Dir) List() []DirEnt {
	d.mu.RLock()
	ents := make([]DirEnt, 0, len(d.children))
	for name, e := range d.children {
		ents = append(ents, DirEnt{Name: name, Entry: e})
	}
	d.mu.RUnlock()

	sort.Slice(ents, func(i, j int) bool { return ents[i].Name < ents[j].Name })
	return ents
}

// Len returns the child count.
func (d *Dir) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.children)
}

// add inserts a child, failing on duplicates.
func (d *Dir) add(name string, e Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.children[name]; ok {
		return syscall.EEXIST
	}
	d.children[name] = e
	return nil
}

// AddDir inserts a subdirectory.
func (d *Dir) AddDir(name string, sub Entry) error { return d.add(name, sub) }

// AddFile inserts a file.
func (d *Dir) AddFile(name string, f File) error { return d.add(name, f) }

// AddSymlink inserts a symlink.
func (d *Dir) AddSymlink(name string, l *Symlink) error { return d.add(name, l) }

// ReplaceFile swaps a file in place (loader file materialization).
func (d *Dir) ReplaceFile(name string, f File) {
	d.mu.Lock()
	d.children[name] = f
	d.mu.Unlock()
}

// RemoveAny unconditionally drops a child; internal tree maintenance.
func (d *Dir) RemoveAny(name string) {
	d.mu.Lock()
	delete(d.children, name)
	d.mu.Unlock()
}

// Remove drops a child on behalf of a VFS caller; refused unless the
// directory kind allows deletion.
func (d *Dir) Remove(name string) error {
	if d.kind == DirRO {
		return syscall.EPERM
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.children[name]; !ok {
		return syscall.ENOENT
	}
	delete(d.children, name)
	return nil
}

// Clear drops every child.
func (d *Dir) Clear() {
	d.mu.Lock()
	d.children = make(map[string]Entry)
	d.mu.Unlock()
}
