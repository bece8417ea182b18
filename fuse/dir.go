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
	"os"
	"path/filepath"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"

	"github.com/nemomobile/statefs/vfs"
)

// Entries are re-validated after this long, so config-driven changes (a
// removed provider, a replaced loader file) surface promptly.
var EntryCacheTimeout = time.Second

// initer is implemented by tree nodes wanting a callback before their
// first access; the root uses it to start the config monitor lazily.
type initer interface {
	EnsureInit()
}

// Dir adapts a vfs directory to Bazil FUSE.
type Dir struct {
	name   string
	path   string
	node   vfs.DirNode
	server *Service
}

var _ fs.Node = (*Dir)(nil)
var _ fs.NodeRequestLookuper = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)

func (d *Dir) ensureInit() {
	if i, ok := d.node.(initer); ok {
		i.EnsureInit()
	}
}

// Attr FS operation.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) (err error) {
	defer trap("getattr", &err)
	logrus.Debugf("fuse: requested Attr() operation for entry %v", d.path)

	d.ensureInit()

	a.Mode = d.node.Mode()
	a.Nlink = uint32(2 + d.node.Len())
	a.Valid = 0
	return nil
}

// Lookup FS operation.
func (d *Dir) Lookup(
	ctx context.Context,
	req *fuse.LookupRequest,
	resp *fuse.LookupResponse) (n fs.Node, err error) {

	defer trap("lookup", &err)
	logrus.Debugf("fuse: requested Lookup() for entry %v (req ID=%#x)",
		req.Name, uint64(req.ID))

	d.ensureInit()

	entry, ok := d.node.Lookup(req.Name)
	if !ok {
		return nil, fuse.ENOENT
	}

	path := filepath.Join(d.path, req.Name)
	resp.EntryValid = EntryCacheTimeout

	node := d.server.node(path, func() fs.Node {
		switch e := entry.(type) {
		case vfs.DirNode:
			return &Dir{name: req.Name, path: path, node: e, server: d.server}
		case *vfs.Symlink:
			return &Symlink{path: path, parent: d.node, name: req.Name, server: d.server}
		default:
			return &File{name: req.Name, path: path, parent: d.node, server: d.server}
		}
	})
	return node, nil
}

// ReadDirAll FS operation.
func (d *Dir) ReadDirAll(ctx context.Context) (ents []fuse.Dirent, err error) {
	defer trap("readdir", &err)
	logrus.Debugf("fuse: requested ReadDirAll() on directory %v", d.path)

	d.ensureInit()

	for _, ent := range d.node.List() {
		elem := fuse.Dirent{Name: ent.Name}
		switch ent.Entry.(type) {
		case vfs.DirNode:
			elem.Type = fuse.DT_Dir
		case *vfs.Symlink:
			elem.Type = fuse.DT_Link
		default:
			elem.Type = fuse.DT_File
		}
		ents = append(ents, elem)
	}
	return ents, nil
}

// Remove FS operation (unlink/rmdir); honored only where the tree kind
// allows deletions.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) (err error) {
	defer trap("remove", &err)
	logrus.Debugf("fuse: requested Remove() of %v on directory %v", req.Name, d.path)

	if err := d.node.Remove(req.Name); err != nil {
		return errnoError(err)
	}
	d.server.forget(filepath.Join(d.path, req.Name))
	return nil
}

// Mkdir FS operation; denied unless the directory is read-write.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (n fs.Node, err error) {
	defer trap("mkdir", &err)

	if d.node.Kind() != vfs.DirRW {
		return nil, fuse.EPERM
	}
	sub := vfs.NewDir(vfs.DirRW)
	if err := d.node.(interface {
		AddDir(name string, e vfs.Entry) error
	}).AddDir(req.Name, sub); err != nil {
		return nil, errnoError(err)
	}
	path := filepath.Join(d.path, req.Name)
	return d.server.node(path, func() fs.Node {
		return &Dir{name: req.Name, path: path, node: sub, server: d.server}
	}), nil
}

// Mknod FS operation; property files only come from config.
func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	return nil, fuse.EPERM
}

// Create FS operation; same story as Mknod.
func (d *Dir) Create(
	ctx context.Context,
	req *fuse.CreateRequest,
	resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {

	return nil, nil, fuse.EPERM
}

// Setattr FS operation; directory attributes are fixed.
func (d *Dir) Setattr(
	ctx context.Context,
	req *fuse.SetattrRequest,
	resp *fuse.SetattrResponse) error {

	return fuse.EPERM
}

// Symlink node of the namespaces/ view.
type Symlink struct {
	path   string
	name   string
	parent vfs.DirNode
	server *Service
}

var _ fs.Node = (*Symlink)(nil)
var _ fs.NodeReadlinker = (*Symlink)(nil)

func (l *Symlink) resolve() (*vfs.Symlink, error) {
	e, ok := l.parent.Lookup(l.name)
	if !ok {
		return nil, fuse.ENOENT
	}
	link, ok := e.(*vfs.Symlink)
	if !ok {
		return nil, fuse.Errno(syscall.EINVAL)
	}
	return link, nil
}

// Attr FS operation.
func (l *Symlink) Attr(ctx context.Context, a *fuse.Attr) (err error) {
	defer trap("getattr", &err)

	link, err := l.resolve()
	if err != nil {
		return err
	}
	a.Mode = os.ModeSymlink | 0777
	a.Size = uint64(len(link.Target))
	a.Nlink = 1
	a.Valid = 0
	return nil
}

// Readlink FS operation.
func (l *Symlink) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (t string, err error) {
	defer trap("readlink", &err)
	logrus.Debugf("fuse: requested Readlink() for entry %v", l.path)

	link, err := l.resolve()
	if err != nil {
		return "", err
	}
	return link.Target, nil
}
