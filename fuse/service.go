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

// Package fuse bridges the statefs VFS tree to the kernel through the
// Bazil FUSE library.
package fuse

import (
	"errors"
	"sync"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	_ "bazil.org/fuse/fs/fstestutil"
	"github.com/sirupsen/logrus"

	"github.com/nemomobile/statefs/vfs"
)

// Service runs one statefs FUSE mount.
type Service struct {
	sync.RWMutex                    // nodeDB protection
	mountPoint   string             // mountpoint path
	root         *vfs.Root          // tree being served
	mountOpts    []fuse.MountOption // forwarded to fuse.Mount
	conn         *fuse.Conn         // kernel channel
	server       *fs.Server         // bazil-fuse server instance
	nodeDB       map[string]fs.Node // keeps fs node identities stable per path
	initDone     chan bool          // signalled once serving started
}

// NewService builds a service for the given tree and mountpoint.
func NewService(mountpoint string, root *vfs.Root, opts []fuse.MountOption) *Service {
	base := []fuse.MountOption{
		fuse.FSName("statefs"),
		fuse.Subtype("statefs"),
	}
	return &Service{
		mountPoint: mountpoint,
		root:       root,
		mountOpts:  append(base, opts...),
		nodeDB:     make(map[string]fs.Node),
		initDone:   make(chan bool, 1),
	}
}

// Run mounts and serves until the kernel connection is torn down.
func (s *Service) Run() error {
	c, err := fuse.Mount(s.mountPoint, s.mountOpts...)
	if err != nil {
		logrus.Errorf("fuse: mount failed: %v", err)
		return err
	}
	s.conn = c

	// Enforce a clean exit should an unrecoverable error come back from
	// fuse-lib.
	defer func() {
		s.Unmount()
		c.Close()
	}()

	s.server = fs.New(c, nil)
	if s.server == nil {
		logrus.Error("fuse: file-system could not be created")
		return errors.New("FUSE file-system could not be created")
	}

	s.initDone <- true

	if err := s.server.Serve(s); err != nil {
		logrus.Errorf("fuse: serve: %v", err)
		return err
	}

	// Report any error noticed by the mount logic.
	<-c.Ready
	if err := c.MountError; err != nil {
		logrus.Errorf("fuse: mount error: %v", err)
		return err
	}

	return nil
}

// InitWait blocks until the serve loop started.
func (s *Service) InitWait() {
	<-s.initDone
}

// MountPoint returns the mountpoint path.
func (s *Service) MountPoint() string {
	return s.mountPoint
}

// Unmount detaches the filesystem; safe to call repeatedly.
func (s *Service) Unmount() {
	fuse.Unmount(s.mountPoint)
}

// Destroy stops the tree (config monitor, provider task queues, provider
// teardown) and unmounts.
func (s *Service) Destroy() {
	s.root.Stop()
	s.Unmount()
}

// Root returns the filesystem root node; a Bazil FUSE requirement.
func (s *Service) Root() (fs.Node, error) {
	return &Dir{name: "/", path: "/", node: s.root, server: s}, nil
}

// node returns the cached fs node for path, creating it with mk on first
// use so inode identities stay stable across lookups.
func (s *Service) node(path string, mk func() fs.Node) fs.Node {
	s.RLock()
	n, ok := s.nodeDB[path]
	s.RUnlock()
	if ok {
		return n
	}

	s.Lock()
	defer s.Unlock()
	if n, ok = s.nodeDB[path]; ok {
		return n
	}
	n = mk()
	s.nodeDB[path] = n
	return n
}

// forget drops a cached node.
func (s *Service) forget(path string) {
	s.Lock()
	delete(s.nodeDB, path)
	s.Unlock()
}

// pollWakeup adapts a kernel poll wakeup to the vfs PollHandle contract;
// it is consumed (fired) at most once.
type pollWakeup struct {
	conn *fuse.Conn
	wk   fuse.PollWakeup
}

func (p *pollWakeup) Wakeup() {
	if err := p.conn.NotifyPollWakeup(p.wk); err != nil {
		logrus.Debugf("fuse: poll wakeup: %v", err)
	}
}
