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

// Package monitor watches the configuration directory and feeds provider
// and loader declarations to a receiver as config files come and go.
package monitor

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/nemomobile/statefs/config"
)

// Receiver gets the config change callbacks. Calls arrive on the monitor's
// watch goroutine, or on the caller's goroutine during the initial load.
type Receiver interface {
	ProviderAdd(p *config.Plugin)
	ProviderRm(p *config.Plugin)
	LoaderAdd(l *config.Loader)
	LoaderRm(l *config.Loader)
}

type entry struct {
	rec   config.Record
	mtime time.Time
}

// Monitor owns an fsnotify watch on the config directory and a dedicated
// goroutine rescanning it on every event. Construction loads all existing
// config files synchronously, so callers never observe an empty initial
// state.
type Monitor struct {
	dir    string
	target Receiver

	mu    sync.Mutex
	files map[string]entry // config filename -> declared record

	watcher *fsnotify.Watcher
	done    chan struct{}
	joined  sync.WaitGroup
}

// New creates the watch, loads the current directory contents and starts
// the watch goroutine. The config directory must exist.
func New(dir string, target Receiver) (*Monitor, error) {
	logrus.Infof("monitor: config monitor for %v", dir)

	if err := config.EnsureDir(dir); err != nil {
		return nil, err
	}

	m := &Monitor{
		dir:    dir,
		target: target,
		files:  make(map[string]entry),
		done:   make(chan struct{}),
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	m.watcher = w

	// Watch goroutine runs before the initial load finishes upstream; here
	// the watcher already buffers events, so loading first loses nothing.
	config.Visit(dir, m.libAdd)

	m.joined.Add(1)
	go m.watch()

	return m, nil
}

// Close cancels the watch and joins the goroutine.
func (m *Monitor) Close() error {
	close(m.done)
	err := m.watcher.Close()
	m.joined.Wait()
	logrus.Debug("monitor: config monitor stopped")
	return err
}

// libAdd registers a parsed record and dispatches the add callback. Entries
// whose declared library doesn't exist are skipped.
func (m *Monitor) libAdd(cfgPath string, rec config.Record) {
	var libPath string
	switch r := rec.(type) {
	case *config.Plugin:
		libPath = r.Path
	case *config.Loader:
		libPath = r.Path
	default:
		return
	}

	if _, err := config.AppFs.Stat(libPath); err != nil {
		logrus.Errorf("monitor: library %v doesn't exist, skipping", libPath)
		return
	}

	fname := filepath.Base(cfgPath)
	mtime := time.Time{}
	if fi, err := config.AppFs.Stat(cfgPath); err == nil {
		mtime = fi.ModTime()
	}

	m.mu.Lock()
	m.files[fname] = entry{rec: rec, mtime: mtime}
	m.mu.Unlock()

	switch r := rec.(type) {
	case *config.Plugin:
		m.target.ProviderAdd(r)
	case *config.Loader:
		m.target.LoaderAdd(r)
	}
}

// libRm forgets a config file and dispatches the matching rm callback.
func (m *Monitor) libRm(fname string) {
	m.mu.Lock()
	e, ok := m.files[fname]
	if ok {
		delete(m.files, fname)
	}
	m.mu.Unlock()

	if !ok {
		logrus.Errorf("monitor: lib_rm: unknown lib %v", fname)
		return
	}

	switch r := e.rec.(type) {
	case *config.Plugin:
		m.target.ProviderRm(r)
	case *config.Loader:
		m.target.LoaderRm(r)
	}
}

type fileStamp struct {
	name  string
	mtime time.Time
}

// rescan recomputes the directory state and emits the difference against
// the in-memory map. Config changes are rare, so recalculating everything
// on each wakeup is simpler and more robust than interpreting single
// events. Removals run before additions so a replaced file shows up as
// rm+add.
func (m *Monitor) rescan() {
	entries, err := afero.ReadDir(config.AppFs, m.dir)
	if err != nil {
		logrus.Errorf("monitor: can't read config dir %v: %v", m.dir, err)
		return
	}

	cur := make(map[fileStamp]string) // stamp -> full path
	for _, fi := range entries {
		if fi.IsDir() || !config.IsConfigFile(fi.Name()) {
			continue
		}
		cur[fileStamp{fi.Name(), fi.ModTime()}] =
			filepath.Join(m.dir, fi.Name())
	}

	m.mu.Lock()
	prev := make(map[fileStamp]bool, len(m.files))
	prevNames := make(map[string]time.Time, len(m.files))
	for name, e := range m.files {
		prev[fileStamp{name, e.mtime}] = true
		prevNames[name] = e.mtime
	}
	m.mu.Unlock()

	var added []fileStamp
	for st := range cur {
		if !prev[st] {
			added = append(added, st)
		}
	}
	var removed []fileStamp
	for st := range prev {
		if _, stillThere := cur[st]; !stillThere {
			removed = append(removed, st)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].name < added[j].name })
	sort.Slice(removed, func(i, j int) bool { return removed[i].name < removed[j].name })

	for _, st := range removed {
		logrus.Infof("monitor: removed %v", st.name)
		m.libRm(st.name)
	}

	for _, st := range added {
		// Loader config updates are not live in general: an entry already
		// known under the same (name, mtime) is not re-announced.
		if config.IsLoaderConfigFile(st.name) {
			if mt, ok := prevNames[st.name]; ok && mt.Equal(st.mtime) {
				logrus.Infof("monitor: skipping %v", st.name)
				continue
			}
		}
		logrus.Infof("monitor: added %v", st.name)
		config.FromFile(cur[st], m.libAdd)
	}
}

// watch is the monitor thread: it blocks on the fsnotify channels until
// cancelled. Any panic is caught at the top level; the server keeps
// serving already-loaded providers.
func (m *Monitor) watch() {
	defer m.joined.Done()
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("monitor: config watcher caught %v", r)
		}
	}()

	for {
		select {
		case <-m.done:
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logrus.Debugf("monitor: maybe config is changed (%v)", ev)
			m.rescan()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logrus.Errorf("monitor: watch error: %v", err)
		}
	}
}
