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
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nemomobile/statefs"
	"github.com/nemomobile/statefs/config"
	"github.com/nemomobile/statefs/pump"
)

// LoaderRegistry is the loader-resolution surface the tree needs;
// implemented by loader.Registry.
type LoaderRegistry interface {
	Get(kind string) (statefs.Loader, error)
	Register(rec *config.Loader) bool
	Remove(name string) bool
}

// OnReloadRequest handles a provider's reload event. The default just
// logs; the server main installs a graceful-shutdown handler so the
// service manager restarts the daemon with the new provider.
var OnReloadRequest = func(provider string) {
	logrus.Warnf("vfs: provider %v requested a reload", provider)
}

// providerBridge is the statefs.Server handed to a provider on load.
type providerBridge struct {
	pd *PluginDir
}

func (b *providerBridge) Event(p statefs.Provider, e statefs.Event) {
	if e == statefs.EventReload {
		OnReloadRequest(b.pd.info.Name)
	}
}

// PluginDir is the providers/<name> directory: one namespace subdir per
// declared namespace, a lazily loaded provider behind them, and the
// per-provider task queue feeding poll wakeups.
type PluginDir struct {
	*Dir

	info    *config.Plugin
	loaders LoaderRegistry
	props   *Registry
	nsDirs  []*PluginNsDir

	queue atomic.Pointer[pump.Queue]

	mu       sync.Mutex
	loaded   bool
	provider *statefs.ProviderHandle

	refMu   sync.Mutex
	refs    int
	removed bool
	torn    bool
}

// NewPluginDir builds the provider directory with loader files in place.
// Nothing is loaded yet; the first open of any property file triggers it.
func NewPluginDir(info *config.Plugin, loaders LoaderRegistry, props *Registry) *PluginDir {
	pd := &PluginDir{
		Dir:     NewDir(DirRO),
		info:    info,
		loaders: loaders,
		props:   props,
	}
	for _, ns := range info.Namespaces {
		nsDir := newPluginNsDir(pd, ns)
		if err := pd.AddDir(ns.Name, nsDir); err != nil {
			logrus.Warnf("vfs: provider %v declares namespace %v twice, skipping",
				info.Name, ns.Name)
			continue
		}
		pd.nsDirs = append(pd.nsDirs, nsDir)
	}
	return pd
}

// Info returns the provider declaration.
func (pd *PluginDir) Info() *config.Plugin { return pd.info }

// Load loads the provider once; on failure every namespace materializes
// fake files serving the declared defaults.
func (pd *PluginDir) Load() {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if pd.loaded {
		return
	}
	pd.loaded = true

	logrus.Infof("vfs: loading plugin %v", pd.info.Path)
	pd.queue.Store(pump.NewQueue())

	kind := pd.info.LoaderKind()
	ld, err := pd.loaders.Get(kind)
	var prov statefs.Provider
	if err == nil {
		prov, err = ld.Load(pd.info.Path, &providerBridge{pd: pd})
	}
	if err != nil {
		logrus.Errorf("vfs: can't load %v, using fake values: %v",
			pd.info.Path, err)
		for _, nsDir := range pd.nsDirs {
			nsDir.loadFake()
		}
		return
	}

	pd.provider = statefs.NewProviderHandle(prov, ld)
	for _, nsDir := range pd.nsDirs {
		nsDir.loadReal(pd.provider)
	}
}

// enqueue schedules a notification delivery on the provider task queue.
func (pd *PluginDir) enqueue(fn func()) bool {
	q := pd.queue.Load()
	if q == nil {
		return false
	}
	return q.Enqueue(fn)
}

// ref marks a live file handle depending on the loaded provider. The
// provider cannot be torn down while any handle is open.
func (pd *PluginDir) ref() {
	pd.refMu.Lock()
	pd.refs++
	pd.refMu.Unlock()
}

func (pd *PluginDir) unref() {
	pd.refMu.Lock()
	pd.refs--
	teardown := pd.removed && pd.refs == 0 && !pd.torn
	if teardown {
		pd.torn = true
	}
	pd.refMu.Unlock()

	if teardown {
		pd.teardown()
	}
}

// markRemoved is called when the provider's config goes away. Teardown is
// immediate when no handle is open, otherwise deferred to the last
// release.
func (pd *PluginDir) markRemoved() {
	pd.refMu.Lock()
	pd.removed = true
	teardown := pd.refs == 0 && !pd.torn
	if teardown {
		pd.torn = true
	}
	pd.refMu.Unlock()

	if teardown {
		pd.teardown()
	}
}

// teardown stops the task queue, disconnects and releases every property
// node, then releases the provider root.
func (pd *PluginDir) teardown() {
	if q := pd.queue.Load(); q != nil {
		q.Stop()
	}

	pd.mu.Lock()
	defer pd.mu.Unlock()

	for _, nsDir := range pd.nsDirs {
		nsDir.release()
	}
	if pd.provider != nil {
		pd.provider.Release()
		pd.provider = nil
	}
}

// Shutdown is the server-exit path: same teardown, but unconditional.
func (pd *PluginDir) Shutdown() {
	pd.refMu.Lock()
	pd.removed = true
	teardown := !pd.torn
	pd.torn = true
	pd.refMu.Unlock()

	if teardown {
		pd.teardown()
	}
}

// PluginNsDir is providers/<provider>/<ns>: initially loader files, after
// loading the real (or fake) property files.
type PluginNsDir struct {
	*Dir

	pd   *PluginDir
	info *config.Namespace

	fmu   sync.Mutex
	files []File
	ns    *statefs.NsHandle
}

func newPluginNsDir(pd *PluginDir, info *config.Namespace) *PluginNsDir {
	d := &PluginNsDir{
		Dir:  NewDir(DirRO),
		pd:   pd,
		info: info,
	}
	for _, prop := range info.Props {
		d.addLoaderFile(prop)
	}
	return d
}

// addLoaderFile installs the lazy placeholder for one property. Its open
// loads the plugin and re-opens whatever file took the name.
func (d *PluginNsDir) addLoaderFile(prop *config.Property) {
	name := prop.Name
	load := func() (File, error) {
		logrus.Debugf("vfs: loading %v", name)
		d.pd.Load()
		return d.acquire(name)
	}

	f := NewLoaderFile(prop.Mode(globalUmask), load)
	d.AddFile(name, f)
	d.pd.props.Insert(d.pd.info.Name, d.info.Name, name, f)
}

// acquire returns the materialized file for name; a still-unmaterialized
// placeholder means loading failed to produce anything usable.
func (d *PluginNsDir) acquire(name string) (File, error) {
	f, ok := d.LookupFile(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	if _, still := f.(*loaderFile); still {
		return nil, syscall.EIO
	}
	return f, nil
}

// track keeps the materialized file for teardown and indexes it.
func (d *PluginNsDir) track(name string, f File) {
	d.fmu.Lock()
	d.files = append(d.files, f)
	d.fmu.Unlock()

	d.ReplaceFile(name, f)
	d.pd.props.Insert(d.pd.info.Name, d.info.Name, name, f)
}

// loadFake materializes every property as a fake file serving its default.
func (d *PluginNsDir) loadFake() {
	for _, prop := range d.info.Props {
		d.track(prop.Name, NewFakeFile(prop.DefVal(), prop.Mode(globalUmask)))
	}
}

// loadReal materializes the configured properties from the live provider.
// Properties the provider doesn't actually have become fake files.
func (d *PluginNsDir) loadReal(prov *statefs.ProviderHandle) {
	ns := prov.Ns(d.info.Name)

	d.fmu.Lock()
	d.ns = ns
	d.fmu.Unlock()

	for _, cfg := range d.info.Props {
		ph := ns.Property(prov.Io(), cfg.Name)
		if !ph.Exists() {
			logrus.Errorf("vfs: property %v/%v is absent", d.info.Name, cfg.Name)
			d.track(cfg.Name, NewFakeFile(cfg.DefVal(), cfg.Mode(globalUmask)))
			continue
		}

		mode := ph.Mode(globalUmask)
		if ph.IsDiscrete() {
			d.track(cfg.Name, NewDiscreteFile(ph, mode, d.pd))
		} else {
			d.track(cfg.Name, NewContinuousFile(ph, mode, d.pd))
		}
	}
}

// release disconnects and releases every property node plus the namespace
// handle.
func (d *PluginNsDir) release() {
	d.fmu.Lock()
	files := d.files
	d.files = nil
	ns := d.ns
	d.ns = nil
	d.fmu.Unlock()

	for _, f := range files {
		if t, ok := f.(interface{ teardown() }); ok {
			t.teardown()
		}
	}
	if ns != nil {
		ns.Release()
	}
}
