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
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nemomobile/statefs/config"
)

// PluginsDir is the providers/ directory. It allows child removal (the
// unregister path) but no creation.
type PluginsDir struct {
	*Dir

	loaders LoaderRegistry
	props   *Registry

	pmu     sync.Mutex
	plugins map[string]*PluginDir

	// removeHook routes VFS-initiated removal through the root so the
	// namespaces/ view stays consistent.
	removeHook func(name string) error
}

// NewPluginsDir makes an empty providers/ directory.
func NewPluginsDir(loaders LoaderRegistry, props *Registry) *PluginsDir {
	return &PluginsDir{
		Dir:     NewDir(DirReadRm),
		loaders: loaders,
		props:   props,
		plugins: make(map[string]*PluginDir),
	}
}

// PluginAdd registers a provider declaration. A name collision is logged
// and skipped; the returned dir is nil in that case.
func (d *PluginsDir) PluginAdd(p *config.Plugin) *PluginDir {
	d.pmu.Lock()
	defer d.pmu.Unlock()

	logrus.Debugf("vfs: plugin %v", p.Name)
	if _, ok := d.plugins[p.Name]; ok {
		logrus.Warnf("vfs: there is already a plugin %v, skipping", p.Name)
		return nil
	}

	pd := NewPluginDir(p, d.loaders, d.props)
	if err := d.AddDir(p.Name, pd); err != nil {
		logrus.Errorf("vfs: can't add plugin %v: %v", p.Name, err)
		return nil
	}
	d.plugins[p.Name] = pd
	return pd
}

// PluginRm unregisters a provider and starts its teardown; the returned
// dir is nil when the name is unknown.
func (d *PluginsDir) PluginRm(name string) *PluginDir {
	d.pmu.Lock()
	pd, ok := d.plugins[name]
	if ok {
		delete(d.plugins, name)
	}
	d.pmu.Unlock()

	if !ok {
		return nil
	}

	d.RemoveAny(name)
	d.props.DeleteProvider(name)
	pd.markRemoved()
	return pd
}

// Plugin looks up a registered provider dir.
func (d *PluginsDir) Plugin(name string) (*PluginDir, bool) {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	pd, ok := d.plugins[name]
	return pd, ok
}

// LoaderAdd registers a loader declaration.
func (d *PluginsDir) LoaderAdd(l *config.Loader) {
	logrus.Debugf("vfs: loader %v", l.Name)
	d.loaders.Register(l)
}

// LoaderRm removes a loader declaration.
func (d *PluginsDir) LoaderRm(l *config.Loader) {
	d.loaders.Remove(l.Name)
}

// Remove implements the VFS unlink/rmdir path on providers/.
func (d *PluginsDir) Remove(name string) error {
	if d.removeHook != nil {
		return d.removeHook(name)
	}
	return d.Dir.Remove(name)
}

// Stop tears every plugin down; server exit path.
func (d *PluginsDir) Stop() {
	d.pmu.Lock()
	plugins := make([]*PluginDir, 0, len(d.plugins))
	for _, pd := range d.plugins {
		plugins = append(plugins, pd)
	}
	d.pmu.Unlock()

	for _, pd := range plugins {
		pd.Shutdown()
	}
}

// NamespacesDir is the namespaces/ symlink view over providers/.
type NamespacesDir struct {
	*Dir
}

// NewNamespacesDir makes an empty namespaces/ directory.
func NewNamespacesDir() *NamespacesDir {
	return &NamespacesDir{Dir: NewDir(DirRO)}
}

// PluginAdd creates the symlinks for every (ns, prop) the provider
// declares. When two providers contribute the same pair the first wins.
func (d *NamespacesDir) PluginAdd(p *config.Plugin) {
	for _, ns := range p.Namespaces {
		var nsDir *Dir
		if e, ok := d.Lookup(ns.Name); ok {
			nsDir, _ = e.(*Dir)
		}
		if nsDir == nil {
			nsDir = NewDir(DirRO)
			d.AddDir(ns.Name, nsDir)
		}

		for _, prop := range ns.Props {
			link := &Symlink{
				Target: "../../providers/" + p.Name + "/" + ns.Name + "/" + prop.Name,
				owner:  p.Name,
			}
			if err := nsDir.AddSymlink(prop.Name, link); err != nil {
				logrus.Warnf("vfs: namespace %v/%v is already provided, skipping %v's",
					ns.Name, prop.Name, p.Name)
			}
		}
	}
}

// PluginRm drops the symlinks the provider contributed; empty namespace
// dirs go with them.
func (d *NamespacesDir) PluginRm(p *config.Plugin) {
	for _, ns := range p.Namespaces {
		e, ok := d.Lookup(ns.Name)
		if !ok {
			continue
		}
		nsDir, ok := e.(*Dir)
		if !ok {
			continue
		}

		for _, prop := range ns.Props {
			if le, ok := nsDir.Lookup(prop.Name); ok {
				if link, ok := le.(*Symlink); ok && link.owner == p.Name {
					nsDir.RemoveAny(prop.Name)
				}
			}
		}
		if nsDir.Len() == 0 {
			d.RemoveAny(ns.Name)
		}
	}
}

// ConfigReceiver is what the tree exposes to the config monitor;
// structurally identical to monitor.Receiver.
type ConfigReceiver interface {
	ProviderAdd(p *config.Plugin)
	ProviderRm(p *config.Plugin)
	LoaderAdd(l *config.Loader)
	LoaderRm(l *config.Loader)
}

// MonitorStarter hooks config-monitor construction into the tree without
// the tree depending on the monitor package; the server main wires it to
// monitor.New.
type MonitorStarter func(cfgDir string, recv ConfigReceiver) (io.Closer, error)

// Root is the mount root: providers/ and namespaces/. It is the config
// monitor's receiver, and it creates the monitor lazily on first access so
// that mounting alone doesn't start loading configuration.
type Root struct {
	*Dir

	Plugins    *PluginsDir
	Namespaces *NamespacesDir
	Props      *Registry

	startMon MonitorStarter
	cfgDir   string
	armed    bool
	monOnce  sync.Once
	mon      io.Closer
}

// NewRoot builds the empty tree.
func NewRoot(loaders LoaderRegistry, startMon MonitorStarter) *Root {
	props := NewRegistry()
	r := &Root{
		Dir:        NewDir(DirRO),
		Plugins:    NewPluginsDir(loaders, props),
		Namespaces: NewNamespacesDir(),
		Props:      props,
		startMon:   startMon,
	}
	r.AddDir("providers", r.Plugins)
	r.AddDir("namespaces", r.Namespaces)
	r.Plugins.removeHook = func(name string) error {
		if pd, ok := r.Plugins.Plugin(name); ok {
			r.removeProvider(pd.Info())
			return nil
		}
		return r.Plugins.Dir.Remove(name)
	}
	return r
}

// Init arms lazy monitor creation for the given config directory.
func (r *Root) Init(cfgDir string) {
	r.cfgDir = cfgDir
	r.armed = true
}

// EnsureInit creates the config monitor on first access to the tree.
func (r *Root) EnsureInit() {
	if !r.armed {
		return
	}
	r.monOnce.Do(func() {
		mon, err := r.startMon(r.cfgDir, r)
		if err != nil {
			logrus.Errorf("vfs: can't start config monitor: %v", err)
			return
		}
		r.mon = mon
	})
}

// ProviderAdd registers a provider as a transaction: the fully built
// provider dir is attached first, the symlink view second; a failure on
// the first step leaves nothing behind.
func (r *Root) ProviderAdd(p *config.Plugin) {
	if p == nil {
		return
	}
	pd := r.Plugins.PluginAdd(p)
	if pd == nil {
		return
	}
	r.Namespaces.PluginAdd(p)
}

// ProviderRm removes the provider subtree and its symlinks.
func (r *Root) ProviderRm(p *config.Plugin) {
	if p == nil {
		return
	}
	r.removeProvider(p)
}

func (r *Root) removeProvider(p *config.Plugin) {
	if pd := r.Plugins.PluginRm(p.Name); pd != nil {
		// symlinks are dropped against the registered declaration, not
		// the (possibly re-parsed) one the monitor handed us
		r.Namespaces.PluginRm(pd.Info())
		return
	}
	r.Namespaces.PluginRm(p)
}

// LoaderAdd registers a loader declaration.
func (r *Root) LoaderAdd(l *config.Loader) {
	if l != nil {
		r.Plugins.LoaderAdd(l)
	}
}

// LoaderRm removes a loader declaration.
func (r *Root) LoaderRm(l *config.Loader) {
	if l != nil {
		r.Plugins.LoaderRm(l)
	}
}

// Stop closes the monitor and tears all plugins down.
func (r *Root) Stop() {
	if r.mon != nil {
		r.mon.Close()
		r.mon = nil
	}
	r.Plugins.Stop()
}
