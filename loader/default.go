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

// Package loader resolves loader kinds to live loader instances and loads
// provider plugins through them. The "default" loader handles any provider
// exporting the plain provider entry point; other kinds come from loader
// shared objects declared in config.
package loader

import (
	"fmt"
	"plugin"

	"github.com/nemomobile/statefs"
)

// pluginOpen indirects plugin loading so tests can stub shared objects.
var pluginOpen = func(path string) (pluginHandle, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type pluginHandle interface {
	Lookup(name string) (plugin.Symbol, error)
}

// defaultLoader loads providers exporting statefs.ProviderSymbol. It can
// load any provider that is safe to run from a FUSE thread.
type defaultLoader struct{}

// NewDefaultLoader returns the built-in "default" loader.
func NewDefaultLoader() statefs.Loader {
	return &defaultLoader{}
}

func (l *defaultLoader) Load(path string, srv statefs.Server) (statefs.Provider, error) {
	lib, err := pluginOpen(path)
	if err != nil {
		return nil, err
	}

	sym, err := lib.Lookup(statefs.ProviderSymbol)
	if err != nil {
		return nil, fmt.Errorf("loader: can't resolve %s in %s: %v",
			statefs.ProviderSymbol, path, err)
	}
	fn, ok := sym.(func(statefs.Server) statefs.Provider)
	if !ok {
		return nil, fmt.Errorf("loader: %s in %s has wrong type %T",
			statefs.ProviderSymbol, path, sym)
	}

	p := fn(srv)
	if p == nil {
		return nil, fmt.Errorf("loader: %s returned no provider", path)
	}
	if !statefs.IsCompatible(statefs.CurrentVersion, p) {
		return nil, fmt.Errorf("loader: incompatible provider version %#x vs %#x",
			p.Version(), statefs.CurrentVersion)
	}
	return p, nil
}

func (l *defaultLoader) Name() string { return "default" }

func (l *defaultLoader) IsReloadable() bool { return true }

func (l *defaultLoader) Version() uint32 { return statefs.CurrentVersion }
