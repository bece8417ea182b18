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

package loader

import (
	"fmt"

	"github.com/nemomobile/statefs"
)

// Proxy wraps a loader implementation obtained from a shared object. It
// keeps the library handle referenced for as long as any loaded provider
// references the proxy.
type Proxy struct {
	path string
	lib  pluginHandle
	impl statefs.Loader
}

// Open loads the loader shared object at path and resolves its entry
// point.
func Open(path string) (*Proxy, error) {
	lib, err := pluginOpen(path)
	if err != nil {
		return nil, fmt.Errorf("loader: lib loading error: %v", err)
	}

	sym, err := lib.Lookup(statefs.LoaderSymbol)
	if err != nil {
		return nil, fmt.Errorf("loader: can't resolve %s in %s: %v",
			statefs.LoaderSymbol, path, err)
	}
	fn, ok := sym.(func() statefs.Loader)
	if !ok {
		return nil, fmt.Errorf("loader: %s in %s has wrong type %T",
			statefs.LoaderSymbol, path, sym)
	}

	impl := fn()
	if impl == nil {
		return nil, fmt.Errorf("loader: %s returned no loader", path)
	}
	if !statefs.IsVersionCompatible(statefs.CurrentVersion, impl.Version()) {
		return nil, fmt.Errorf("loader: incompatible loader version %#x vs %#x",
			impl.Version(), statefs.CurrentVersion)
	}

	return &Proxy{path: path, lib: lib, impl: impl}, nil
}

func (p *Proxy) Load(path string, srv statefs.Server) (statefs.Provider, error) {
	return p.impl.Load(path, srv)
}

func (p *Proxy) Name() string { return p.impl.Name() }

func (p *Proxy) IsReloadable() bool { return p.impl.IsReloadable() }

func (p *Proxy) Version() uint32 { return p.impl.Version() }
