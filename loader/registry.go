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
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nemomobile/statefs"
	"github.com/nemomobile/statefs/config"
)

// Registry stores declared loader records and live loader instances keyed
// by kind name. The "default" loader is always registered.
type Registry struct {
	mu      sync.Mutex
	records map[string]*config.Loader
	live    map[string]statefs.Loader
}

// NewRegistry returns a registry with the built-in default loader live.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*config.Loader),
		live: map[string]statefs.Loader{
			"default": NewDefaultLoader(),
		},
	}
}

// Get resolves a loader kind: the cached live instance, or, when only a
// record exists, the shared object it declares is opened and cached.
func (r *Registry) Get(kind string) (statefs.Loader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ld, ok := r.live[kind]; ok {
		return ld, nil
	}

	rec, ok := r.records[kind]
	if !ok {
		if kind == "default" {
			// always resolvable, even after a stray removal
			ld := NewDefaultLoader()
			r.live[kind] = ld
			return ld, nil
		}
		return nil, fmt.Errorf("loader: no %q loader is registered", kind)
	}

	proxy, err := Open(rec.Path)
	if err != nil {
		return nil, err
	}
	r.live[kind] = proxy
	return proxy, nil
}

// Register adds or replaces a loader record. A record whose name is taken
// by a live instance is replaced only when that instance is reloadable;
// otherwise the registration is dropped with a diagnostic.
func (r *Registry) Register(rec *config.Loader) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ld, ok := r.live[rec.Name]; ok {
		if !ld.IsReloadable() {
			logrus.Warnf("loader: %v can't be replaced now, skipping", rec.Name)
			return false
		}
		logrus.Infof("loader: replacing existing loader %v", rec.Name)
		// Providers already loaded through the old instance keep their
		// reference; only future Get()s see the new record.
		delete(r.live, rec.Name)
	}

	r.records[rec.Name] = rec
	return true
}

// Remove drops a loader record and its live instance. Removal succeeds
// only when the live instance (if any) is reloadable; references held by
// loaded providers keep the instance itself alive.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ld, ok := r.live[name]
	if !ok {
		if _, ok = r.records[name]; !ok {
			return false
		}
		delete(r.records, name)
		return true
	}

	if !ld.IsReloadable() {
		logrus.Warnf("loader: %v can't be removed now, skipping", name)
		return false
	}

	delete(r.live, name)
	delete(r.records, name)
	return true
}
