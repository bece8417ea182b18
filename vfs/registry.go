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

	iradix "github.com/hashicorp/go-immutable-radix"
)

// Registry indexes every materialized property file by its
// "provider/ns/prop" path. Provider removal is a single prefix delete.
type Registry struct {
	mu   sync.Mutex
	tree *iradix.Tree
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tree: iradix.New()}
}

func propKey(provider, ns, prop string) []byte {
	return []byte(provider + "/" + ns + "/" + prop)
}

// Insert records the file backing provider/ns/prop.
func (r *Registry) Insert(provider, ns, prop string, f File) {
	r.mu.Lock()
	r.tree, _, _ = r.tree.Insert(propKey(provider, ns, prop), f)
	r.mu.Unlock()
}

// Get looks a property file up.
func (r *Registry) Get(provider, ns, prop string) (File, bool) {
	r.mu.Lock()
	v, ok := r.tree.Get(propKey(provider, ns, prop))
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return v.(File), true
}

// DeleteProvider drops every property of a provider.
func (r *Registry) DeleteProvider(provider string) {
	r.mu.Lock()
	r.tree, _ = r.tree.DeletePrefix([]byte(provider + "/"))
	r.mu.Unlock()
}

// Walk visits every registered property file.
func (r *Registry) Walk(fn func(path string, f File) bool) {
	r.mu.Lock()
	tree := r.tree
	r.mu.Unlock()

	tree.Root().Walk(func(k []byte, v interface{}) bool {
		return fn(string(k), v.(File))
	})
}

// Len returns the number of registered properties.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}
