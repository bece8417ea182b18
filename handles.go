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

package statefs

import (
	"os"
	"sync"
	"syscall"
)

// The wrappers below own ABI nodes on behalf of the server. The provider
// owns the memory; the server's obligations are to call Node.Release exactly
// once per node it holds and Branch.ReleaseIter exactly once per First.
// All wrappers tolerate an absent (nil) underlying node, returning zero
// values, so fake-mode code paths need no special casing.

// EachChild enumerates the children of a branch, releasing the iterator
// exactly once regardless of how the walk ends.
func EachChild(b Branch, fn func(Node) error) error {
	it := b.First()
	defer b.ReleaseIter(it)

	for {
		n := b.Get(it)
		if n == nil {
			return nil
		}
		if err := fn(n); err != nil {
			return err
		}
		b.Next(&it)
	}
}

// NsHandle owns a namespace node obtained from a provider root.
type NsHandle struct {
	ns      Namespace
	release sync.Once
}

// NewNsHandle wraps ns, which may be nil.
func NewNsHandle(ns Namespace) *NsHandle {
	return &NsHandle{ns: ns}
}

// Exists reports whether the namespace was found in the provider.
func (h *NsHandle) Exists() bool {
	return h != nil && h.ns != nil
}

// Name returns the namespace name, "" when absent.
func (h *NsHandle) Name() string {
	if !h.Exists() {
		return ""
	}
	return h.ns.Name()
}

// Property looks up a property child and wraps it; the result may be
// non-existent.
func (h *NsHandle) Property(io Io, name string) *PropHandle {
	if !h.Exists() {
		return &PropHandle{io: io}
	}
	p, _ := h.ns.Branch().Find(name).(Property)
	return &PropHandle{io: io, prop: p}
}

// EachProperty enumerates the property children in provider order.
func (h *NsHandle) EachProperty(io Io, fn func(*PropHandle) error) error {
	if !h.Exists() {
		return nil
	}
	return EachChild(h.ns.Branch(), func(n Node) error {
		p, ok := n.(Property)
		if !ok {
			return nil
		}
		return fn(&PropHandle{io: io, prop: p})
	})
}

// Release releases the namespace node; safe to call more than once, the
// node sees it only once.
func (h *NsHandle) Release() {
	if !h.Exists() {
		return
	}
	h.release.Do(h.ns.Release)
}

// PropHandle owns a property node together with the io table serving it.
type PropHandle struct {
	io      Io
	prop    Property
	release sync.Once

	metaOnce sync.Once
	meta     map[string]Variant
}

// Exists reports whether the property was found in the provider.
func (p *PropHandle) Exists() bool {
	return p != nil && p.prop != nil
}

// Name returns the property name, "" when absent.
func (p *PropHandle) Name() string {
	if !p.Exists() {
		return ""
	}
	return p.prop.Name()
}

// Default returns the declared default value.
func (p *PropHandle) Default() Variant {
	if !p.Exists() {
		return InvalidVariant()
	}
	return p.prop.Default()
}

// Getattr returns the attribute mask, 0 when absent.
func (p *PropHandle) Getattr() int {
	if !p.Exists() {
		return 0
	}
	return p.io.Getattr(p.prop)
}

// IsDiscrete reports whether the property supports change subscription.
func (p *PropHandle) IsDiscrete() bool {
	return p.Getattr()&AttrDiscrete != 0
}

// Mode derives the file mode from the attribute mask and umask.
func (p *PropHandle) Mode(umask os.FileMode) os.FileMode {
	var mode os.FileMode
	attr := p.Getattr()
	if attr&AttrRead != 0 {
		mode |= 0444
	}
	if attr&AttrWrite != 0 {
		mode |= 0222
	}
	return mode &^ umask
}

// Size returns the property size, 0 when absent.
func (p *PropHandle) Size() int64 {
	if !p.Exists() {
		return 0
	}
	return p.io.Size(p.prop)
}

// Open opens the property for I/O.
func (p *PropHandle) Open(flags int) (IoHandle, error) {
	if !p.Exists() {
		return 0, syscall.ENOENT
	}
	return p.io.Open(p.prop, flags)
}

// Read reads through an open handle.
func (p *PropHandle) Read(h IoHandle, dst []byte, off int64) (int, error) {
	if !p.Exists() {
		return 0, nil
	}
	return p.io.Read(h, dst, off)
}

// Write writes through an open handle.
func (p *PropHandle) Write(h IoHandle, src []byte, off int64) (int, error) {
	if !p.Exists() {
		return 0, nil
	}
	return p.io.Write(h, src, off)
}

// Close closes an open handle.
func (p *PropHandle) Close(h IoHandle) {
	if p.Exists() {
		p.io.Close(h)
	}
}

// Connect attaches slot to a discrete property.
func (p *PropHandle) Connect(s *Slot) bool {
	if !p.Exists() || !p.IsDiscrete() {
		return false
	}
	return p.io.Connect(p.prop, s)
}

// Disconnect detaches the connected slot.
func (p *PropHandle) Disconnect() {
	if p.Exists() && p.IsDiscrete() {
		p.io.Disconnect(p.prop)
	}
}

// Meta returns a node metadata attribute by name.
func (p *PropHandle) Meta(name string) Variant {
	if !p.Exists() {
		return InvalidVariant()
	}
	p.metaOnce.Do(func() {
		p.meta = make(map[string]Variant)
		for _, m := range p.prop.Info() {
			p.meta[m.Name] = m.Value
		}
	})
	v, ok := p.meta[name]
	if !ok {
		return InvalidVariant()
	}
	return v
}

// Release releases the property node, exactly once.
func (p *PropHandle) Release() {
	if !p.Exists() {
		return
	}
	p.release.Do(p.prop.Release)
}

// ProviderHandle owns a loaded provider root. The server may only release
// the root once; the handle enforces that and keeps whatever loaded the
// provider referenced until release.
type ProviderHandle struct {
	provider Provider
	release  sync.Once

	// held keeps the loader (or any other loading context) reachable for
	// as long as the provider is; the library must outlive its handles.
	held interface{}
}

// NewProviderHandle wraps p; held is retained until Release.
func NewProviderHandle(p Provider, held interface{}) *ProviderHandle {
	return &ProviderHandle{provider: p, held: held}
}

// Loaded reports whether a live provider is behind the handle.
func (h *ProviderHandle) Loaded() bool {
	return h != nil && h.provider != nil
}

// Io returns the provider io table, nil when not loaded.
func (h *ProviderHandle) Io() Io {
	if !h.Loaded() {
		return nil
	}
	return h.provider.Io()
}

// Root returns the provider root namespace, nil when not loaded.
func (h *ProviderHandle) Root() Namespace {
	if !h.Loaded() {
		return nil
	}
	return h.provider.Root()
}

// Ns finds a namespace by name in the provider root.
func (h *ProviderHandle) Ns(name string) *NsHandle {
	if !h.Loaded() {
		return NewNsHandle(nil)
	}
	ns, _ := h.provider.Root().Branch().Find(name).(Namespace)
	return NewNsHandle(ns)
}

// EachNs enumerates the provider's namespaces in provider order.
func (h *ProviderHandle) EachNs(fn func(*NsHandle) error) error {
	if !h.Loaded() {
		return nil
	}
	return EachChild(h.provider.Root().Branch(), func(n Node) error {
		ns, ok := n.(Namespace)
		if !ok {
			return nil
		}
		return fn(NewNsHandle(ns))
	})
}

// Release releases the provider root, exactly once, and drops the held
// loading context.
func (h *ProviderHandle) Release() {
	if !h.Loaded() {
		return
	}
	h.release.Do(func() {
		h.provider.Root().Release()
		h.provider = nil
		h.held = nil
	})
}
