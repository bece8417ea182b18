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

// Package statefs defines the contract between the statefs server and its
// provider plugins. A provider is a shared object (a Go plugin) exporting a
// single entry point that hands back the root of a property tree plus an io
// table used to read, write and subscribe to individual properties.
//
// The server side of this contract (tree, loading, change notification)
// lives in the subpackages; providers only need this package.
package statefs

// NodeType identifies the kind of a tree node.
type NodeType int

const (
	// NodeProp is a property leaf.
	NodeProp NodeType = 1
	// NodeNs is a namespace: a named group of properties.
	NodeNs NodeType = 2
	// NodeRoot is the provider root; it is also a namespace container.
	NodeRoot NodeType = NodeNs | 4
)

// Attribute bits reported by Io.Getattr().
const (
	// AttrRead marks a readable property.
	AttrRead = 1
	// AttrWrite marks a writable property.
	AttrWrite = 1 << 1
	// AttrDiscrete marks a property supporting change subscription via
	// Io.Connect(). Properties without it are continuous: consumers must
	// re-read to observe changes.
	AttrDiscrete = 1 << 2
)

// Meta is a single node metadata attribute (documentation or anything else).
type Meta struct {
	Name  string
	Value Variant
}

// Node is common to the provider root, namespaces and properties.
type Node interface {
	Type() NodeType
	Name() string

	// Release frees resources used by the node. The server calls it exactly
	// once per node on teardown. Implementations may no-op.
	Release()

	// Info returns the node metadata attributes, possibly nil.
	Info() []Meta
}

// BranchHandle is an opaque iterator owned by the server for the duration of
// a single child enumeration. The server must call Branch.ReleaseIter()
// exactly once per First().
type BranchHandle uintptr

// Branch enumerates and looks up the children of a namespace-like node.
type Branch interface {
	// Find looks up a child node by name; nil if absent.
	Find(name string) Node

	// First returns an iterator positioned at the first child.
	First() BranchHandle

	// Next advances the iterator.
	Next(h *BranchHandle)

	// Get dereferences the iterator; nil once iteration is exhausted.
	Get(h BranchHandle) Node

	// ReleaseIter frees the iterator and any resources held by it.
	ReleaseIter(h BranchHandle) bool
}

// Namespace is a named group of properties (or, for the root, namespaces).
type Namespace interface {
	Node
	Branch() Branch
}

// Property is a named scalar value produced by a provider.
type Property interface {
	Node

	// Default is the initial value, also served when the provider is not
	// available or cannot provide data.
	Default() Variant
}

// Slot is the callback structure passed to Io.Connect. The provider invokes
// OnChanged whenever the value of a connected discrete property changes.
// The slot pointer is stable for the lifetime of the connection; providers
// may store it.
type Slot struct {
	OnChanged func(*Slot, Property)
}

// IoHandle is an opaque per-open handle returned by Io.Open.
type IoHandle uintptr

// Io is the property access table. The table itself can be used
// concurrently; access to any one property and to any one open handle is
// serialized by the server.
type Io interface {
	// Getattr returns the AttrRead/AttrWrite/AttrDiscrete mask of p.
	Getattr(p Property) int

	// Size returns the property size; for variable-length properties the
	// maximum size is the better answer.
	Size(p Property) int64

	// Open prepares p for I/O; flags are the open(2) access flags.
	Open(p Property, flags int) (IoHandle, error)

	// Read reads up to len(dst) bytes starting at off. A negative errno
	// from the provider is surfaced as a syscall.Errno error.
	Read(h IoHandle, dst []byte, off int64) (int, error)

	// Write writes len(src) bytes starting at off.
	Write(h IoHandle, src []byte, off int64) (int, error)

	// Close releases an open handle.
	Close(h IoHandle)

	// Connect attaches the slot to a discrete property. Only a single
	// connection exists per property; a repeated call replaces the slot.
	Connect(p Property, s *Slot) bool

	// Disconnect detaches a previously connected slot.
	Disconnect(p Property)
}

// Event is a provider-originated notification to the server.
type Event int

const (
	// EventReload asks the server to reload the provider.
	EventReload Event = iota
)

// Server is the server-side interface handed to providers on load.
type Server interface {
	Event(p Provider, e Event)
}

// Provider is the root object a plugin hands back to the server.
type Provider interface {
	// Version is the ABI version the provider was built against, packed
	// with MkVersion.
	Version() uint32

	Root() Namespace
	Io() Io
}

// ProviderGetter is the signature of the provider plugin entry point.
type ProviderGetter func(Server) Provider

// ProviderSymbol is the symbol a provider plugin must export with the
// ProviderGetter signature.
const ProviderSymbol = "StatefsProviderGet"

// MkVersion packs an ABI version as (major<<16)|minor.
func MkVersion(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

// SplitVersion unpacks a version produced by MkVersion.
func SplitVersion(v uint32) (major, minor uint16) {
	return uint16(v >> 16), uint16(v & 0xffff)
}

// CurrentVersion is the ABI version implemented by this server.
var CurrentVersion = MkVersion(3, 0)

// IsVersionCompatible reports whether a provider built against libVer can be
// served by a server implementing ownVer: same major, provider minor not
// newer than the server's.
func IsVersionCompatible(ownVer, libVer uint32) bool {
	maj, min := SplitVersion(ownVer)
	provMaj, provMin := SplitVersion(libVer)
	return provMaj == maj && provMin <= min
}

// IsCompatible reports whether p can be served by this server build.
func IsCompatible(ownVer uint32, p Provider) bool {
	return IsVersionCompatible(ownVer, p.Version())
}
