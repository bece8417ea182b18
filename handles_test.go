//
// Copyright: (C) 2019 Nestybox Inc.  All rights reserved.
//

package statefs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemomobile/statefs"
)

//
// Minimal in-process ABI stubs; enough to drive the handle wrappers.
//

type stubNode struct {
	typ      statefs.NodeType
	name     string
	released int
}

func (n *stubNode) Type() statefs.NodeType { return n.typ }
func (n *stubNode) Name() string           { return n.name }
func (n *stubNode) Release()               { n.released++ }
func (n *stubNode) Info() []statefs.Meta   { return nil }

type stubProp struct {
	stubNode
	def statefs.Variant
}

func (p *stubProp) Default() statefs.Variant { return p.def }

type stubBranch struct {
	nodes    []statefs.Node
	firsts   int
	releases int
}

func (b *stubBranch) Find(name string) statefs.Node {
	for _, n := range b.nodes {
		if n.Name() == name {
			return n
		}
	}
	return nil
}

func (b *stubBranch) First() statefs.BranchHandle { b.firsts++; return 1 }

func (b *stubBranch) Next(h *statefs.BranchHandle) { *h++ }

func (b *stubBranch) Get(h statefs.BranchHandle) statefs.Node {
	idx := int(h) - 1
	if idx < 0 || idx >= len(b.nodes) {
		return nil
	}
	return b.nodes[idx]
}

func (b *stubBranch) ReleaseIter(h statefs.BranchHandle) bool {
	b.releases++
	return true
}

type stubNs struct {
	stubNode
	branch *stubBranch
}

func (ns *stubNs) Branch() statefs.Branch { return ns.branch }

func mkProp(name string) *stubProp {
	return &stubProp{
		stubNode: stubNode{typ: statefs.NodeProp, name: name},
		def:      statefs.Cstr("0"),
	}
}

func TestEachChildReleasesIteratorOnce(t *testing.T) {

	b := &stubBranch{nodes: []statefs.Node{mkProp("a"), mkProp("b"), mkProp("c")}}

	var seen []string
	err := statefs.EachChild(b, func(n statefs.Node) error {
		seen = append(seen, n.Name())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, 1, b.firsts)
	assert.Equal(t, 1, b.releases)
}

func TestEachChildReleasesIteratorOnError(t *testing.T) {

	b := &stubBranch{nodes: []statefs.Node{mkProp("a"), mkProp("b")}}
	boom := errors.New("boom")

	err := statefs.EachChild(b, func(n statefs.Node) error { return boom })

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, b.firsts)
	assert.Equal(t, 1, b.releases)
}

func TestNsHandleAbsent(t *testing.T) {

	h := statefs.NewNsHandle(nil)
	assert.False(t, h.Exists())
	assert.Equal(t, "", h.Name())

	// property lookups on an absent namespace come back non-existent
	p := h.Property(nil, "x")
	assert.False(t, p.Exists())
	assert.Equal(t, 0, p.Getattr())
	assert.False(t, p.IsDiscrete())
	assert.EqualValues(t, 0, p.Size())

	// releasing absent handles is harmless
	h.Release()
	p.Release()
}

func TestNsHandleReleaseOnce(t *testing.T) {

	ns := &stubNs{
		stubNode: stubNode{typ: statefs.NodeNs, name: "sys"},
		branch:   &stubBranch{nodes: []statefs.Node{mkProp("v")}},
	}

	h := statefs.NewNsHandle(ns)
	require.True(t, h.Exists())

	h.Release()
	h.Release()
	assert.Equal(t, 1, ns.released)
}
