//
// Copyright: (C) 2019 Nestybox Inc.  All rights reserved.
//

package vfs_test

import (
	"errors"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemomobile/statefs"
	"github.com/nemomobile/statefs/config"
	"github.com/nemomobile/statefs/vfs"
)

//
// In-process provider stubs.
//

type tBranch struct {
	nodes []statefs.Node
}

func (b *tBranch) Find(name string) statefs.Node {
	for _, n := range b.nodes {
		if n.Name() == name {
			return n
		}
	}
	return nil
}
func (b *tBranch) First() statefs.BranchHandle  { return 1 }
func (b *tBranch) Next(h *statefs.BranchHandle) { *h++ }
func (b *tBranch) Get(h statefs.BranchHandle) statefs.Node {
	idx := int(h) - 1
	if idx < 0 || idx >= len(b.nodes) {
		return nil
	}
	return b.nodes[idx]
}
func (b *tBranch) ReleaseIter(h statefs.BranchHandle) bool { return true }

type tProp struct {
	name     string
	def      statefs.Variant
	released int
}

func (p *tProp) Type() statefs.NodeType   { return statefs.NodeProp }
func (p *tProp) Name() string             { return p.name }
func (p *tProp) Release()                 { p.released++ }
func (p *tProp) Info() []statefs.Meta     { return nil }
func (p *tProp) Default() statefs.Variant { return p.def }

type tNs struct {
	name     string
	branch   tBranch
	released int
}

func (ns *tNs) Type() statefs.NodeType { return statefs.NodeNs }
func (ns *tNs) Name() string           { return ns.name }
func (ns *tNs) Release()               { ns.released++ }
func (ns *tNs) Info() []statefs.Meta   { return nil }
func (ns *tNs) Branch() statefs.Branch { return &ns.branch }

type tRoot struct {
	tNs
}

func (r *tRoot) Type() statefs.NodeType { return statefs.NodeRoot }

// tIo is the provider io table: one value per property name.
type tIo struct {
	mu          sync.Mutex
	values      map[string][]byte
	attrs       map[string]int
	slots       map[string]*statefs.Slot
	handles     map[statefs.IoHandle]string
	next        statefs.IoHandle
	opens       int
	closes      int
	connects    map[string]int
	disconnects map[string]int
	readErr     error
}

func newTIo() *tIo {
	return &tIo{
		values:      make(map[string][]byte),
		attrs:       make(map[string]int),
		slots:       make(map[string]*statefs.Slot),
		handles:     make(map[statefs.IoHandle]string),
		connects:    make(map[string]int),
		disconnects: make(map[string]int),
	}
}

func (io *tIo) Getattr(p statefs.Property) int {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.attrs[p.Name()]
}

func (io *tIo) Size(p statefs.Property) int64 {
	io.mu.Lock()
	defer io.mu.Unlock()
	return int64(len(io.values[p.Name()]))
}

func (io *tIo) Open(p statefs.Property, flags int) (statefs.IoHandle, error) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.next++
	io.opens++
	io.handles[io.next] = p.Name()
	return io.next, nil
}

func (io *tIo) Read(h statefs.IoHandle, dst []byte, off int64) (int, error) {
	io.mu.Lock()
	defer io.mu.Unlock()
	if io.readErr != nil {
		return 0, io.readErr
	}
	v := io.values[io.handles[h]]
	if off >= int64(len(v)) {
		return 0, nil
	}
	return copy(dst, v[off:]), nil
}

func (io *tIo) Write(h statefs.IoHandle, src []byte, off int64) (int, error) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.values[io.handles[h]] = append([]byte(nil), src...)
	return len(src), nil
}

func (io *tIo) Close(h statefs.IoHandle) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.closes++
	delete(io.handles, h)
}

func (io *tIo) Connect(p statefs.Property, s *statefs.Slot) bool {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.connects[p.Name()]++
	io.slots[p.Name()] = s
	return true
}

func (io *tIo) Disconnect(p statefs.Property) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.disconnects[p.Name()]++
	delete(io.slots, p.Name())
}

// fire invokes the connected slot the way a provider would.
func (io *tIo) fire(prop statefs.Property) bool {
	io.mu.Lock()
	s := io.slots[prop.Name()]
	io.mu.Unlock()
	if s == nil {
		return false
	}
	s.OnChanged(s, prop)
	return true
}

func (io *tIo) set(name, value string) {
	io.mu.Lock()
	io.values[name] = []byte(value)
	io.mu.Unlock()
}

type tProvider struct {
	version uint32
	root    *tRoot
	io      *tIo
}

func (p *tProvider) Version() uint32         { return p.version }
func (p *tProvider) Root() statefs.Namespace { return p.root }
func (p *tProvider) Io() statefs.Io          { return p.io }

// newTProvider builds a one-namespace provider.
func newTProvider(ns string, props ...*tProp) *tProvider {
	n := &tNs{name: ns}
	for _, p := range props {
		n.branch.nodes = append(n.branch.nodes, p)
	}
	root := &tRoot{tNs{name: "test"}}
	root.branch.nodes = []statefs.Node{n}
	return &tProvider{
		version: statefs.CurrentVersion,
		root:    root,
		io:      newTIo(),
	}
}

//
// Loader / registry stubs.
//

type tLoader struct {
	mu    sync.Mutex
	prov  statefs.Provider
	err   error
	loads int
}

func (l *tLoader) Load(path string, srv statefs.Server) (statefs.Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return l.prov, nil
}
func (l *tLoader) Name() string       { return "default" }
func (l *tLoader) IsReloadable() bool { return true }
func (l *tLoader) Version() uint32    { return statefs.CurrentVersion }

func (l *tLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

type tRegistry struct {
	ld  statefs.Loader
	err error
}

func (r *tRegistry) Get(kind string) (statefs.Loader, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.ld, nil
}
func (r *tRegistry) Register(rec *config.Loader) bool { return true }
func (r *tRegistry) Remove(name string) bool          { return true }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newTestRoot(reg vfs.LoaderRegistry) *vfs.Root {
	return vfs.NewRoot(reg, func(string, vfs.ConfigReceiver) (io.Closer, error) {
		return nopCloser{}, nil
	})
}

//
// Config record helpers.
//

func propRecord(name, defval string, access uint32) *config.Property {
	return &config.Property{
		Name:    name,
		Default: config.StrValue(defval),
		Access:  access,
	}
}

func pluginRecord(name, ns string, props ...*config.Property) *config.Plugin {
	return &config.Plugin{
		Library: config.Library{Name: name, Path: "/libs/" + name + ".so"},
		Info:    map[string]config.Value{"type": config.StrValue("default")},
		Namespaces: []*config.Namespace{
			{Name: ns, Props: props},
		},
	}
}

//
// Tree walking helpers.
//

func lookupDir(t *testing.T, d vfs.DirNode, name string) vfs.DirNode {
	t.Helper()
	e, ok := d.Lookup(name)
	require.True(t, ok, "directory %v not found", name)
	dn, ok := e.(vfs.DirNode)
	require.True(t, ok, "%v is not a directory", name)
	return dn
}

func lookupFile(t *testing.T, d vfs.DirNode, name string) vfs.File {
	t.Helper()
	e, ok := d.Lookup(name)
	require.True(t, ok, "file %v not found", name)
	f, ok := e.(vfs.File)
	require.True(t, ok, "%v is not a file", name)
	return f
}

func readAll(t *testing.T, h vfs.Handle) string {
	t.Helper()
	buf := make([]byte, 256)
	n, err := h.ReadAt(buf, 0)
	require.NoError(t, err)
	return string(buf[:n])
}

// wake counts poll wakeups.
type wake struct {
	mu    sync.Mutex
	fired int
}

func (w *wake) Wakeup() {
	w.mu.Lock()
	w.fired++
	w.mu.Unlock()
}

func (w *wake) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

//
// Tests.
//

func TestFakeMode(t *testing.T) {

	// loader that fails: provider library can't be loaded
	reg := &tRegistry{ld: &tLoader{err: errors.New("no such library")}}
	root := newTestRoot(reg)

	root.ProviderAdd(pluginRecord("pX", "n", propRecord("p", "42", config.AccessRead)))

	providers := lookupDir(t, root, "providers")
	nsDir := lookupDir(t, lookupDir(t, providers, "pX"), "n")
	f := lookupFile(t, nsDir, "p")

	// before anything is opened the entry is a placeholder with a fake
	// big size
	assert.EqualValues(t, vfs.LoaderFileSize, f.Size())

	h, err := f.Open(0)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, "42", readAll(t, h))

	_, err = h.WriteAt([]byte("1"), 0)
	assert.Equal(t, syscall.EACCES, err)

	// fake files accept poll but never signal
	p, ok := h.(vfs.Poller)
	require.True(t, ok)
	ready, err := p.Poll(&wake{})
	require.NoError(t, err)
	assert.False(t, ready)

	// the property is indexed
	_, ok = root.Props.Get("pX", "n", "p")
	assert.True(t, ok)
}

func TestNamespaceSymlinks(t *testing.T) {

	reg := &tRegistry{ld: &tLoader{err: errors.New("nope")}}
	root := newTestRoot(reg)

	root.ProviderAdd(pluginRecord("pZ", "sys", propRecord("v", "1", config.AccessRead)))

	namespaces := lookupDir(t, root, "namespaces")
	sysDir := lookupDir(t, namespaces, "sys")
	e, ok := sysDir.Lookup("v")
	require.True(t, ok)
	link, ok := e.(*vfs.Symlink)
	require.True(t, ok)
	assert.Equal(t, "../../providers/pZ/sys/v", link.Target)

	// removal drops both views
	root.ProviderRm(pluginRecord("pZ", "sys", propRecord("v", "1", config.AccessRead)))

	providers := lookupDir(t, root, "providers")
	_, ok = providers.Lookup("pZ")
	assert.False(t, ok)
	_, ok = namespaces.Lookup("sys")
	assert.False(t, ok)
	_, ok = root.Props.Get("pZ", "sys", "v")
	assert.False(t, ok)
}

func TestDuplicateNamespaceFirstWins(t *testing.T) {

	reg := &tRegistry{ld: &tLoader{err: errors.New("nope")}}
	root := newTestRoot(reg)

	root.ProviderAdd(pluginRecord("first", "shared", propRecord("p", "1", config.AccessRead)))
	root.ProviderAdd(pluginRecord("second", "shared", propRecord("p", "2", config.AccessRead)))

	// both provider subtrees exist
	providers := lookupDir(t, root, "providers")
	lookupDir(t, providers, "first")
	lookupDir(t, providers, "second")

	// but the symlink belongs to the first
	sharedDir := lookupDir(t, lookupDir(t, root, "namespaces"), "shared")
	link := func() *vfs.Symlink {
		e, ok := sharedDir.Lookup("p")
		require.True(t, ok)
		return e.(*vfs.Symlink)
	}
	assert.Equal(t, "../../providers/first/shared/p", link().Target)

	// removing the second provider leaves the first's symlink alone
	root.ProviderRm(pluginRecord("second", "shared", propRecord("p", "2", config.AccessRead)))
	assert.Equal(t, "../../providers/first/shared/p", link().Target)
}

func TestDuplicatePluginSkipped(t *testing.T) {

	reg := &tRegistry{ld: &tLoader{err: errors.New("nope")}}
	root := newTestRoot(reg)

	root.ProviderAdd(pluginRecord("p", "a", propRecord("x", "1", config.AccessRead)))
	root.ProviderAdd(pluginRecord("p", "b", propRecord("y", "2", config.AccessRead)))

	pDir := lookupDir(t, lookupDir(t, root, "providers"), "p")
	_, ok := pDir.Lookup("a")
	assert.True(t, ok)
	_, ok = pDir.Lookup("b")
	assert.False(t, ok)
}

func TestLazyLoading(t *testing.T) {

	prov := newTProvider("n", &tProp{name: "p", def: statefs.Cstr("0")})
	prov.io.attrs["p"] = statefs.AttrRead
	prov.io.set("p", "live")

	ld := &tLoader{prov: prov}
	root := newTestRoot(&tRegistry{ld: ld})

	root.ProviderAdd(pluginRecord("pY", "n",
		propRecord("p", "0", config.AccessRead)))

	// traversal does not load the plugin
	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pY"), "n")
	assert.Equal(t, 0, ld.loadCount())

	f := lookupFile(t, nsDir, "p")
	h, err := f.Open(0)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, 1, ld.loadCount())
	assert.Equal(t, "live", readAll(t, h))

	// a second open reuses the loaded provider
	h2, err := lookupFile(t, nsDir, "p").Open(0)
	require.NoError(t, err)
	h2.Release()
	assert.Equal(t, 1, ld.loadCount())
}

func TestPropertyAbsentBecomesFake(t *testing.T) {

	prov := newTProvider("n", &tProp{name: "present", def: statefs.Cstr("0")})
	prov.io.attrs["present"] = statefs.AttrRead
	prov.io.set("present", "1")

	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(pluginRecord("pA", "n",
		propRecord("present", "0", config.AccessRead),
		propRecord("missing", "fallback", config.AccessRead)))

	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pA"), "n")

	h, err := lookupFile(t, nsDir, "present").Open(0)
	require.NoError(t, err)
	assert.Equal(t, "1", readAll(t, h))
	h.Release()

	h, err = lookupFile(t, nsDir, "missing").Open(0)
	require.NoError(t, err)
	assert.Equal(t, "fallback", readAll(t, h))
	h.Release()
}

func TestContinuousReadCache(t *testing.T) {

	prov := newTProvider("n", &tProp{name: "p", def: statefs.Cstr("")})
	prov.io.attrs["p"] = statefs.AttrRead
	prov.io.set("p", "hello world")

	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(pluginRecord("pC", "n", propRecord("p", "", config.AccessRead)))

	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pC"), "n")
	h, err := lookupFile(t, nsDir, "p").Open(0)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, "hello world", readAll(t, h))

	// the provider value changes; a tail read is served from the cache
	// filled at offset 0
	prov.io.set("p", "XXXXX XXXXX")
	buf := make([]byte, 16)
	n, err := h.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	// reads past the cached size return 0 bytes
	n, err = h.ReadAt(buf, 11)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = h.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	// an offset-0 read refreshes
	assert.Equal(t, "XXXXX XXXXX", readAll(t, h))
}

func TestWriteForwarding(t *testing.T) {

	prov := newTProvider("n",
		&tProp{name: "rw", def: statefs.Cstr("0")},
		&tProp{name: "ro", def: statefs.Cstr("0")})
	prov.io.attrs["rw"] = statefs.AttrRead | statefs.AttrWrite
	prov.io.attrs["ro"] = statefs.AttrRead
	prov.io.set("rw", "0")
	prov.io.set("ro", "0")

	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(pluginRecord("pW", "n",
		propRecord("rw", "0", config.AccessRead|config.AccessWrite),
		propRecord("ro", "0", config.AccessRead)))

	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pW"), "n")

	h, err := lookupFile(t, nsDir, "rw").Open(0)
	require.NoError(t, err)
	n, err := h.WriteAt([]byte("37"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "37", readAll(t, h))

	// zero-byte writes are valid no-ops
	n, err = h.WriteAt(nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	h.Release()

	// a read-only property refuses writes
	h, err = lookupFile(t, nsDir, "ro").Open(0)
	require.NoError(t, err)
	_, err = h.WriteAt([]byte("1"), 0)
	assert.Equal(t, syscall.EPERM, err)
	h.Release()
}

func TestDiscreteConnectDisconnect(t *testing.T) {

	p := &tProp{name: "x", def: statefs.Cstr("0")}
	prov := newTProvider("n", p)
	prov.io.attrs["x"] = statefs.AttrRead | statefs.AttrDiscrete
	prov.io.set("x", "0")

	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(pluginRecord("pD", "n", propRecord("x", "0", config.AccessRead)))

	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pD"), "n")
	f := lookupFile(t, nsDir, "x")

	h1, err := f.Open(0)
	require.NoError(t, err)
	assert.Equal(t, 1, prov.io.connects["x"])

	// a second open does not reconnect
	h2, err := f.Open(0)
	require.NoError(t, err)
	assert.Equal(t, 1, prov.io.connects["x"])
	assert.Equal(t, 0, prov.io.disconnects["x"])

	h1.Release()
	assert.Equal(t, 0, prov.io.disconnects["x"])
	h2.Release()
	assert.Equal(t, 1, prov.io.disconnects["x"])

	// reopening reconnects
	h3, err := f.Open(0)
	require.NoError(t, err)
	assert.Equal(t, 2, prov.io.connects["x"])
	h3.Release()
	assert.Equal(t, 2, prov.io.disconnects["x"])
}

func TestDiscreteWakeup(t *testing.T) {

	p := &tProp{name: "x", def: statefs.Cstr("0")}
	prov := newTProvider("n", p)
	prov.io.attrs["x"] = statefs.AttrRead | statefs.AttrDiscrete
	prov.io.set("x", "0")

	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(pluginRecord("pY", "n", propRecord("x", "0", config.AccessRead)))

	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pY"), "n")
	h, err := lookupFile(t, nsDir, "x").Open(0)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, "0", readAll(t, h))

	poller := h.(vfs.Poller)
	w := &wake{}
	ready, err := poller.Poll(w)
	require.NoError(t, err)
	assert.False(t, ready)

	prov.io.set("x", "1")
	require.True(t, prov.io.fire(p))

	// the armed wakeup fires exactly once
	require.Eventually(t, func() bool { return w.count() == 1 },
		time.Second, time.Millisecond)

	ready, err = poller.Poll(nil)
	require.NoError(t, err)
	assert.True(t, ready)

	// the next read returns the new value and rearms
	assert.Equal(t, "1", readAll(t, h))
	ready, err = poller.Poll(nil)
	require.NoError(t, err)
	assert.False(t, ready)

	assert.Equal(t, 1, w.count())
}

func TestCoalescing(t *testing.T) {

	p := &tProp{name: "x", def: statefs.Cstr("0")}
	prov := newTProvider("n", p)
	prov.io.attrs["x"] = statefs.AttrRead | statefs.AttrDiscrete
	prov.io.set("x", "0")

	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(pluginRecord("pS", "n", propRecord("x", "0", config.AccessRead)))

	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pS"), "n")
	h, err := lookupFile(t, nsDir, "x").Open(0)
	require.NoError(t, err)
	defer h.Release()

	poller := h.(vfs.Poller)
	w := &wake{}
	ready, err := poller.Poll(w)
	require.NoError(t, err)
	require.False(t, ready)

	// a spammy source: many notifications between two polls
	for i := 0; i < 1000; i++ {
		prov.io.set("x", "999")
		prov.io.fire(p)
	}

	// at most one wakeup is observed
	require.Eventually(t, func() bool { return w.count() >= 1 },
		time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, w.count())

	// and the latest value is read
	assert.Equal(t, "999", readAll(t, h))
}

func TestRemovalWithOpenHandle(t *testing.T) {

	p := &tProp{name: "x", def: statefs.Cstr("0")}
	prov := newTProvider("n", p)
	prov.io.attrs["x"] = statefs.AttrRead | statefs.AttrDiscrete
	prov.io.set("x", "live")

	rec := pluginRecord("pR", "n", propRecord("x", "0", config.AccessRead))
	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(rec)

	providers := lookupDir(t, root, "providers")
	nsDir := lookupDir(t, lookupDir(t, providers, "pR"), "n")
	h, err := lookupFile(t, nsDir, "x").Open(0)
	require.NoError(t, err)

	root.ProviderRm(rec)

	// the subtree is gone
	_, ok := providers.Lookup("pR")
	assert.False(t, ok)

	// but the held handle keeps the provider resident and keeps reading
	// live values
	assert.Equal(t, 0, prov.root.released)
	assert.Equal(t, "live", readAll(t, h))

	// the last release tears the provider down: slot disconnected, nodes
	// and root released
	require.NoError(t, h.Release())
	assert.Eventually(t, func() bool {
		prov.io.mu.Lock()
		defer prov.io.mu.Unlock()
		return prov.io.disconnects["x"] == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, prov.root.released)
	assert.Equal(t, 1, p.released)
}

func TestShutdownStops(t *testing.T) {

	prov := newTProvider("n", &tProp{name: "x", def: statefs.Cstr("0")})
	prov.io.attrs["x"] = statefs.AttrRead
	prov.io.set("x", "0")

	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(pluginRecord("pQ", "n", propRecord("x", "0", config.AccessRead)))

	// load it
	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pQ"), "n")
	h, err := lookupFile(t, nsDir, "x").Open(0)
	require.NoError(t, err)
	h.Release()

	root.Stop()
	assert.Equal(t, 1, prov.root.released)
}

func TestDirKinds(t *testing.T) {

	reg := &tRegistry{ld: &tLoader{err: errors.New("nope")}}
	root := newTestRoot(reg)
	root.ProviderAdd(pluginRecord("pK", "n", propRecord("p", "1", config.AccessRead)))

	// root and namespaces/ refuse removal
	assert.Equal(t, syscall.EPERM, root.Remove("providers"))
	namespaces := lookupDir(t, root, "namespaces")
	assert.Equal(t, syscall.EPERM, namespaces.Remove("n"))

	// providers/ allows it, and it removes the symlink view too
	providers := lookupDir(t, root, "providers")
	require.NoError(t, providers.Remove("pK"))
	_, ok := providers.Lookup("pK")
	assert.False(t, ok)
	_, ok = namespaces.Lookup("n")
	assert.False(t, ok)
}

func TestProviderReadError(t *testing.T) {

	prov := newTProvider("n", &tProp{name: "p", def: statefs.Cstr("0")})
	prov.io.attrs["p"] = statefs.AttrRead
	prov.io.readErr = syscall.EAGAIN

	root := newTestRoot(&tRegistry{ld: &tLoader{prov: prov}})
	root.ProviderAdd(pluginRecord("pE", "n", propRecord("p", "0", config.AccessRead)))

	nsDir := lookupDir(t, lookupDir(t, lookupDir(t, root, "providers"), "pE"), "n")
	h, err := lookupFile(t, nsDir, "p").Open(0)
	require.NoError(t, err)
	defer h.Release()

	// provider errors are propagated verbatim
	_, err = h.ReadAt(make([]byte, 8), 0)
	assert.Equal(t, syscall.EAGAIN, err)
}
