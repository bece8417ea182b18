//
// Copyright: (C) 2019 Nestybox Inc.  All rights reserved.
//

package config_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemomobile/statefs/config"
)

func parseOne(t *testing.T, src string) config.Record {
	t.Helper()
	recs, err := config.Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func TestParseLoader(t *testing.T) {

	rec := parseOne(t, `(loader "qt" "/usr/lib/statefs/libloader-qt.so")`)

	l, ok := rec.(*config.Loader)
	require.True(t, ok)
	assert.Equal(t, "qt", l.Name)
	assert.Equal(t, "/usr/lib/statefs/libloader-qt.so", l.Path)
}

func TestParseProvider(t *testing.T) {

	src := `
; battery provider
(provider "power" "/usr/lib/statefs/libpower.so"
  :info "battery state"
  :priority 3
  (ns "battery"
    (prop "voltage" 3800)
    (prop "charging" "0" :behavior continuous)
    (prop "level" 100 :access rw)
    (prop "cmd" "" :access wonly :behavior continuous)))
`
	rec := parseOne(t, src)
	p, ok := rec.(*config.Plugin)
	require.True(t, ok)

	assert.Equal(t, "power", p.Name)
	assert.Equal(t, "/usr/lib/statefs/libpower.so", p.Path)
	assert.Equal(t, "default", p.LoaderKind())

	// unknown keys are preserved, not rejected
	assert.Equal(t, config.StrValue("battery state"), p.Info["info"])
	assert.Equal(t, config.IntValue(3), p.Info["priority"])

	require.Len(t, p.Namespaces, 1)
	ns := p.Namespaces[0]
	assert.Equal(t, "battery", ns.Name)
	require.Len(t, ns.Props, 4)

	tests := []struct {
		name     string
		defval   string
		access   uint32
		discrete bool
	}{
		{"voltage", "3800", config.AccessRead | config.AccessSubscribe, true},
		{"charging", "0", config.AccessRead, false},
		{"level", "100", config.AccessRead | config.AccessWrite | config.AccessSubscribe, true},
		{"cmd", "", config.AccessWrite, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prop := ns.Props[i]
			assert.Equal(t, tt.name, prop.Name)
			assert.Equal(t, tt.defval, prop.DefVal())
			assert.Equal(t, tt.access, prop.Access)
			assert.Equal(t, tt.discrete, prop.IsDiscrete())
		})
	}
}

func TestParseProviderType(t *testing.T) {

	rec := parseOne(t, `(provider "q" "/usr/lib/q.so" :type "qt" (ns "n" (prop "p" "1")))`)
	p := rec.(*config.Plugin)
	assert.Equal(t, "qt", p.LoaderKind())
}

func TestParseValues(t *testing.T) {

	src := `(provider "x" "/x.so"
  :i -7 :r 2.5 :s "str" :b true :nb false
  (ns "n" (prop "p" 1e3)))`

	p := parseOne(t, src).(*config.Plugin)

	assert.Equal(t, config.IntValue(-7), p.Info["i"])
	assert.Equal(t, config.RealValue(2.5), p.Info["r"])
	assert.Equal(t, config.StrValue("str"), p.Info["s"])
	assert.Equal(t, config.IntValue(1), p.Info["b"])
	assert.Equal(t, config.IntValue(0), p.Info["nb"])
	assert.Equal(t, "1000", p.Namespaces[0].Props[0].DefVal())
}

func TestParseErrors(t *testing.T) {

	tests := []struct {
		name string
		src  string
	}{
		{"unterminated form", `(provider "x" "/x.so"`},
		{"unterminated string", `(loader "x`},
		{"unknown form", `(widget "x")`},
		{"unknown symbol", `(prop "p" frobnicate)`},
		{"top-level prop", `(prop "p" "1")`},
		{"missing path", `(loader "x")`},
		{"keyword without value", `(provider "x" "/x.so" :type)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestPropertyMode(t *testing.T) {

	tests := []struct {
		name   string
		access uint32
		umask  uint32
		want   uint32
	}{
		{"read", config.AccessRead, 0022, 0444},
		{"write", config.AccessWrite, 0022, 0200},
		{"rw", config.AccessRead | config.AccessWrite, 0022, 0644},
		{"rw umask 0", config.AccessRead | config.AccessWrite, 0, 0666},
		{"subscribe does not affect mode", config.AccessRead | config.AccessSubscribe, 0022, 0444},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &config.Property{Name: "p", Access: tt.access}
			assert.EqualValues(t, tt.want, p.Mode(os.FileMode(tt.umask)))
		})
	}
}

func TestConfigFileNaming(t *testing.T) {

	tests := []struct {
		name       string
		isConfig   bool
		isProvider bool
		isLoader   bool
	}{
		{"provider-power.conf", true, true, false},
		{"loader-qt.conf", true, false, true},
		{"provider-power.conf.bak", false, false, false},
		{"README", false, false, false},
		{"provider.conf", false, false, false},
		{"other-x.conf", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isConfig, config.IsConfigFile(tt.name))
			assert.Equal(t, tt.isProvider, config.IsProviderConfigFile(tt.name))
			assert.Equal(t, tt.isLoader, config.IsLoaderConfigFile(tt.name))
		})
	}
}
