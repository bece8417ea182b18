//
// Copyright: (C) 2019 Nestybox Inc.  All rights reserved.
//

package config_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemomobile/statefs/config"
)

func TestDumpRoundTrip(t *testing.T) {

	src := `(provider "power" "/usr/lib/statefs/libpower.so"
  :info "battery"
  (ns "battery"
    (prop "voltage" "3800")
    (prop "charging" "0" :behavior continuous)
    (prop "level" "100" :access rw)
    (prop "cmd" "" :access wonly :behavior continuous)))`

	orig := parseOne(t, src).(*config.Plugin)

	var buf bytes.Buffer
	require.NoError(t, config.WriteRecord(&buf, orig))

	back := parseOne(t, buf.String()).(*config.Plugin)

	assert.Equal(t, orig.Name, back.Name)
	assert.Equal(t, orig.Path, back.Path)
	assert.Equal(t, orig.Info["info"], back.Info["info"])
	require.Len(t, back.Namespaces, 1)

	origNs, backNs := orig.Namespaces[0], back.Namespaces[0]
	assert.Equal(t, origNs.Name, backNs.Name)
	require.Len(t, backNs.Props, len(origNs.Props))
	for i := range origNs.Props {
		assert.Equal(t, origNs.Props[i].Name, backNs.Props[i].Name)
		assert.Equal(t, origNs.Props[i].DefVal(), backNs.Props[i].DefVal())
		assert.Equal(t, origNs.Props[i].Access, backNs.Props[i].Access)
	}
}

func TestDumpLoaderRoundTrip(t *testing.T) {

	orig := &config.Loader{
		Library: config.Library{Name: "qt", Path: "/usr/lib/libloader-qt.so"},
	}

	var buf bytes.Buffer
	require.NoError(t, config.WriteRecord(&buf, orig))

	back := parseOne(t, buf.String()).(*config.Loader)
	assert.Equal(t, orig.Name, back.Name)
	assert.Equal(t, orig.Path, back.Path)
}

// Property sets survive dump -> parse for arbitrary names, defaults and
// access sets.
func TestDumpRoundTripProperties(t *testing.T) {

	ident := gen.RegexMatch(`[a-z][a-z0-9_]{0,15}`)

	genProp := gopter.CombineGens(
		ident,
		gen.AlphaString(),
		gen.UInt32Range(0, 1),
		gen.Bool(),
		gen.Bool(),
	).Map(func(vs []interface{}) *config.Property {
		access := config.AccessRead * vs[2].(uint32)
		if vs[3].(bool) {
			access |= config.AccessWrite
		}
		if vs[4].(bool) {
			access |= config.AccessSubscribe
		}
		if access&(config.AccessRead|config.AccessWrite) == 0 {
			access |= config.AccessRead
		}
		return &config.Property{
			Name:    vs[0].(string),
			Default: config.StrValue(vs[1].(string)),
			Access:  access,
		}
	})

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("dump/parse keeps the property set", prop.ForAll(
		func(p *config.Property) bool {
			plugin := &config.Plugin{
				Library: config.Library{Name: "x", Path: "/x.so"},
				Info:    map[string]config.Value{"type": config.StrValue("default")},
				Namespaces: []*config.Namespace{
					{Name: "n", Props: []*config.Property{p}},
				},
			}

			var buf bytes.Buffer
			if err := config.WriteRecord(&buf, plugin); err != nil {
				return false
			}
			recs, err := config.Parse(strings.NewReader(buf.String()))
			if err != nil || len(recs) != 1 {
				return false
			}
			back := recs[0].(*config.Plugin)
			if len(back.Namespaces) != 1 || len(back.Namespaces[0].Props) != 1 {
				return false
			}
			bp := back.Namespaces[0].Props[0]
			return bp.Name == p.Name &&
				bp.DefVal() == p.DefVal() &&
				bp.Access == p.Access
		},
		genProp,
	))

	properties.TestingRun(t)
}

func TestCleanup(t *testing.T) {

	config.AppFs = afero.NewMemMapFs()
	defer func() { config.AppFs = afero.NewOsFs() }()

	// one provider whose library exists, one whose library is gone
	afero.WriteFile(config.AppFs, "/libs/alive.so", []byte{0}, 0644)
	afero.WriteFile(config.AppFs, "/etc/statefs/provider-alive.conf",
		[]byte(`(provider "alive" "/libs/alive.so" (ns "n" (prop "p" "1")))`), 0644)
	afero.WriteFile(config.AppFs, "/etc/statefs/provider-gone.conf",
		[]byte(`(provider "gone" "/libs/gone.so" (ns "n" (prop "p" "1")))`), 0644)

	require.NoError(t, config.Cleanup("/etc/statefs"))

	_, err := config.AppFs.Stat("/etc/statefs/provider-alive.conf")
	assert.NoError(t, err)
	_, err = config.AppFs.Stat("/etc/statefs/provider-gone.conf")
	assert.Error(t, err)
}

func TestSaveAndRemove(t *testing.T) {

	config.AppFs = afero.NewMemMapFs()
	defer func() { config.AppFs = afero.NewOsFs() }()

	require.NoError(t, config.AppFs.MkdirAll("/etc/statefs", 0755))

	rec := &config.Plugin{
		Library: config.Library{Name: "power", Path: "/libs/power.so"},
		Info:    map[string]config.Value{"type": config.StrValue("default")},
		Namespaces: []*config.Namespace{
			{Name: "battery", Props: []*config.Property{
				{Name: "voltage", Default: config.StrValue("3800"), Access: config.AccessRead},
			}},
		},
	}

	path, err := config.Save("/etc/statefs", rec)
	require.NoError(t, err)
	assert.Equal(t, "/etc/statefs/provider-power.conf", path)

	// the written file parses back to the same declaration
	var got *config.Plugin
	config.FromFile(path, func(_ string, r config.Record) {
		got, _ = r.(*config.Plugin)
	})
	require.NotNil(t, got)
	assert.Equal(t, "power", got.Name)
	assert.Equal(t, "/libs/power.so", got.Path)

	require.NoError(t, config.Remove("/etc/statefs", "/libs/power.so"))
	_, err = config.AppFs.Stat(path)
	assert.Error(t, err)
}
