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

package config

import (
	"fmt"

	"github.com/nemomobile/statefs"
)

// LoaderGetter resolves a loader kind to a live loader. Implemented by the
// loader registry; declared here so introspection doesn't depend on it.
type LoaderGetter interface {
	Get(kind string) (statefs.Loader, error)
}

// Introspect loads the provider library at path through its loader and
// converts the live tree into the equivalent config record. Used by the
// dump and register commands.
func Introspect(lg LoaderGetter, path, kind string) (*Plugin, error) {
	ld, err := lg.Get(kind)
	if err != nil {
		return nil, fmt.Errorf("config: can't find %q loader: %v", kind, err)
	}

	p, err := ld.Load(canonicalPath(path), nil)
	if err != nil {
		return nil, fmt.Errorf("config: provider %v is not loaded: %v", path, err)
	}

	h := statefs.NewProviderHandle(p, ld)
	defer h.Release()

	root := h.Root()
	info := map[string]Value{"type": StrValue(kind)}
	for _, m := range root.Info() {
		info[m.Name] = FromVariant(m.Value)
	}

	var namespaces []*Namespace
	err = h.EachNs(func(ns *statefs.NsHandle) error {
		rec := &Namespace{Name: ns.Name()}
		err := ns.EachProperty(h.Io(), func(prop *statefs.PropHandle) error {
			rec.Props = append(rec.Props, propertyFromAPI(prop))
			return nil
		})
		namespaces = append(namespaces, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Plugin{
		Library:    Library{Name: root.Name(), Path: canonicalPath(path)},
		Info:       info,
		Namespaces: namespaces,
	}, nil
}

func propertyFromAPI(prop *statefs.PropHandle) *Property {
	var access uint32
	attr := prop.Getattr()
	if attr&statefs.AttrRead != 0 {
		access |= AccessRead
	}
	if attr&statefs.AttrWrite != 0 {
		access |= AccessWrite
	}
	if attr&statefs.AttrDiscrete != 0 {
		access |= AccessSubscribe
	}
	return &Property{
		Name:    prop.Name(),
		Default: FromVariant(prop.Default()),
		Access:  access,
	}
}
