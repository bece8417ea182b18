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
	"os"
	"path/filepath"
	"strings"
)

// Property access bits, matching the provider ABI attribute bits.
const (
	AccessRead      uint32 = 1
	AccessWrite     uint32 = 1 << 1
	AccessSubscribe uint32 = 1 << 2
)

// Property is a declared property: name, default value and access set.
type Property struct {
	Name    string
	Default Value
	Access  uint32
}

// DefVal is the default value as served by a fake property file.
func (p *Property) DefVal() string {
	return p.Default.String()
}

// IsDiscrete reports whether the property was declared subscribable.
func (p *Property) IsDiscrete() bool {
	return p.Access&AccessSubscribe != 0
}

// Mode derives the file mode from the access set, masked by umask.
func (p *Property) Mode(umask os.FileMode) os.FileMode {
	var mode os.FileMode
	if p.Access&AccessRead != 0 {
		mode |= 0444
	}
	if p.Access&AccessWrite != 0 {
		mode |= 0222
	}
	return mode &^ umask
}

// Namespace is an ordered list of properties under a name.
type Namespace struct {
	Name  string
	Props []*Property
}

// Library is the part common to provider and loader declarations: a name
// and the shared-object path.
type Library struct {
	Name string
	Path string
}

// Plugin is a declared provider: library, metadata bag and namespaces.
// Info always carries a "type" entry naming the loader kind ("default"
// unless the config says otherwise).
type Plugin struct {
	Library
	Info       map[string]Value
	Namespaces []*Namespace
}

// LoaderKind returns the loader kind declared for this provider.
func (p *Plugin) LoaderKind() string {
	if v, ok := p.Info["type"]; ok {
		return v.String()
	}
	return "default"
}

// Loader is a declared loader library.
type Loader struct {
	Library
}

// Record is a parsed top-level config form: *Plugin or *Loader.
type Record interface {
	recordName() string
}

func (p *Plugin) recordName() string { return p.Name }
func (l *Loader) recordName() string { return l.Name }

// Config file naming scheme: provider-<name>.conf / loader-<name>.conf.
const (
	CfgExtension   = ".conf"
	ProviderPrefix = "provider"
	LoaderPrefix   = "loader"
)

func filenamePrefix(name string) string {
	if n := strings.Index(name, "-"); n >= 0 {
		return name[:n]
	}
	return ""
}

// IsConfigFile reports whether name follows the config naming scheme.
func IsConfigFile(name string) bool {
	base := filepath.Base(name)
	if filepath.Ext(base) != CfgExtension {
		return false
	}
	prefix := filenamePrefix(base)
	return prefix == ProviderPrefix || prefix == LoaderPrefix
}

// IsProviderConfigFile reports whether name declares a provider.
func IsProviderConfigFile(name string) bool {
	base := filepath.Base(name)
	return filepath.Ext(base) == CfgExtension &&
		filenamePrefix(base) == ProviderPrefix
}

// IsLoaderConfigFile reports whether name declares a loader.
func IsLoaderConfigFile(name string) bool {
	base := filepath.Base(name)
	return filepath.Ext(base) == CfgExtension &&
		filenamePrefix(base) == LoaderPrefix
}

// ConfigFileName composes the canonical config filename for a record.
func ConfigFileName(r Record) string {
	switch r.(type) {
	case *Loader:
		return LoaderPrefix + "-" + r.recordName() + CfgExtension
	default:
		return ProviderPrefix + "-" + r.recordName() + CfgExtension
	}
}
