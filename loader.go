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

// Loader knows how to turn a shared-object path into a live Provider. The
// "default" loader handles plain providers exporting ProviderSymbol; other
// loaders (e.g. ones spinning an event loop for framework-based providers)
// are themselves shipped as plugins exporting LoaderSymbol.
type Loader interface {
	// Load opens the provider at path and returns its root. srv may be nil
	// (introspection); when non-nil the provider may use it to emit events.
	Load(path string, srv Server) (Provider, error)

	// Name is the loader kind name, e.g. "default".
	Name() string

	// IsReloadable reports whether the loader tolerates its record being
	// replaced or removed while instances are live.
	IsReloadable() bool

	// Version is the ABI version the loader was built against.
	Version() uint32
}

// LoaderGetter is the signature of the loader plugin entry point.
type LoaderGetter func() Loader

// LoaderSymbol is the symbol a loader plugin must export with the
// LoaderGetter signature.
const LoaderSymbol = "CreateProviderLoader"
