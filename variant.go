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

import "strconv"

// VariantTag discriminates the value held by a Variant.
type VariantTag int

const (
	VariantInt VariantTag = iota
	VariantUint
	VariantBool
	VariantReal
	VariantCstr

	variantTagsEnd
)

// Variant is the tagged scalar used for property default values and node
// metadata.
type Variant struct {
	Tag  VariantTag
	Int  int64
	Uint uint64
	Bool bool
	Real float64
	Cstr string
}

// Int64 makes an integer variant.
func Int64(v int64) Variant { return Variant{Tag: VariantInt, Int: v} }

// Uint64 makes an unsigned integer variant.
func Uint64(v uint64) Variant { return Variant{Tag: VariantUint, Uint: v} }

// Bool makes a boolean variant.
func Bool(v bool) Variant { return Variant{Tag: VariantBool, Bool: v} }

// Real makes a floating point variant.
func Real(v float64) Variant { return Variant{Tag: VariantReal, Real: v} }

// Cstr makes a string variant.
func Cstr(v string) Variant { return Variant{Tag: VariantCstr, Cstr: v} }

// InvalidVariant is returned by metadata lookups that find nothing.
func InvalidVariant() Variant {
	return Variant{Tag: variantTagsEnd}
}

// Valid reports whether the variant carries a value.
func (v Variant) Valid() bool {
	return v.Tag >= VariantInt && v.Tag < variantTagsEnd
}

// String renders the variant the way property files serve values: booleans
// as "1"/"0", numbers in their natural decimal form.
func (v Variant) String() string {
	switch v.Tag {
	case VariantInt:
		return strconv.FormatInt(v.Int, 10)
	case VariantUint:
		return strconv.FormatUint(v.Uint, 10)
	case VariantBool:
		if v.Bool {
			return "1"
		}
		return "0"
	case VariantReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case VariantCstr:
		return v.Cstr
	}
	return ""
}
