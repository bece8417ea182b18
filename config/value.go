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
	"strconv"

	"github.com/nemomobile/statefs"
)

// ValueKind discriminates a config Value.
type ValueKind int

const (
	ValueInt ValueKind = iota
	ValueUint
	ValueReal
	ValueStr
)

// Value is the scalar type config records carry: property defaults and
// metadata entries.
type Value struct {
	Kind ValueKind
	Int  int64
	Uint uint64
	Real float64
	Str  string
}

// IntValue makes an integer value.
func IntValue(v int64) Value { return Value{Kind: ValueInt, Int: v} }

// UintValue makes an unsigned integer value.
func UintValue(v uint64) Value { return Value{Kind: ValueUint, Uint: v} }

// RealValue makes a floating point value.
func RealValue(v float64) Value { return Value{Kind: ValueReal, Real: v} }

// StrValue makes a string value.
func StrValue(v string) Value { return Value{Kind: ValueStr, Str: v} }

// FromVariant converts an ABI variant into a config value. Booleans become
// 1/0 integers, matching what property files serve.
func FromVariant(v statefs.Variant) Value {
	switch v.Tag {
	case statefs.VariantInt:
		return IntValue(v.Int)
	case statefs.VariantUint:
		return UintValue(v.Uint)
	case statefs.VariantBool:
		if v.Bool {
			return IntValue(1)
		}
		return IntValue(0)
	case statefs.VariantReal:
		return RealValue(v.Real)
	case statefs.VariantCstr:
		return StrValue(v.Cstr)
	}
	return StrValue("")
}

// String renders the plain value: the bytes a fake property file serves.
func (v Value) String() string {
	switch v.Kind {
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueUint:
		return strconv.FormatUint(v.Uint, 10)
	case ValueReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	}
	return v.Str
}

// Sexp renders the value in config file syntax: strings quoted, numbers
// bare.
func (v Value) Sexp() string {
	if v.Kind == ValueStr {
		return strconv.Quote(v.Str)
	}
	return v.String()
}

// Integer returns the value as an integer or fails for non-integer kinds.
func (v Value) Integer() (int64, error) {
	switch v.Kind {
	case ValueInt:
		return v.Int, nil
	case ValueUint:
		return int64(v.Uint), nil
	}
	return 0, fmt.Errorf("config: %q is not an integer value", v.String())
}
