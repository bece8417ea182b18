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
	"io"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Symbol constants of the dialect. "discrete"/"continuous" and "rw"/"wonly"
// evaluate to access masks; "true"/"false" to 1/0.
var parseConsts = map[string]Value{
	"false":      IntValue(0),
	"true":       IntValue(1),
	"discrete":   IntValue(int64(AccessSubscribe)),
	"continuous": IntValue(0),
	"rw":         IntValue(int64(AccessRead | AccessWrite)),
	"wonly":      IntValue(int64(AccessWrite)),
}

// expr is any evaluated form element: Value, keyword, *Property,
// *Namespace, *Plugin or *Loader.
type expr interface{}

type keywordExpr string

type parser struct {
	lex *lexer
}

// Parse evaluates the config dialect from r and returns the top-level
// records in file order.
func Parse(r io.Reader) ([]Record, error) {
	p := &parser{lex: newLexer(r)}

	var recs []Record
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			return recs, nil
		}
		if tok.kind != tokLParen {
			return nil, p.lex.errorf(tok.off, "expected a top-level form")
		}
		e, err := p.form(tok.off)
		if err != nil {
			return nil, err
		}
		rec, ok := e.(Record)
		if !ok {
			return nil, p.lex.errorf(tok.off,
				"top-level form is not a provider or loader declaration")
		}
		recs = append(recs, rec)
	}
}

// form evaluates one parenthesized form, the opening paren already
// consumed.
func (p *parser) form(off int64) (expr, error) {
	head, err := p.lex.next()
	if err != nil {
		return nil, err
	}
	if head.kind != tokSymbol {
		return nil, p.lex.errorf(head.off, "form must start with a symbol")
	}

	var args []expr
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokEOF:
			return nil, p.lex.errorf(off, "unterminated form %q", head.text)
		case tokRParen:
			return p.eval(head, args)
		case tokLParen:
			sub, err := p.form(tok.off)
			if err != nil {
				return nil, err
			}
			args = append(args, sub)
		case tokString:
			args = append(args, StrValue(tok.text))
		case tokInt:
			args = append(args, IntValue(tok.i))
		case tokReal:
			args = append(args, RealValue(tok.r))
		case tokKeyword:
			args = append(args, keywordExpr(tok.text))
		case tokSymbol:
			v, ok := parseConsts[tok.text]
			if !ok {
				return nil, p.lex.errorf(tok.off, "unknown symbol %q", tok.text)
			}
			args = append(args, v)
		}
	}
}

func (p *parser) eval(head token, args []expr) (expr, error) {
	switch head.text {
	case "provider":
		return p.evalProvider(head, args)
	case "loader":
		return p.evalLoader(head, args)
	case "ns":
		return p.evalNs(head, args)
	case "prop":
		return p.evalProp(head, args)
	}
	return nil, p.lex.errorf(head.off, "unknown form %q", head.text)
}

// splitRest partitions trailing form arguments into positional elements and
// :key value option pairs.
func (p *parser) splitRest(head token, args []expr) ([]expr, map[string]Value, error) {
	var rest []expr
	opts := make(map[string]Value)
	for i := 0; i < len(args); i++ {
		k, ok := args[i].(keywordExpr)
		if !ok {
			rest = append(rest, args[i])
			continue
		}
		if i+1 >= len(args) {
			return nil, nil, p.lex.errorf(head.off,
				"%s: keyword :%s lacks a value", head.text, string(k))
		}
		v, ok := args[i+1].(Value)
		if !ok {
			return nil, nil, p.lex.errorf(head.off,
				"%s: keyword :%s value is not a scalar", head.text, string(k))
		}
		opts[string(k)] = v
		i++
	}
	return rest, opts, nil
}

func (p *parser) strArg(head token, args []expr, i int, what string) (string, error) {
	if i >= len(args) {
		return "", p.lex.errorf(head.off, "%s: missing %s", head.text, what)
	}
	v, ok := args[i].(Value)
	if !ok || v.Kind != ValueStr {
		return "", p.lex.errorf(head.off, "%s: %s must be a string", head.text, what)
	}
	return v.Str, nil
}

func (p *parser) evalProvider(head token, args []expr) (expr, error) {
	name, err := p.strArg(head, args, 0, "name")
	if err != nil {
		return nil, err
	}
	path, err := p.strArg(head, args, 1, "path")
	if err != nil {
		return nil, err
	}

	rest, opts, err := p.splitRest(head, args[2:])
	if err != nil {
		return nil, err
	}

	info := map[string]Value{"type": StrValue("default")}
	for k, v := range opts {
		info[k] = v
	}

	var namespaces []*Namespace
	for _, e := range rest {
		ns, ok := e.(*Namespace)
		if !ok {
			return nil, p.lex.errorf(head.off,
				"provider %q: child form is not a namespace", name)
		}
		namespaces = append(namespaces, ns)
	}

	return &Plugin{
		Library:    Library{Name: name, Path: path},
		Info:       info,
		Namespaces: namespaces,
	}, nil
}

func (p *parser) evalLoader(head token, args []expr) (expr, error) {
	name, err := p.strArg(head, args, 0, "name")
	if err != nil {
		return nil, err
	}
	path, err := p.strArg(head, args, 1, "path")
	if err != nil {
		return nil, err
	}
	return &Loader{Library: Library{Name: name, Path: path}}, nil
}

func (p *parser) evalNs(head token, args []expr) (expr, error) {
	name, err := p.strArg(head, args, 0, "name")
	if err != nil {
		return nil, err
	}
	var props []*Property
	for _, e := range args[1:] {
		prop, ok := e.(*Property)
		if !ok {
			return nil, p.lex.errorf(head.off,
				"ns %q: child form is not a property", name)
		}
		props = append(props, prop)
	}
	return &Namespace{Name: name, Props: props}, nil
}

func (p *parser) evalProp(head token, args []expr) (expr, error) {
	name, err := p.strArg(head, args, 0, "name")
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, p.lex.errorf(head.off, "prop %q: missing default value", name)
	}
	defval, ok := args[1].(Value)
	if !ok {
		return nil, p.lex.errorf(head.off, "prop %q: default must be a scalar", name)
	}

	_, opts, err := p.splitRest(head, args[2:])
	if err != nil {
		return nil, err
	}

	access := AccessRead
	if v, ok := opts["access"]; ok {
		i, err := v.Integer()
		if err != nil {
			return nil, p.lex.errorf(head.off, "prop %q: %v", name, err)
		}
		access = uint32(i)
	}

	// Behavior defaults to discrete; the "discrete" symbol evaluates to
	// the subscribe bit, "continuous" to zero.
	discrete := true
	if v, ok := opts["behavior"]; ok {
		switch v.Kind {
		case ValueStr:
			discrete = v.Str == "discrete"
		default:
			i, err := v.Integer()
			if err != nil {
				return nil, p.lex.errorf(head.off, "prop %q: %v", name, err)
			}
			discrete = uint32(i)&AccessSubscribe != 0
		}
	}
	if discrete {
		access |= AccessSubscribe
	} else {
		access &^= AccessSubscribe
	}

	return &Property{Name: name, Default: defval, Access: access}, nil
}

// FromFile parses one config file and hands each record to receiver. A
// file that fails to parse is reported and skipped; the return value tells
// whether the file parsed.
func FromFile(path string, receiver func(cfgPath string, rec Record)) bool {
	logrus.Debugf("config: loading %v", path)

	f, err := AppFs.Open(path)
	if err != nil {
		logrus.Errorf("config: can't open %v: %v, skipping", path, err)
		return false
	}
	defer f.Close()

	recs, err := Parse(f)
	if err != nil {
		logrus.Errorf("config: error parsing %v: %v, skipping", path, err)
		return false
	}
	for _, rec := range recs {
		receiver(path, rec)
	}
	return true
}

// checkNameLoad loads path only when it follows the config naming scheme.
func checkNameLoad(path string, receiver func(string, Record)) bool {
	if !IsConfigFile(path) {
		logrus.Debugf("config: %v is not a config file, skipping", path)
		return false
	}
	return FromFile(path, receiver)
}

// Visit loads every config file in dir (or the single file at dir) and
// hands the records to receiver in deterministic name order. Per-file
// errors are logged, not returned.
func Visit(dir string, receiver func(cfgPath string, rec Record)) error {
	fi, err := AppFs.Stat(dir)
	if err != nil {
		return fmt.Errorf("config: unknown configuration source %v: %v", dir, err)
	}

	if !fi.IsDir() {
		checkNameLoad(dir, receiver)
		return nil
	}

	entries, err := afero.ReadDir(AppFs, dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsConfigFile(e.Name()) {
			FromFile(filepath.Join(dir, e.Name()), receiver)
		}
	}
	return nil
}
