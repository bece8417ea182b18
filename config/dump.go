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
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// writeProperty emits a prop form. Access and behavior are only written
// when they differ from the dialect defaults (read-only, discrete).
func writeProperty(w io.Writer, p *Property) error {
	_, err := fmt.Fprintf(w, "\n(prop %s %s",
		strconv.Quote(p.Name), strconv.Quote(p.DefVal()))
	if err != nil {
		return err
	}
	if p.Access&AccessSubscribe == 0 {
		if _, err = io.WriteString(w, " :behavior continuous"); err != nil {
			return err
		}
	}
	if p.Access&AccessWrite != 0 {
		access := " :access wonly"
		if p.Access&AccessRead != 0 {
			access = " :access rw"
		}
		if _, err = io.WriteString(w, access); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, ")")
	return err
}

func writeNamespace(w io.Writer, ns *Namespace) error {
	if _, err := fmt.Fprintf(w, "\n(ns %s", strconv.Quote(ns.Name)); err != nil {
		return err
	}
	for _, p := range ns.Props {
		if err := writeProperty(w, p); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, ")")
	return err
}

// WriteRecord emits the canonical config form for a record. Provider
// metadata keys are written in sorted order so the output is stable.
func WriteRecord(w io.Writer, rec Record) error {
	switch r := rec.(type) {
	case *Loader:
		_, err := fmt.Fprintf(w, "(loader %s %s)\n",
			strconv.Quote(r.Name), strconv.Quote(r.Path))
		return err

	case *Plugin:
		_, err := fmt.Fprintf(w, "(provider %s %s",
			strconv.Quote(r.Name), strconv.Quote(r.Path))
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(r.Info))
		for k := range r.Info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err = fmt.Fprintf(w, " :%s %s", k, r.Info[k].Sexp()); err != nil {
				return err
			}
		}
		for _, ns := range r.Namespaces {
			if err = writeNamespace(w, ns); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, ")\n")
		return err
	}
	return fmt.Errorf("config: unknown record type %T", rec)
}

// Save writes the canonical config file for rec into cfgDir and touches
// the directory so a running monitor notices the change. Returns the
// config file path.
func Save(cfgDir string, rec Record) (string, error) {
	if err := ensureDir(cfgDir); err != nil {
		return "", err
	}

	path := filepath.Join(cfgDir, ConfigFileName(rec))
	f, err := AppFs.Create(path)
	if err != nil {
		return "", err
	}
	if err = WriteRecord(f, rec); err != nil {
		f.Close()
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}

	now := time.Now()
	AppFs.Chtimes(cfgDir, now, now)
	return path, nil
}

// Remove drops every config file in cfgDir declaring the library at
// libPath.
func Remove(cfgDir, libPath string) error {
	full := canonicalPath(libPath)
	var firstErr error
	err := Visit(cfgDir, func(cfgPath string, rec Record) {
		var path string
		switch r := rec.(type) {
		case *Plugin:
			path = r.Path
		case *Loader:
			path = r.Path
		}
		if canonicalPath(path) != full {
			return
		}
		logrus.Infof("config: unregistering %v (%v)", path, cfgPath)
		if err := AppFs.Remove(cfgPath); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	if err != nil {
		return err
	}
	return firstErr
}

// Cleanup drops config entries whose declared library no longer exists.
func Cleanup(cfgDir string) error {
	return Visit(cfgDir, func(cfgPath string, rec Record) {
		var path string
		switch r := rec.(type) {
		case *Plugin:
			path = r.Path
		case *Loader:
			path = r.Path
		}
		if _, err := AppFs.Stat(path); err == nil {
			return
		}
		logrus.Infof("config: library %v doesn't exist, removing config %v",
			path, cfgPath)
		if err := AppFs.Remove(cfgPath); err != nil {
			logrus.Errorf("config: can't remove %v: %v", cfgPath, err)
		}
	})
}

// ensureDir verifies dir exists and is a directory.
func ensureDir(dir string) error {
	fi, err := AppFs.Stat(dir)
	if err != nil {
		return fmt.Errorf("config: no config dir %v: %v", dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("config: %v is not a directory", dir)
	}
	return nil
}

// canonicalPath normalizes a library path for comparisons.
func canonicalPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

// EnsureDir is the exported startup check: the config directory must exist
// or the server refuses to start.
func EnsureDir(dir string) error {
	return ensureDir(dir)
}
