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

package fuse

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"bazil.org/fuse"
	"github.com/sirupsen/logrus"
)

// MountConfig is the digested form of the -o option string. uid=, gid= and
// file_umask= are statefs extensions consumed before mounting; the rest is
// translated for fuse.Mount.
type MountConfig struct {
	Uid       int // -1 when unset
	Gid       int // -1 when unset
	Umask     os.FileMode
	HasUmask  bool
	MountOpts []fuse.MountOption
}

// ParseMountOptions digests a comma-separated -o option string. Unknown
// options are logged and dropped: the Bazil library takes typed options
// only, there is no verbatim passthrough.
func ParseMountOptions(opts string) (*MountConfig, error) {
	cfg := &MountConfig{Uid: -1, Gid: -1}

	for _, item := range strings.Split(opts, ",") {
		if item == "" {
			continue
		}

		key, val := item, ""
		if n := strings.Index(item, "="); n >= 0 {
			key, val = item[:n], item[n+1:]
		}

		switch key {
		case "uid":
			uid, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("fuse: invalid uid option %q", val)
			}
			cfg.Uid = uid

		case "gid":
			gid, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("fuse: invalid gid option %q", val)
			}
			cfg.Gid = gid

		case "file_umask":
			umask, err := strconv.ParseUint(val, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("fuse: invalid file_umask option %q", val)
			}
			cfg.Umask = os.FileMode(umask)
			cfg.HasUmask = true

		case "allow_other":
			cfg.MountOpts = append(cfg.MountOpts, fuse.AllowOther())

		case "default_permissions":
			cfg.MountOpts = append(cfg.MountOpts, fuse.DefaultPermissions())

		case "ro":
			cfg.MountOpts = append(cfg.MountOpts, fuse.ReadOnly())

		case "fsname":
			cfg.MountOpts = append(cfg.MountOpts, fuse.FSName(val))

		case "subtype":
			cfg.MountOpts = append(cfg.MountOpts, fuse.Subtype(val))

		case "max_readahead":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("fuse: invalid max_readahead option %q", val)
			}
			cfg.MountOpts = append(cfg.MountOpts, fuse.MaxReadahead(uint32(n)))

		default:
			logrus.Warnf("fuse: ignoring unsupported mount option %q", item)
		}
	}

	return cfg, nil
}
