//
// Copyright: (C) 2019 Nestybox Inc.  All rights reserved.
//

package fuse

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMountOptions(t *testing.T) {

	tests := []struct {
		name    string
		opts    string
		wantErr bool
		check   func(t *testing.T, cfg *MountConfig)
	}{
		{
			name: "empty",
			opts: "",
			check: func(t *testing.T, cfg *MountConfig) {
				assert.Equal(t, -1, cfg.Uid)
				assert.Equal(t, -1, cfg.Gid)
				assert.False(t, cfg.HasUmask)
				assert.Empty(t, cfg.MountOpts)
			},
		},
		{
			name: "uid gid",
			opts: "uid=100000,gid=100000",
			check: func(t *testing.T, cfg *MountConfig) {
				assert.Equal(t, 100000, cfg.Uid)
				assert.Equal(t, 100000, cfg.Gid)
			},
		},
		{
			name: "file_umask octal",
			opts: "file_umask=0077",
			check: func(t *testing.T, cfg *MountConfig) {
				assert.True(t, cfg.HasUmask)
				assert.Equal(t, os.FileMode(0077), cfg.Umask)
			},
		},
		{
			name: "fuse options pass through",
			opts: "allow_other,default_permissions,fsname=statefs",
			check: func(t *testing.T, cfg *MountConfig) {
				assert.Len(t, cfg.MountOpts, 3)
			},
		},
		{
			name: "unknown options are dropped",
			opts: "frobnicate,uid=7",
			check: func(t *testing.T, cfg *MountConfig) {
				assert.Equal(t, 7, cfg.Uid)
				assert.Empty(t, cfg.MountOpts)
			},
		},
		{name: "bad uid", opts: "uid=oops", wantErr: true},
		{name: "bad gid", opts: "gid=", wantErr: true},
		{name: "bad umask", opts: "file_umask=099", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseMountOptions(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestErrnoError(t *testing.T) {

	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"errno passes verbatim", syscall.EAGAIN, syscall.EAGAIN},
		{"path error unwraps", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, syscall.ENOENT},
		{"unknown becomes EIO", assert.AnError, syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errnoError(tt.err)
			ioe, ok := err.(IOerror)
			require.True(t, ok)
			assert.Equal(t, tt.want, ioe.Code)
		})
	}

	assert.Nil(t, errnoError(nil))
}

func TestTrap(t *testing.T) {

	fn := func() (err error) {
		defer trap("test", &err)
		panic("boom")
	}

	err := fn()
	require.Error(t, err)
	assert.Equal(t, syscall.ENOMEM, err.(IOerror).Code)
}
