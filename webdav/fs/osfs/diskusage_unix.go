// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !windows

package osfs

import (
	"golang.org/x/sys/unix"

	"github.com/chezdav/chezdav/webdav/fs"
)

func statfs(base string) (fs.FilesystemInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(base, &st); err != nil {
		return fs.FilesystemInfo{}, err
	}
	bsize := uint64(st.Bsize)
	return fs.FilesystemInfo{
		FreeBytes:  int64(st.Bavail * bsize),
		TotalBytes: int64(st.Blocks * bsize),
	}, nil
}
