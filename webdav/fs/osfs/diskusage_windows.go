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

//go:build windows

package osfs

import (
	"syscall"
	"unsafe"

	"github.com/chezdav/chezdav/webdav/fs"
)

func statfs(base string) (fs.FilesystemInfo, error) {
	var freeBytes, totalBytes, totalFreeBytes uint64
	root, err := syscall.UTF16PtrFromString(base)
	if err != nil {
		return fs.FilesystemInfo{}, err
	}
	if err := getDiskFreeSpaceEx(root, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return fs.FilesystemInfo{}, err
	}
	return fs.FilesystemInfo{FreeBytes: int64(freeBytes), TotalBytes: int64(totalBytes)}, nil
}

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procGetDiskFreeSpaceEx = kernel32.NewProc("GetDiskFreeSpaceExW")
)

func getDiskFreeSpaceEx(path *uint16, freeBytes, totalBytes, totalFreeBytes *uint64) error {
	r, _, err := procGetDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(path)),
		uintptr(unsafe.Pointer(freeBytes)),
		uintptr(unsafe.Pointer(totalBytes)),
		uintptr(unsafe.Pointer(totalFreeBytes)),
	)
	if r == 0 {
		return err
	}
	return nil
}
