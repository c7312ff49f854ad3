// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !windows

package wallet

import (
	"os"

	"golang.org/x/sys/unix"
)

// fsync flushes f's data to stable storage, the middle step of the
// write-temp/fsync/rename sequence spec §4.2 requires.
func fsync(f *os.File) error {
	for {
		err := unix.Fsync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
