// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build windows

package wallet

import "os"

// fsync flushes f's data to stable storage. os.File.Sync already calls
// FlushFileBuffers on Windows, so no raw syscall is needed here.
func fsync(f *os.File) error {
	return f.Sync()
}
