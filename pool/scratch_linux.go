//go:build linux

// File: pool/scratch_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux scratch allocation backed by anonymous private mappings.

package pool

import (
	"golang.org/x/sys/unix"
)

// mmapThreshold is the size below which a plain heap slice is cheaper than a mapping.
const mmapThreshold = 64 * 1024

// allocate maps page-multiple sizes above the threshold; everything else
// comes from the heap so the capacity always equals size.
func allocate(size int) (buf []byte, mapped bool, err error) {
	if size < mmapThreshold || size%unix.Getpagesize() != 0 {
		return make([]byte, size), false, nil
	}
	buf, err = unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

func release(b []byte, mapped bool) error {
	if !mapped || b == nil {
		return nil
	}
	return unix.Munmap(b)
}
