//go:build !linux

// File: pool/scratch_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable scratch allocation.

package pool

func allocate(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func release([]byte, bool) error { return nil }
