// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive-path memory for hioload-mq.
// Implements fixed-capacity scratch buffers, one per consumer role (binary, text),
// allocated once and overwritten on every receive. On Linux the buffers are
// anonymous mmap regions so large capacities stay lazily committed and outside
// the GC heap. See bytepool.go for the shared-buffer contract.

package pool
