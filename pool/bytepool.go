// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-mq/api"
)

// Default scratch capacities.
const (
	DefaultBinarySize = 1024 * 1024 // 1 MiB
	DefaultTextSize   = 8 * 1024    // 8 KiB
)

// Scratch owns one reusable receive buffer per role.
// It is not safe for concurrent receives on the same role; callers serialize.
type Scratch struct {
	mu     sync.Mutex
	bufs   [2][]byte
	mapped [2]bool
	closed bool
}

var _ api.ScratchPool = (*Scratch)(nil)

// NewScratch allocates the binary and text buffers. Zero sizes select defaults.
func NewScratch(binarySize, textSize int) (*Scratch, error) {
	if binarySize <= 0 {
		binarySize = DefaultBinarySize
	}
	if textSize <= 0 {
		textSize = DefaultTextSize
	}
	s := &Scratch{}
	var err error
	s.bufs[api.RoleBinary], s.mapped[api.RoleBinary], err = allocate(binarySize)
	if err != nil {
		return nil, fmt.Errorf("allocate binary scratch (%d bytes): %w", binarySize, err)
	}
	s.bufs[api.RoleText], s.mapped[api.RoleText], err = allocate(textSize)
	if err != nil {
		_ = release(s.bufs[api.RoleBinary], s.mapped[api.RoleBinary])
		return nil, fmt.Errorf("allocate text scratch (%d bytes): %w", textSize, err)
	}
	return s, nil
}

// Buffer returns the full-capacity scratch buffer for role.
func (s *Scratch) Buffer(r api.Role) []byte {
	b := s.bufs[roleIndex(r)]
	return b[:cap(b)]
}

// Capacity returns the fixed size of the role buffer.
func (s *Scratch) Capacity(r api.Role) int {
	return cap(s.bufs[roleIndex(r)])
}

// Close releases the buffers. Further use of Buffer is invalid.
func (s *Scratch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	for i := range s.bufs {
		if err := release(s.bufs[i], s.mapped[i]); err != nil && first == nil {
			first = err
		}
		s.bufs[i] = nil
	}
	return first
}

// CopyOut returns a freshly allocated copy of buf[:n].
// Results handed to callers never alias a scratch buffer.
func CopyOut(buf []byte, n int) []byte {
	if n > len(buf) {
		n = len(buf)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

func roleIndex(r api.Role) int {
	if r == api.RoleText {
		return int(api.RoleText)
	}
	return int(api.RoleBinary)
}
