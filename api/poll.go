// File: api/poll.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tick-driven poller contract. One Tick gives every registered endpoint a
// single non-blocking chance to deliver.

package api

// Poller represents a caller-driven dispatch pass.
type Poller interface {
	// Tick polls every registered endpoint once and returns the number
	// of messages delivered.
	Tick() int
}
