// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared API-level type declarations and DTOs.

package api

import "time"

// BridgeStats is the snapshot returned by the facade for health reporting.
type BridgeStats struct {
	Endpoints int
	Ticks     uint64
	Delivered uint64
	Failures  uint64
	StartedAt time.Time
	Polling   bool
}
