// File: api/shutdown.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unified graceful shutdown contract.

package api

// GracefulShutdown is implemented by components that own gateway handles
// or background goroutines.
type GracefulShutdown interface {
	// Shutdown stops background work and releases every resource.
	// It is safe to call more than once.
	Shutdown() error
}
