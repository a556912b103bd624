// File: api/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Delivery listener types.

package api

// BinaryHandler receives every message delivered by the dispatch loop.
// data is owned by the handler set for this message and must not be mutated.
type BinaryHandler func(name string, data []byte) error

// TextHandler receives messages whose payload is valid UTF-8.
type TextHandler func(name, text string) error

// ErrorHandler is notified of per-endpoint delivery failures.
type ErrorHandler func(name string, err error)
