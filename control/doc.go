// File: control/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime metrics and debug introspection layer for hioload-mq.
//
// Provides:
// - Prometheus collectors for the dispatch loop, the event router and the registry
// - Named debug probes dumped as a state snapshot
// - A runtime settings store that propagates hot-reloaded values
//
// Every Metrics method is safe on a nil receiver so components can run unobserved.

package control
