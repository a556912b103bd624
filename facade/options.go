// File: facade/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Functional options for the Bridge facade.

package facade

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/control"
)

// Option customizes Bridge initialization.
type Option func(*Bridge)

// WithLogger sets the parent logger; components log through named children.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors. Without it nothing is counted.
func WithMetrics(m *control.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithClock replaces the wall clock driving auto-polling.
func WithClock(c clock.Clock) Option {
	return func(b *Bridge) {
		if c != nil {
			b.clk = c
		}
	}
}

// WithDebugProbes shares a probe set, so callers can add their own entries
// next to the bridge's.
func WithDebugProbes(p *control.DebugProbes) Option {
	return func(b *Bridge) {
		if p != nil {
			b.probes = p
		}
	}
}
