// File: facade/module.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

// Module provides *Bridge to an fx application and ties auto-polling and
// shutdown to the application lifecycle.
func Module() fx.Option {
	return fx.Module("bridge",
		fx.Provide(NewFromParams),
		fx.Invoke(registerLifecycle),
	)
}

// Params are the Bridge dependencies resolved by fx.
type Params struct {
	fx.In

	Config  *Config              `optional:"true"`
	Gateway api.Gateway
	Logger  *zap.Logger          `optional:"true"`
	Metrics *control.Metrics     `optional:"true"`
	Probes  *control.DebugProbes `optional:"true"`
}

// NewFromParams builds a Bridge from injected dependencies.
func NewFromParams(p Params) (*Bridge, error) {
	return New(p.Config, p.Gateway,
		WithLogger(p.Logger),
		WithMetrics(p.Metrics),
		WithDebugProbes(p.Probes))
}

func registerLifecycle(lc fx.Lifecycle, b *Bridge) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// The hook context ends with startup; polling must outlive it.
			if b.cfg.AutoPolling {
				b.Start(context.Background())
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return b.Shutdown()
		},
	})
}
