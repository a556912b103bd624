// File: cmd/hioload-mq/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/config"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/facade"
	"github.com/momentics/hioload-mq/gateway/gossip"
	"github.com/momentics/hioload-mq/gateway/mem"
	"github.com/momentics/hioload-mq/gateway/zmq"
	"github.com/momentics/hioload-mq/observability"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, level, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("hioload-mq starting", zap.String("gateway", cfg.Gateway.Kind))
	logger.Debug("effective configuration", zap.Any("config", cfg))

	app := fx.New(
		appOptions(cfg, logger, level),
		watchOption(opts, cfg),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		logger.Error("failed to start", zap.Error(err))
		return 1
	}

	logger.Info("node is running; press Ctrl+C to exit")
	<-ctx.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
		return 1
	}
	return 0
}

// appOptions assembles the node graph for cfg.
func appOptions(cfg *config.Config, logger *zap.Logger, level zap.AtomicLevel) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger, level),
		fx.Provide(
			bridgeConfig,
			newGateway,
			prometheus.NewRegistry,
			newMetrics,
			control.NewDebugProbes,
			newStatusServer,
		),
		facade.Module(),
		fx.Invoke(registerEndpoints),
		fx.Invoke(func(*statusServer) {}),
	)
}

func bridgeConfig(cfg *config.Config) *facade.Config {
	return &facade.Config{
		BinaryBufferSize: cfg.Bridge.BinaryBufferSize,
		TextBufferSize:   cfg.Bridge.TextBufferSize,
		PollInterval:     cfg.Bridge.PollInterval,
		AutoPolling:      cfg.Bridge.AutoPolling,
	}
}

func newMetrics(reg *prometheus.Registry) *control.Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return control.NewMetrics(reg)
}

// newGateway builds the configured gateway. The bridge owns its shutdown.
func newGateway(cfg *config.Config, logger *zap.Logger) (api.Gateway, error) {
	gc := cfg.Gateway
	switch gc.Kind {
	case "mem":
		return mem.New(
			mem.WithLogger(logger),
			mem.WithMaxPending(gc.MaxPending),
		), nil
	case "zmq":
		return zmq.New(context.Background(),
			zmq.WithLogger(logger),
			zmq.WithMaxPending(gc.MaxPending),
			zmq.WithDialRetry(gc.DialRetry, gc.DialMaxRetries),
		), nil
	case "gossip":
		return gossip.New(context.Background(),
			gossip.Config{ListenAddrs: gc.Gossip.Listen, Peers: gc.Gossip.Peers},
			gossip.WithLogger(logger),
			gossip.WithMaxPending(gc.MaxPending),
		)
	}
	return nil, fmt.Errorf("unknown gateway kind %q", gc.Kind)
}

// registerEndpoints creates every configured endpoint in order, logs
// inbound traffic and attaches echo responders to replier endpoints that
// ask for one.
func registerEndpoints(b *facade.Bridge, cfg *config.Config, logger *zap.Logger) error {
	traffic := logger.Named("traffic")
	b.OnBinary(func(name string, data []byte) error {
		traffic.Debug("message", zap.String("socket", name), zap.Int("bytes", len(data)))
		return nil
	})
	b.OnError(func(name string, err error) {
		traffic.Warn("dispatch failure", zap.String("socket", name), zap.Error(err))
	})
	for _, e := range cfg.Endpoints {
		spec, err := e.Spec()
		if err != nil {
			return err
		}
		opts := []api.EndpointOption{api.WithTopic(spec.Topic)}
		switch spec.Mode {
		case api.ModeBind:
			opts = append(opts, api.WithBind())
		case api.ModeConnect:
			opts = append(opts, api.WithConnect())
		}
		if err := b.Register(e.Name, spec.Pattern, spec.Address, opts...); err != nil {
			return err
		}
		if e.Echo {
			name := e.Name
			b.OnBinary(func(from string, data []byte) error {
				if from != name {
					return nil
				}
				return b.Send(name, data)
			})
			logger.Info("echo responder attached", zap.String("name", name))
		}
	}
	return nil
}

// statusServer exposes /metrics and /debug/state.
type statusServer struct {
	srv *http.Server
	ln  net.Listener
}

// Addr returns the bound listen address.
func (s *statusServer) Addr() string { return s.ln.Addr().String() }

func newStatusHandler(reg *prometheus.Registry, b *facade.Bridge) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.DumpState())
	})
	return mux
}

type statusParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Registry  *prometheus.Registry
	Bridge    *facade.Bridge
	Logger    *zap.Logger
}

func newStatusServer(p statusParams) *statusServer {
	if p.Config.MetricsAddr == "" {
		return nil
	}
	s := &statusServer{srv: &http.Server{
		Addr:              p.Config.MetricsAddr,
		Handler:           newStatusHandler(p.Registry, p.Bridge),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	log := p.Logger.Named("status")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", s.srv.Addr)
			if err != nil {
				return err
			}
			s.ln = ln
			log.Info("status server listening", zap.String("addr", s.Addr()))
			go func() {
				if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("status server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.srv.Shutdown(ctx)
		},
	})
	return s
}

// watchOption reloads runtime settings from the config file when asked to.
func watchOption(opts Options, cfg *config.Config) fx.Option {
	if !opts.Watch {
		return fx.Options()
	}
	return fx.Invoke(func(level zap.AtomicLevel, probes *control.DebugProbes, logger *zap.Logger) error {
		return watchRuntime(opts.ConfigPath, cfg, level, probes, logger)
	})
}

func watchRuntime(path string, cfg *config.Config, level zap.AtomicLevel, probes *control.DebugProbes, logger *zap.Logger) error {
	store := control.NewConfigStore(cfg.Runtime())
	probes.RegisterProbe("runtime", func() any { return store.GetSnapshot() })
	store.OnReload(func(changed map[string]any) {
		if v, ok := changed["log.level"].(string); ok {
			level.SetLevel(observability.ParseLevel(v))
			logger.Info("log level reloaded", zap.String("level", v))
		}
	})
	return config.Watch(path, func(next *config.Config, err error) {
		if err != nil {
			logger.Warn("config reload rejected", zap.Error(err))
			return
		}
		store.SetConfig(next.Runtime())
	})
}
