// File: facade/bridge.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unified facade layer for hioload-mq.
//
// Bridge aggregates the socket registry, scratch buffers, dispatch loop,
// event router and the optional auto-polling driver behind one surface.
// Endpoints are addressed by logical name; every operation on an unknown
// name returns api.ErrNotFound.

package facade

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/dispatch"
	"github.com/momentics/hioload-mq/internal/registry"
	"github.com/momentics/hioload-mq/internal/router"
	"github.com/momentics/hioload-mq/pool"
)

// Config holds parameters immutable per run.
type Config struct {
	BinaryBufferSize int           // Scratch capacity for dispatch and Receive
	TextBufferSize   int           // Scratch capacity for ReceiveText
	PollInterval     time.Duration // Auto-polling cadence
	AutoPolling      bool          // Whether lifecycle hooks start the driver
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		BinaryBufferSize: pool.DefaultBinarySize, // 1 MiB
		TextBufferSize:   pool.DefaultTextSize,   // 8 KiB
		PollInterval:     dispatch.DefaultInterval,
		AutoPolling:      true,
	}
}

// Bridge is the caller-facing facade.
// It implements api.GracefulShutdown and api.Poller.
type Bridge struct {
	cfg     *Config
	gw      api.Gateway
	log     *zap.Logger
	metrics *control.Metrics
	clk     clock.Clock
	probes  *control.DebugProbes

	reg     *registry.Registry
	router  *router.Router
	scratch *pool.Scratch
	loop    *dispatch.Loop
	driver  *dispatch.Driver

	// ioMu serializes every user of the scratch buffers. It is held only
	// across a gateway receive and the copy-out, never while listeners run.
	ioMu sync.Mutex

	ticks     atomic.Uint64
	delivered atomic.Uint64
	failures  atomic.Uint64
	startedAt time.Time
	closed    atomic.Bool
}

var (
	_ api.GracefulShutdown = (*Bridge)(nil)
	_ api.Poller           = (*Bridge)(nil)
)

// New constructs a Bridge over gw. A nil cfg uses DefaultConfig.
func New(cfg *Config, gw api.Gateway, opts ...Option) (*Bridge, error) {
	if gw == nil {
		return nil, api.InvalidArgument("", "gateway is nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	b := &Bridge{
		cfg:    cfg,
		gw:     gw,
		log:    zap.NewNop(),
		clk:    clock.New(),
		probes: control.NewDebugProbes(),
	}
	for _, opt := range opts {
		opt(b)
	}

	scratch, err := pool.NewScratch(cfg.BinaryBufferSize, cfg.TextBufferSize)
	if err != nil {
		return nil, err
	}
	b.scratch = scratch
	b.reg = registry.New(gw, b.log.Named("registry"))
	b.router = router.New(b.log.Named("router"), b.metrics)
	b.loop = dispatch.NewLoop(b.reg, gw, scratch, &b.ioMu, b.router, b.log.Named("dispatch"), b.metrics)
	b.driver = dispatch.NewDriver(b.Tick, cfg.PollInterval, b.clk, b.log.Named("driver"))
	b.startedAt = b.clk.Now()

	b.router.OnError(func(string, error) { b.failures.Add(1) })
	b.probes.RegisterProbe("endpoints", b.endpointsProbe)
	b.probes.RegisterProbe("stats", func() any { return b.Stats() })
	b.probes.RegisterProbe("last_error", func() any { return gw.LastError() })
	control.RegisterPlatformProbes(b.probes)
	return b, nil
}

// Register creates an endpoint of pattern p on address and binds it to name,
// closing any endpoint previously registered under that name.
func (b *Bridge) Register(name string, p api.Pattern, address string, opts ...api.EndpointOption) error {
	err := b.reg.Register(name, api.NewEndpointSpec(p, address, opts...))
	b.metrics.SetEndpoints(b.reg.Len())
	if err != nil {
		return err
	}
	b.log.Info("endpoint registered",
		zap.String("name", name),
		zap.Stringer("pattern", p),
		zap.String("address", address))
	return nil
}

// Unregister closes and forgets name. Absent names are ignored.
func (b *Bridge) Unregister(name string) {
	b.reg.Unregister(name)
	b.metrics.SetEndpoints(b.reg.Len())
}

// Lookup returns the endpoint registered under name.
func (b *Bridge) Lookup(name string) (api.Endpoint, bool) {
	return b.reg.Lookup(name)
}

// Endpoints returns every registered endpoint ordered by name.
func (b *Bridge) Endpoints() []api.Endpoint {
	return b.reg.Snapshot()
}

// Teardown closes every endpoint. The bridge stays usable.
func (b *Bridge) Teardown() error {
	err := b.reg.Teardown()
	b.metrics.SetEndpoints(0)
	return err
}

func (b *Bridge) lookup(name string) (api.Endpoint, error) {
	ep, ok := b.reg.Lookup(name)
	if !ok {
		return ep, api.NotFound(name)
	}
	return ep, nil
}

func (b *Bridge) detail(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return b.gw.LastError()
}

// Send transmits data on the endpoint registered as name.
func (b *Bridge) Send(name string, data []byte) error {
	ep, err := b.lookup(name)
	if err != nil {
		return err
	}
	if err := b.gw.Send(ep.Handle, data); err != nil {
		return api.SendFailed(name, b.detail(err), err)
	}
	return nil
}

// SendText transmits the UTF-8 bytes of s.
func (b *Bridge) SendText(name, s string) error {
	return b.Send(name, []byte(s))
}

// Publish sends a topic frame followed by data. Only publisher endpoints accept it.
func (b *Bridge) Publish(name, topic string, data []byte) error {
	ep, err := b.lookup(name)
	if err != nil {
		return err
	}
	if err := b.gw.Publish(ep.Handle, topic, data); err != nil {
		return api.SendFailed(name, b.detail(err), err)
	}
	return nil
}

// PublishText publishes the UTF-8 bytes of s.
func (b *Bridge) PublishText(name, topic, s string) error {
	return b.Publish(name, topic, []byte(s))
}

// Receive takes one pending message from name without blocking.
// ok is false when nothing is pending.
func (b *Bridge) Receive(name string) (data []byte, ok bool, err error) {
	ep, err := b.lookup(name)
	if err != nil {
		return nil, false, err
	}
	b.ioMu.Lock()
	defer b.ioMu.Unlock()
	buf := b.scratch.Buffer(api.RoleBinary)
	n, err := b.gw.Receive(ep.Handle, buf)
	switch {
	case errors.Is(err, api.ErrNoMessage):
		return nil, false, nil
	case err != nil:
		return nil, false, api.ReceiveFailed(name, b.detail(err), err)
	}
	return pool.CopyOut(buf, n), true, nil
}

// ReceiveText is Receive decoded as UTF-8, read through the smaller text
// buffer. Payloads that are not valid UTF-8 are consumed and reported as
// receive failures.
func (b *Bridge) ReceiveText(name string) (string, bool, error) {
	ep, err := b.lookup(name)
	if err != nil {
		return "", false, err
	}
	b.ioMu.Lock()
	defer b.ioMu.Unlock()
	buf := b.scratch.Buffer(api.RoleText)
	n, err := b.gw.Receive(ep.Handle, buf)
	switch {
	case errors.Is(err, api.ErrNoMessage):
		return "", false, nil
	case err != nil:
		return "", false, api.ReceiveFailed(name, b.detail(err), err)
	}
	if !utf8.Valid(buf[:n]) {
		return "", false, api.ReceiveFailed(name, api.ErrInvalidUTF8.Error(), api.ErrInvalidUTF8)
	}
	return string(buf[:n]), true, nil
}

// HasMessage reports whether name has a message pending, without blocking.
func (b *Bridge) HasMessage(name string) (bool, error) {
	return b.WaitForMessage(name, 0)
}

// WaitForMessage blocks up to timeout for a message on name.
func (b *Bridge) WaitForMessage(name string, timeout time.Duration) (bool, error) {
	ep, err := b.lookup(name)
	if err != nil {
		return false, err
	}
	ready, err := b.gw.Poll(ep.Handle, timeout)
	if err != nil {
		return false, api.ReceiveFailed(name, b.detail(err), err)
	}
	return ready, nil
}

// Tick runs one dispatch pass and returns the number of delivered messages.
// Listeners run on the calling goroutine and may use any Bridge operation.
func (b *Bridge) Tick() int {
	n := b.loop.Tick()
	b.ticks.Add(1)
	b.delivered.Add(uint64(n))
	return n
}

// OnBinary registers a listener for every dispatched message.
func (b *Bridge) OnBinary(fn api.BinaryHandler) (cancel func()) { return b.router.OnBinary(fn) }

// OnText registers a listener for every dispatched message that is valid UTF-8.
func (b *Bridge) OnText(fn api.TextHandler) (cancel func()) { return b.router.OnText(fn) }

// OnError registers a listener for dispatch failures.
func (b *Bridge) OnError(fn api.ErrorHandler) (cancel func()) { return b.router.OnError(fn) }

// Start launches auto-polling at Config.PollInterval until Stop or ctx is done.
func (b *Bridge) Start(ctx context.Context) {
	b.driver.Start(ctx)
}

// Stop halts auto-polling and waits for an in-flight tick.
func (b *Bridge) Stop() {
	b.driver.Stop()
}

// Polling reports whether auto-polling is running.
func (b *Bridge) Polling() bool { return b.driver.Running() }

// Shutdown stops polling, closes every endpoint, releases the scratch
// buffers and shuts the gateway down when it supports it. Idempotent.
func (b *Bridge) Shutdown() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.driver.Stop()
	err := b.Teardown()
	b.ioMu.Lock()
	err = multierr.Append(err, b.scratch.Close())
	b.ioMu.Unlock()
	if gs, ok := b.gw.(api.GracefulShutdown); ok {
		err = multierr.Append(err, gs.Shutdown())
	}
	b.log.Info("bridge shut down", zap.Error(err))
	return err
}

// LastError returns the gateway's most recent diagnostic.
func (b *Bridge) LastError() string { return b.gw.LastError() }

// DumpState returns the debug probe snapshot.
func (b *Bridge) DumpState() map[string]any { return b.probes.DumpState() }

// Stats returns runtime counters.
func (b *Bridge) Stats() api.BridgeStats {
	return api.BridgeStats{
		Endpoints: b.reg.Len(),
		Ticks:     b.ticks.Load(),
		Delivered: b.delivered.Load(),
		Failures:  b.failures.Load(),
		StartedAt: b.startedAt,
		Polling:   b.driver.Running(),
	}
}

type endpointState struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Address string `json:"address"`
	Topic   string `json:"topic,omitempty"`
	Mode    string `json:"mode"`
	Handle  int32  `json:"handle"`
}

func (b *Bridge) endpointsProbe() any {
	snap := b.reg.Snapshot()
	out := make([]endpointState, 0, len(snap))
	for _, ep := range snap {
		out = append(out, endpointState{
			Name:    ep.Name,
			Pattern: ep.Spec.Pattern.String(),
			Address: ep.Spec.Address,
			Topic:   ep.Spec.Topic,
			Mode:    ep.Spec.ResolvedMode().String(),
			Handle:  int32(ep.Handle),
		})
	}
	return out
}
