// File: gateway/gossip/gateway.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package gossip carries the publish/subscribe pattern over libp2p gossipsub.
// Endpoint addresses name gossip topics ("gossip://sensors" or plain
// "sensors"). Topics match exactly; gossipsub has no prefix subscriptions.
// Only statically configured peers are dialed.

package gossip

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/gateway/internal/handles"
	"github.com/momentics/hioload-mq/gateway/internal/inbox"
)

const scheme = "gossip://"

// Config selects the host's listen addresses and the peers dialed at start.
type Config struct {
	ListenAddrs []string
	Peers       []string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithMaxPending bounds queued inbound messages per subscriber.
func WithMaxPending(n int) Option {
	return func(g *Gateway) { g.maxPending = n }
}

type joined struct {
	topic *pubsub.Topic
	refs  int
}

type socket struct {
	h     api.Handle
	spec  api.EndpointSpec
	topic string
	in    *inbox.Inbox
	sub   *pubsub.Subscription

	cancel context.CancelFunc
	done   chan struct{}
}

// Gateway owns one libp2p host and its gossipsub router.
type Gateway struct {
	log        *zap.Logger
	maxPending int

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	host host.Host
	ps   *pubsub.PubSub

	socks *handles.Table[*socket]

	mu     sync.Mutex
	topics map[string]*joined
}

var _ api.Gateway = (*Gateway)(nil)

// New starts the libp2p host, the gossipsub router and dials cfg.Peers.
// Unreachable peers are logged and skipped.
func New(parent context.Context, cfg Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		log:        zap.NewNop(),
		maxPending: inbox.DefaultMaxPending,
		socks:      handles.New[*socket](),
		topics:     make(map[string]*joined),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.Named("gateway.gossip")

	listen := make([]ma.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, s := range cfg.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listen = append(listen, a)
	}
	if len(listen) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listen = append(listen, a)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listen...))
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}
	g.ctx, g.cancel = context.WithCancel(parent)
	ps, err := pubsub.NewGossipSub(g.ctx, h)
	if err != nil {
		g.cancel()
		_ = h.Close()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}
	g.host, g.ps = h, ps

	for _, raw := range cfg.Peers {
		if raw == "" {
			continue
		}
		if err := g.Connect(g.ctx, raw); err != nil {
			g.log.Warn("peer connect failed", zap.String("peer", raw), zap.Error(err))
		}
	}
	g.log.Info("gossip host started",
		zap.String("id", h.ID().String()),
		zap.Strings("addrs", g.Addrs()))
	return g, nil
}

// Connect dials a peer given as a full /p2p/ multiaddr.
func (g *Gateway) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("parse peer %q: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return fmt.Errorf("peer info %q: %w", addr, err)
	}
	if err := g.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	g.log.Debug("peer connected", zap.String("peer", info.ID.String()))
	return nil
}

// ID returns the host's peer ID.
func (g *Gateway) ID() string { return g.host.ID().String() }

// Addrs returns the dialable addresses of this host including its peer ID.
func (g *Gateway) Addrs() []string {
	out := make([]string, 0, len(g.host.Addrs()))
	for _, a := range g.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, g.host.ID()))
	}
	return out
}

// Peers returns the IDs of connected peers.
func (g *Gateway) Peers() []string {
	ids := g.host.Network().Peers()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// TopicOf strips the gossip scheme from an address.
func TopicOf(addr string) string {
	return strings.TrimPrefix(addr, scheme)
}

func (g *Gateway) join(name string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if j, ok := g.topics[name]; ok {
		j.refs++
		return j.topic, nil
	}
	t, err := g.ps.Join(name)
	if err != nil {
		return nil, err
	}
	g.topics[name] = &joined{topic: t, refs: 1}
	return t, nil
}

func (g *Gateway) topicFor(name string) (*pubsub.Topic, error) {
	g.mu.Lock()
	if j, ok := g.topics[name]; ok {
		g.mu.Unlock()
		return j.topic, nil
	}
	g.mu.Unlock()
	// Ad-hoc publish topics stay joined until Shutdown.
	return g.join(name)
}

func (g *Gateway) leave(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.topics[name]
	if !ok {
		return nil
	}
	j.refs--
	if j.refs > 0 {
		return nil
	}
	delete(g.topics, name)
	return j.topic.Close()
}

// Create implements api.Gateway. Only Publisher and Subscriber are supported.
func (g *Gateway) Create(spec api.EndpointSpec) (api.Handle, error) {
	if g.closed.Load() {
		g.socks.Failf("Context not initialized")
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrInit, "create", api.ErrGatewayClosed)
	}
	if spec.Pattern != api.Publisher && spec.Pattern != api.Subscriber {
		g.socks.Failf("Failed to create %s socket: only pub and sub are carried over gossip", spec.Pattern)
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrSocket, "create", api.ErrNotSupported)
	}
	name := TopicOf(spec.Address)
	if spec.Pattern == api.Subscriber && spec.Topic != "" {
		name = spec.Topic
	}
	if name == "" {
		g.socks.Failf("Failed to create %s socket: empty topic", spec.Pattern)
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrSocket, "create", api.ErrInvalidArgument)
	}

	t, err := g.join(name)
	if err != nil {
		g.socks.Failf("Failed to join topic %s: %v", name, err)
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrSocket, "create", err)
	}
	s := &socket{spec: spec, topic: name, in: inbox.New(g.maxPending), done: make(chan struct{})}

	if spec.Pattern == api.Subscriber {
		sub, err := t.Subscribe()
		if err != nil {
			_ = g.leave(name)
			g.socks.Failf("Failed to subscribe to %s: %v", name, err)
			return api.InvalidHandle, api.NewGatewayError(api.StatusErrConnect, "create", err)
		}
		s.sub = sub
		var ctx context.Context
		ctx, s.cancel = context.WithCancel(g.ctx)
		s.h = g.socks.Add(s)
		go g.read(ctx, s)
	} else {
		s.cancel = func() {}
		close(s.done)
		s.h = g.socks.Add(s)
	}
	g.log.Debug("socket created",
		zap.Int32("handle", int32(s.h)),
		zap.Stringer("pattern", spec.Pattern),
		zap.String("topic", name))
	return s.h, nil
}

func (g *Gateway) read(ctx context.Context, s *socket) {
	defer close(s.done)
	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				g.log.Warn("subscription ended", zap.String("topic", s.topic), zap.Error(err))
				s.in.Fail(api.NewGatewayError(api.StatusErrReceive, "receive", err))
			}
			return
		}
		if !s.in.Push(append([]byte(nil), msg.Data...)) {
			g.log.Debug("inbound message dropped", zap.String("topic", s.topic))
		}
	}
}

// Send implements api.Gateway: publishes data on the endpoint's own topic.
func (g *Gateway) Send(h api.Handle, data []byte) error {
	return g.publish(h, "", data, "send")
}

// Publish implements api.Gateway: publishes data on topic, or on the
// endpoint's own topic when topic is empty.
func (g *Gateway) Publish(h api.Handle, topic string, data []byte) error {
	return g.publish(h, topic, data, "publish")
}

func (g *Gateway) publish(h api.Handle, topic string, data []byte, op string) error {
	s, err := g.socks.Get(h)
	if err != nil {
		return err
	}
	if s.spec.Pattern != api.Publisher {
		g.socks.Failf("%s error: %s socket cannot send", op, s.spec.Pattern)
		return api.NewGatewayError(api.StatusErrSend, op, api.ErrNotSupported)
	}
	name := s.topic
	if topic != "" {
		name = topic
	}
	t, err := g.topicFor(name)
	if err != nil {
		g.socks.Failf("%s error: %v", op, err)
		return api.NewGatewayError(api.StatusErrSend, op, err)
	}
	if err := t.Publish(g.ctx, append([]byte(nil), data...)); err != nil {
		g.socks.Failf("%s error: %v", op, err)
		return api.NewGatewayError(api.StatusErrSend, op, err)
	}
	return nil
}

// Receive implements api.Gateway.
func (g *Gateway) Receive(h api.Handle, buf []byte) (int, error) {
	s, err := g.socks.Get(h)
	if err != nil {
		return 0, err
	}
	if s.spec.Pattern != api.Subscriber {
		g.socks.Failf("Receive error: %s socket cannot receive", s.spec.Pattern)
		return 0, api.NewGatewayError(api.StatusErrReceive, "receive", api.ErrNotSupported)
	}
	return s.in.Pop(buf)
}

// Poll implements api.Gateway.
func (g *Gateway) Poll(h api.Handle, timeout time.Duration) (bool, error) {
	s, err := g.socks.Get(h)
	if err != nil {
		return false, err
	}
	if s.spec.Pattern != api.Subscriber {
		return false, nil
	}
	return s.in.Wait(timeout)
}

// Close implements api.Gateway.
func (g *Gateway) Close(h api.Handle) error {
	s, err := g.socks.Remove(h)
	if err != nil {
		return err
	}
	return g.closeSocket(s)
}

func (g *Gateway) closeSocket(s *socket) error {
	s.cancel()
	if s.sub != nil {
		s.sub.Cancel()
	}
	<-s.done
	s.in.Close()
	if err := g.leave(s.topic); err != nil {
		return fmt.Errorf("leave topic %s: %w", s.topic, err)
	}
	return nil
}

// LastError implements api.Gateway.
func (g *Gateway) LastError() string { return g.socks.LastError() }

// Shutdown closes every socket, leaves every topic and stops the host.
func (g *Gateway) Shutdown() error {
	if g.closed.Swap(true) {
		return nil
	}
	var err error
	for _, s := range g.socks.Drain() {
		err = multierr.Append(err, g.closeSocket(s))
	}
	g.mu.Lock()
	for name, j := range g.topics {
		err = multierr.Append(err, j.topic.Close())
		delete(g.topics, name)
	}
	g.mu.Unlock()
	g.cancel()
	err = multierr.Append(err, g.host.Close())
	return err
}
