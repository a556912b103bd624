// File: gateway/mem/gateway.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package mem is an in-process api.Gateway. It models the routing rules of
// the six messaging patterns without any wire protocol: sockets meet at a
// normalized address, publishers fan out to subscribers by topic prefix,
// pushers round-robin over pullers, and requesters exchange messages with
// repliers. One Gateway is one routing domain.

package mem

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/gateway/internal/handles"
	"github.com/momentics/hioload-mq/gateway/internal/inbox"
)

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

// WithMaxPending bounds queued messages per receiving socket.
func WithMaxPending(n int) Option {
	return func(g *Gateway) { g.maxPending = n }
}

type socket struct {
	h    api.Handle
	spec api.EndpointSpec
	key  string
	in   *inbox.Inbox

	// Replier only: the requester the next reply goes to.
	peer *socket
}

type route struct {
	binder  *socket
	members []*socket
	next    int
	backlog [][]byte
}

// Gateway routes messages between its own sockets.
type Gateway struct {
	log        *zap.Logger
	maxPending int
	closed     atomic.Bool

	socks *handles.Table[*socket]

	mu     sync.Mutex
	routes map[string]*route
}

var _ api.Gateway = (*Gateway)(nil)

// New creates an empty routing domain.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		log:        zap.NewNop(),
		maxPending: inbox.DefaultMaxPending,
		socks:      handles.New[*socket](),
		routes:     make(map[string]*route),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.Named("gateway.mem")
	return g
}

// NormalizeAddress maps equivalent endpoint addresses to one routing key.
// TCP hosts are ignored so that a wildcard bind and a localhost connect on
// the same port meet.
func NormalizeAddress(addr string) (string, error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok || scheme == "" || rest == "" {
		return "", fmt.Errorf("malformed address %q: %w", addr, api.ErrInvalidArgument)
	}
	scheme = strings.ToLower(scheme)
	if scheme != "tcp" {
		return scheme + "://" + rest, nil
	}
	i := strings.LastIndexByte(rest, ':')
	if i < 0 || i == len(rest)-1 {
		return "", fmt.Errorf("tcp address %q has no port: %w", addr, api.ErrInvalidArgument)
	}
	return "tcp://:" + rest[i+1:], nil
}

// Create implements api.Gateway.
func (g *Gateway) Create(spec api.EndpointSpec) (api.Handle, error) {
	if g.closed.Load() {
		g.socks.Failf("Context not initialized")
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrInit, "create", api.ErrGatewayClosed)
	}
	if !spec.Pattern.Valid() {
		g.socks.Failf("Failed to create socket: unknown pattern %d", int(spec.Pattern))
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrSocket, "create", api.ErrInvalidArgument)
	}
	mode := spec.ResolvedMode()
	status := api.StatusErrConnect
	if mode == api.ModeBind {
		status = api.StatusErrBind
	}
	key, err := NormalizeAddress(spec.Address)
	if err != nil {
		g.socks.Failf("Failed to %s to %s: %v", mode, spec.Address, err)
		return api.InvalidHandle, api.NewGatewayError(status, "create", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.routes[key]
	if r == nil {
		r = &route{}
		g.routes[key] = r
	}
	if mode == api.ModeBind && r.binder != nil {
		g.socks.Failf("Failed to bind to %s: Address already in use", spec.Address)
		return api.InvalidHandle, api.NewGatewayError(status, "create", fmt.Errorf("bind %s: address already in use", spec.Address))
	}

	s := &socket{spec: spec, key: key, in: inbox.New(g.maxPending)}
	s.h = g.socks.Add(s)
	if mode == api.ModeBind {
		r.binder = s
	}
	r.members = append(r.members, s)
	if spec.Pattern == api.Puller && len(r.backlog) > 0 {
		for _, msg := range r.backlog {
			s.in.Push(msg)
		}
		r.backlog = nil
	}
	g.log.Debug("socket created",
		zap.Int32("handle", int32(s.h)),
		zap.Stringer("pattern", spec.Pattern),
		zap.Stringer("mode", mode),
		zap.String("address", spec.Address))
	return s.h, nil
}

// Send implements api.Gateway.
func (g *Gateway) Send(h api.Handle, data []byte) error {
	s, err := g.socks.Get(h)
	if err != nil {
		return err
	}
	msg := append([]byte(nil), data...)

	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.routes[s.key]
	if r == nil || !g.alive(s) {
		return api.ErrInvalidHandle
	}
	switch s.spec.Pattern {
	case api.Publisher:
		// A single frame is matched against subscriptions as its own topic.
		g.fanOut(r, msg, msg)
		return nil
	case api.Pusher:
		if p := r.pick(api.Puller); p != nil {
			g.push(p, msg)
		} else if len(r.backlog) < g.maxPending {
			r.backlog = append(r.backlog, msg)
		}
		return nil
	case api.Requester:
		rep := r.pick(api.Replier)
		if rep == nil {
			g.socks.Failf("Send error: no replier at %s", s.spec.Address)
			return api.NewGatewayError(api.StatusErrSend, "send", fmt.Errorf("no replier at %s", s.spec.Address))
		}
		rep.peer = s
		g.push(rep, msg)
		return nil
	case api.Replier:
		if s.peer == nil || !g.alive(s.peer) {
			g.socks.Failf("Send error: no request to reply to")
			return api.NewGatewayError(api.StatusErrSend, "send", fmt.Errorf("no request to reply to"))
		}
		g.push(s.peer, msg)
		s.peer = nil
		return nil
	default:
		g.socks.Failf("Send error: %s socket cannot send", s.spec.Pattern)
		return api.NewGatewayError(api.StatusErrSend, "send", api.ErrNotSupported)
	}
}

// Publish implements api.Gateway.
func (g *Gateway) Publish(h api.Handle, topic string, data []byte) error {
	s, err := g.socks.Get(h)
	if err != nil {
		return err
	}
	if s.spec.Pattern != api.Publisher {
		g.socks.Failf("Publish error: %s socket cannot publish", s.spec.Pattern)
		return api.NewGatewayError(api.StatusErrSend, "publish", api.ErrNotSupported)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.alive(s) {
		return api.ErrInvalidHandle
	}
	g.fanOut(g.routes[s.key], []byte(topic), append([]byte(nil), data...))
	return nil
}

// Receive implements api.Gateway.
func (g *Gateway) Receive(h api.Handle, buf []byte) (int, error) {
	s, err := g.socks.Get(h)
	if err != nil {
		return 0, err
	}
	if !s.spec.Pattern.CanReceive() {
		g.socks.Failf("Receive error: %s socket cannot receive", s.spec.Pattern)
		return 0, api.NewGatewayError(api.StatusErrReceive, "receive", api.ErrNotSupported)
	}
	return s.in.Pop(buf)
}

// Poll implements api.Gateway. Send-only sockets are never ready.
func (g *Gateway) Poll(h api.Handle, timeout time.Duration) (bool, error) {
	s, err := g.socks.Get(h)
	if err != nil {
		return false, err
	}
	if !s.spec.Pattern.CanReceive() {
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
	g.mu.Lock()
	g.detach(s)
	g.mu.Unlock()
	s.in.Close()
	return nil
}

// LastError implements api.Gateway.
func (g *Gateway) LastError() string { return g.socks.LastError() }

// Shutdown closes every socket. Later Create calls fail.
func (g *Gateway) Shutdown() error {
	if g.closed.Swap(true) {
		return nil
	}
	socks := g.socks.Drain()
	g.mu.Lock()
	for _, s := range socks {
		g.detach(s)
	}
	g.mu.Unlock()
	for _, s := range socks {
		s.in.Close()
	}
	g.log.Debug("gateway shut down", zap.Int("sockets", len(socks)))
	return nil
}

// Dropped returns how many messages h discarded because its inbox was full.
func (g *Gateway) Dropped(h api.Handle) uint64 {
	s, err := g.socks.Get(h)
	if err != nil {
		return 0
	}
	return s.in.Dropped()
}

// fanOut delivers payload to every subscriber whose topic prefixes topic.
// Caller holds mu.
func (g *Gateway) fanOut(r *route, topic, payload []byte) {
	for _, m := range r.members {
		if m.spec.Pattern != api.Subscriber {
			continue
		}
		if strings.HasPrefix(string(topic), m.spec.Topic) {
			g.push(m, payload)
		}
	}
}

// push hands msg to s. Caller holds mu.
func (g *Gateway) push(s *socket, msg []byte) {
	if !s.in.Push(msg) {
		g.log.Debug("message dropped", zap.Int32("handle", int32(s.h)), zap.Int("bytes", len(msg)))
	}
}

// alive reports whether s is still attached. Caller holds mu.
func (g *Gateway) alive(s *socket) bool {
	r := g.routes[s.key]
	if r == nil {
		return false
	}
	for _, m := range r.members {
		if m == s {
			return true
		}
	}
	return false
}

// detach removes s from its route. Caller holds mu.
func (g *Gateway) detach(s *socket) {
	r := g.routes[s.key]
	if r == nil {
		return
	}
	if r.binder == s {
		r.binder = nil
	}
	kept := r.members[:0]
	for _, m := range r.members {
		if m != s {
			kept = append(kept, m)
		}
		if m.peer == s {
			m.peer = nil
		}
	}
	for i := len(kept); i < len(r.members); i++ {
		r.members[i] = nil
	}
	r.members = kept
	if len(r.members) == 0 {
		delete(g.routes, s.key)
	}
}

// pick returns the next member of pattern p in round-robin order, or nil.
func (r *route) pick(p api.Pattern) *socket {
	n := len(r.members)
	for i := 0; i < n; i++ {
		m := r.members[(r.next+i)%n]
		if m.spec.Pattern == p {
			r.next = (r.next + i + 1) % n
			return m
		}
	}
	return nil
}
