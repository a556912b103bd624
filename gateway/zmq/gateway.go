// File: gateway/zmq/gateway.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package zmq is the ZeroMQ api.Gateway built on the pure-Go zmq4 stack.
// Each handle owns one zmq4 socket. Receive-capable sockets get a reader
// goroutine that blocks in Recv and moves messages into the handle's inbox,
// so Poll and Receive never touch the socket directly.

package zmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/gateway/internal/handles"
	"github.com/momentics/hioload-mq/gateway/internal/inbox"
)

// Defaults for dialing a peer that is not listening yet.
const (
	DefaultDialRetry      = 250 * time.Millisecond
	DefaultDialMaxRetries = 10

	recvBackoff = 100 * time.Millisecond
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

// WithMaxPending bounds queued inbound messages per socket.
func WithMaxPending(n int) Option {
	return func(g *Gateway) { g.maxPending = n }
}

// WithDialRetry sets the pause between connect attempts and how many are
// made. maxRetries -1 retries until the socket is closed.
func WithDialRetry(retry time.Duration, maxRetries int) Option {
	return func(g *Gateway) {
		g.dialRetry = retry
		g.dialMaxRetries = maxRetries
	}
}

type socket struct {
	h    api.Handle
	spec api.EndpointSpec
	zs   zmq4.Socket
	in   *inbox.Inbox

	// REQ and REP must alternate send and receive; the reader waits for a
	// turn token that Send hands over.
	turn   chan struct{}
	sendMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Gateway owns every zmq4 socket it created.
type Gateway struct {
	log            *zap.Logger
	maxPending     int
	dialRetry      time.Duration
	dialMaxRetries int

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	socks *handles.Table[*socket]
}

var _ api.Gateway = (*Gateway)(nil)

// New initializes the gateway. Sockets inherit ctx; cancelling it has the
// same effect as Shutdown on in-flight reads.
func New(ctx context.Context, opts ...Option) *Gateway {
	g := &Gateway{
		log:            zap.NewNop(),
		maxPending:     inbox.DefaultMaxPending,
		dialRetry:      DefaultDialRetry,
		dialMaxRetries: DefaultDialMaxRetries,
		socks:          handles.New[*socket](),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.Named("gateway.zmq")
	g.ctx, g.cancel = context.WithCancel(ctx)
	return g
}

func (g *Gateway) newSocket(ctx context.Context, p api.Pattern) (zmq4.Socket, error) {
	opts := []zmq4.Option{
		zmq4.WithID(zmq4.SocketIdentity(uuid.NewString())),
		zmq4.WithLogger(zap.NewStdLog(g.log)),
		zmq4.WithDialerRetry(g.dialRetry),
		zmq4.WithDialerMaxRetries(g.dialMaxRetries),
	}
	switch p {
	case api.Publisher:
		return zmq4.NewPub(ctx, opts...), nil
	case api.Subscriber:
		return zmq4.NewSub(ctx, opts...), nil
	case api.Requester:
		return zmq4.NewReq(ctx, opts...), nil
	case api.Replier:
		return zmq4.NewRep(ctx, opts...), nil
	case api.Pusher:
		return zmq4.NewPush(ctx, opts...), nil
	case api.Puller:
		return zmq4.NewPull(ctx, opts...), nil
	}
	return nil, fmt.Errorf("unknown pattern %d: %w", int(p), api.ErrInvalidArgument)
}

// Create implements api.Gateway.
func (g *Gateway) Create(spec api.EndpointSpec) (api.Handle, error) {
	if g.closed.Load() {
		g.socks.Failf("Context not initialized")
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrInit, "create", api.ErrGatewayClosed)
	}

	ctx, cancel := context.WithCancel(g.ctx)
	zs, err := g.newSocket(ctx, spec.Pattern)
	if err != nil {
		cancel()
		g.socks.Failf("Failed to create socket: %v", err)
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrSocket, "create", err)
	}

	if spec.Pattern == api.Subscriber {
		if err := zs.SetOption(zmq4.OptionSubscribe, spec.Topic); err != nil {
			cancel()
			_ = zs.Close()
			g.socks.Failf("Failed to subscribe to %q: %v", spec.Topic, err)
			return api.InvalidHandle, api.NewGatewayError(api.StatusErrSocket, "subscribe", err)
		}
	}

	mode := spec.ResolvedMode()
	if mode == api.ModeBind {
		err = zs.Listen(spec.Address)
	} else {
		err = zs.Dial(spec.Address)
	}
	if err != nil {
		cancel()
		_ = zs.Close()
		status := api.StatusErrConnect
		if mode == api.ModeBind {
			status = api.StatusErrBind
		}
		g.socks.Failf("Failed to %s to %s: %v", mode, spec.Address, err)
		return api.InvalidHandle, api.NewGatewayError(status, "create", err)
	}

	s := &socket{
		spec:   spec,
		zs:     zs,
		in:     inbox.New(g.maxPending),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if spec.Pattern == api.Requester || spec.Pattern == api.Replier {
		s.turn = make(chan struct{}, 1)
	}
	s.h = g.socks.Add(s)

	if spec.Pattern.CanReceive() {
		go g.read(ctx, s)
	} else {
		close(s.done)
	}
	g.log.Debug("socket created",
		zap.Int32("handle", int32(s.h)),
		zap.Stringer("pattern", spec.Pattern),
		zap.Stringer("mode", mode),
		zap.String("address", spec.Address))
	return s.h, nil
}

// read pumps messages from the socket into its inbox until ctx is done.
func (g *Gateway) read(ctx context.Context, s *socket) {
	defer close(s.done)
	log := g.log.With(zap.Int32("handle", int32(s.h)))
	for {
		if s.spec.Pattern == api.Requester && !s.wait(ctx) {
			return
		}
		msg, err := s.zs.Recv()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("receive failed", zap.Error(err))
			s.in.Fail(api.NewGatewayError(api.StatusErrReceive, "receive", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(recvBackoff):
			}
			// A requester's reply is lost with the error; only the next
			// Send re-arms its reader.
			continue
		}
		var payload []byte
		if n := len(msg.Frames); n > 0 {
			payload = msg.Frames[n-1]
		}
		if !s.in.Push(payload) {
			log.Debug("inbound message dropped", zap.Int("bytes", len(payload)))
		}
		if s.spec.Pattern == api.Replier && !s.wait(ctx) {
			return
		}
	}
}

func (s *socket) wait(ctx context.Context) bool {
	select {
	case <-s.turn:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *socket) release() {
	select {
	case s.turn <- struct{}{}:
	default:
	}
}

// Send implements api.Gateway.
func (g *Gateway) Send(h api.Handle, data []byte) error {
	s, err := g.socks.Get(h)
	if err != nil {
		return err
	}
	if !s.spec.Pattern.CanSend() {
		g.socks.Failf("Send error: %s socket cannot send", s.spec.Pattern)
		return api.NewGatewayError(api.StatusErrSend, "send", api.ErrNotSupported)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.zs.Send(zmq4.NewMsg(data)); err != nil {
		g.socks.Failf("Send error: %v", err)
		return api.NewGatewayError(api.StatusErrSend, "send", err)
	}
	if s.turn != nil {
		s.release()
	}
	return nil
}

// Publish implements api.Gateway: a two-frame message, topic then payload.
func (g *Gateway) Publish(h api.Handle, topic string, data []byte) error {
	s, err := g.socks.Get(h)
	if err != nil {
		return err
	}
	if s.spec.Pattern != api.Publisher {
		g.socks.Failf("Publish error: %s socket cannot publish", s.spec.Pattern)
		return api.NewGatewayError(api.StatusErrSend, "publish", api.ErrNotSupported)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.zs.SendMulti(zmq4.NewMsgFrom([]byte(topic), data)); err != nil {
		g.socks.Failf("Publish error: %v", err)
		return api.NewGatewayError(api.StatusErrSend, "publish", err)
	}
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
	n, err := s.in.Pop(buf)
	var ge *api.GatewayError
	if errors.As(err, &ge) {
		g.socks.Failf("Receive error: %v", ge.Err)
	}
	return n, err
}

// Poll implements api.Gateway.
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

// Close implements api.Gateway. Pending messages are discarded.
func (g *Gateway) Close(h api.Handle) error {
	s, err := g.socks.Remove(h)
	if err != nil {
		return err
	}
	return g.closeSocket(s)
}

func (g *Gateway) closeSocket(s *socket) error {
	s.cancel()
	err := s.zs.Close()
	s.in.Close()
	<-s.done
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("close handle %d: %w", s.h, err)
}

// LastError implements api.Gateway.
func (g *Gateway) LastError() string { return g.socks.LastError() }

// Shutdown closes every socket and refuses further Create calls.
func (g *Gateway) Shutdown() error {
	if g.closed.Swap(true) {
		return nil
	}
	var err error
	for _, s := range g.socks.Drain() {
		err = multierr.Append(err, g.closeSocket(s))
	}
	g.cancel()
	g.log.Debug("gateway shut down")
	return err
}
