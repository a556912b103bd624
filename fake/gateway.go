// File: fake/gateway.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fake implementations for testing and development.
// Gateway is a scriptable api.Gateway: tests queue inbound payloads, inject
// poll/receive failures and poll/receive races, and inspect what was sent
// and how many times each handle was closed.

package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-mq/api"
)

// Published records one Publish call.
type Published struct {
	Topic string
	Data  []byte
}

type socket struct {
	spec      api.EndpointSpec
	open      bool
	inbound   [][]byte
	sent      [][]byte
	published []Published
	pollErr   error
	recvErr   error
	races     int
}

// Gateway is a fake implementation of api.Gateway for testing.
type Gateway struct {
	mu      sync.Mutex
	next    api.Handle
	sockets map[api.Handle]*socket
	closes  map[api.Handle]int
	creates []api.EndpointSpec
	lastErr string

	createErr map[api.Pattern]error
	closeErr  error
	sendErr   error

	receives int
	polls    int
}

var _ api.Gateway = (*Gateway)(nil)

// NewGateway creates a fake gateway with no sockets.
func NewGateway() *Gateway {
	return &Gateway{
		next:      1,
		sockets:   make(map[api.Handle]*socket),
		closes:    make(map[api.Handle]int),
		createErr: make(map[api.Pattern]error),
	}
}

// FailCreate makes Create fail for pattern p until cleared with a nil err.
func (g *Gateway) FailCreate(p api.Pattern, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.createErr, p)
		return
	}
	g.createErr[p] = err
}

// FailClose makes every Close return err (the handle is still released).
func (g *Gateway) FailClose(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeErr = err
}

// FailSend makes every Send and Publish return err.
func (g *Gateway) FailSend(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendErr = err
}

// Enqueue appends inbound payloads to handle h.
func (g *Gateway) Enqueue(h api.Handle, payloads ...[]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sockets[h]; ok {
		for _, p := range payloads {
			s.inbound = append(s.inbound, append([]byte(nil), p...))
		}
	}
}

// FailPoll makes Poll on h return err until cleared with nil.
func (g *Gateway) FailPoll(h api.Handle, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sockets[h]; ok {
		s.pollErr = err
	}
}

// FailReceive makes Receive on h return err until cleared with nil.
func (g *Gateway) FailReceive(h api.Handle, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sockets[h]; ok {
		s.recvErr = err
	}
}

// InjectRace makes the next Poll on h report ready while the following
// Receive finds nothing, as if another consumer took the message in between.
func (g *Gateway) InjectRace(h api.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sockets[h]; ok {
		s.races++
	}
}

// Sent returns copies of the payloads sent on h.
func (g *Gateway) Sent(h api.Handle) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sockets[h]
	if !ok {
		return nil
	}
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// PublishedOn returns the Publish calls recorded on h.
func (g *Gateway) PublishedOn(h api.Handle) []Published {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sockets[h]
	if !ok {
		return nil
	}
	out := make([]Published, len(s.published))
	copy(out, s.published)
	return out
}

// Closes returns how many times Close was called for h.
func (g *Gateway) Closes(h api.Handle) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closes[h]
}

// IsOpen reports whether h is a live handle.
func (g *Gateway) IsOpen(h api.Handle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sockets[h]
	return ok && s.open
}

// Pending returns the number of queued inbound payloads on h.
func (g *Gateway) Pending(h api.Handle) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sockets[h]; ok {
		return len(s.inbound)
	}
	return 0
}

// Creates returns every spec passed to Create, successful or not.
func (g *Gateway) Creates() []api.EndpointSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]api.EndpointSpec(nil), g.creates...)
}

// Receives returns the number of Receive calls.
func (g *Gateway) Receives() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.receives
}

// Polls returns the number of Poll calls.
func (g *Gateway) Polls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}

// Create implements api.Gateway.
func (g *Gateway) Create(spec api.EndpointSpec) (api.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, spec)
	if err := g.createErr[spec.Pattern]; err != nil {
		g.lastErr = fmt.Sprintf("Failed to create %s socket: %v", spec.Pattern, err)
		return api.InvalidHandle, api.NewGatewayError(api.StatusErrSocket, "create", err)
	}
	h := g.next
	g.next++
	g.sockets[h] = &socket{spec: spec, open: true}
	return h, nil
}

// Send implements api.Gateway.
func (g *Gateway) Send(h api.Handle, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.live(h)
	if err != nil {
		return err
	}
	if g.sendErr != nil {
		g.lastErr = "Send error: " + g.sendErr.Error()
		return api.NewGatewayError(api.StatusErrSend, "send", g.sendErr)
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

// Publish implements api.Gateway.
func (g *Gateway) Publish(h api.Handle, topic string, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.live(h)
	if err != nil {
		return err
	}
	if g.sendErr != nil {
		g.lastErr = "Publish error: " + g.sendErr.Error()
		return api.NewGatewayError(api.StatusErrSend, "publish", g.sendErr)
	}
	if s.spec.Pattern != api.Publisher {
		g.lastErr = "Publish on non-publisher socket"
		return api.NewGatewayError(api.StatusErrSend, "publish", api.ErrNotSupported)
	}
	s.published = append(s.published, Published{Topic: topic, Data: append([]byte(nil), data...)})
	return nil
}

// Receive implements api.Gateway.
func (g *Gateway) Receive(h api.Handle, buf []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receives++
	s, err := g.live(h)
	if err != nil {
		return 0, err
	}
	if s.races > 0 {
		s.races--
		return 0, api.ErrNoMessage
	}
	if s.recvErr != nil {
		g.lastErr = "Receive error: " + s.recvErr.Error()
		return 0, api.NewGatewayError(api.StatusErrReceive, "receive", s.recvErr)
	}
	if len(s.inbound) == 0 {
		return 0, api.ErrNoMessage
	}
	msg := s.inbound[0]
	s.inbound = s.inbound[1:]
	return copy(buf, msg), nil
}

// Poll implements api.Gateway. The fake never blocks regardless of timeout.
func (g *Gateway) Poll(h api.Handle, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	s, err := g.live(h)
	if err != nil {
		return false, err
	}
	if s.pollErr != nil {
		g.lastErr = "Poll error: " + s.pollErr.Error()
		return false, api.NewGatewayError(api.StatusErrReceive, "poll", s.pollErr)
	}
	return s.races > 0 || s.recvErr != nil || len(s.inbound) > 0, nil
}

// Close implements api.Gateway.
func (g *Gateway) Close(h api.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes[h]++
	s, ok := g.sockets[h]
	if !ok || !s.open {
		return api.ErrInvalidHandle
	}
	s.open = false
	if g.closeErr != nil {
		return g.closeErr
	}
	return nil
}

// LastError implements api.Gateway.
func (g *Gateway) LastError() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

func (g *Gateway) live(h api.Handle) (*socket, error) {
	s, ok := g.sockets[h]
	if !ok || !s.open {
		g.lastErr = "Invalid socket ID"
		return nil, api.ErrInvalidHandle
	}
	return s, nil
}
