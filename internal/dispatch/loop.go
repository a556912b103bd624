// File: internal/dispatch/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop is the polling core: every Tick gives each registered endpoint one
// zero-timeout readiness check and drains at most one message from it.
// The loop holds no backlog between ticks; a second message waiting on the
// same endpoint is drained on a later tick.

package dispatch

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/pool"
)

// Source yields the endpoints to visit, in a stable order.
type Source interface {
	Snapshot() []api.Endpoint
}

// Sink receives drained messages and per-endpoint failures.
type Sink interface {
	Deliver(name string, data []byte)
	NotifyError(name string, err error)
}

// Loop borrows the binary scratch buffer only for the duration of one
// gateway receive and its copy-out, under lock when one is given. Delivery
// runs without it, so listeners may call back into receive operations that
// share the buffer.
type Loop struct {
	src     Source
	gw      api.Gateway
	scratch api.ScratchPool
	lock    sync.Locker
	sink    Sink
	log     *zap.Logger
	metrics *control.Metrics
}

var _ api.Poller = (*Loop)(nil)

// NewLoop wires a loop. lock guards the scratch buffers against other
// users; lock, log and metrics may be nil.
func NewLoop(src Source, gw api.Gateway, scratch api.ScratchPool, lock sync.Locker, sink Sink, log *zap.Logger, metrics *control.Metrics) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		src:     src,
		gw:      gw,
		scratch: scratch,
		lock:    lock,
		sink:    sink,
		log:     log,
		metrics: metrics,
	}
}

// Tick runs one pass over the current endpoint snapshot and returns the
// number of messages delivered.
func (l *Loop) Tick() int {
	l.metrics.Tick()
	delivered := 0
	for _, ep := range l.src.Snapshot() {
		if l.drainOne(ep) {
			delivered++
		}
	}
	return delivered
}

func (l *Loop) drainOne(ep api.Endpoint) bool {
	ready, err := l.gw.Poll(ep.Handle, 0)
	switch {
	case errors.Is(err, api.ErrInvalidHandle):
		l.log.Debug("socket closed during poll", zap.String("name", ep.Name))
		return false
	case err != nil:
		l.fail(ep.Name, err)
		return false
	case !ready:
		return false
	}

	data, err := l.receive(ep.Handle)
	switch {
	case errors.Is(err, api.ErrNoMessage):
		// Taken between poll and receive.
		return false
	case errors.Is(err, api.ErrInvalidHandle):
		l.log.Debug("socket closed during receive", zap.String("name", ep.Name))
		return false
	case err != nil:
		l.fail(ep.Name, err)
		return false
	}

	l.metrics.Delivered(ep.Name)
	l.sink.Deliver(ep.Name, data)
	return true
}

// receive copies one message out of the scratch buffer.
func (l *Loop) receive(h api.Handle) ([]byte, error) {
	if l.lock != nil {
		l.lock.Lock()
		defer l.lock.Unlock()
	}
	buf := l.scratch.Buffer(api.RoleBinary)
	n, err := l.gw.Receive(h, buf)
	if err != nil {
		return nil, err
	}
	return pool.CopyOut(buf, n), nil
}

func (l *Loop) fail(name string, err error) {
	l.metrics.ReceiveFailed(name)
	detail := err.Error()
	if detail == "" {
		detail = l.gw.LastError()
	}
	l.sink.NotifyError(name, api.ReceiveFailed(name, detail, err))
}
