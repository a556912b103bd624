// File: internal/router/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Router fans decoded messages out to binary, text and error listeners.
// Listener lists are copy-on-write: registration takes a mutex and swaps a new
// slice into an atomic.Value, delivery only loads the current slice.

package router

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

type entry[T any] struct {
	id uint64
	fn T
}

type listeners[T any] struct {
	mu   sync.Mutex
	list atomic.Value // []entry[T]
}

func newListeners[T any]() *listeners[T] {
	l := &listeners[T]{}
	l.list.Store([]entry[T]{})
	return l
}

func (l *listeners[T]) load() []entry[T] {
	return l.list.Load().([]entry[T])
}

func (l *listeners[T]) add(id uint64, fn T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.load()
	next := make([]entry[T], len(old)+1)
	copy(next, old)
	next[len(old)] = entry[T]{id: id, fn: fn}
	l.list.Store(next)
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.load()
	next := make([]entry[T], 0, len(old))
	for _, e := range old {
		if e.id != id {
			next = append(next, e)
		}
	}
	l.list.Store(next)
}

// Router delivers messages to registered listeners in registration order.
type Router struct {
	log     *zap.Logger
	metrics *control.Metrics

	ids    atomic.Uint64
	binary *listeners[api.BinaryHandler]
	text   *listeners[api.TextHandler]
	errs   *listeners[api.ErrorHandler]
}

// New creates a router. log and metrics may be nil.
func New(log *zap.Logger, metrics *control.Metrics) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		log:     log,
		metrics: metrics,
		binary:  newListeners[api.BinaryHandler](),
		text:    newListeners[api.TextHandler](),
		errs:    newListeners[api.ErrorHandler](),
	}
}

// OnBinary registers fn for every delivered message. The returned func removes it.
func (r *Router) OnBinary(fn api.BinaryHandler) (cancel func()) {
	id := r.ids.Add(1)
	r.binary.add(id, fn)
	return func() { r.binary.remove(id) }
}

// OnText registers fn for every delivered message that is valid UTF-8.
func (r *Router) OnText(fn api.TextHandler) (cancel func()) {
	id := r.ids.Add(1)
	r.text.add(id, fn)
	return func() { r.text.remove(id) }
}

// OnError registers fn for per-endpoint delivery failures.
func (r *Router) OnError(fn api.ErrorHandler) (cancel func()) {
	id := r.ids.Add(1)
	r.errs.add(id, fn)
	return func() { r.errs.remove(id) }
}

// Deliver notifies binary listeners, then text listeners.
func (r *Router) Deliver(name string, data []byte) {
	r.NotifyBinary(name, data)
	r.NotifyText(name, data)
}

// NotifyBinary invokes every binary listener. A failing listener never stops the rest.
func (r *Router) NotifyBinary(name string, data []byte) {
	for _, e := range r.binary.load() {
		fn := e.fn
		r.invoke("binary", name, func() error { return fn(name, data) })
	}
}

// NotifyText decodes data strictly as UTF-8 and invokes every text listener.
// Invalid payloads are skipped without notification.
func (r *Router) NotifyText(name string, data []byte) {
	ls := r.text.load()
	if len(ls) == 0 {
		return
	}
	if !utf8.Valid(data) {
		r.metrics.DecodeSkipped()
		r.log.Debug("payload is not UTF-8, text listeners skipped",
			zap.String("name", name), zap.Int("bytes", len(data)))
		return
	}
	text := string(data)
	for _, e := range ls {
		fn := e.fn
		r.invoke("text", name, func() error { return fn(name, text) })
	}
}

// NotifyError reports a delivery failure for name to every error listener.
func (r *Router) NotifyError(name string, err error) {
	r.log.Warn("delivery failed", zap.String("name", name), zap.Error(err))
	for _, e := range r.errs.load() {
		fn := e.fn
		r.invoke("error", name, func() error { fn(name, err); return nil })
	}
}

func (r *Router) invoke(channel, name string, call func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.ListenerFailed(channel)
			r.log.Error("listener panicked",
				zap.String("channel", channel),
				zap.String("name", name),
				zap.String("panic", fmt.Sprint(p)),
				zap.Stack("stack"))
		}
	}()
	if err := call(); err != nil {
		r.metrics.ListenerFailed(channel)
		r.log.Warn("listener failed",
			zap.String("channel", channel),
			zap.String("name", name),
			zap.Error(err))
	}
}
