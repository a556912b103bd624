// File: internal/registry/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket registry: maps logical names to live gateway handles and owns their
// create/replace/close lifecycle. Gateway calls run outside the map lock so a
// slow create never stalls Snapshot; operations on one name are serialized.

package registry

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
)

// Registry is safe for concurrent use.
type Registry struct {
	gw  api.Gateway
	log *zap.Logger

	mu        sync.RWMutex
	endpoints map[string]api.Endpoint
	// busy marks names with a create or close in flight; the channel is
	// closed when the operation ends.
	busy map[string]chan struct{}
}

// New returns an empty registry creating endpoints through gw.
func New(gw api.Gateway, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		gw:        gw,
		log:       log,
		endpoints: make(map[string]api.Endpoint),
		busy:      make(map[string]chan struct{}),
	}
}

// claim waits until no other operation holds name, then holds it. The
// current entry for name, if any, is removed and returned.
func (r *Registry) claim(name string) (prev api.Endpoint, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		ch, held := r.busy[name]
		if !held {
			break
		}
		r.mu.Unlock()
		<-ch
		r.mu.Lock()
	}
	r.busy[name] = make(chan struct{})
	prev, ok = r.endpoints[name]
	if ok {
		delete(r.endpoints, name)
	}
	return prev, ok
}

// release stores ep under name when non-nil and lets waiters proceed.
func (r *Registry) release(name string, ep *api.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep != nil {
		r.endpoints[name] = *ep
	}
	close(r.busy[name])
	delete(r.busy, name)
}

// Register creates an endpoint for spec under name. An existing entry with the
// same name is closed and removed first; a failure to close it is logged and
// creation proceeds. On creation failure name is left unregistered.
func (r *Registry) Register(name string, spec api.EndpointSpec) error {
	if name == "" {
		return api.InvalidArgument(name, "empty socket name")
	}
	if !spec.Pattern.Valid() {
		return api.InvalidArgument(name, "unknown pattern "+spec.Pattern.String())
	}

	var created *api.Endpoint
	prev, ok := r.claim(name)
	defer func() { r.release(name, created) }()

	if ok {
		if err := r.gw.Close(prev.Handle); err != nil {
			r.log.Warn("close previous socket failed",
				zap.String("name", name),
				zap.Stringer("pattern", prev.Spec.Pattern),
				zap.Error(err))
		}
	}

	h, err := r.gw.Create(spec)
	if err != nil {
		detail := err.Error()
		if detail == "" {
			detail = r.gw.LastError()
		}
		r.log.Error("create socket failed",
			zap.String("name", name),
			zap.Stringer("pattern", spec.Pattern),
			zap.String("address", spec.Address),
			zap.Error(err))
		return api.CreationFailed(name, spec.Pattern, detail, err)
	}

	created = &api.Endpoint{Name: name, Handle: h, Spec: spec}
	r.log.Info("socket created",
		zap.String("name", name),
		zap.Stringer("pattern", spec.Pattern),
		zap.Stringer("mode", spec.ResolvedMode()),
		zap.String("address", spec.Address),
		zap.String("topic", spec.Topic))
	return nil
}

// Unregister closes and removes name. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	ep, ok := r.claim(name)
	defer r.release(name, nil)
	if !ok {
		return
	}
	if err := r.gw.Close(ep.Handle); err != nil && !errors.Is(err, api.ErrInvalidHandle) {
		r.log.Warn("close socket failed", zap.String("name", name), zap.Error(err))
		return
	}
	r.log.Info("socket closed", zap.String("name", name))
}

// Lookup returns the endpoint registered under name.
func (r *Registry) Lookup(name string) (api.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Snapshot returns every endpoint sorted by name.
func (r *Registry) Snapshot() []api.Endpoint {
	r.mu.RLock()
	out := make([]api.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Teardown closes every endpoint and clears the registry. A failure closing one
// handle does not stop the others; the combined error is returned for logging.
// A registration still in flight completes afterwards and stays registered.
func (r *Registry) Teardown() error {
	r.mu.Lock()
	eps := r.endpoints
	r.endpoints = make(map[string]api.Endpoint)
	r.mu.Unlock()

	var errs error
	for name, ep := range eps {
		if err := r.gw.Close(ep.Handle); err != nil && !errors.Is(err, api.ErrInvalidHandle) {
			r.log.Warn("close socket failed", zap.String("name", name), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	if len(eps) > 0 {
		r.log.Info("registry torn down", zap.Int("closed", len(eps)))
	}
	return errs
}
