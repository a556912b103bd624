// File: api/pattern.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Messaging patterns and endpoint descriptors shared by the registry,
// the gateways and the facade.

package api

import (
	"fmt"
	"strings"
)

// Pattern is the messaging role an endpoint is created with.
// It is fixed at creation and never changes for a live handle.
type Pattern int

const (
	Publisher Pattern = iota
	Subscriber
	Requester
	Replier
	Pusher
	Puller
)

func (p Pattern) String() string {
	switch p {
	case Publisher:
		return "pub"
	case Subscriber:
		return "sub"
	case Requester:
		return "req"
	case Replier:
		return "rep"
	case Pusher:
		return "push"
	case Puller:
		return "pull"
	default:
		return fmt.Sprintf("pattern(%d)", int(p))
	}
}

// Valid reports whether p is one of the six known patterns.
func (p Pattern) Valid() bool {
	return p >= Publisher && p <= Puller
}

// CanSend reports whether the pattern has a sending role.
func (p Pattern) CanSend() bool {
	switch p {
	case Publisher, Requester, Replier, Pusher:
		return true
	}
	return false
}

// CanReceive reports whether the pattern has a receiving role.
func (p Pattern) CanReceive() bool {
	switch p {
	case Subscriber, Requester, Replier, Puller:
		return true
	}
	return false
}

// DefaultMode returns the bind/connect side conventionally taken by the pattern:
// publishers, repliers and pullers bind; the others connect.
func (p Pattern) DefaultMode() Mode {
	switch p {
	case Publisher, Replier, Puller:
		return ModeBind
	default:
		return ModeConnect
	}
}

// ParsePattern accepts short (pub, rep, ...) and long (publisher, reply, ...) names.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pub", "publisher", "publish":
		return Publisher, nil
	case "sub", "subscriber", "subscribe":
		return Subscriber, nil
	case "req", "request", "requester":
		return Requester, nil
	case "rep", "reply", "replier":
		return Replier, nil
	case "push", "pusher":
		return Pusher, nil
	case "pull", "puller":
		return Puller, nil
	}
	return 0, fmt.Errorf("unknown pattern %q: %w", s, ErrInvalidArgument)
}

// Mode selects whether the gateway binds or connects the endpoint address.
type Mode int

const (
	ModeDefault Mode = iota
	ModeBind
	ModeConnect
)

func (m Mode) String() string {
	switch m {
	case ModeBind:
		return "bind"
	case ModeConnect:
		return "connect"
	default:
		return "default"
	}
}

// ParseMode accepts "", "default", "bind" and "connect".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ModeDefault, nil
	case "bind", "listen":
		return ModeBind, nil
	case "connect", "dial":
		return ModeConnect, nil
	}
	return ModeDefault, fmt.Errorf("unknown mode %q: %w", s, ErrInvalidArgument)
}

// EndpointSpec is everything a Gateway needs to create an endpoint.
type EndpointSpec struct {
	Pattern Pattern
	Address string
	Topic   string // subscription prefix, Subscriber only
	Mode    Mode
}

// ResolvedMode returns Mode, substituting the pattern default for ModeDefault.
func (s EndpointSpec) ResolvedMode() Mode {
	if s.Mode == ModeDefault {
		return s.Pattern.DefaultMode()
	}
	return s.Mode
}

// Endpoint is a registry entry: a logical name bound to one live gateway handle.
type Endpoint struct {
	Name   string
	Handle Handle
	Spec   EndpointSpec
}

// Pattern is a shortcut for e.Spec.Pattern.
func (e Endpoint) Pattern() Pattern { return e.Spec.Pattern }

// EndpointOption customizes an EndpointSpec at registration time.
type EndpointOption func(*EndpointSpec)

// WithTopic sets the subscription topic filter.
func WithTopic(topic string) EndpointOption {
	return func(s *EndpointSpec) {
		s.Topic = topic
	}
}

// WithBind forces the endpoint to bind its address.
func WithBind() EndpointOption {
	return func(s *EndpointSpec) {
		s.Mode = ModeBind
	}
}

// WithConnect forces the endpoint to connect to its address.
func WithConnect() EndpointOption {
	return func(s *EndpointSpec) {
		s.Mode = ModeConnect
	}
}

// NewEndpointSpec builds a spec and applies opts in order.
func NewEndpointSpec(pattern Pattern, address string, opts ...EndpointOption) EndpointSpec {
	spec := EndpointSpec{Pattern: pattern, Address: address}
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}
