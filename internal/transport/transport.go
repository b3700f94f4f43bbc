// Package transport implements the notification-delivery side of the
// dispatcher (spec §4.6, §9 "polymorphic transports"): one small
// interface with one concrete struct per channel kind, selected by a
// string tag at registration — never a type-switch chain or a shared
// base struct.
package transport

import (
	"context"
	"fmt"

	"github.com/opus-domini/pulsecheck/internal/model"
)

// Notification carries everything a Transport needs to render and send
// one delivery attempt. It is deliberately flat rather than embedding
// model.Check/model.Channel, so transports don't reach back into the
// domain model for fields they don't need.
type Notification struct {
	CheckName   string
	CheckCode   string
	CheckStatus model.CheckStatus
	Reason      model.FlipReason
	SiteRoot    string
	ChannelKind string
	ChannelAddr string
}

// Error classifies a delivery failure per spec §7's transport-transient
// vs transport-permanent taxonomy. Permanent errors (bad address,
// authentication rejected, 4xx other than 429) should auto-disable the
// channel; transient errors (timeouts, 5xx, 429) should not.
type Error struct {
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "transport error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func transientf(format string, args ...any) error {
	return &Error{Permanent: false, Err: fmt.Errorf(format, args...)}
}

func permanentf(format string, args ...any) error {
	return &Error{Permanent: true, Err: fmt.Errorf(format, args...)}
}

// Transport is the closed interface every channel kind implements.
type Transport interface {
	// Kind returns the channel kind string this Transport handles
	// ("webhook", "slack", "pagerduty", "opsgenie", "email").
	Kind() string

	// IsNoop reports whether n should not be sent at all. A no-op is not
	// an error and is not recorded as a failed notification. The five
	// transports in this package always return false; none of them has
	// a per-status filter such as "notify on down only".
	IsNoop(n Notification) bool

	// Send delivers the notification, returning an *Error on failure.
	Send(ctx context.Context, n Notification) error
}

// Registry maps channel kind to the Transport that handles it.
type Registry struct {
	byKind map[string]Transport
}

// NewRegistry builds a Registry from the given transports, keyed by
// each transport's own Kind().
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{byKind: make(map[string]Transport, len(transports))}
	for _, t := range transports {
		r.byKind[t.Kind()] = t
	}
	return r
}

// Lookup returns the Transport registered for kind, or false if none.
func (r *Registry) Lookup(kind string) (Transport, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.byKind[kind]
	return t, ok
}
