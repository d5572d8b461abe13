package llm

import (
	"context"
	"fmt"
)

// Client routes completion requests across a set of named Backends: a
// nominated primary, then an ordered list of fallbacks tried in turn on the
// primary's failure. The first backend to succeed wins; ShouldFailover
// decides whether a given failure is worth trying the next one for, so an
// Auth or Config error stops the chain immediately rather than cycling
// through every fallback with the same bad credentials.
type Client struct {
	backends  map[string]Backend
	primary   string
	fallbacks []string
}

// NewClient builds a Client. primary must name a backend present in
// backends; fallbacks are tried in order after primary fails.
func NewClient(backends map[string]Backend, primary string, fallbacks []string) (*Client, error) {
	if _, ok := backends[primary]; !ok {
		return nil, fmt.Errorf("llm: primary backend %q is not registered", primary)
	}
	for _, name := range fallbacks {
		if _, ok := backends[name]; !ok {
			return nil, fmt.Errorf("llm: fallback backend %q is not registered", name)
		}
	}
	return &Client{backends: backends, primary: primary, fallbacks: fallbacks}, nil
}

// order returns the primary followed by its fallbacks.
func (c *Client) order() []string {
	return append([]string{c.primary}, c.fallbacks...)
}

// Complete tries the primary backend, then each fallback in order, stopping
// at the first success or the first failure ShouldFailover refuses to
// advance past.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for _, name := range c.order() {
		backend := c.backends[name]
		resp, err := backend.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !ShouldFailover(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// CompleteStream tries the primary backend, then each fallback in order.
// Once a backend's stream has started emitting events there is no
// mid-stream failover: a stream that fails after message_start returns its
// error event rather than silently swapping providers underneath a caller
// that may already have rendered partial output.
func (c *Client) CompleteStream(ctx context.Context, req Request) (<-chan Event, error) {
	var lastErr error
	for _, name := range c.order() {
		backend := c.backends[name]
		events, err := backend.CompleteStream(ctx, req)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if !ShouldFailover(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Backend returns the named backend, or nil if it is not registered.
func (c *Client) Backend(name string) Backend {
	return c.backends[name]
}

// Primary returns the configured primary backend's name.
func (c *Client) Primary() string { return c.primary }

// Fallbacks returns the configured fallback order.
func (c *Client) Fallbacks() []string {
	out := make([]string, len(c.fallbacks))
	copy(out, c.fallbacks)
	return out
}
