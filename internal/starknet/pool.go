package starknet

import (
	"context"
	"sync"

	"stark-claimer/internal/retry"
)

// Dialer creates a Provider for an endpoint URL.
type Dialer func(endpoint string) Provider

// Pool owns one Provider per configured endpoint and runs operations with
// endpoint failover. The endpoint that last succeeded is tried first.
type Pool struct {
	endpoints []string
	dial      Dialer

	mu      sync.Mutex
	clients map[int]Provider
	cursor  int

	onFailover func(endpoint string, err error)
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithFailoverHook registers a callback run whenever an endpoint fails.
func WithFailoverHook(fn func(endpoint string, err error)) PoolOption {
	return func(p *Pool) {
		p.onFailover = fn
	}
}

// NewPool creates a Pool over endpoints.
func NewPool(endpoints []string, dial Dialer, opts ...PoolOption) *Pool {
	p := &Pool{
		endpoints: append([]string(nil), endpoints...),
		dial:      dial,
		clients:   make(map[int]Provider),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Len returns the number of endpoints.
func (p *Pool) Len() int {
	return len(p.endpoints)
}

// Provider returns the client for slot i.
func (p *Pool) Provider(i int) Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[i]; ok {
		return c
	}
	c := p.dial(p.endpoints[i])
	p.clients[i] = c
	return c
}

// Failover runs op against each endpoint at most once, starting from the
// last healthy one. It returns retry.ErrEndpointsExhausted when all fail.
func (p *Pool) Failover(ctx context.Context, op func(ctx context.Context, provider Provider) error) error {
	p.mu.Lock()
	start := p.cursor
	p.mu.Unlock()

	n := len(p.endpoints)
	return retry.Failover(ctx, n, func(ctx context.Context, slot int) error {
		idx := (start + slot) % n
		err := op(ctx, p.Provider(idx))
		if err == nil {
			p.mu.Lock()
			p.cursor = idx
			p.mu.Unlock()
			return nil
		}
		if p.onFailover != nil && !retry.IsPermanent(err) {
			p.onFailover(p.endpoints[idx], err)
		}
		return err
	})
}
