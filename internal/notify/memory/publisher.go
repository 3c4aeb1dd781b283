// Package memory records notifications for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	payloads []any
	err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the payload and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.payloads = append(p.payloads, payload)
	return fmt.Sprintf("memory-%d", len(p.payloads)), nil
}

// Payloads returns a copy of the recorded payloads.
func (p *Publisher) Payloads() []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]any, len(p.payloads))
	copy(out, p.payloads)
	return out
}

// Close does nothing.
func (p *Publisher) Close() error { return nil }
