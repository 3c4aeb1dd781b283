// Package source defines the data sources that feed worksheets and the errors they share.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/healthsync/internal/sheet"
)

// DateLayout is the key format of every daily row.
const DateLayout = "2006-01-02"

var (
	// ErrUnauthorized reports rejected credentials or tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrLoginFailed reports a login form that did not accept the credentials.
	ErrLoginFailed = errors.New("login failed")
	// ErrNoData reports that the source had nothing for the requested day.
	ErrNoData = errors.New("no data")
	// ErrUnknownSource is returned by the registry for unregistered names.
	ErrUnknownSource = errors.New("unknown source")
)

// SelectorError reports a page element that could not be located.
type SelectorError struct {
	Name     string
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	msg := fmt.Sprintf("selector %s (%q) not found", e.Name, e.Selector)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SelectorError) Unwrap() error { return e.Err }

// Source collects the rows for one day.
type Source interface {
	Name() string
	Table() sheet.Table
	Collect(ctx context.Context, day time.Time) ([]sheet.Row, error)
}

// Factory builds a source on demand so missing credentials only fail the sources that need them.
type Factory func(ctx context.Context) (Source, error)

// Registry maps source names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Build constructs the named source.
func (r *Registry) Build(ctx context.Context, name string) (Source, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	src, err := f(ctx)
	if err != nil {
		return nil, fmt.Errorf("build source %s: %w", name, err)
	}
	return src, nil
}

// Names lists registered sources in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type runIDKey struct{}

// WithRunID attaches a run ID to ctx.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run ID stored in ctx, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
