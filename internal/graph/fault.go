package graph

import (
	"context"
	"fmt"
)

// Fault is the value of a relationship whose identifiers are known but
// whose entities are not in memory yet.
type Fault struct {
	proxy Proxy
}

// IDs returns the identifiers the fault stands for.
func (f *Fault) IDs() []string {
	return f.proxy.IDs()
}

// Proxy returns the faulted proxy.
func (f *Fault) Proxy() Proxy {
	return f.proxy
}

// Resolve resolves the fault and returns the proxy's value: an *Entity for a
// single-valued relationship, a *Collection otherwise. Resolving twice
// returns the same value and does not call the resolver again.
func (f *Fault) Resolve(ctx context.Context) (any, error) {
	if err := f.proxy.resolve(ctx); err != nil {
		return nil, err
	}
	return f.proxy.Value(), nil
}

func (f *Fault) String() string {
	return fmt.Sprintf("fault(%s.%s %v)", f.proxy.Owner().id, f.proxy.Field(), f.proxy.IDs())
}

// Deferred is the future returned by GetAsync.
type Deferred[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func resolved[T any](v T, err error) *Deferred[T] {
	d := &Deferred[T]{done: make(chan struct{}), value: v, err: err}
	close(d.done)
	return d
}

// Done is closed once the value is available.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Value returns the result. It must only be called after Done is closed.
func (d *Deferred[T]) Value() (T, error) {
	return d.value, d.err
}

// Wait blocks until the value is available or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// resolve returns the entities for ids in order. Identifiers already in the
// identity map are served from it; the rest go to the resolver in one call.
func (g *Graph) resolve(ctx context.Context, ids []string) ([]*Entity, error) {
	out := make([]*Entity, len(ids))
	var missing []string
	for i, id := range ids {
		if e := g.Entity(id); e != nil {
			out[i] = e
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	g.logger.Debug("resolving fault", "ids", missing)
	found, err := g.resolver.Resolve(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("resolve %v: %w", missing, err)
	}
	byID := make(map[string]*Entity, len(found))
	for _, e := range found {
		if e != nil {
			byID[e.id] = e
		}
	}
	for i, id := range ids {
		if out[i] != nil {
			continue
		}
		e, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolved, id)
		}
		out[i] = e
	}
	return out, nil
}
