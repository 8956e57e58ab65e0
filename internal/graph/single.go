package graph

import (
	"context"
	"fmt"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/ir"
)

const errCollectionOnSingle = "cannot assign a collection to a single-valued relationship"

// SingleProxy is a single-valued relationship endpoint: a one-to-one side or
// the forward side of a one-to-many relationship.
//
// While it holds an entity it listens for that entity's removal and clears
// itself when it happens.
type SingleProxy struct {
	proxy
	id       string
	value    *Entity
	known    bool
	unlisten func()
}

func newSingleProxy(g *Graph, s *side, known bool) *SingleProxy {
	return &SingleProxy{proxy: proxy{g: g, side: s}, known: known}
}

// Install binds the proxy to e.
func (p *SingleProxy) Install(e *Entity) error {
	return p.install(p, e)
}

// Many returns false.
func (p *SingleProxy) Many() bool { return false }

// IsFault reports whether an identifier is held without its entity.
func (p *SingleProxy) IsFault() bool {
	return p.id != "" && p.value == nil
}

// Known reports whether the value is known. Set(nil) makes a proxy known to
// be empty.
func (p *SingleProxy) Known() bool {
	return p.known
}

// ID returns the related identifier, or "".
func (p *SingleProxy) ID() string {
	return p.id
}

// IDs returns the related identifier as a list of zero or one.
func (p *SingleProxy) IDs() []string {
	if p.id == "" {
		return nil
	}
	return []string{p.id}
}

// Value returns the related entity, a *Fault, or nil.
func (p *SingleProxy) Value() any {
	switch {
	case p.IsFault():
		return &Fault{proxy: p}
	case p.value == nil:
		return nil
	default:
		return p.value
	}
}

// Stored returns the identifier, or null.
func (p *SingleProxy) Stored() ir.IRValue {
	return idValue(p.id)
}

// Get returns the related entity, resolving a fault through the graph's
// resolver first. Returns nil when nothing is related.
func (p *SingleProxy) Get(ctx context.Context) (*Entity, error) {
	if err := p.resolve(ctx); err != nil {
		return nil, err
	}
	return p.value, nil
}

// GetAsync is Get delivered through cb and a Deferred. cb, if not nil, is
// invoked before GetAsync returns.
func (p *SingleProxy) GetAsync(ctx context.Context, cb func(*Entity, error)) *Deferred[*Entity] {
	v, err := p.Get(ctx)
	if cb != nil {
		cb(v, err)
	}
	return resolved(v, err)
}

// Set relates the owner to value, which must be an *Entity of the target
// type or nil. Collections are rejected without changing anything.
func (p *SingleProxy) Set(value any, opts ...SetOption) error {
	target, err := p.coerce(value)
	if err != nil {
		return err
	}
	if p.holds(target) {
		if target != nil && p.value == nil {
			p.bind(target)
		}
		return nil
	}
	p.assign(target, collect(opts))
	return nil
}

func (p *SingleProxy) coerce(value any) (*Entity, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Entity:
		if v == nil {
			return nil, nil
		}
		if err := p.checkTarget(v); err != nil {
			return nil, err
		}
		return v, nil
	case []*Entity, *Collection, []any:
		return nil, p.invalid(errCollectionOnSingle)
	default:
		return nil, p.invalid(fmt.Sprintf("cannot assign %T to a relationship", value))
	}
}

func (p *SingleProxy) holds(target *Entity) bool {
	if !p.known {
		return false
	}
	if target == nil {
		return p.id == ""
	}
	return p.id == target.id
}

// assign is the full protocol: record, clear the previous reciprocal side,
// move the removal listener, update own state, point the new reciprocal
// side back at the owner.
func (p *SingleProxy) assign(target *Entity, o setOptions) {
	oldID, oldVal := p.id, p.value
	newID := ""
	if target != nil {
		newID = target.id
	}
	if oldID == "" && newID == "" {
		p.known = true
		return
	}

	p.emit(changes.Record{
		Kind:     changes.KindSet,
		Old:      idValue(oldID),
		New:      idValue(newID),
		OldValue: entityValue(oldVal),
		NewValue: entityValue(target),
	}, o)

	if oldID != "" {
		p.unlinkReverse(oldID, oldVal, o)
	}
	p.unbind()
	p.id = newID
	p.known = true
	p.bind(target)
	if target != nil {
		p.linkReverse(target, o)
	}
}

// attach points this reciprocal side at owner. A one-to-one side already
// pointing elsewhere first releases its previous counterpart.
func (p *SingleProxy) attach(owner *Entity, o setOptions) {
	if p.id == owner.id {
		if p.value == nil {
			p.bind(owner)
		}
		p.known = true
		return
	}

	oldID, oldVal := p.id, p.value
	p.emit(changes.Record{
		Kind:     changes.KindSet,
		Old:      idValue(oldID),
		New:      ir.IRString(owner.id),
		OldValue: entityValue(oldVal),
		NewValue: owner,
	}, o)
	if oldID != "" {
		p.unlinkReverse(oldID, oldVal, o)
	}
	p.unbind()
	p.id = owner.id
	p.known = true
	p.bind(owner)
}

// detach clears this reciprocal side if it points at owner.
func (p *SingleProxy) detach(owner *Entity, o setOptions) {
	if p.id != owner.id {
		return
	}
	p.emit(changes.Record{
		Kind:     changes.KindSet,
		Old:      ir.IRString(p.id),
		New:      ir.IRNull{},
		OldValue: entityValue(p.value),
	}, o)
	p.unbind()
	p.id = ""
	p.value = nil
	p.known = true
}

func (p *SingleProxy) clear(o setOptions) {
	if p.id != "" {
		p.assign(nil, o)
	}
}

func (p *SingleProxy) related() []*Entity {
	if p.id == "" {
		return nil
	}
	if e := p.counterpart(p.id, p.value); e != nil {
		return []*Entity{e}
	}
	return nil
}

// bind sets the resolved value and listens for its removal.
func (p *SingleProxy) bind(target *Entity) {
	p.unbind()
	p.value = target
	if target == nil {
		return
	}
	p.unlisten = target.onRemove(func() {
		if p.value == target {
			p.assign(nil, setOptions{})
		}
	})
}

func (p *SingleProxy) unbind() {
	if p.unlisten != nil {
		p.unlisten()
		p.unlisten = nil
	}
	p.value = nil
}

func (p *SingleProxy) resolve(ctx context.Context) error {
	if !p.IsFault() {
		return nil
	}
	es, err := p.g.resolve(ctx, []string{p.id})
	if err != nil {
		return err
	}
	p.bind(es[0])
	return nil
}
