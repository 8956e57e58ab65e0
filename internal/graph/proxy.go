package graph

import (
	"context"
	"fmt"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/ir"
)

// Proxy is one endpoint of one relationship on one entity. It owns the
// relationship's current identifiers and, once resolved, their entities,
// and keeps the reciprocal endpoint on every related entity consistent.
//
// Implemented by *SingleProxy and *ManyProxy.
type Proxy interface {
	// Field returns the relationship field name on the owner.
	Field() string
	// Descriptor returns the installed relationship.
	Descriptor() *RelationshipDescriptor
	// Owner returns the entity the proxy is installed on.
	Owner() *Entity
	// Many reports whether the proxy is multi valued.
	Many() bool
	// IsFault reports whether identifiers are present but not resolved.
	IsFault() bool
	// Known reports whether the relationship's value is known. A proxy of
	// a placeholder entity is unknown until it is set.
	Known() bool
	// IDs returns the related identifiers.
	IDs() []string
	// Value returns the related *Entity, *Collection, *Fault or nil.
	Value() any
	// Stored returns the field's stored representation.
	Stored() ir.IRValue
	// Install binds the proxy to e.
	Install(e *Entity) error
	// Set replaces the related value after validating its cardinality.
	Set(value any, opts ...SetOption) error

	attach(owner *Entity, o setOptions)
	detach(owner *Entity, o setOptions)
	clear(o setOptions)
	resolve(ctx context.Context) error
	related() []*Entity
}

// SetOption configures a Set.
type SetOption func(*setOptions)

type setOptions struct {
	silent bool
}

// WithoutNotifications applies a Set, and the reciprocal updates it
// triggers, without emitting change records.
func WithoutNotifications() SetOption {
	return func(o *setOptions) {
		o.silent = true
	}
}

func collect(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// proxy holds what both variants share.
type proxy struct {
	g     *Graph
	side  *side
	owner *Entity
}

func (p *proxy) Field() string {
	return p.side.field
}

func (p *proxy) Descriptor() *RelationshipDescriptor {
	return p.side.desc
}

func (p *proxy) Owner() *Entity {
	return p.owner
}

func (p *proxy) install(self Proxy, e *Entity) error {
	if e == nil {
		return &InstallError{Code: ErrCodeMissingObject, Message: "cannot install on a nil entity", Type: p.side.owner, Field: p.side.field}
	}
	if p.owner != nil {
		return &InstallError{Code: ErrCodeAlreadyInstalled, Message: fmt.Sprintf("proxy already installed on %s", p.owner.id), Type: p.side.owner, Field: p.side.field}
	}
	if e.typ.Name != p.side.owner {
		return &InstallError{Code: ErrCodeInvalid, Message: fmt.Sprintf("proxy belongs to %s, not %s", p.side.owner, e.typ.Name), Type: e.typ.Name, Field: p.side.field}
	}
	if _, taken := e.proxies[p.side.field]; taken {
		return &InstallError{Code: ErrCodeFieldTaken, Message: fmt.Sprintf("field already bound on %s", e.id), Type: e.typ.Name, Field: p.side.field}
	}
	p.owner = e
	e.proxies[p.side.field] = self
	return nil
}

func (p *proxy) invalid(msg string) error {
	id := ""
	if p.owner != nil {
		id = p.owner.id
	}
	return &ValidationError{Entity: id, Field: p.side.field, Message: msg}
}

// checkTarget validates an entity about to become related.
func (p *proxy) checkTarget(e *Entity) error {
	switch {
	case e.g != p.g:
		return p.invalid(fmt.Sprintf("entity %s belongs to another graph", e.id))
	case e.typ.Name != p.side.target:
		return p.invalid(fmt.Sprintf("expected a %s entity, got %s", p.side.target, e.typ.Name))
	case e.removed.Load():
		return p.invalid(fmt.Sprintf("entity %s has been removed", e.id))
	}
	return nil
}

// emit records a mutation of the owner's field.
func (p *proxy) emit(rec changes.Record, o setOptions) {
	if o.silent {
		return
	}
	rec.Collection = p.owner.typ.Collection
	rec.Type = p.owner.typ.Name
	rec.Entity = p.owner.id
	rec.Field = p.side.field
	p.g.emit(rec)
}

// counterpart returns the in-memory entity for id, or nil when it is only
// known by identifier.
func (p *proxy) counterpart(id string, val *Entity) *Entity {
	if val != nil {
		return val
	}
	return p.g.Entity(id)
}

// unlinkReverse removes the owner from the reciprocal side of the entity
// identified by id. When that entity is not in memory the removal is
// recorded against its stored representation instead.
func (p *proxy) unlinkReverse(id string, val *Entity, o setOptions) {
	if other := p.counterpart(id, val); other != nil {
		if rp, ok := other.proxies[p.side.reverse]; ok {
			rp.detach(p.owner, o)
		}
		return
	}
	if o.silent {
		return
	}

	t := p.g.types[p.side.target]
	rec := changes.Record{
		Collection: t.Collection,
		Type:       t.Name,
		Entity:     id,
		Field:      p.side.reverse,
	}
	if p.side.reverseMany {
		rec.Kind = changes.KindDelete
		rec.Target = p.owner.id
	} else {
		rec.Kind = changes.KindSet
		rec.Old = ir.IRString(p.owner.id)
		rec.New = ir.IRNull{}
		rec.OldValue = p.owner
	}
	p.g.emit(rec)
}

// linkReverse points the reciprocal side of target back at the owner.
func (p *proxy) linkReverse(target *Entity, o setOptions) {
	if rp, ok := target.proxies[p.side.reverse]; ok {
		rp.attach(p.owner, o)
	}
}

func idValue(id string) ir.IRValue {
	if id == "" {
		return ir.IRNull{}
	}
	return ir.IRString(id)
}

// entityValue avoids storing a typed nil in an interface.
func entityValue(e *Entity) any {
	if e == nil {
		return nil
	}
	return e
}
