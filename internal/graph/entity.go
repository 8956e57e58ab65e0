package graph

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/store"
)

// Entity is one live object of the graph.
//
// It is identified locally by ID, and remotely by the value of its type's
// IDField attribute once it has one. Relationship fields are reached through
// proxies; attributes through Get and Set.
type Entity struct {
	g     *Graph
	typ   *EntityType
	id    string
	attrs ir.IRObject

	proxies map[string]Proxy
	known   bool

	// removed and deleted are read by the merge worker when it retires
	// persisted tombstones.
	removed atomic.Bool
	deleted atomic.Bool

	// indexedKey mirrors the IDField attribute for the remote index.
	// Guarded by g.mu.
	indexedKey string

	remembered map[string][]*Entity

	removalListeners map[int]func()
	nextRemoval      int
	listeners        map[int]func(*changes.Record)
	nextListener     int
}

// ID returns the local identifier.
func (e *Entity) ID() string { return e.id }

// Type returns the entity type name.
func (e *Entity) Type() string { return e.typ.Name }

// EntityType returns the entity's type.
func (e *Entity) EntityType() *EntityType { return e.typ }

// Graph returns the graph the entity lives in.
func (e *Entity) Graph() *Graph { return e.g }

// RemoteID returns the IDField attribute as a string, or "".
func (e *Entity) RemoteID() string {
	return remoteKey(e.attrs[e.typ.IDField])
}

// Known reports whether the entity's relationships were known when it was
// created. Placeholders created for unseen remote ids are not.
func (e *Entity) Known() bool { return e.known }

// Removed reports whether Remove was called and not undone.
func (e *Entity) Removed() bool { return e.removed.Load() }

// Deleted reports whether the entity's tombstone has been persisted.
func (e *Entity) Deleted() bool { return e.deleted.Load() }

// Get returns an attribute value. Unset attributes read as null.
func (e *Entity) Get(name string) ir.IRValue {
	if v, ok := e.attrs[name]; ok {
		return v
	}
	return ir.IRNull{}
}

// Attributes returns a copy of every attribute.
func (e *Entity) Attributes() ir.IRObject {
	return e.attrs.Clone()
}

// Set changes one attribute and records it. Setting the current value is a
// no-op.
func (e *Entity) Set(name string, value ir.IRValue, opts ...SetOption) error {
	if e.deleted.Load() {
		return fmt.Errorf("set %s on %s: %w", name, e.id, ErrDeleted)
	}
	if _, ok := e.typ.sides[name]; ok {
		return &ValidationError{Entity: e.id, Field: name, Message: "is a relationship; set it through its proxy"}
	}
	if !e.typ.HasAttribute(name) {
		return &ValidationError{Entity: e.id, Field: name, Message: fmt.Sprintf("unknown attribute of %s", e.typ.Name)}
	}
	if value == nil {
		value = ir.IRNull{}
	}
	old := e.Get(name)
	if ir.Equal(old, value) {
		return nil
	}
	if o := collect(opts); !o.silent {
		e.g.emit(changes.Record{
			Kind:       changes.KindSet,
			Collection: e.typ.Collection,
			Type:       e.typ.Name,
			Entity:     e.id,
			Field:      name,
			Old:        ir.Clone(old),
			New:        ir.Clone(value),
			OldValue:   ir.ToAny(old),
			NewValue:   ir.ToAny(value),
		})
	}
	e.attrs[name] = ir.Clone(value)
	if name == e.typ.IDField {
		e.g.reindex(e, old, value)
	}
	return nil
}

// Proxy returns the relationship proxy bound to field, or nil.
func (e *Entity) Proxy(field string) Proxy {
	return e.proxies[field]
}

// One returns the single-valued proxy bound to field, or nil.
func (e *Entity) One(field string) *SingleProxy {
	p, _ := e.proxies[field].(*SingleProxy)
	return p
}

// Many returns the multi-valued proxy bound to field, or nil.
func (e *Entity) Many(field string) *ManyProxy {
	p, _ := e.proxies[field].(*ManyProxy)
	return p
}

// Related returns every in-memory entity related to e through any
// relationship, in field order.
func (e *Entity) Related() []*Entity {
	var out []*Entity
	for _, f := range e.typ.fields {
		out = append(out, e.proxies[f].related()...)
	}
	return out
}

// Remove puts the entity in tombstone state.
//
// Single-valued proxies pointing at e clear themselves, then every
// relationship of e is cleared and a _deleted record is emitted. The related
// entities are remembered for Restore.
func (e *Entity) Remove() error {
	if e.deleted.Load() {
		return fmt.Errorf("remove %s: %w", e.id, ErrDeleted)
	}
	if e.removed.Load() {
		return nil
	}

	remembered := make(map[string][]*Entity)
	for _, f := range e.typ.fields {
		if rel := e.proxies[f].related(); len(rel) > 0 {
			remembered[f] = rel
		}
	}
	e.remembered = remembered
	e.removed.Store(true)

	for _, fn := range snapshot(e.removalListeners) {
		fn()
	}
	for _, f := range e.typ.fields {
		e.proxies[f].clear(setOptions{})
	}
	e.g.emit(changes.Record{
		Kind:       changes.KindSet,
		Collection: e.typ.Collection,
		Type:       e.typ.Name,
		Entity:     e.id,
		Field:      changes.DeletedField,
		Old:        ir.IRBool(false),
		New:        ir.IRBool(true),
		OldValue:   false,
		NewValue:   true,
	})
	e.g.logger.Debug("entity removed", "entity", e.id, "type", e.typ.Name)
	return nil
}

// Restore undoes Remove while the tombstone has not been persisted.
// Remembered relationships are re-linked to counterparts that are still
// live and whose single-valued side has not since been given to another
// entity; identifiers that were never resolved are not restored.
func (e *Entity) Restore() error {
	if e.deleted.Load() {
		return fmt.Errorf("restore %s: %w", e.id, ErrDeleted)
	}
	if !e.removed.Load() {
		return nil
	}
	e.removed.Store(false)
	e.g.emit(changes.Record{
		Kind:       changes.KindSet,
		Collection: e.typ.Collection,
		Type:       e.typ.Name,
		Entity:     e.id,
		Field:      changes.DeletedField,
		Old:        ir.IRBool(true),
		New:        ir.IRBool(false),
		OldValue:   true,
		NewValue:   false,
	})

	var errs []error
	for _, f := range e.typ.fields {
		p := e.proxies[f]
		for _, other := range e.remembered[f] {
			if other.removed.Load() || e.g.Entity(other.id) != other || claimed(p, other) {
				continue
			}
			var err error
			if mp, ok := p.(*ManyProxy); ok {
				if !mp.coll.Contains(other) {
					err = mp.coll.Append(other)
				}
			} else {
				err = p.Set(other)
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	e.remembered = nil
	e.g.logger.Debug("entity restored", "entity", e.id, "type", e.typ.Name)
	return errors.Join(errs...)
}

// claimed reports whether other's side of p's relationship is single valued
// and points at an entity other than p's owner.
func claimed(p Proxy, other *Entity) bool {
	d := p.Descriptor()
	back := d.Name
	if p.Owner().typ.Name == d.Forward && p.Field() == d.Name {
		back = d.ReverseName
	}
	sp, ok := other.proxies[back].(*SingleProxy)
	return ok && sp.ID() != "" && sp.ID() != p.Owner().id
}

// Listen subscribes fn to every record emitted for e. The returned function
// unsubscribes.
func (e *Entity) Listen(fn func(*changes.Record)) (cancel func()) {
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	return func() { delete(e.listeners, id) }
}

// onRemove registers fn to run when e is removed.
func (e *Entity) onRemove(fn func()) (cancel func()) {
	id := e.nextRemoval
	e.nextRemoval++
	e.removalListeners[id] = fn
	return func() { delete(e.removalListeners, id) }
}

// Pending returns the records registered for e that have not been merged.
func (e *Entity) Pending() []*changes.Record {
	return e.g.ledger.ForEntity(e.id)
}

// Document returns e in its stored representation: attributes plus one
// identifier or identifier list per relationship field.
func (e *Entity) Document() *store.Document {
	doc := store.NewDocument(e.id, e.typ.Collection, e.typ.Name)
	doc.Deleted = e.removed.Load()
	for _, a := range e.typ.Attributes {
		doc.Fields[a] = ir.Clone(e.Get(a))
	}
	for _, f := range e.typ.fields {
		doc.Fields[f] = e.proxies[f].Stored()
	}
	return doc
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s(%s)", e.typ.Name, e.id)
}
