package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/ir"
)

const errEntityOnMany = "cannot assign a single entity to a multi-valued relationship"

// ManyProxy is a multi-valued relationship endpoint: the reverse side of a
// one-to-many relationship or either side of a many-to-many one.
//
// Identifiers and entities are parallel lists. While the proxy is a fault
// only the identifiers are held. Both lists are only ever edited through
// splice, so they never diverge in length or order. Members are unique.
type ManyProxy struct {
	proxy
	ids    []string
	values []*Entity
	known  bool
	coll   *Collection
}

func newManyProxy(g *Graph, s *side, known bool) *ManyProxy {
	p := &ManyProxy{proxy: proxy{g: g, side: s}, values: []*Entity{}, known: known}
	p.coll = &Collection{p: p}
	return p
}

// Install binds the proxy to e.
func (p *ManyProxy) Install(e *Entity) error {
	return p.install(p, e)
}

// Many returns true.
func (p *ManyProxy) Many() bool { return true }

// IsFault reports whether identifiers are held without their entities.
func (p *ManyProxy) IsFault() bool {
	return len(p.ids) > 0 && p.values == nil
}

// Known reports whether the membership is known.
func (p *ManyProxy) Known() bool {
	return p.known
}

// IDs returns the member identifiers in order.
func (p *ManyProxy) IDs() []string {
	return slices.Clone(p.ids)
}

// Value returns the tracked collection, or a *Fault while unresolved.
func (p *ManyProxy) Value() any {
	if p.IsFault() {
		return &Fault{proxy: p}
	}
	return p.coll
}

// Collection returns the tracked collection, resolved or not.
func (p *ManyProxy) Collection() *Collection {
	return p.coll
}

// Stored returns the identifier list.
func (p *ManyProxy) Stored() ir.IRValue {
	return ir.IDList(p.ids)
}

// Get returns the tracked collection, resolving a fault first.
func (p *ManyProxy) Get(ctx context.Context) (*Collection, error) {
	if err := p.resolve(ctx); err != nil {
		return nil, err
	}
	return p.coll, nil
}

// GetAsync is Get delivered through cb and a Deferred. cb, if not nil, is
// invoked before GetAsync returns.
func (p *ManyProxy) GetAsync(ctx context.Context, cb func(*Collection, error)) *Deferred[*Collection] {
	v, err := p.Get(ctx)
	if cb != nil {
		cb(v, err)
	}
	return resolved(v, err)
}

// Set replaces the members with value: a []*Entity, a resolved *Collection
// or nil. A single entity is rejected without changing anything.
func (p *ManyProxy) Set(value any, opts ...SetOption) error {
	next, err := p.coerce(value)
	if err != nil {
		return err
	}
	if err := p.checkMembers(next, nil); err != nil {
		return err
	}

	nextIDs := make([]string, len(next))
	for i, e := range next {
		nextIDs[i] = e.id
	}
	if p.known && slices.Equal(p.ids, nextIDs) {
		if p.values == nil {
			p.values = next
		}
		return nil
	}
	p.replace(next, nextIDs, collect(opts))
	return nil
}

func (p *ManyProxy) coerce(value any) ([]*Entity, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []*Entity:
		return slices.Clone(v), nil
	case *Collection:
		if v == nil {
			return nil, nil
		}
		if v.p.IsFault() {
			return nil, p.invalid("cannot assign an unresolved collection")
		}
		return slices.Clone(v.p.values), nil
	case *Entity:
		return nil, p.invalid(errEntityOnMany)
	default:
		return nil, p.invalid(fmt.Sprintf("cannot assign %T to a relationship", value))
	}
}

// checkMembers validates entities about to join, against the members that
// will remain.
func (p *ManyProxy) checkMembers(added []*Entity, remaining []string) error {
	seen := make(map[string]bool, len(added)+len(remaining))
	for _, id := range remaining {
		seen[id] = true
	}
	for _, e := range added {
		if e == nil {
			return p.invalid("cannot add a nil entity")
		}
		if err := p.checkTarget(e); err != nil {
			return err
		}
		if seen[e.id] {
			return p.invalid(fmt.Sprintf("entity %s is already a member", e.id))
		}
		seen[e.id] = true
	}
	return nil
}

// replace is Set's protocol: record, release members that leave, update own
// lists, link members that join.
func (p *ManyProxy) replace(next []*Entity, nextIDs []string, o setOptions) {
	oldIDs, oldVals := p.ids, p.values

	var old ir.IRValue = ir.IRNull{}
	if len(oldIDs) > 0 {
		old = ir.IDList(oldIDs)
	}
	p.emit(changes.Record{
		Kind:     changes.KindSet,
		Old:      old,
		New:      ir.IDList(nextIDs),
		OldValue: entitiesValue(oldVals),
		NewValue: entitiesValue(next),
	}, o)

	for i, id := range oldIDs {
		if !slices.Contains(nextIDs, id) {
			p.unlinkReverse(id, at(oldVals, i), o)
		}
	}
	p.ids = nextIDs
	p.values = next
	if p.values == nil {
		p.values = []*Entity{}
	}
	p.known = true
	for _, e := range next {
		if !slices.Contains(oldIDs, e.id) {
			p.linkReverse(e, o)
		}
	}
}

// splice is the single primitive that edits the member lists. It records a
// Splice and, when reciprocate is set, updates the reciprocal side of every
// removed and added member. index may be changes.AppendIndex.
func (p *ManyProxy) splice(index, count int, added []*Entity, reciprocate bool, o setOptions) []string {
	recIndex := index
	if index == changes.AppendIndex {
		index = len(p.ids)
	}
	removedIDs := slices.Clone(p.ids[index : index+count])
	var removedVals []*Entity
	if p.values != nil {
		removedVals = slices.Clone(p.values[index : index+count])
	}
	addedIDs := make([]string, len(added))
	for i, e := range added {
		addedIDs[i] = e.id
	}

	p.emit(changes.Record{
		Kind:          changes.KindSplice,
		Index:         recIndex,
		Removed:       removedIDs,
		Added:         addedIDs,
		RemovedValues: entityList(removedVals),
		AddedValues:   entityList(added),
	}, o)

	if reciprocate {
		for i, id := range removedIDs {
			p.unlinkReverse(id, at(removedVals, i), o)
		}
	}
	p.ids = slices.Concat(p.ids[:index], addedIDs, p.ids[index+count:])
	if p.values != nil {
		p.values = slices.Concat(p.values[:index], added, p.values[index+count:])
	}
	p.known = p.known || recIndex != changes.AppendIndex
	if reciprocate {
		for _, e := range added {
			p.linkReverse(e, o)
		}
	}
	return removedIDs
}

// attach appends owner unless it is already a member. An unknown
// membership is appended to wherever the stored list ends.
func (p *ManyProxy) attach(owner *Entity, o setOptions) {
	if i := slices.Index(p.ids, owner.id); i >= 0 {
		if p.values != nil && p.values[i] == nil {
			p.values[i] = owner
		}
		return
	}
	index := len(p.ids)
	if !p.known {
		index = changes.AppendIndex
	}
	p.splice(index, 0, []*Entity{owner}, false, o)
}

// detach splices owner out, preserving the order of the other members.
func (p *ManyProxy) detach(owner *Entity, o setOptions) {
	if i := slices.Index(p.ids, owner.id); i >= 0 {
		p.splice(i, 1, nil, false, o)
	}
}

func (p *ManyProxy) clear(o setOptions) {
	if len(p.ids) > 0 {
		p.replace(nil, nil, o)
	}
}

func (p *ManyProxy) related() []*Entity {
	var out []*Entity
	for i, id := range p.ids {
		if e := p.counterpart(id, at(p.values, i)); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (p *ManyProxy) resolve(ctx context.Context) error {
	if !p.IsFault() {
		return nil
	}
	es, err := p.g.resolve(ctx, p.ids)
	if err != nil {
		return err
	}
	p.values = es
	return nil
}

func at(vals []*Entity, i int) *Entity {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func entityList(es []*Entity) []any {
	if es == nil {
		return nil
	}
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

func entitiesValue(es []*Entity) any {
	if es == nil {
		return nil
	}
	return slices.Clone(es)
}

// Collection is the tracked value of a multi-valued relationship. Every
// in-place edit becomes a Splice record plus reciprocal updates for each
// added or removed member.
type Collection struct {
	p *ManyProxy
}

// Len returns the number of members.
func (c *Collection) Len() int {
	return len(c.p.ids)
}

// IDs returns the member identifiers in order.
func (c *Collection) IDs() []string {
	return c.p.IDs()
}

// Entities returns the members in order, or nil while unresolved.
func (c *Collection) Entities() []*Entity {
	if c.p.IsFault() {
		return nil
	}
	return slices.Clone(c.p.values)
}

// At returns the member at i, or nil while unresolved.
func (c *Collection) At(i int) *Entity {
	if c.p.IsFault() {
		return nil
	}
	return c.p.values[i]
}

// Contains reports whether e is a member.
func (c *Collection) Contains(e *Entity) bool {
	return e != nil && slices.Contains(c.p.ids, e.id)
}

// IndexOf returns the position of e, or -1.
func (c *Collection) IndexOf(e *Entity) int {
	if e == nil {
		return -1
	}
	return slices.Index(c.p.ids, e.id)
}

// Append adds es at the end.
func (c *Collection) Append(es ...*Entity) error {
	_, err := c.Splice(c.Len(), 0, es...)
	return err
}

// Insert adds es before position i.
func (c *Collection) Insert(i int, es ...*Entity) error {
	_, err := c.Splice(i, 0, es...)
	return err
}

// RemoveAt removes the member at position i.
func (c *Collection) RemoveAt(i int) error {
	_, err := c.Splice(i, 1)
	return err
}

// Remove removes e. Removing a non-member is a validation error.
func (c *Collection) Remove(e *Entity) error {
	i := c.IndexOf(e)
	if i < 0 {
		id := "<nil>"
		if e != nil {
			id = e.id
		}
		return c.p.invalid(fmt.Sprintf("entity %s is not a member", id))
	}
	return c.RemoveAt(i)
}

// Clear removes every member.
func (c *Collection) Clear() error {
	_, err := c.Splice(0, c.Len())
	return err
}

// Splice removes deleteCount members at index, inserts add in their place
// and returns the removed identifiers.
func (c *Collection) Splice(index, deleteCount int, add ...*Entity) ([]string, error) {
	p := c.p
	if index < 0 || index > len(p.ids) || deleteCount < 0 || index+deleteCount > len(p.ids) {
		return nil, p.invalid(fmt.Sprintf("splice [%d:%d] out of range for %d members", index, index+deleteCount, len(p.ids)))
	}
	remaining := slices.Concat(p.ids[:index], p.ids[index+deleteCount:])
	if err := p.checkMembers(add, remaining); err != nil {
		return nil, err
	}
	if deleteCount == 0 && len(add) == 0 {
		return nil, nil
	}
	// Appending to a membership that was never loaded must not assume the
	// stored list is as long as the local one.
	if !p.known && deleteCount == 0 && index == len(p.ids) {
		index = changes.AppendIndex
	}
	return p.splice(index, deleteCount, add, true, setOptions{}), nil
}
