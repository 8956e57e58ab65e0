package graph

import (
	"fmt"

	"github.com/roach88/kinship/internal/ir"
)

// CreateOrUpdate maps a raw payload onto the graph.
//
// The entity is looked up by the remote id in raw's IDField; it is updated
// when found and created otherwise. Declared attributes are set from raw.
// Relationship fields may hold a remote id, a nested object (mapped
// recursively), a list of either, or null. A remote id that is not in
// memory becomes a placeholder entity whose relationships are unknown.
// Keys that are neither attributes nor relationships are ignored.
func (g *Graph) CreateOrUpdate(typeName string, raw ir.IRObject) (*Entity, error) {
	t, ok := g.types[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}

	e := g.Lookup(t.Name, remoteKey(raw[t.IDField]))
	if e == nil {
		attrs := make(ir.IRObject)
		for _, a := range t.Attributes {
			if v, ok := raw[a]; ok {
				attrs[a] = v
			}
		}
		created, err := g.New(t.Name, attrs)
		if err != nil {
			return nil, err
		}
		e = created
	} else {
		for _, a := range t.Attributes {
			v, ok := raw[a]
			if !ok {
				continue
			}
			if err := e.Set(a, v); err != nil {
				return nil, err
			}
		}
		e.known = true
	}

	for _, key := range raw.SortedKeys() {
		if t.HasAttribute(key) {
			continue
		}
		s, ok := t.sides[key]
		if !ok {
			g.logger.Debug("ignoring unmapped field", "type", t.Name, "field", key)
			continue
		}
		if err := g.mapRelationship(e, s, raw[key]); err != nil {
			return nil, fmt.Errorf("map %s.%s: %w", t.Name, key, err)
		}
	}
	return e, nil
}

func (g *Graph) mapRelationship(e *Entity, s *side, v ir.IRValue) error {
	target := g.types[s.target]
	p := e.proxies[s.field]

	switch val := v.(type) {
	case nil, ir.IRNull:
		return p.Set(nil)
	case ir.IRArray:
		related := make([]*Entity, 0, len(val))
		for i, elem := range val {
			r, err := g.mapRef(target, elem)
			if err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
			related = append(related, r)
		}
		return p.Set(related)
	default:
		r, err := g.mapRef(target, val)
		if err != nil {
			return err
		}
		return p.Set(r)
	}
}

// mapRef turns a remote id or nested payload into an entity of t.
func (g *Graph) mapRef(t *EntityType, v ir.IRValue) (*Entity, error) {
	switch val := v.(type) {
	case ir.IRObject:
		return g.CreateOrUpdate(t.Name, val)
	case ir.IRString, ir.IRInt:
		if e := g.Lookup(t.Name, remoteKey(val)); e != nil {
			return e, nil
		}
		return g.create(t, ir.IRObject{t.IDField: val}, false), nil
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("cannot map %T to a %s", v, t.Name)}
	}
}
