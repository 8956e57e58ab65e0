package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/store"
)

// Load returns the entities for ids, materializing stored documents that are
// not in memory yet. Materialization emits no records. Relationship fields of
// loaded entities start as faults; a null field is known to be empty.
//
// The result is aligned with ids. Entries that could not be loaded are nil
// and their errors are joined into the returned error.
func (g *Graph) Load(ctx context.Context, ids ...string) ([]*Entity, error) {
	out := make([]*Entity, len(ids))
	var missing []string
	pos := make(map[string][]int)
	for i, id := range ids {
		if e := g.Entity(id); e != nil {
			out[i] = e
			continue
		}
		if _, seen := pos[id]; !seen {
			missing = append(missing, id)
		}
		pos[id] = append(pos[id], i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	if g.source == nil {
		return out, ErrNoStore
	}

	lookups, err := g.source.BulkGet(ctx, missing)
	if err != nil {
		return out, fmt.Errorf("load: %w", err)
	}

	var errs []error
	loaded := 0
	for _, l := range lookups {
		if l.Err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", l.ID, l.Err))
			continue
		}
		e, err := g.materialize(l.Doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", l.ID, err))
			continue
		}
		for _, i := range pos[l.ID] {
			out[i] = e
		}
		loaded++
	}
	g.logger.Debug("documents loaded", "requested", len(missing), "loaded", loaded)
	return out, errors.Join(errs...)
}

// materialize builds a live entity from its stored document.
func (g *Graph) materialize(doc *store.Document) (*Entity, error) {
	if doc.Deleted {
		return nil, ErrDeleted
	}
	if e := g.Entity(doc.ID); e != nil {
		return e, nil
	}
	t, ok := g.types[doc.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, doc.Type)
	}

	e := g.newEntity(t, doc.ID, true)
	for _, a := range t.Attributes {
		if v, ok := doc.Fields[a]; ok {
			e.attrs[a] = ir.Clone(v)
		}
	}
	for _, f := range t.fields {
		if err := restoreField(e.proxies[f], doc.Fields[f]); err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
	}
	g.track(e)
	g.reindex(e, nil, e.attrs[t.IDField])
	return e, nil
}

// restoreField sets a proxy's state from its stored value without recording
// anything.
func restoreField(p Proxy, v ir.IRValue) error {
	switch p := p.(type) {
	case *SingleProxy:
		switch val := v.(type) {
		case nil, ir.IRNull:
		case ir.IRString:
			p.id = string(val)
		default:
			return fmt.Errorf("expected identifier, got %T", v)
		}
		p.known = true
	case *ManyProxy:
		ids, err := ir.IDs(v)
		if err != nil {
			return err
		}
		p.ids = ids
		if len(ids) > 0 {
			p.values = nil
		}
		p.known = true
	}
	return nil
}
