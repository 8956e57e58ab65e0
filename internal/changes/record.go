package changes

import (
	"fmt"
	"slices"

	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/store"
)

// Kind distinguishes record kinds.
type Kind int

const (
	// KindSet replaces the value of one field.
	KindSet Kind = iota + 1
	// KindSplice removes and inserts identifiers at an index of a list field.
	KindSplice
	// KindDelete removes one identifier from a list field by value.
	KindDelete
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindSplice:
		return "splice"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DeletedField is the field name used by tombstone records. Applying a Set
// record on it toggles Document.Deleted instead of writing a body field.
const DeletedField = "_deleted"

// AppendIndex as a Splice index appends to the end of the stored list.
const AppendIndex = -1

// Record is one mutation of one field of one entity.
//
// Records are immutable once registered. Old/New, Removed/Added and Target
// hold the stored representation and are what Apply uses; the *Value fields
// carry the in-memory values for change listeners and are never persisted.
type Record struct {
	ID         string
	Seq        int64
	Kind       Kind
	Collection string
	Type       string
	Entity     string
	Field      string

	// Set
	Old      ir.IRValue
	New      ir.IRValue
	OldValue any
	NewValue any

	// Splice
	Index         int
	Removed       []string
	Added         []string
	RemovedValues []any
	AddedValues   []any

	// Delete
	Target string
}

// Apply replays the record onto doc.
//
// Set requires the stored field to be equivalent to Old. Splice requires the
// identifiers actually removed to equal Removed. Delete requires Target to be
// present. On any mismatch Apply returns a *StaleChangeError and doc is not
// modified.
func (r *Record) Apply(doc *store.Document) error {
	if doc.ID != r.Entity {
		return fmt.Errorf("record %s targets %s, document is %s", r.ID, r.Entity, doc.ID)
	}
	if doc.Fields == nil {
		doc.Fields = ir.IRObject{}
	}

	switch r.Kind {
	case KindSet:
		return r.applySet(doc)
	case KindSplice:
		return r.applySplice(doc)
	case KindDelete:
		return r.applyDelete(doc)
	default:
		return fmt.Errorf("record %s: unknown kind %s", r.ID, r.Kind)
	}
}

func (r *Record) applySet(doc *store.Document) error {
	if r.Field == DeletedField {
		current := ir.IRBool(doc.Deleted)
		old := r.Old
		if old == nil || ir.IsEmpty(old) {
			old = ir.IRBool(false)
		}
		if !ir.Equal(current, old) {
			return r.stale(old, current, "")
		}
		next, ok := r.New.(ir.IRBool)
		if !ok {
			return fmt.Errorf("record %s: %s must be a bool, got %T", r.ID, DeletedField, r.New)
		}
		doc.Deleted = bool(next)
		return nil
	}

	current := doc.Fields[r.Field]
	if !Equivalent(current, r.Old) {
		return r.stale(r.Old, current, "")
	}
	doc.Fields[r.Field] = ir.Clone(normalize(r.New))
	return nil
}

func (r *Record) applySplice(doc *store.Document) error {
	current := doc.Fields[r.Field]
	ids, err := ir.IDs(current)
	if err != nil {
		return fmt.Errorf("record %s: field %s: %w", r.ID, r.Field, err)
	}

	index := r.Index
	if index == AppendIndex {
		index = len(ids)
	}
	if index < 0 || index+len(r.Removed) > len(ids) {
		return r.stale(ir.IDList(r.Removed), current,
			fmt.Sprintf("splice at %d removing %d exceeds %d stored identifiers", index, len(r.Removed), len(ids)))
	}
	if removed := ids[index : index+len(r.Removed)]; !slices.Equal(removed, r.Removed) {
		return r.stale(ir.IDList(r.Removed), ir.IDList(removed), "")
	}
	for _, id := range r.Added {
		if slices.Contains(ids[:index], id) || slices.Contains(ids[index+len(r.Removed):], id) {
			return r.stale(current, current, fmt.Sprintf("identifier %s is already stored", id))
		}
	}

	next := slices.Concat(ids[:index], r.Added, ids[index+len(r.Removed):])
	doc.Fields[r.Field] = ir.IDList(next)
	return nil
}

func (r *Record) applyDelete(doc *store.Document) error {
	current := doc.Fields[r.Field]
	ids, err := ir.IDs(current)
	if err != nil {
		return fmt.Errorf("record %s: field %s: %w", r.ID, r.Field, err)
	}
	i := slices.Index(ids, r.Target)
	if i < 0 {
		return r.stale(ir.IRString(r.Target), current, fmt.Sprintf("identifier %s is not stored", r.Target))
	}
	doc.Fields[r.Field] = ir.IDList(slices.Delete(slices.Clone(ids), i, i+1))
	return nil
}

func (r *Record) stale(expected, actual ir.IRValue, reason string) error {
	if actual == nil {
		actual = ir.IRNull{}
	}
	return &StaleChangeError{
		RecordID: r.ID,
		Entity:   r.Entity,
		Field:    r.Field,
		Kind:     r.Kind,
		Expected: expected,
		Actual:   actual,
		Reason:   reason,
	}
}

// Replay applies recs in order to a copy of doc and returns the copy.
// If any record fails the error is returned and doc is unchanged.
func Replay(doc *store.Document, recs []*Record) (*store.Document, error) {
	out := doc.Clone()
	for _, r := range recs {
		if err := r.Apply(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Equivalent reports whether two stored field values are interchangeable.
// A missing value, null and an empty list are equivalent.
func Equivalent(a, b ir.IRValue) bool {
	if ir.IsEmpty(a) && ir.IsEmpty(b) {
		return true
	}
	return ir.Equal(a, b)
}

// normalize maps a missing value to null.
func normalize(v ir.IRValue) ir.IRValue {
	if v == nil {
		return ir.IRNull{}
	}
	return v
}
