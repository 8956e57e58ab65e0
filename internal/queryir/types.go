package queryir

import (
	"sort"

	"github.com/roach88/kinship/internal/ir"
)

// Query is a read query. Sealed to this package.
type Query interface {
	queryNode()
}

// Predicate is a row filter. Sealed to this package.
type Predicate interface {
	predicateNode()
}

// Select reads rows of one table.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order by>
//
// Empty Columns selects every column. A nil Filter matches every row.
// Each OrderBy column sorts ascending by byte value; with no OrderBy the
// row order is unspecified.
type Select struct {
	From    string
	Columns []string
	Filter  Predicate
	OrderBy []string
}

func (Select) queryNode() {}

// Equals matches rows whose Field equals Value. A null Value matches
// rows where the column is NULL.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// And matches rows every predicate matches. An empty And matches
// every row.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Match returns an And of one Equals per entry of fields, in key order so
// the compiled SQL is stable. It returns nil for no fields.
func Match(fields map[string]ir.IRValue) Predicate {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]Predicate, len(keys))
	for i, k := range keys {
		preds[i] = Equals{Field: k, Value: fields[k]}
	}
	return And{Predicates: preds}
}
