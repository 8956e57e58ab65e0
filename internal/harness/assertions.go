package harness

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/graph"
	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/queryir"
	"github.com/roach88/kinship/internal/querysql"
)

const (
	stateLive    = "live"
	stateRemoved = "removed"
	stateDeleted = "deleted"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // What was checked, e.g. "ada.cars"
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " (%s)", e.Subject)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// AssertionContext provides what assertions evaluate against.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions evaluates all assertions.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRelated:
			err = assertRelated(actx, assertion)
		case AssertAttribute:
			err = assertAttribute(actx, assertion)
		case AssertReciprocal:
			err = assertReciprocal(actx.Harness.graph)
		case AssertPending:
			err = assertPending(actx, assertion)
		case AssertFault:
			err = assertFault(actx, assertion)
		case AssertState:
			err = assertState(actx, assertion)
		case AssertStored:
			err = assertStored(actx, assertion)
		case AssertFinalState:
			err = assertFinalState(actx.Ctx, actx.Harness, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertRelated resolves Field of Entity and compares the related aliases.
func assertRelated(actx *AssertionContext, a Assertion) error {
	h := actx.Harness
	p, err := h.proxy(actx.Ctx, a.Entity, a.Field)
	if err != nil {
		return err
	}

	var actual any
	switch p := p.(type) {
	case *graph.SingleProxy:
		e, err := p.Get(actx.Ctx)
		if err != nil {
			return err
		}
		if e != nil {
			actual = h.name(e.ID())
		}
	case *graph.ManyProxy:
		c, err := p.Get(actx.Ctx)
		if err != nil {
			return err
		}
		actual = toInterfaces(h.nameAll(c.IDs()))
	}

	expected := a.Expect
	if _, many := p.(*graph.ManyProxy); many && expected == nil {
		expected = []interface{}{}
	}
	if !valuesEqual(actual, expected) {
		return &AssertionError{
			Type:     AssertRelated,
			Subject:  a.Entity + "." + a.Field,
			Expected: fmt.Sprintf("%v", expected),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func assertAttribute(actx *AssertionContext, a Assertion) error {
	e, err := actx.Harness.entity(actx.Ctx, a.Entity)
	if err != nil {
		return err
	}
	expected, err := ir.FromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("attribute %s.%s: %w", a.Entity, a.Field, err)
	}
	if actual := e.Get(a.Field); !ir.Equal(actual, expected) {
		return &AssertionError{
			Type:     AssertAttribute,
			Subject:  a.Entity + "." + a.Field,
			Expected: fmt.Sprintf("%v", ir.ToAny(expected)),
			Actual:   fmt.Sprintf("%v", ir.ToAny(actual)),
		}
	}
	return nil
}

// assertReciprocal checks that every related entity in memory points back:
// for each relationship of each live entity, the counterpart's reverse
// field contains the entity. Faults are skipped.
func assertReciprocal(g *graph.Graph) error {
	var broken []string
	for _, e := range g.Entities() {
		if e.Removed() {
			continue
		}
		for _, field := range e.EntityType().Relationships() {
			p := e.Proxy(field)
			if p.IsFault() {
				continue
			}
			d := p.Descriptor()
			reverse := d.ReverseName
			if field == d.ReverseName && e.Type() == d.Reverse {
				reverse = d.Name
			}
			for _, id := range p.IDs() {
				other := g.Entity(id)
				if other == nil {
					continue
				}
				rp := other.Proxy(reverse)
				if rp == nil || rp.IsFault() {
					continue
				}
				if !slices.Contains(rp.IDs(), e.ID()) {
					broken = append(broken, fmt.Sprintf("%s.%s -> %s, but %s.%s = %v", e, field, other, other, reverse, rp.IDs()))
				}
			}
		}
	}
	if len(broken) > 0 {
		return &AssertionError{
			Type:     AssertReciprocal,
			Expected: "every relationship mirrored on its counterpart",
			Actual:   strings.Join(broken, "; "),
		}
	}
	return nil
}

func assertPending(actx *AssertionContext, a Assertion) error {
	h := actx.Harness
	count := h.ledger.Pending()
	subject := "ledger"
	if a.Entity != "" {
		id, ok := h.aliases[a.Entity]
		if !ok {
			return fmt.Errorf("unknown alias %q", a.Entity)
		}
		count = len(h.ledger.ForEntity(id))
		subject = a.Entity
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertPending,
			Subject:  subject,
			Expected: fmt.Sprintf("%d pending records", a.Count),
			Actual:   fmt.Sprintf("%d pending records", count),
		}
	}
	return nil
}

func assertFault(actx *AssertionContext, a Assertion) error {
	p, err := actx.Harness.proxy(actx.Ctx, a.Entity, a.Field)
	if err != nil {
		return err
	}
	want, _ := a.Expect.(bool)
	if p.IsFault() != want {
		return &AssertionError{
			Type:     AssertFault,
			Subject:  a.Entity + "." + a.Field,
			Expected: fmt.Sprintf("fault=%t", want),
			Actual:   fmt.Sprintf("fault=%t", p.IsFault()),
		}
	}
	return nil
}

// assertState checks the lifecycle state of an entity. A deleted entity
// has left the graph, so its stored tombstone is consulted.
func assertState(actx *AssertionContext, a Assertion) error {
	h := actx.Harness
	id, ok := h.aliases[a.Entity]
	if !ok {
		return fmt.Errorf("unknown alias %q", a.Entity)
	}

	actual := stateLive
	if e := h.graph.Entity(id); e != nil {
		if e.Removed() {
			actual = stateRemoved
		}
	} else {
		doc, err := h.store.Get(actx.Ctx, id)
		if err != nil {
			return fmt.Errorf("state %s: %w", a.Entity, err)
		}
		if doc.Deleted {
			actual = stateDeleted
		}
	}
	if actual != a.Expect {
		return &AssertionError{
			Type:     AssertState,
			Subject:  a.Entity,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   actual,
		}
	}
	return nil
}

// assertStored compares one field of the stored document. Relationship
// fields are compared by alias; an absent field is null.
func assertStored(actx *AssertionContext, a Assertion) error {
	h := actx.Harness
	id, ok := h.aliases[a.Entity]
	if !ok {
		return fmt.Errorf("unknown alias %q", a.Entity)
	}
	doc, err := h.store.Get(actx.Ctx, id)
	if err != nil {
		return &AssertionError{
			Type:     AssertStored,
			Subject:  a.Entity + "." + a.Field,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   err.Error(),
		}
	}

	var actual any
	if a.Field == changes.DeletedField {
		actual = doc.Deleted
	} else {
		v, ok := doc.Fields[a.Field]
		if !ok {
			v = ir.IRNull{}
		}
		actual = h.present(v, h.isRelationship(doc.Type, a.Field))
		if names, ok := actual.([]string); ok {
			actual = toInterfaces(names)
		}
	}

	if !valuesEqual(normalize(actual), normalize(a.Expect)) {
		return &AssertionError{
			Type:     AssertStored,
			Subject:  a.Entity + "." + a.Field,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

// assertFinalState checks that exactly one row of a store table matches
// Where and holds the expected Columns.
//
// Table and column names must be plain identifiers; values are bound as
// parameters.
func assertFinalState(ctx context.Context, h *Harness, assertion Assertion) error {
	where := make(map[string]ir.IRValue, len(assertion.Where))
	for k, v := range assertion.Where {
		if s, ok := v.(string); ok {
			if id, ok := h.aliases[s]; ok {
				v = id
			}
		}
		val, err := ir.FromAny(v)
		if err != nil {
			return fmt.Errorf("where %s: %w", k, err)
		}
		where[k] = val
	}
	query, whereArgs, err := querysql.Compile(queryir.Select{
		From:   assertion.Table,
		Filter: queryir.Match(where),
	})
	if err != nil {
		return err
	}

	rows, err := h.store.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	whereDesc := formatWhereClause(assertion.Where)
	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	for key, expectedValue := range assertion.Columns {
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("column %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual column values.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// normalize converts YAML-decoded and presented values to a common shape:
// integers become int64 and string slices become []interface{}.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return int64(val)
	case []string:
		return toInterfaces(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			out[k] = normalize(elem)
		}
		return out
	default:
		return v
	}
}

// valuesEqual compares two values for equality.
// Handles nested maps and slices.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
