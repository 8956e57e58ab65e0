package queryir

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/kinship/internal/ir"
)

// ValidIdentifier matches the table and column names a query may use.
// Only alphanumerics and underscore, starting with a letter or underscore.
var ValidIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationResult lists every problem found in a query.
type ValidationResult struct {
	Valid    bool
	Problems []string
}

// Err returns the problems as one error, or nil for a valid query.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return errors.New(strings.Join(r.Problems, "; "))
}

// Validate checks that every identifier in q is a plain SQL identifier and
// that every compared value is a scalar. It reports all problems, not just
// the first.
func Validate(q Query) ValidationResult {
	v := &validator{}
	v.validateQuery(q)
	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) identifier(kind, name string) {
	if !ValidIdentifier.MatchString(name) {
		v.addProblem("invalid %s %q: must match pattern %s", kind, name, ValidIdentifier.String())
	}
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		if query == nil {
			v.addProblem("nil query")
			return
		}
		v.validateSelect(*query)
	case nil:
		v.addProblem("nil query")
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	v.identifier("table name", sel.From)
	for _, col := range sel.Columns {
		v.identifier("column name", col)
	}
	for _, col := range sel.OrderBy {
		v.identifier("order by column", col)
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	case nil:
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}

func (v *validator) validateEquals(eq Equals) {
	v.identifier("column name", eq.Field)
	switch eq.Value.(type) {
	case ir.IRString, ir.IRInt, ir.IRBool, ir.IRNull:
	case nil:
		v.addProblem("column %q: missing value", eq.Field)
	default:
		v.addProblem("column %q: cannot compare against %T", eq.Field, eq.Value)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		v.validatePredicate(sub)
	}
}
