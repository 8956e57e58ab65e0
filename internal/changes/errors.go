package changes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/kinship/internal/ir"
)

// StaleChangeError reports that a stored document no longer matches the
// value a record captured before its mutation. The in-memory graph and the
// store have diverged for that field; the record stays pending.
type StaleChangeError struct {
	RecordID string
	Entity   string
	Field    string
	Kind     Kind
	Expected ir.IRValue
	Actual   ir.IRValue
	Reason   string
}

// Error implements the error interface.
func (e *StaleChangeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("stale %s change on %s.%s: %s", e.Kind, e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("stale %s change on %s.%s: expected %s, stored %s",
		e.Kind, e.Entity, e.Field, render(e.Expected), render(e.Actual))
}

// IsStale reports whether err is or wraps a StaleChangeError.
func IsStale(err error) bool {
	var se *StaleChangeError
	return errors.As(err, &se)
}

// RegisterError reports a record that cannot be filed in the ledger.
type RegisterError struct {
	Missing []string
}

// Error implements the error interface.
func (e *RegisterError) Error() string {
	return "register change: missing " + strings.Join(e.Missing, ", ")
}

func render(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
