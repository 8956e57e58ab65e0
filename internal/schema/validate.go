package schema

import (
	"cmp"
	"fmt"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/graph"
)

// ValidationError represents a schema rule violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks cross-model rules that CompileModel cannot see on its own.
// Returns all errors found (does not fail-fast).
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError

	// fields[model][field] is set for every attribute and relationship side.
	fields := make(map[string]map[string]string)
	for _, m := range s.Models {
		if fields[m.Name] != nil {
			errs = append(errs, ValidationError{
				Field:   "model." + m.Name,
				Message: "model defined twice",
				Code:    ErrCodeDuplicate,
			})
			continue
		}
		fields[m.Name] = make(map[string]string)
		if m.Collection == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("model.%s.collection", m.Name),
				Message: "collection must be non-empty",
				Code:    ErrCodeCollection,
			})
		}
		for _, a := range m.Attributes {
			if a.Name == changes.DeletedField {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("model.%s.attributes.%s", m.Name, a.Name),
					Message: "attribute name is reserved",
					Code:    ErrCodeDuplicate,
				})
				continue
			}
			fields[m.Name][a.Name] = "attribute"
		}
		fields[m.Name][cmp.Or(m.IDField, "id")] = "attribute"
	}

	claim := func(model, field, owner string) {
		if prev, ok := fields[model][field]; ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("model.%s.%s", model, field),
				Message: fmt.Sprintf("%s collides with %s", owner, prev),
				Code:    ErrCodeDuplicate,
			})
			return
		}
		fields[model][field] = owner
	}

	for _, m := range s.Models {
		for _, r := range m.Relationships {
			where := fmt.Sprintf("model.%s.relationships.%s", m.Name, r.Name)
			if _, ok := fields[r.Model]; !ok {
				errs = append(errs, ValidationError{
					Field:   where + ".model",
					Message: fmt.Sprintf("undefined model %q", r.Model),
					Code:    ErrCodeUnknownModel,
				})
				continue
			}
			reverse := r.Reverse
			if reverse == "" {
				reverse = graph.ReversePrefix + r.Name
			}
			claim(m.Name, r.Name, "relationship "+where)
			claim(r.Model, reverse, "reverse of "+where)
		}
	}
	return errs
}
