package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kinship/internal/graph"
)

// CompileModel parses a CUE value into a Model.
//
// The value should be the model struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`model: Car: { collection: "garage", ... }`)
//	m, err := CompileModel(v.LookupPath(cue.ParsePath("model.Car")))
func CompileModel(v cue.Value) (*Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &Model{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		m.Name = labels[len(labels)-1].String()
	}

	collVal := v.LookupPath(cue.ParsePath("collection"))
	if !collVal.Exists() {
		return nil, &CompileError{
			Field:   "collection",
			Message: "collection is required",
			Pos:     v.Pos(),
		}
	}
	coll, err := collVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.Collection = coll

	if idVal := v.LookupPath(cue.ParsePath("id")); idVal.Exists() {
		id, err := idVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.IDField = id
	}

	m.Attributes, err = parseAttributes(v)
	if err != nil {
		return nil, err
	}
	m.Relationships, err = parseRelationships(v)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func parseAttributes(v cue.Value) ([]Attribute, error) {
	var attrs []Attribute

	attrVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrVal.Exists() {
		return attrs, nil
	}
	iter, err := attrVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		typ, err := extractTypeName(iter.Value())
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, Attribute{Name: iter.Label(), Type: typ})
	}
	return attrs, nil
}

func parseRelationships(v cue.Value) ([]Relationship, error) {
	var rels []Relationship

	relVal := v.LookupPath(cue.ParsePath("relationships"))
	if !relVal.Exists() {
		return rels, nil
	}
	iter, err := relVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		rv := iter.Value()
		rel := Relationship{Name: name}

		typeVal := rv.LookupPath(cue.ParsePath("type"))
		if !typeVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relationships.%s.type", name),
				Message: "relationship type is required",
				Pos:     rv.Pos(),
			}
		}
		if rel.Type, err = typeVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
		if rel.Kind, err = graph.ParseKind(rel.Type); err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relationships.%s.type", name),
				Message: err.Error(),
				Pos:     typeVal.Pos(),
			}
		}

		modelVal := rv.LookupPath(cue.ParsePath("model"))
		if !modelVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("relationships.%s.model", name),
				Message: "related model is required",
				Pos:     rv.Pos(),
			}
		}
		if rel.Model, err = modelVal.String(); err != nil {
			return nil, formatCUEError(err)
		}

		if revVal := rv.LookupPath(cue.ParsePath("reverse")); revVal.Exists() {
			if rel.Reverse, err = revVal.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// extractTypeName converts a CUE type to a document type name.
// Floats are forbidden in documents.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
