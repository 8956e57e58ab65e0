package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kinship/internal/ir"
)

func TestValidate_ValidQuery(t *testing.T) {
	query := Select{
		From:    "documents",
		Columns: []string{"id", "rev"},
		Filter: And{Predicates: []Predicate{
			Equals{Field: "collection", Value: ir.IRString("people")},
			Equals{Field: "deleted", Value: ir.IRBool(false)},
			Equals{Field: "rev", Value: ir.IRInt(2)},
			Equals{Field: "body", Value: ir.IRNull{}},
		}},
		OrderBy: []string{"type", "id"},
	}

	result := Validate(query)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Problems)
	assert.NoError(t, result.Err())
}

func TestValidate_Pointers(t *testing.T) {
	query := &Select{
		From:   "documents",
		Filter: &And{Predicates: []Predicate{&Equals{Field: "id", Value: ir.IRString("e-1")}}},
	}
	assert.True(t, Validate(query).Valid)
}

func TestValidate_Identifiers(t *testing.T) {
	tests := []struct {
		name    string
		query   Select
		problem string
	}{
		{"table injection", Select{From: "documents; DROP TABLE documents; --"}, "invalid table name"},
		{"empty table", Select{From: ""}, "invalid table name"},
		{"column with space", Select{From: "documents", Columns: []string{"doc id"}}, "invalid column name"},
		{"column starts with digit", Select{From: "documents", Filter: Equals{Field: "1column", Value: ir.IRInt(1)}}, "invalid column name"},
		{"column with hyphen", Select{From: "documents", Filter: Equals{Field: "doc-id", Value: ir.IRInt(1)}}, "invalid column name"},
		{"order by", Select{From: "documents", OrderBy: []string{"id DESC"}}, "invalid order by column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.query)
			assert.False(t, result.Valid)
			require.Len(t, result.Problems, 1)
			assert.Contains(t, result.Problems[0], tt.problem)
			assert.Contains(t, result.Problems[0], ValidIdentifier.String())
		})
	}
}

func TestValidate_NonScalarValues(t *testing.T) {
	query := Select{
		From: "documents",
		Filter: And{Predicates: []Predicate{
			Equals{Field: "tags", Value: ir.IRArray{ir.IRString("a")}},
			Equals{Field: "body", Value: ir.IRObject{}},
			Equals{Field: "id"},
		}},
	}

	result := Validate(query)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{
		`column "tags": cannot compare against ir.IRArray`,
		`column "body": cannot compare against ir.IRObject`,
		`column "id": missing value`,
	}, result.Problems)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	query := Select{
		From:    "bad table",
		Columns: []string{"ok", "not ok"},
		Filter:  Equals{Field: "x-y", Value: ir.IRArray{}},
	}

	result := Validate(query)
	assert.Len(t, result.Problems, 4)

	err := result.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid table name "bad table"`)
	assert.Contains(t, err.Error(), "; ")
}

func TestValidate_NilQuery(t *testing.T) {
	assert.Equal(t, []string{"nil query"}, Validate(nil).Problems)

	var sel *Select
	assert.Equal(t, []string{"nil query"}, Validate(sel).Problems)
}

func TestMatch(t *testing.T) {
	assert.Nil(t, Match(nil))

	pred := Match(map[string]ir.IRValue{
		"type": ir.IRString("Car"),
		"id":   ir.IRString("e-1"),
	})
	assert.Equal(t, And{Predicates: []Predicate{
		Equals{Field: "id", Value: ir.IRString("e-1")},
		Equals{Field: "type", Value: ir.IRString("Car")},
	}}, pred)
}
