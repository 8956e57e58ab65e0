package schema

import (
	"fmt"

	"github.com/roach88/kinship/internal/graph"
)

// Schema is a compiled set of model definitions.
type Schema struct {
	Models []Model `json:"models" yaml:"models"`
}

// Model declares one entity type and the relationships it owns.
type Model struct {
	Name          string         `json:"name" yaml:"name"`
	Collection    string         `json:"collection" yaml:"collection"`
	IDField       string         `json:"id_field,omitempty" yaml:"id_field,omitempty"`
	Attributes    []Attribute    `json:"attributes" yaml:"attributes"`
	Relationships []Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// Attribute is a declared attribute and its document type name: "string",
// "int", "bool", "array" or "object".
type Attribute struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Relationship is a relationship whose forward side belongs to the model
// that declares it.
type Relationship struct {
	Name    string     `json:"name" yaml:"name"`
	Kind    graph.Kind `json:"-" yaml:"-"`
	Type    string     `json:"type" yaml:"type"`
	Model   string     `json:"model" yaml:"model"`
	Reverse string     `json:"reverse,omitempty" yaml:"reverse,omitempty"`
}

// Model returns the model named name, or nil.
func (s *Schema) Model(name string) *Model {
	for i := range s.Models {
		if s.Models[i].Name == name {
			return &s.Models[i]
		}
	}
	return nil
}

// Install registers every model with g, then installs every relationship,
// in declaration order.
func (s *Schema) Install(g *graph.Graph) error {
	for _, m := range s.Models {
		attrs := make([]string, len(m.Attributes))
		for i, a := range m.Attributes {
			attrs[i] = a.Name
		}
		if _, err := g.Register(graph.EntityType{
			Name:       m.Name,
			Collection: m.Collection,
			IDField:    m.IDField,
			Attributes: attrs,
		}); err != nil {
			return fmt.Errorf("install model %s: %w", m.Name, err)
		}
	}
	for _, m := range s.Models {
		for _, r := range m.Relationships {
			if _, err := g.Relate(graph.RelationshipDescriptor{
				Name:        r.Name,
				ReverseName: r.Reverse,
				Kind:        r.Kind,
				Forward:     m.Name,
				Reverse:     r.Model,
			}); err != nil {
				return fmt.Errorf("install relationship %s.%s: %w", m.Name, r.Name, err)
			}
		}
	}
	return nil
}
