package graph

import (
	"fmt"
	"slices"
)

// Kind is the cardinality pairing of a relationship.
type Kind int

const (
	// OneToOne pairs a single-valued forward side with a single-valued reverse.
	OneToOne Kind = iota + 1
	// OneToMany is the foreign-key shape: the forward side (Car.owner) is
	// single valued and the reverse (Person.cars) is multi valued.
	OneToMany
	// ManyToMany pairs two multi-valued sides.
	ManyToMany
)

// String returns the kind's schema spelling.
func (k Kind) String() string {
	switch k {
	case OneToOne:
		return "one_to_one"
	case OneToMany:
		return "one_to_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a schema spelling of a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "one_to_one":
		return OneToOne, nil
	case "one_to_many":
		return OneToMany, nil
	case "many_to_many":
		return ManyToMany, nil
	default:
		return 0, fmt.Errorf("unknown relationship kind %q", s)
	}
}

// ReversePrefix prefixes a relationship's name to form its default reverse
// field name.
const ReversePrefix = "reverse_"

// RelationshipDescriptor is the static description of one relationship
// between two entity types. It is immutable once installed with Relate.
type RelationshipDescriptor struct {
	Name        string
	ReverseName string
	Kind        Kind
	Forward     string
	Reverse     string
}

func (d *RelationshipDescriptor) forwardMany() bool {
	return d.Kind == ManyToMany
}

func (d *RelationshipDescriptor) reverseMany() bool {
	return d.Kind == OneToMany || d.Kind == ManyToMany
}

func (d *RelationshipDescriptor) key() string {
	return d.Forward + "." + d.Name + "->" + d.Reverse
}

// side is one endpoint of an installed relationship, as seen from the
// entity type that owns the field.
type side struct {
	desc        *RelationshipDescriptor
	field       string
	reverse     string
	owner       string
	target      string
	many        bool
	reverseMany bool
}

// EntityType declares one kind of entity: its store collection, attributes
// and, once relationships are installed, its relationship fields.
type EntityType struct {
	Name       string
	Collection string

	// IDField names the attribute holding the remote identifier.
	// Default: "id".
	IDField    string
	Attributes []string

	sides  map[string]*side
	fields []string
}

// HasAttribute reports whether name is a declared attribute.
func (t *EntityType) HasAttribute(name string) bool {
	return slices.Contains(t.Attributes, name)
}

// Relationships returns the type's relationship field names in
// installation order.
func (t *EntityType) Relationships() []string {
	return slices.Clone(t.fields)
}

// Relationship returns the descriptor installing field, or nil.
func (t *EntityType) Relationship(field string) *RelationshipDescriptor {
	if s, ok := t.sides[field]; ok {
		return s.desc
	}
	return nil
}

// IsMany reports whether field is a multi-valued relationship field.
func (t *EntityType) IsMany(field string) bool {
	s, ok := t.sides[field]
	return ok && s.many
}

func (t *EntityType) fieldTaken(name string) bool {
	if t.HasAttribute(name) {
		return true
	}
	_, ok := t.sides[name]
	return ok
}
