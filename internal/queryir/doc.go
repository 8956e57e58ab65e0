// Package queryir describes read queries over store tables.
//
// A query is built as a value, checked by Validate and compiled to SQL by
// package querysql. Identifiers (tables and columns) are interpolated into
// the SQL text, so Validate restricts them to plain SQL identifiers; values
// are always bound as parameters.
//
// Query and Predicate are sealed: only types in this package implement
// them, so compilers can switch over them exhaustively.
//
//	switch q := query.(type) {
//	case Select, *Select:
//	    // the only query form
//	}
//
// Values in predicates are ir.IRValue scalars. Floats cannot be expressed,
// and arrays and objects are rejected by Validate since a column holds a
// single scalar.
package queryir
