// Package ir defines the value types stored in kinship documents.
//
// ir is the foundational layer: every other internal package imports it and
// it imports nothing internal. A document body is an IRObject whose values
// are attributes or relationship identifiers.
//
// Constraints:
//   - no float types; numbers are int64
//   - null (IRNull) marks a relationship known to be empty
//   - canonical JSON (RFC 8785) is the only on-disk encoding
package ir
