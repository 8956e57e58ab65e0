// Package changes records entity mutations as replayable change records and
// accumulates them until they are merged into the document store.
//
// A Record describes one mutation of one field of one entity:
//
//   - KindSet replaces a field value (attribute, identifier, or identifier list)
//   - KindSplice edits an identifier list at an index
//   - KindDelete removes one identifier from an identifier list by value
//
// Records carry the stored representation of the values involved, so Apply
// can verify that the stored document still matches what the in-memory graph
// believed before the mutation. A mismatch is a StaleChangeError and leaves
// the document untouched.
//
// The Ledger indexes pending records by collection, type and entity id. It is
// cleared per entity when the store reports a write of that entity, using the
// Through sequence carried by the write notification so records appended while
// a merge was in flight survive.
package changes
