// Package harness runs YAML scenarios against an object graph backed by a
// private in-memory store.
//
// A scenario declares its models (inline CUE or a schema directory), drives
// the graph through steps and asserts on the resulting relationships, the
// change ledger and the stored documents.
//
// # Scenario Format
//
//	name: owner_handoff
//	description: "Moving a car between owners updates both people"
//	schema: |
//	  model: Person: {collection: "people", attributes: {name: string}}
//	  model: Car: {
//	    collection: "cars"
//	    attributes: {name: string}
//	    relationships: owner: {type: "one_to_many", model: "Person", reverse: "cars"}
//	  }
//	steps:
//	  - {op: new, type: Person, as: ada, attrs: {name: Ada}}
//	  - {op: new, type: Car, as: mini, attrs: {name: Mini}}
//	  - {op: link, entity: mini, field: owner, to: ada}
//	  - {op: save}
//	assertions:
//	  - {type: related, entity: ada, field: cars, expect: [mini]}
//	  - {type: stored, entity: mini, field: owner, expect: ada}
//	  - {type: pending, count: 0}
//
// # Assertion Types
//
//   - related: the entities related through a field, by alias
//   - attribute: an attribute value in memory
//   - reciprocal: every resolved relationship is mirrored on its counterpart
//   - pending: the number of records the ledger holds
//   - fault: whether a relationship is still unresolved
//   - state: live, removed or deleted
//   - stored: a field of the stored document
//   - final_state: a raw query against a store table
//
// # Deterministic Testing
//
// Entities are numbered e-1, e-2, ... and records rec-1, rec-2, ... in
// creation order, and every scenario gets a fresh database. Traces and
// stored documents are rendered with aliases in place of identifiers, so
// runs are byte-identical and can be compared against golden files.
package harness
