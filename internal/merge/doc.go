// Package merge persists pending change records through a strictly serial
// queue.
//
// Each task runs the same pipeline: snapshot the ledger, bulk-fetch the
// documents it names, replay each document's records in sequence order and
// bulk-write the results. A document that fails at any stage is left out of
// the write and reported in a *MergeError; its records stay in the ledger for
// the next attempt. Other documents in the batch are unaffected.
//
// Documents are written with Through set to the last replayed sequence, so
// the ledger's write observer clears only what this merge folded in.
//
// Tasks are futures: Wait, Done and Result observe completion, Cancel works
// until the worker picks the task up, and an optional callback fires once.
package merge
