package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WriteResult reports the outcome of writing one document.
// Err is nil when the document was written at revision Rev.
type WriteResult struct {
	ID  string
	Rev int64
	Err error
}

// BulkPut writes docs in a single transaction.
//
// Each document's Rev must equal the stored revision (0 for a document that
// does not exist yet); otherwise that document's result carries ErrConflict
// and the rest of the batch is still written. On success the document's Rev
// is advanced in place.
//
// Observers are notified after commit, in batch order, for each written
// document. The returned error is reserved for failures that abort the
// whole transaction, in which case nothing is written or notified.
func (s *Store) BulkPut(ctx context.Context, docs []*Document) ([]WriteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("bulk put: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	results := make([]WriteResult, len(docs))
	events := make([]WriteEvent, 0, len(docs))
	for i, d := range docs {
		results[i].ID = d.ID
		if d.ID == "" {
			results[i].Err = errors.New("document id is required")
			continue
		}

		body, err := marshalBody(d.Fields)
		if err != nil {
			results[i].Err = fmt.Errorf("write %s: %w", d.ID, err)
			continue
		}

		var current int64
		err = tx.QueryRowContext(ctx, `SELECT rev FROM documents WHERE id = ?`, d.ID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("bulk put: read rev %s: %w", d.ID, err)
		}
		if current != d.Rev {
			results[i].Err = fmt.Errorf("%w: %s at rev %d, stored rev %d", ErrConflict, d.ID, d.Rev, current)
			continue
		}

		rev := current + 1
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, collection, type, rev, deleted, body)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				collection = excluded.collection,
				type = excluded.type,
				rev = excluded.rev,
				deleted = excluded.deleted,
				body = excluded.body
		`, d.ID, d.Collection, d.Type, rev, d.Deleted, body); err != nil {
			return nil, fmt.Errorf("bulk put: write %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO write_log (document_id, rev, deleted, through)
			VALUES (?, ?, ?, ?)
		`, d.ID, rev, d.Deleted, d.Through); err != nil {
			return nil, fmt.Errorf("bulk put: log %s: %w", d.ID, err)
		}

		results[i].Rev = rev
		events = append(events, WriteEvent{
			ID:         d.ID,
			Collection: d.Collection,
			Type:       d.Type,
			Rev:        rev,
			Deleted:    d.Deleted,
			Through:    d.Through,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("bulk put: commit: %w", err)
	}
	committed = true

	for i, r := range results {
		if r.Err == nil {
			docs[i].Rev = r.Rev
		}
	}
	s.notify(events)
	return results, nil
}

// Put writes a single document. See BulkPut for revision semantics.
func (s *Store) Put(ctx context.Context, doc *Document) error {
	results, err := s.BulkPut(ctx, []*Document{doc})
	if err != nil {
		return err
	}
	return results[0].Err
}
