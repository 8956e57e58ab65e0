package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/queryir"
	"github.com/roach88/kinship/internal/querysql"
)

// documentColumns are the columns scanDocument reads, in order.
var documentColumns = []string{"id", "collection", "type", "rev", "deleted", "body"}

// Lookup is the outcome of fetching one identifier.
// Exactly one of Doc and Err is set.
type Lookup struct {
	ID  string
	Doc *Document
	Err error
}

// BulkGet fetches the documents for ids, in the order given.
//
// A missing identifier yields a Lookup with ErrNotFound; a body that cannot
// be decoded yields a Lookup carrying the decode error. Neither fails the
// call. The returned error is reserved for query failures that affect every
// identifier.
func (s *Store) BulkGet(ctx context.Context, ids []string) ([]Lookup, error) {
	if len(ids) == 0 {
		return []Lookup{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, type, rev, deleted, body
		FROM documents
		WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("bulk get: %w", err)
	}
	defer rows.Close()

	found := make(map[string]Lookup, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			var de *decodeError
			if !errors.As(err, &de) {
				return nil, fmt.Errorf("bulk get: scan: %w", err)
			}
			found[de.id] = Lookup{ID: de.id, Err: err}
			continue
		}
		found[doc.ID] = Lookup{ID: doc.ID, Doc: doc}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bulk get: iterate: %w", err)
	}

	out := make([]Lookup, len(ids))
	for i, id := range ids {
		l, ok := found[id]
		if !ok {
			l = Lookup{ID: id, Err: fmt.Errorf("%w: %s", ErrNotFound, id)}
		}
		out[i] = l
	}
	return out, nil
}

// Get fetches a single document. Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection, type, rev, deleted, body
		FROM documents
		WHERE id = ?
	`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return doc, nil
}

// Filter narrows Scan. Empty strings match everything.
type Filter struct {
	Collection string
	Type       string
	// Deleted includes tombstones.
	Deleted bool
}

// List returns the live (not deleted) documents of a collection, optionally
// restricted to one type. Results are ordered by type, then id.
func (s *Store) List(ctx context.Context, collection, typeName string) ([]*Document, error) {
	return s.Scan(ctx, Filter{Collection: collection, Type: typeName})
}

// Scan returns the documents matching f, ordered by type, then id.
func (s *Store) Scan(ctx context.Context, f Filter) ([]*Document, error) {
	var preds []queryir.Predicate
	if f.Collection != "" {
		preds = append(preds, queryir.Equals{Field: "collection", Value: ir.IRString(f.Collection)})
	}
	if f.Type != "" {
		preds = append(preds, queryir.Equals{Field: "type", Value: ir.IRString(f.Type)})
	}
	if !f.Deleted {
		preds = append(preds, queryir.Equals{Field: "deleted", Value: ir.IRBool(false)})
	}

	query, args, err := querysql.Compile(queryir.Select{
		From:    "documents",
		Columns: documentColumns,
		Filter:  queryir.And{Predicates: preds},
		OrderBy: []string{"type", "id"},
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []*Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: iterate: %w", err)
	}
	return docs, nil
}

// LogEntry is one row of the write log.
type LogEntry struct {
	Seq     int64
	ID      string
	Rev     int64
	Deleted bool
	Through int64
}

// WriteLog returns every committed write in commit order.
func (s *Store) WriteLog(ctx context.Context) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, document_id, rev, deleted, through
		FROM write_log
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read write log: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Seq, &e.ID, &e.Rev, &e.Deleted, &e.Through); err != nil {
			return nil, fmt.Errorf("scan write log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read write log: iterate: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type decodeError struct {
	id  string
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode document %s: %v", e.id, e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc  Document
		body string
	)
	if err := row.Scan(&doc.ID, &doc.Collection, &doc.Type, &doc.Rev, &doc.Deleted, &body); err != nil {
		return nil, err
	}
	fields, err := unmarshalBody(body)
	if err != nil {
		return nil, &decodeError{id: doc.ID, err: err}
	}
	doc.Fields = fields
	return &doc, nil
}
