package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/kinship/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on documents(collection, type)
const currentSchemaVersion = 1

var (
	// ErrNotFound is reported for identifiers with no stored document.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is reported when a document's revision does not match the
	// stored revision.
	ErrConflict = errors.New("document revision conflict")
)

// Document is one stored entity.
type Document struct {
	ID         string
	Collection string
	Type       string
	Rev        int64
	Deleted    bool
	Fields     ir.IRObject

	// Through is the highest change sequence folded into this document by
	// the writer. Zero means the writer is not replaying tracked changes.
	// Not persisted; it is forwarded to write observers.
	Through int64
}

// NewDocument returns an empty, never-written document.
func NewDocument(id, collection, typeName string) *Document {
	return &Document{
		ID:         id,
		Collection: collection,
		Type:       typeName,
		Fields:     ir.IRObject{},
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	cp := *d
	cp.Fields = d.Fields.Clone()
	if cp.Fields == nil {
		cp.Fields = ir.IRObject{}
	}
	return &cp
}

// WriteEvent describes one committed document write.
type WriteEvent struct {
	ID         string
	Collection string
	Type       string
	Rev        int64
	Deleted    bool
	Through    int64
}

// Store provides durable document storage.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB

	mu        sync.Mutex
	observers map[int]func(WriteEvent)
	nextObs   int
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
// Pass ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, observers: make(map[int]func(WriteEvent))}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Observe registers fn to be called after every committed document write.
// The returned function unregisters it.
func (s *Store) Observe(fn func(WriteEvent)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notify(events []WriteEvent) {
	s.mu.Lock()
	fns := make([]func(WriteEvent), 0, len(s.observers))
	for i := 0; i < s.nextObs; i++ {
		if fn, ok := s.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_documents_collection_type
			ON documents(collection, type)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Query executes a read query against the underlying database.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}
