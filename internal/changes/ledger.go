package changes

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/kinship/internal/store"
)

// Ledger accumulates not-yet-persisted records, indexed by
// collection -> type -> entity id.
//
// Thread-safety: all methods are safe for concurrent use. Graph mutation
// appends from the caller's goroutine while the merge worker snapshots and
// the store write observer clears.
type Ledger struct {
	mu      sync.Mutex
	clock   *Clock
	newID   func() string
	logger  *slog.Logger
	buckets map[string]map[string]map[string][]*Record
	where   map[string]location
}

type location struct {
	collection string
	typeName   string
}

// Batch is the pending records of one entity, in sequence order.
type Batch struct {
	Collection string
	Type       string
	Entity     string
	Records    []*Record
}

// Through returns the sequence of the last record in the batch.
func (b Batch) Through() int64 {
	if len(b.Records) == 0 {
		return 0
	}
	return b.Records[len(b.Records)-1].Seq
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the sequence clock. Default: NewClock().
func WithClock(c *Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithIDGenerator sets the record id generator. Default: ULIDs.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		l.newID = fn
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New returns an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		clock:  NewClock(),
		newID:  func() string { return ulid.Make().String() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.reset()
	return l
}

// Reset discards every pending record. The clock keeps counting.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := l.pending()
	l.reset()
	l.logger.Debug("ledger reset", "dropped", dropped, "seq", l.clock.Current())
}

func (l *Ledger) reset() {
	l.buckets = make(map[string]map[string]map[string][]*Record)
	l.where = make(map[string]location)
}

// Register stamps rec with an id and the next sequence number and appends it
// to its entity's bucket. Collection, Type and Entity are required.
func (l *Ledger) Register(rec Record) (*Record, error) {
	var missing []string
	if rec.Collection == "" {
		missing = append(missing, "collection")
	}
	if rec.Type == "" {
		missing = append(missing, "type")
	}
	if rec.Entity == "" {
		missing = append(missing, "entity id")
	}
	if len(missing) > 0 {
		return nil, &RegisterError{Missing: missing}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r := rec
	r.ID = l.newID()
	r.Seq = l.clock.Next()

	byType, ok := l.buckets[r.Collection]
	if !ok {
		byType = make(map[string]map[string][]*Record)
		l.buckets[r.Collection] = byType
	}
	byID, ok := byType[r.Type]
	if !ok {
		byID = make(map[string][]*Record)
		byType[r.Type] = byID
	}
	byID[r.Entity] = append(byID[r.Entity], &r)
	l.where[r.Entity] = location{collection: r.Collection, typeName: r.Type}

	l.logger.Debug("change registered",
		"seq", r.Seq,
		"kind", r.Kind.String(),
		"entity", r.Entity,
		"field", r.Field,
	)
	return &r, nil
}

// Snapshot returns the pending records grouped by entity. Batches are
// ordered by the sequence of their first record.
func (l *Ledger) Snapshot() []Batch {
	l.mu.Lock()
	defer l.mu.Unlock()

	batches := make([]Batch, 0, len(l.where))
	for id, loc := range l.where {
		recs := l.buckets[loc.collection][loc.typeName][id]
		batches = append(batches, Batch{
			Collection: loc.collection,
			Type:       loc.typeName,
			Entity:     id,
			Records:    slices.Clone(recs),
		})
	}
	slices.SortFunc(batches, func(a, b Batch) int {
		return cmp.Compare(a.Records[0].Seq, b.Records[0].Seq)
	})
	return batches
}

// Pending returns the number of pending records.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending()
}

func (l *Ledger) pending() int {
	n := 0
	for id, loc := range l.where {
		n += len(l.buckets[loc.collection][loc.typeName][id])
	}
	return n
}

// All returns every pending record in sequence order.
func (l *Ledger) All() []*Record {
	var all []*Record
	for _, b := range l.Snapshot() {
		all = append(all, b.Records...)
	}
	slices.SortFunc(all, func(a, b *Record) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return all
}

// ForEntity returns the pending records of one entity in sequence order.
func (l *Ledger) ForEntity(id string) []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	loc, ok := l.where[id]
	if !ok {
		return nil
	}
	return slices.Clone(l.buckets[loc.collection][loc.typeName][id])
}

// ClearThrough drops an entity's records with sequence <= through and
// returns how many were dropped. A through of 0 drops all of them: the
// document was written by someone who was not replaying this ledger.
func (l *Ledger) ClearThrough(id string, through int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	loc, ok := l.where[id]
	if !ok {
		return 0
	}
	byID := l.buckets[loc.collection][loc.typeName]
	recs := byID[id]

	var keep []*Record
	if through > 0 {
		for _, r := range recs {
			if r.Seq > through {
				keep = append(keep, r)
			}
		}
	}
	dropped := len(recs) - len(keep)

	if len(keep) == 0 {
		delete(byID, id)
		delete(l.where, id)
		if len(byID) == 0 {
			delete(l.buckets[loc.collection], loc.typeName)
		}
		if len(l.buckets[loc.collection]) == 0 {
			delete(l.buckets, loc.collection)
		}
	} else {
		byID[id] = keep
	}
	return dropped
}

// WriteNotifier is the write notification stream of a document store.
type WriteNotifier interface {
	Observe(fn func(store.WriteEvent)) (cancel func())
}

// Attach clears ledger entries whenever s reports a committed write.
// The returned function detaches the ledger.
func (l *Ledger) Attach(s WriteNotifier) (detach func()) {
	return s.Observe(func(ev store.WriteEvent) {
		if n := l.ClearThrough(ev.ID, ev.Through); n > 0 {
			l.logger.Debug("changes cleared by write",
				"entity", ev.ID,
				"rev", ev.Rev,
				"through", ev.Through,
				"cleared", n,
			)
		}
	})
}
