package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/store"
)

// Store is the document store a Queue merges into.
// Implemented by *store.Store.
type Store interface {
	BulkGet(ctx context.Context, ids []string) ([]store.Lookup, error)
	BulkPut(ctx context.Context, docs []*store.Document) ([]store.WriteResult, error)
}

// Queue drains a change ledger into a document store, one merge at a time.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// Merges never overlap: a merge reads the ledger, replays it onto fetched
// documents and writes them back before the next task is dequeued. Ledger
// entries are cleared by the store's write notification, which the ledger
// receives through Attach.
type Queue struct {
	ledger  *changes.Ledger
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	tasks   *taskQueue
	nextID  atomic.Uint64
	running atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithTimeout bounds the store calls of a single merge. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.timeout = d
	}
}

// NewQueue creates a queue merging ledger into s.
func NewQueue(ledger *changes.Ledger, s Store, opts ...Option) *Queue {
	q := &Queue{
		ledger: ledger,
		store:  s,
		logger: slog.Default(),
		tasks:  newTaskQueue(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules a merge of everything pending in the ledger when the
// task starts. onDone, if not nil, is called exactly once with the result,
// from the Run goroutine (or from the caller's goroutine if the task is
// cancelled or the queue is closed).
func (q *Queue) Enqueue(onDone func(Result)) *Task {
	t := newTask(q.nextID.Add(1), onDone)
	if !q.tasks.Enqueue(t) {
		t.state = taskRunning
		t.finish(Result{Err: ErrClosed})
	}
	return t
}

// Pending returns the number of tasks waiting to start.
func (q *Queue) Pending() int {
	return q.tasks.Len()
}

// Run processes tasks until ctx is cancelled or Stop is called.
//
// A merge that has started runs to completion: its store calls use a
// context detached from ctx's cancellation. Tasks still queued when Run
// returns finish with ErrClosed.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return errors.New("merge queue is already running")
	}
	defer q.running.Store(false)

	q.logger.Info("merge queue starting")
	for {
		if t, ok := q.tasks.TryDequeue(); ok {
			if t.start() {
				t.finish(q.run(ctx, t))
			}
			continue
		}

		select {
		case <-ctx.Done():
			q.logger.Info("merge queue stopping: context cancelled")
			q.Stop()
			return ctx.Err()

		case <-q.tasks.Wait():
			if q.tasks.Len() == 0 && q.closed() {
				q.logger.Info("merge queue stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the current merge, if any, ends.
func (q *Queue) Stop() {
	for _, t := range q.tasks.Close() {
		if t.start() {
			t.finish(Result{Err: ErrClosed})
		}
	}
}

func (q *Queue) closed() bool {
	q.tasks.mu.Lock()
	defer q.tasks.mu.Unlock()
	return q.tasks.closed
}

func (q *Queue) run(ctx context.Context, t *Task) Result {
	mctx := context.WithoutCancel(ctx)
	if q.timeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(mctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	res := q.merge(mctx)

	attrs := []any{
		"task", t.ID(),
		"written", len(res.Written),
		"duration", time.Since(start),
	}
	var merr *MergeError
	switch {
	case res.Err == nil:
		q.logger.Info("merge complete", attrs...)
	case errors.As(res.Err, &merr):
		for _, f := range merr.Failures {
			q.logger.Warn("document not merged",
				"task", t.ID(),
				"entity", f.ID,
				"stage", f.Stage,
				"error", f.Err,
			)
		}
		q.logger.Warn("merge partially failed", append(attrs, "failed", len(merr.Failures))...)
	default:
		q.logger.Error("merge failed", append(attrs, "error", res.Err)...)
	}
	return res
}

// merge performs snapshot, fetch, replay and write for one task.
func (q *Queue) merge(ctx context.Context) Result {
	batches := q.ledger.Snapshot()
	if len(batches) == 0 {
		return Result{}
	}

	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.Entity
	}
	lookups, err := q.store.BulkGet(ctx, ids)
	if err != nil {
		return Result{Err: fmt.Errorf("merge: fetch: %w", err)}
	}

	merr := &MergeError{Attempted: len(batches)}
	docs := make([]*store.Document, 0, len(batches))
	for i, b := range batches {
		lookup := lookups[i]
		base := lookup.Doc
		switch {
		case lookup.Err == nil:
		case errors.Is(lookup.Err, store.ErrNotFound):
			// Never written: replay onto an empty document.
			base = store.NewDocument(b.Entity, b.Collection, b.Type)
		default:
			merr.add(b.Entity, StageFetch, lookup.Err)
			continue
		}

		doc, err := changes.Replay(base, b.Records)
		if err != nil {
			merr.add(b.Entity, StageApply, err)
			continue
		}
		doc.Through = b.Through()
		docs = append(docs, doc)
	}

	var written []Written
	if len(docs) > 0 {
		results, err := q.store.BulkPut(ctx, docs)
		if err != nil {
			return Result{Err: fmt.Errorf("merge: write: %w", err)}
		}
		for i, r := range results {
			if r.Err != nil {
				merr.add(r.ID, StageWrite, r.Err)
				continue
			}
			written = append(written, Written{ID: r.ID, Rev: r.Rev, Deleted: docs[i].Deleted})
		}
	}

	res := Result{Written: written}
	if len(merr.Failures) > 0 {
		res.Err = merr
	}
	return res
}
