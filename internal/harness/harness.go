package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/graph"
	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/merge"
	"github.com/roach88/kinship/internal/schema"
	"github.com/roach88/kinship/internal/store"
	"github.com/roach88/kinship/internal/testutil"
)

// saveTimeout bounds how long a save step waits for its merge.
const saveTimeout = 10 * time.Second

// Harness is the scenario execution engine.
// It runs one scenario against a private in-memory store with
// deterministic entity and record identifiers.
type Harness struct {
	schema *schema.Schema
	store  *store.Store
	ledger *changes.Ledger
	queue  *merge.Queue
	ids    *testutil.SequentialIDs
	logger *slog.Logger

	mergeTimeout time.Duration

	graph    *graph.Graph
	unlisten func()

	aliases map[string]string // alias -> local id
	names   map[string]string // local id -> alias
	remote  map[string]string // local id -> "Type/remote"
	entries []entry
	result  *Result
}

// entry is a change record or a save, rendered into the trace once every
// alias is bound.
type entry struct {
	rec     *changes.Record
	save    bool
	written []string
	failed  []string
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger used by the graph, ledger and merge queue.
// Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithMergeTimeout bounds the store calls of each merge the scenario's
// saves trigger. Zero means no bound.
func WithMergeTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.mergeTimeout = d
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Compile the scenario's schema
// 2. Open the store, ledger and merge queue, and start the queue
// 3. Execute steps, stopping at the first unexpected outcome
// 4. Evaluate assertions
//
// The returned error is reserved for failures to set the run up; step and
// assertion failures are reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	s, err := compileSchema(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(s, st, opts...)
	defer h.ledger.Attach(st)()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = h.queue.Run(ctx)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	if err := h.reload(); err != nil {
		return nil, err
	}
	defer func() { h.unlisten() }()

	if h.executeSteps(ctx, scenario.Steps) {
		actx := &AssertionContext{Ctx: ctx, Harness: h}
		for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
			h.result.AddError(msg)
		}
	}
	h.result.Trace = h.trace()
	docs, err := h.documents(ctx)
	if err != nil {
		return nil, err
	}
	h.result.Documents = docs
	return h.result, nil
}

// newHarness wires a ledger and merge queue over st. The queue is not
// started.
func newHarness(s *schema.Schema, st *store.Store, opts ...Option) *Harness {
	h := &Harness{
		schema:  s,
		store:   st,
		ids:     testutil.NewSequentialIDs("e"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		aliases: make(map[string]string),
		names:   make(map[string]string),
		remote:  make(map[string]string),
		result:  NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.ledger = changes.New(
		changes.WithIDGenerator(testutil.NewSequentialIDs("rec").Generate),
		changes.WithLogger(h.logger),
	)
	h.queue = merge.NewQueue(h.ledger, st,
		merge.WithLogger(h.logger),
		merge.WithTimeout(h.mergeTimeout),
	)
	return h
}

func compileSchema(scenario *Scenario) (*schema.Schema, error) {
	var (
		s    *schema.Schema
		errs []error
	)
	if scenario.Schema != "" {
		s, errs = schema.Compile(scenario.Name+".cue", scenario.Schema, schema.LoadModeCollectAll)
	} else {
		var res *schema.Result
		res, errs = schema.Load(scenario.SchemaDir, schema.LoadModeCollectAll)
		if res != nil {
			s = res.Schema
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to compile schema: %w", errors.Join(errs...))
	}
	return s, nil
}

// reload replaces the graph with a fresh one over the same store, ledger
// and queue. Aliases keep naming the same local identifiers.
func (h *Harness) reload() error {
	if h.unlisten != nil {
		h.unlisten()
	}
	g := graph.New(
		graph.WithLedger(h.ledger),
		graph.WithIDGenerator(h.ids),
		graph.WithSource(h.store),
		graph.WithQueue(h.queue),
		graph.WithLogger(h.logger),
	)
	if err := h.schema.Install(g); err != nil {
		return fmt.Errorf("failed to install schema: %w", err)
	}
	h.graph = g
	h.unlisten = g.Listen(func(r *changes.Record) {
		if e := g.Entity(r.Entity); e != nil && e.RemoteID() != "" {
			h.remote[r.Entity] = e.Type() + "/" + e.RemoteID()
		}
		h.entries = append(h.entries, entry{rec: r})
	})
	return nil
}

// executeSteps runs steps in order. It returns false when a step did not
// behave as expected; the failure is recorded in the result.
func (h *Harness) executeSteps(ctx context.Context, steps []Step) bool {
	for i, step := range steps {
		err := h.execute(ctx, step)
		switch {
		case step.ExpectError != "" && err == nil:
			h.result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got none", i, step.Op, step.ExpectError))
			return false
		case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
			h.result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %v", i, step.Op, step.ExpectError, err))
			return false
		case step.ExpectError == "" && err != nil:
			h.result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Op, err))
			return false
		}
		h.logger.Debug("step completed", "step", i, "op", step.Op, "error", err)
	}
	return true
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Op {
	case OpNew:
		attrs, err := toObject(step.Attrs)
		if err != nil {
			return err
		}
		e, err := h.graph.New(step.Type, attrs)
		if err != nil {
			return err
		}
		return h.bind(step.As, e)

	case OpMap:
		raw, err := toObject(step.Raw)
		if err != nil {
			return err
		}
		e, err := h.graph.CreateOrUpdate(step.Type, raw)
		if err != nil {
			return err
		}
		return h.bind(step.As, e)

	case OpSet:
		e, err := h.entity(ctx, step.Entity)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(step.Attrs))
		for k := range step.Attrs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			v, err := ir.FromAny(step.Attrs[k])
			if err != nil {
				return fmt.Errorf("attribute %q: %w", k, err)
			}
			if err := e.Set(k, v); err != nil {
				return err
			}
		}
		return nil

	case OpLink:
		p, err := h.proxy(ctx, step.Entity, step.Field)
		if err != nil {
			return err
		}
		value, err := h.target(ctx, step.To)
		if err != nil {
			return err
		}
		return p.Set(value)

	case OpAppend, OpInsert, OpRemoveMember, OpSplice, OpClear:
		return h.editCollection(ctx, step)

	case OpRemove:
		e, err := h.entity(ctx, step.Entity)
		if err != nil {
			return err
		}
		return e.Remove()

	case OpRestore:
		e, err := h.entity(ctx, step.Entity)
		if err != nil {
			return err
		}
		return e.Restore()

	case OpResolve:
		p, err := h.proxy(ctx, step.Entity, step.Field)
		if err != nil {
			return err
		}
		switch p := p.(type) {
		case *graph.SingleProxy:
			_, err = p.Get(ctx)
		case *graph.ManyProxy:
			_, err = p.Get(ctx)
		}
		return err

	case OpSave:
		return h.save(ctx)

	case OpReload:
		return h.reload()

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) editCollection(ctx context.Context, step Step) error {
	p, err := h.proxy(ctx, step.Entity, step.Field)
	if err != nil {
		return err
	}
	mp, ok := p.(*graph.ManyProxy)
	if !ok {
		return fmt.Errorf("%s of %s is not a collection", step.Field, step.Entity)
	}
	coll, err := mp.Get(ctx)
	if err != nil {
		return err
	}
	members, err := h.members(ctx, step.To)
	if err != nil {
		return err
	}

	switch step.Op {
	case OpAppend:
		return coll.Append(members...)
	case OpInsert:
		return coll.Insert(step.Index, members...)
	case OpRemoveMember:
		for _, e := range members {
			if err := coll.Remove(e); err != nil {
				return err
			}
		}
		return nil
	case OpSplice:
		_, err := coll.Splice(step.Index, step.Count, members...)
		return err
	default:
		return coll.Clear()
	}
}

func (h *Harness) save(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	res, err := h.graph.Save(nil).Wait(wctx)
	if err != nil {
		return fmt.Errorf("waiting for save: %w", err)
	}

	e := entry{save: true}
	for _, w := range res.Written {
		e.written = append(e.written, w.ID)
	}
	var me *merge.MergeError
	if errors.As(res.Err, &me) {
		e.failed = me.Failed()
	}
	h.entries = append(h.entries, e)
	return res.Err
}

func (h *Harness) bind(alias string, e *graph.Entity) error {
	if prev, ok := h.aliases[alias]; ok && prev != e.ID() {
		return fmt.Errorf("alias %q already names %s", alias, prev)
	}
	h.aliases[alias] = e.ID()
	h.names[e.ID()] = alias
	return nil
}

// entity returns the live entity named by ref, loading it from the store
// if the current graph has not seen it. ref is an alias, or "Type/remote"
// for an entity that was mapped without one.
func (h *Harness) entity(ctx context.Context, ref string) (*graph.Entity, error) {
	if typeName, remote, ok := strings.Cut(ref, "/"); ok {
		if e := h.graph.Lookup(typeName, remote); e != nil {
			return e, nil
		}
		return nil, fmt.Errorf("no %s with remote id %q in memory", typeName, remote)
	}

	id, ok := h.aliases[ref]
	if !ok {
		return nil, fmt.Errorf("unknown alias %q", ref)
	}
	if e := h.graph.Entity(id); e != nil {
		return e, nil
	}
	loaded, err := h.graph.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("entity %q: %w", ref, err)
	}
	return loaded[0], nil
}

func (h *Harness) proxy(ctx context.Context, ref, field string) (graph.Proxy, error) {
	e, err := h.entity(ctx, ref)
	if err != nil {
		return nil, err
	}
	p := e.Proxy(field)
	if p == nil {
		return nil, fmt.Errorf("%s has no relationship %q", e.Type(), field)
	}
	return p, nil
}

// target converts a step's "to" into what Proxy.Set accepts: nil, an
// *Entity for a single alias or []*Entity for a list.
func (h *Harness) target(ctx context.Context, to interface{}) (any, error) {
	switch v := to.(type) {
	case nil:
		return nil, nil
	case string:
		return h.entity(ctx, v)
	case []interface{}:
		return h.members(ctx, v)
	default:
		return nil, fmt.Errorf("to: unsupported value %T", to)
	}
}

func (h *Harness) members(ctx context.Context, to interface{}) ([]*graph.Entity, error) {
	var refs []interface{}
	switch v := to.(type) {
	case nil:
		return nil, nil
	case string:
		refs = []interface{}{v}
	case []interface{}:
		refs = v
	default:
		return nil, fmt.Errorf("to: unsupported value %T", to)
	}

	out := make([]*graph.Entity, len(refs))
	for i, ref := range refs {
		s, ok := ref.(string)
		if !ok {
			return nil, fmt.Errorf("to[%d]: expected an alias, got %T", i, ref)
		}
		e, err := h.entity(ctx, s)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// name returns the alias of a local id, "Type/remote" for an unaliased
// entity with a remote id, or the id itself.
func (h *Harness) name(id string) string {
	if alias, ok := h.names[id]; ok {
		return alias
	}
	if e := h.graph.Entity(id); e != nil && e.RemoteID() != "" {
		return e.Type() + "/" + e.RemoteID()
	}
	if r, ok := h.remote[id]; ok {
		return r
	}
	return id
}

func (h *Harness) nameAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = h.name(id)
	}
	return out
}

// isRelationship reports whether field of typeName holds identifiers.
func (h *Harness) isRelationship(typeName, field string) bool {
	t := h.graph.Type(typeName)
	return t != nil && t.Relationship(field) != nil
}

// present converts a stored field value for display, naming identifiers.
func (h *Harness) present(v ir.IRValue, relationship bool) any {
	if !relationship {
		return ir.ToAny(v)
	}
	switch val := v.(type) {
	case ir.IRString:
		return h.name(string(val))
	case ir.IRArray:
		ids, err := ir.IDs(val)
		if err != nil {
			return ir.ToAny(v)
		}
		return h.nameAll(ids)
	default:
		return ir.ToAny(v)
	}
}

func (h *Harness) trace() []TraceEvent {
	out := make([]TraceEvent, 0, len(h.entries))
	for _, e := range h.entries {
		if !e.save {
			out = append(out, h.event(e.rec))
			continue
		}
		ev := TraceEvent{Kind: "save", Written: h.nameAll(e.written)}
		if len(e.failed) > 0 {
			ev.Failed = h.nameAll(e.failed)
			slices.Sort(ev.Failed)
		}
		slices.Sort(ev.Written)
		out = append(out, ev)
	}
	return out
}

func (h *Harness) event(r *changes.Record) TraceEvent {
	ev := TraceEvent{
		Kind:   r.Kind.String(),
		Seq:    r.Seq,
		Type:   r.Type,
		Entity: h.name(r.Entity),
		Field:  r.Field,
	}
	switch r.Kind {
	case changes.KindSet:
		rel := h.isRelationship(r.Type, r.Field)
		ev.Old = h.present(r.Old, rel)
		ev.New = h.present(r.New, rel)
	case changes.KindSplice:
		ev.Index = r.Index
		ev.Removed = h.nameAll(r.Removed)
		ev.Added = h.nameAll(r.Added)
	case changes.KindDelete:
		ev.Target = h.name(r.Target)
	}
	return ev
}

// documents reads back every stored document, tombstones included.
func (h *Harness) documents(ctx context.Context) ([]StoredDocument, error) {
	docs, err := h.store.Scan(ctx, store.Filter{Deleted: true})
	if err != nil {
		return nil, fmt.Errorf("list stored documents: %w", err)
	}

	out := make([]StoredDocument, 0, len(docs))
	for _, doc := range docs {
		fields := make(map[string]any, len(doc.Fields))
		for k, v := range doc.Fields {
			fields[k] = h.present(v, h.isRelationship(doc.Type, k))
		}
		out = append(out, StoredDocument{
			ID:      h.name(doc.ID),
			Type:    doc.Type,
			Rev:     doc.Rev,
			Deleted: doc.Deleted,
			Fields:  fields,
		})
	}
	return out, nil
}

// toObject converts YAML-decoded attributes into an IRObject.
func toObject(m map[string]interface{}) (ir.IRObject, error) {
	if m == nil {
		return ir.IRObject{}, nil
	}
	v, err := ir.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}
