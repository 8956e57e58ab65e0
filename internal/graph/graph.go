package graph

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/merge"
	"github.com/roach88/kinship/internal/store"
)

// IDGenerator generates process-local entity identifiers.
// Implemented by UUIDv7Generator (production) and testutil.FixedIDs (tests).
type IDGenerator interface {
	Generate() string
}

// Source is the read side of the document store.
type Source interface {
	BulkGet(ctx context.Context, ids []string) ([]store.Lookup, error)
}

// Resolver resolves fault identifiers into entities of the graph.
type Resolver interface {
	Resolve(ctx context.Context, ids []string) ([]*Entity, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ids []string) ([]*Entity, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, ids []string) ([]*Entity, error) {
	return f(ctx, ids)
}

// Graph owns entity types, relationships and the identity map of live
// entities, and routes every mutation into a change ledger.
//
// Thread-safety model: the graph is single-writer. Entity and proxy
// mutation, Load, CreateOrUpdate and Listen must be called from one
// goroutine. The identity map is locked so that merge completion, which runs
// on the merge worker, can retire persisted tombstones.
type Graph struct {
	ledger   *changes.Ledger
	ids      IDGenerator
	source   Source
	resolver Resolver
	queue    *merge.Queue
	logger   *slog.Logger

	types     map[string]*EntityType
	typeNames []string
	relations map[string]*RelationshipDescriptor

	mu       sync.Mutex
	entities map[string]*Entity
	remote   map[string]map[string]*Entity

	listeners    map[int]func(*changes.Record)
	nextListener int
}

// Option configures a Graph.
type Option func(*Graph)

// WithLedger sets the change ledger. Default: changes.New().
func WithLedger(l *changes.Ledger) Option {
	return func(g *Graph) {
		g.ledger = l
	}
}

// WithIDGenerator sets the entity id generator. Default: UUIDv7Generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(g *Graph) {
		g.ids = gen
	}
}

// WithSource sets the document source used by Load.
func WithSource(s Source) Option {
	return func(g *Graph) {
		g.source = s
	}
}

// WithResolver replaces fault resolution. Default: Load from the source.
func WithResolver(r Resolver) Option {
	return func(g *Graph) {
		g.resolver = r
	}
}

// WithQueue sets the merge queue used by Save.
func WithQueue(q *merge.Queue) Option {
	return func(g *Graph) {
		g.queue = q
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		ids:       UUIDv7Generator{},
		logger:    slog.Default(),
		types:     make(map[string]*EntityType),
		relations: make(map[string]*RelationshipDescriptor),
		entities:  make(map[string]*Entity),
		remote:    make(map[string]map[string]*Entity),
		listeners: make(map[int]func(*changes.Record)),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.ledger == nil {
		g.ledger = changes.New(changes.WithLogger(g.logger))
	}
	if g.resolver == nil {
		g.resolver = ResolverFunc(func(ctx context.Context, ids []string) ([]*Entity, error) {
			return g.Load(ctx, ids...)
		})
	}
	return g
}

// Ledger returns the graph's change ledger.
func (g *Graph) Ledger() *changes.Ledger {
	return g.ledger
}

// Register declares an entity type. Name and Collection are required; the
// IDField attribute is added when missing.
func (g *Graph) Register(t EntityType) (*EntityType, error) {
	if t.Name == "" || t.Collection == "" {
		return nil, &InstallError{Code: ErrCodeInvalid, Message: "entity type needs a name and a collection", Type: t.Name}
	}
	if _, ok := g.types[t.Name]; ok {
		return nil, &InstallError{Code: ErrCodeAlreadyInstalled, Message: "entity type already registered", Type: t.Name}
	}
	if t.IDField == "" {
		t.IDField = "id"
	}

	attrs := make([]string, 0, len(t.Attributes)+1)
	if !slices.Contains(t.Attributes, t.IDField) {
		attrs = append(attrs, t.IDField)
	}
	for _, a := range t.Attributes {
		if a == "" || a == changes.DeletedField {
			return nil, &InstallError{Code: ErrCodeInvalid, Message: fmt.Sprintf("invalid attribute name %q", a), Type: t.Name}
		}
		if slices.Contains(attrs, a) {
			return nil, &InstallError{Code: ErrCodeFieldTaken, Message: "duplicate attribute", Type: t.Name, Field: a}
		}
		attrs = append(attrs, a)
	}

	et := &EntityType{
		Name:       t.Name,
		Collection: t.Collection,
		IDField:    t.IDField,
		Attributes: attrs,
		sides:      make(map[string]*side),
	}
	g.types[et.Name] = et
	g.typeNames = append(g.typeNames, et.Name)
	return et, nil
}

// Type returns a registered entity type, or nil.
func (g *Graph) Type(name string) *EntityType {
	return g.types[name]
}

// Types returns the registered entity types in registration order.
func (g *Graph) Types() []*EntityType {
	out := make([]*EntityType, len(g.typeNames))
	for i, n := range g.typeNames {
		out[i] = g.types[n]
	}
	return out
}

// Relate installs a relationship between two registered types.
// ReverseName defaults to "reverse_" + Name. Live entities of both types
// receive their proxies immediately.
func (g *Graph) Relate(d RelationshipDescriptor) (*RelationshipDescriptor, error) {
	if d.Name == "" {
		return nil, &InstallError{Code: ErrCodeInvalid, Message: "relationship needs a name", Type: d.Forward}
	}
	switch d.Kind {
	case OneToOne, OneToMany, ManyToMany:
	default:
		return nil, &InstallError{Code: ErrCodeInvalid, Message: fmt.Sprintf("invalid relationship kind %s", d.Kind), Type: d.Forward, Field: d.Name}
	}
	if d.ReverseName == "" {
		d.ReverseName = ReversePrefix + d.Name
	}

	fwd, ok := g.types[d.Forward]
	if !ok {
		return nil, &InstallError{Code: ErrCodeUnknownType, Message: "forward type is not registered", Type: d.Forward, Field: d.Name}
	}
	rev, ok := g.types[d.Reverse]
	if !ok {
		return nil, &InstallError{Code: ErrCodeUnknownType, Message: "reverse type is not registered", Type: d.Reverse, Field: d.ReverseName}
	}

	desc := &d
	if _, ok := g.relations[desc.key()]; ok {
		return nil, &InstallError{Code: ErrCodeAlreadyInstalled, Message: "relationship already installed", Type: d.Forward, Field: d.Name}
	}
	if fwd.fieldTaken(d.Name) {
		return nil, &InstallError{Code: ErrCodeFieldTaken, Message: "field already defined", Type: d.Forward, Field: d.Name}
	}
	if rev.fieldTaken(d.ReverseName) || (fwd == rev && d.Name == d.ReverseName) {
		return nil, &InstallError{Code: ErrCodeFieldTaken, Message: "field already defined", Type: d.Reverse, Field: d.ReverseName}
	}

	fs := &side{
		desc: desc, field: d.Name, reverse: d.ReverseName,
		owner: d.Forward, target: d.Reverse,
		many: desc.forwardMany(), reverseMany: desc.reverseMany(),
	}
	rs := &side{
		desc: desc, field: d.ReverseName, reverse: d.Name,
		owner: d.Reverse, target: d.Forward,
		many: desc.reverseMany(), reverseMany: desc.forwardMany(),
	}
	fwd.sides[fs.field] = fs
	fwd.fields = append(fwd.fields, fs.field)
	rev.sides[rs.field] = rs
	rev.fields = append(rev.fields, rs.field)
	g.relations[desc.key()] = desc

	for _, e := range g.liveEntities() {
		for _, s := range []*side{fs, rs} {
			if e.typ.Name == s.owner {
				if err := g.newProxy(s, e.known).Install(e); err != nil {
					return nil, err
				}
			}
		}
	}

	g.logger.Debug("relationship installed",
		"name", d.Name,
		"reverse", d.ReverseName,
		"kind", d.Kind.String(),
		"forward", d.Forward,
		"reverse_type", d.Reverse,
	)
	return desc, nil
}

// MustRelate is Relate for static setup; it panics on error.
func (g *Graph) MustRelate(d RelationshipDescriptor) *RelationshipDescriptor {
	desc, err := g.Relate(d)
	if err != nil {
		panic(err)
	}
	return desc
}

// New creates an entity of typeName with a fresh local id. Every declared
// attribute is recorded, null when absent from attrs. Relationships start
// known to be empty.
func (g *Graph) New(typeName string, attrs ir.IRObject) (*Entity, error) {
	t, ok := g.types[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	for name := range attrs {
		if !t.HasAttribute(name) {
			return nil, &ValidationError{Field: name, Message: fmt.Sprintf("unknown attribute of %s", t.Name)}
		}
	}

	full := make(ir.IRObject, len(t.Attributes))
	for _, name := range t.Attributes {
		v, ok := attrs[name]
		if !ok || v == nil {
			v = ir.IRNull{}
		}
		full[name] = v
	}
	return g.create(t, full, true), nil
}

// create builds, tracks and records a new entity. Only the attributes in
// attrs are recorded, in declaration order.
func (g *Graph) create(t *EntityType, attrs ir.IRObject, known bool) *Entity {
	e := g.newEntity(t, g.ids.Generate(), known)
	g.track(e)
	for _, name := range t.Attributes {
		v, ok := attrs[name]
		if !ok {
			continue
		}
		e.attrs[name] = ir.Clone(v)
		g.emit(changes.Record{
			Kind:       changes.KindSet,
			Collection: t.Collection,
			Type:       t.Name,
			Entity:     e.id,
			Field:      name,
			Old:        ir.IRNull{},
			New:        ir.Clone(v),
			NewValue:   ir.ToAny(v),
		})
	}
	g.reindex(e, nil, e.attrs[t.IDField])
	return e
}

func (g *Graph) newEntity(t *EntityType, id string, known bool) *Entity {
	e := &Entity{
		g:                g,
		typ:              t,
		id:               id,
		attrs:            make(ir.IRObject, len(t.Attributes)),
		proxies:          make(map[string]Proxy, len(t.fields)),
		known:            known,
		removalListeners: make(map[int]func()),
		listeners:        make(map[int]func(*changes.Record)),
	}
	for _, f := range t.fields {
		// Fresh proxies on a fresh entity cannot collide.
		_ = g.newProxy(t.sides[f], known).Install(e)
	}
	return e
}

func (g *Graph) newProxy(s *side, known bool) Proxy {
	if s.many {
		return newManyProxy(g, s, known)
	}
	return newSingleProxy(g, s, known)
}

// Entity returns the live entity with local id, or nil.
func (g *Graph) Entity(id string) *Entity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entities[id]
}

// Lookup returns the live entity of typeName with the given remote id, or nil.
func (g *Graph) Lookup(typeName, remoteID string) *Entity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remote[typeName][remoteID]
}

// Entities returns every live entity ordered by type registration, then id.
func (g *Graph) Entities() []*Entity {
	all := g.liveEntities()
	order := make(map[string]int, len(g.typeNames))
	for i, n := range g.typeNames {
		order[n] = i
	}
	slices.SortFunc(all, func(a, b *Entity) int {
		return cmp.Or(
			cmp.Compare(order[a.typ.Name], order[b.typ.Name]),
			strings.Compare(a.id, b.id),
		)
	})
	return all
}

func (g *Graph) liveEntities() []*Entity {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, e)
	}
	return out
}

func (g *Graph) track(e *Entity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[e.id] = e
}

// reindex moves e in the remote-id index after its id attribute changed.
func (g *Graph) reindex(e *Entity, old, new ir.IRValue) {
	g.mu.Lock()
	defer g.mu.Unlock()
	byType := g.remote[e.typ.Name]
	if byType == nil {
		byType = make(map[string]*Entity)
		g.remote[e.typ.Name] = byType
	}
	if k := remoteKey(old); k != "" && byType[k] == e {
		delete(byType, k)
	}
	e.indexedKey = remoteKey(new)
	if e.indexedKey != "" {
		byType[e.indexedKey] = e
	}
}

// retire drops an entity whose tombstone was persisted. It runs on the
// merge worker, so it reads only state guarded by g.mu or atomics.
func (g *Graph) retire(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entities[id]
	if !ok || !e.removed.Load() {
		return
	}
	e.deleted.Store(true)
	delete(g.entities, id)
	if k := e.indexedKey; k != "" && g.remote[e.typ.Name][k] == e {
		delete(g.remote[e.typ.Name], k)
	}
	g.logger.Debug("entity retired", "entity", id, "type", e.typ.Name)
}

func remoteKey(v ir.IRValue) string {
	switch val := v.(type) {
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return strconv.FormatInt(int64(val), 10)
	default:
		return ""
	}
}

// emit registers rec and notifies graph and entity listeners.
// Records built by the graph always carry their keys, so a register
// failure is a programming error.
func (g *Graph) emit(rec changes.Record) *changes.Record {
	r, err := g.ledger.Register(rec)
	if err != nil {
		panic(fmt.Sprintf("graph: %v", err))
	}
	for _, fn := range snapshot(g.listeners) {
		fn(r)
	}
	if e := g.Entity(r.Entity); e != nil {
		for _, fn := range snapshot(e.listeners) {
			fn(r)
		}
	}
	return r
}

// Listen subscribes fn to every record the graph emits. The returned
// function unsubscribes.
func (g *Graph) Listen(fn func(*changes.Record)) (cancel func()) {
	id := g.nextListener
	g.nextListener++
	g.listeners[id] = fn
	return func() { delete(g.listeners, id) }
}

// Save enqueues one merge of everything currently pending. After the merge,
// removed entities whose tombstone was written become Deleted and leave the
// graph, then onDone is called with the result.
func (g *Graph) Save(onDone func(merge.Result)) *merge.Task {
	if g.queue == nil {
		return merge.Finished(ErrNoQueue, onDone)
	}
	return g.queue.Enqueue(func(r merge.Result) {
		for _, w := range r.Written {
			if w.Deleted {
				g.retire(w.ID)
			}
		}
		if onDone != nil {
			onDone(r)
		}
	})
}

// snapshot returns map values in key order so callbacks may unsubscribe
// while being notified.
func snapshot[F any](m map[int]F) []F {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]F, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
