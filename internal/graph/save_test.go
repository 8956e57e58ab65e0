package graph

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kinship/internal/changes"
	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/merge"
	"github.com/roach88/kinship/internal/store"
)

// persisted is a garage wired to a SQLite store through a running merge
// queue.
type persisted struct {
	*garage
	store *store.Store
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "kinship.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPersisted(t *testing.T, s *store.Store, opts ...Option) *persisted {
	t.Helper()
	f := newGarage(t, append([]Option{WithSource(s)}, opts...)...)
	t.Cleanup(f.ledger.Attach(s))

	q := merge.NewQueue(f.ledger, s, merge.WithLogger(discard))
	f.g.queue = q

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &persisted{garage: f, store: s}
}

func (p *persisted) save(t *testing.T) merge.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.g.Save(nil).Wait(ctx)
	require.NoError(t, err)
	return res
}

func putDoc(t *testing.T, s *store.Store, id, typeName string, fields ir.IRObject) *store.Document {
	t.Helper()
	doc := store.NewDocument(id, "garage", typeName)
	doc.Fields = fields
	require.NoError(t, s.Put(context.Background(), doc))
	return doc
}

func getDoc(t *testing.T, s *store.Store, id string) *store.Document {
	t.Helper()
	doc, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return doc
}

// assertStored checks the stored document of e is equivalent, field by
// field, to its in-memory state.
func assertStored(t *testing.T, s *store.Store, e *Entity) {
	t.Helper()
	stored := getDoc(t, s, e.ID())
	want := e.Document()
	assert.Equal(t, want.Deleted, stored.Deleted, "%s deleted", e)
	for k, v := range want.Fields {
		assert.True(t, changes.Equivalent(v, stored.Fields[k]),
			"%s.%s: memory %v, stored %v", e, k, v, stored.Fields[k])
	}
}

func TestSave_RoundTrip(t *testing.T) {
	p := newPersisted(t, openStore(t))
	dan := p.person(t, "dan")
	eve := p.person(t, "eve")
	c1, c2 := p.car(t, "a"), p.car(t, "b")
	red := p.tag(t, "red")
	pp := p.passport(t, "X1")

	require.NoError(t, dan.Many("cars").Set([]*Entity{c1, c2}))
	require.NoError(t, c2.One("owner").Set(eve))
	require.NoError(t, c1.Many("tags").Collection().Append(red))
	require.NoError(t, eve.One("passport").Set(pp))
	require.NoError(t, c1.Set("colour", ir.IRString("white")))

	res := p.save(t)

	require.NoError(t, res.Err)
	assert.Len(t, res.Written, 6)
	assert.Zero(t, p.ledger.Pending())
	for _, e := range p.g.Entities() {
		assertStored(t, p.store, e)
	}
}

func TestSave_SecondSaveAppliesOnTopOfFirst(t *testing.T) {
	p := newPersisted(t, openStore(t))
	dan := p.person(t, "dan")
	c := p.car(t, "a")
	require.NoError(t, p.save(t).Err)

	require.NoError(t, c.One("owner").Set(dan))
	require.NoError(t, dan.Set("age", ir.IRInt(40)))
	res := p.save(t)

	require.NoError(t, res.Err)
	assert.Len(t, res.Written, 2)
	assertStored(t, p.store, dan)
	assertStored(t, p.store, c)
	assert.Equal(t, int64(2), getDoc(t, p.store, dan.ID()).Rev)
}

func TestSave_RetiresTombstones(t *testing.T) {
	p := newPersisted(t, openStore(t))
	dan := p.person(t, "dan")
	c := p.car(t, "a")
	require.NoError(t, c.One("owner").Set(dan))
	require.NoError(t, p.save(t).Err)

	require.NoError(t, dan.Remove())
	var cb merge.Result
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.g.Save(func(r merge.Result) { cb = r }).Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, res, cb)
	assert.True(t, dan.Deleted())
	assert.Nil(t, p.g.Entity(dan.ID()))
	assert.True(t, getDoc(t, p.store, dan.ID()).Deleted)
	assert.Equal(t, ir.IRNull{}, getDoc(t, p.store, c.ID()).Fields["owner"])

	assert.ErrorIs(t, dan.Restore(), ErrDeleted)
	assert.ErrorIs(t, dan.Set("name", ir.IRString("x")), ErrDeleted)

	_, err = p.g.Load(context.Background(), dan.ID())
	assert.ErrorIs(t, err, ErrDeleted)
}

// Retirement runs on the merge worker while the caller keeps mutating the
// graph; run with -race.
func TestSave_RetireWhileGraphIsMutated(t *testing.T) {
	p := newPersisted(t, openStore(t))
	dan := p.person(t, "dan")
	require.NoError(t, p.save(t).Err)

	require.NoError(t, dan.Remove())
	task := p.g.Save(nil)
	for i := 0; i < 2000; i++ {
		if err := dan.Set("name", ir.IRString(fmt.Sprintf("dan-%d", i))); err != nil {
			require.ErrorIs(t, err, ErrDeleted)
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := task.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.True(t, dan.Deleted())
	assert.Nil(t, p.g.Entity(dan.ID()))
}

func TestSave_RestoreBeforeSaveKeepsEntity(t *testing.T) {
	p := newPersisted(t, openStore(t))
	dan := p.person(t, "dan")
	require.NoError(t, dan.Remove())
	require.NoError(t, dan.Restore())

	require.NoError(t, p.save(t).Err)

	assert.False(t, dan.Deleted())
	assert.Same(t, dan, p.g.Entity(dan.ID()))
	assert.False(t, getDoc(t, p.store, dan.ID()).Deleted)
}

func TestSave_StaleDocumentKeepsRecords(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "P1", "Person", ir.IRObject{"id": ir.IRString("P1"), "name": ir.IRString("dan")})
	p := newPersisted(t, s)

	loaded, err := p.g.Load(context.Background(), "P1")
	require.NoError(t, err)
	dan := loaded[0]
	c := p.car(t, "a")

	// Another writer renames P1 after it was loaded.
	external := getDoc(t, s, "P1")
	external.Fields["name"] = ir.IRString("daniel")
	require.NoError(t, s.Put(context.Background(), external))

	require.NoError(t, dan.Set("name", ir.IRString("danny")))
	res := p.save(t)

	var merr *merge.MergeError
	require.ErrorAs(t, res.Err, &merr)
	assert.Equal(t, []string{"P1"}, merr.Failed())
	assert.True(t, changes.IsStale(res.Err))
	assert.Equal(t, ir.IRString("daniel"), getDoc(t, s, "P1").Fields["name"])

	// The rename stays pending; the unrelated car merged.
	assert.Len(t, dan.Pending(), 1)
	assert.Empty(t, c.Pending())
	assertStored(t, s, c)
}

func TestLoad_RelationshipsStartAsFaults(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "P1", "Person", ir.IRObject{
		"id":       ir.IRString("P1"),
		"name":     ir.IRString("dan"),
		"cars":     ir.IDList([]string{"C1", "C2"}),
		"passport": ir.IRNull{},
	})
	putDoc(t, s, "C1", "Car", ir.IRObject{"name": ir.IRString("a"), "owner": ir.IRString("P1")})
	putDoc(t, s, "C2", "Car", ir.IRObject{"name": ir.IRString("b"), "owner": ir.IRString("P1")})
	p := newPersisted(t, s)
	got := p.record(t)

	loaded, err := p.g.Load(context.Background(), "P1")
	require.NoError(t, err)
	dan := loaded[0]

	assert.Empty(t, *got, "loading records nothing")
	assert.Zero(t, p.ledger.Pending())
	assert.Equal(t, "P1", dan.ID())
	assert.Same(t, dan, p.g.Lookup("Person", "P1"))
	assert.Equal(t, ir.IRString("dan"), dan.Get("name"))

	cars := dan.Many("cars")
	assert.True(t, cars.IsFault())
	assert.Equal(t, []string{"C1", "C2"}, cars.IDs())
	fault, ok := cars.Value().(*Fault)
	require.True(t, ok)
	assert.Equal(t, []string{"C1", "C2"}, fault.IDs())
	assert.Nil(t, cars.Collection().Entities())

	passport := dan.One("passport")
	assert.False(t, passport.IsFault())
	assert.True(t, passport.Known())
	assert.Nil(t, passport.Value())
}

func TestFault_Resolve(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "P1", "Person", ir.IRObject{"name": ir.IRString("dan"), "cars": ir.IDList([]string{"C1", "C2"})})
	putDoc(t, s, "C1", "Car", ir.IRObject{"name": ir.IRString("a"), "owner": ir.IRString("P1")})
	putDoc(t, s, "C2", "Car", ir.IRObject{"name": ir.IRString("b"), "owner": ir.IRString("P1")})
	p := newPersisted(t, s)
	ctx := context.Background()

	loaded, err := p.g.Load(ctx, "P1")
	require.NoError(t, err)
	dan := loaded[0]

	coll, err := dan.Many("cars").Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, coll.Len())
	c1 := coll.At(0)
	assert.Equal(t, "C1", c1.ID())
	assert.Equal(t, ir.IRString("a"), c1.Get("name"))
	assert.False(t, dan.Many("cars").IsFault())

	owner := c1.One("owner")
	assert.True(t, owner.IsFault())
	got, err := owner.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, dan, got, "resolution goes through the identity map")
	assertReciprocal(t, p.g)
}

func TestFault_ResolutionIsIdempotent(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "P1", "Person", ir.IRObject{"cars": ir.IDList([]string{"C1"})})
	putDoc(t, s, "C1", "Car", ir.IRObject{"owner": ir.IRString("P1")})

	var calls atomic.Int32
	var p *persisted
	p = newPersisted(t, s, WithResolver(ResolverFunc(func(ctx context.Context, ids []string) ([]*Entity, error) {
		calls.Add(1)
		return p.g.Load(ctx, ids...)
	})))
	ctx := context.Background()

	loaded, err := p.g.Load(ctx, "P1")
	require.NoError(t, err)
	fault, ok := loaded[0].Many("cars").Value().(*Fault)
	require.True(t, ok)

	first, err := fault.Resolve(ctx)
	require.NoError(t, err)
	second, err := fault.Resolve(ctx)
	require.NoError(t, err)
	third, err := loaded[0].Many("cars").Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Same(t, first, second)
	assert.Same(t, first, third)
}

func TestFault_GetAsync(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "C1", "Car", ir.IRObject{"owner": ir.IRString("P1")})
	putDoc(t, s, "P1", "Person", ir.IRObject{"name": ir.IRString("dan")})
	p := newPersisted(t, s)
	ctx := context.Background()

	loaded, err := p.g.Load(ctx, "C1")
	require.NoError(t, err)

	var cbEntity *Entity
	d := loaded[0].One("owner").GetAsync(ctx, func(e *Entity, err error) {
		require.NoError(t, err)
		cbEntity = e
	})
	<-d.Done()
	e, err := d.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, "P1", e.ID())
	assert.Same(t, e, cbEntity)
	v, err := d.Value()
	require.NoError(t, err)
	assert.Same(t, e, v)
}

func TestFault_Unresolved(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "C1", "Car", ir.IRObject{"owner": ir.IRString("GONE")})
	p := newPersisted(t, s)
	ctx := context.Background()

	loaded, err := p.g.Load(ctx, "C1")
	require.NoError(t, err)

	_, err = loaded[0].One("owner").Get(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, loaded[0].One("owner").IsFault())
}

func TestLoad_Errors(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "C1", "Car", ir.IRObject{"name": ir.IRString("a")})
	putDoc(t, s, "B1", "Boat", ir.IRObject{})
	gone := putDoc(t, s, "D1", "Car", ir.IRObject{})
	gone.Deleted = true
	require.NoError(t, s.Put(context.Background(), gone))
	p := newPersisted(t, s)

	loaded, err := p.g.Load(context.Background(), "C1", "MISSING", "B1", "D1", "C1")
	require.Error(t, err)

	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.ErrorIs(t, err, ErrDeleted)
	require.Len(t, loaded, 5)
	assert.NotNil(t, loaded[0])
	assert.Same(t, loaded[0], loaded[4])
	assert.Nil(t, loaded[1])
	assert.Nil(t, loaded[2])
	assert.Nil(t, loaded[3])
}

func TestLoad_NoStore(t *testing.T) {
	f := newGarage(t)
	_, err := f.g.Load(context.Background(), "C1")
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestUnloadedReverse_RecordsAgainstStoredSide(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "P1", "Person", ir.IRObject{"name": ir.IRString("dan"), "cars": ir.IDList([]string{"C1", "C2"})})
	putDoc(t, s, "C1", "Car", ir.IRObject{"name": ir.IRString("a"), "owner": ir.IRString("P1")})
	putDoc(t, s, "C2", "Car", ir.IRObject{"name": ir.IRString("b"), "owner": ir.IRString("P1")})
	p := newPersisted(t, s)

	loaded, err := p.g.Load(context.Background(), "C1")
	require.NoError(t, err)
	c1 := loaded[0]
	require.Nil(t, p.g.Entity("P1"))
	got := p.record(t)

	require.NoError(t, c1.One("owner").Set(nil))

	require.Len(t, *got, 2)
	assert.Equal(t, []string{"C1.owner set", "P1.cars delete"}, summary(*got))
	assert.Equal(t, "C1", (*got)[1].Target)

	require.NoError(t, p.save(t).Err)
	assert.Equal(t, ir.IDList([]string{"C2"}), getDoc(t, s, "P1").Fields["cars"])
	assert.Equal(t, ir.IRNull{}, getDoc(t, s, "C1").Fields["owner"])
}

func TestUnloadedReverse_SingleSide(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "P1", "Person", ir.IRObject{"passport": ir.IRString("X1")})
	putDoc(t, s, "X1", "Passport", ir.IRObject{"holder": ir.IRString("P1")})
	p := newPersisted(t, s)

	loaded, err := p.g.Load(context.Background(), "X1")
	require.NoError(t, err)
	got := p.record(t)

	require.NoError(t, loaded[0].One("holder").Set(nil))

	assert.Equal(t, []string{"X1.holder set", "P1.passport set"}, summary(*got))
	require.NoError(t, p.save(t).Err)
	assert.Equal(t, ir.IRNull{}, getDoc(t, s, "P1").Fields["passport"])
}

func TestSave_MergeErrorIsIsolatedPerDocument(t *testing.T) {
	s := openStore(t)
	putDoc(t, s, "P1", "Person", ir.IRObject{"cars": ir.IDList([]string{"C1"})})
	putDoc(t, s, "C1", "Car", ir.IRObject{"owner": ir.IRString("P1")})
	p := newPersisted(t, s)

	loaded, err := p.g.Load(context.Background(), "C1")
	require.NoError(t, err)

	// P1.cars no longer holds C1 in the store.
	external := getDoc(t, s, "P1")
	external.Fields["cars"] = ir.IDList(nil)
	require.NoError(t, s.Put(context.Background(), external))

	require.NoError(t, loaded[0].One("owner").Set(nil))
	res := p.save(t)

	var merr *merge.MergeError
	require.True(t, errors.As(res.Err, &merr))
	assert.Equal(t, []string{"P1"}, merr.Failed())
	require.Len(t, res.Written, 1)
	assert.Equal(t, "C1", res.Written[0].ID)
}
