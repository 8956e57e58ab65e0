package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/store"
)

func personDoc() *store.Document {
	d := store.NewDocument("p1", "garage", "Person")
	d.Rev = 3
	d.Fields["name"] = ir.IRString("alice")
	d.Fields["cars"] = ir.IDList([]string{"c1", "c2", "c3"})
	d.Fields["car"] = ir.IRNull{}
	return d
}

func set(field string, old, new ir.IRValue) *Record {
	return &Record{Kind: KindSet, Collection: "garage", Type: "Person", Entity: "p1", Field: field, Old: old, New: new}
}

func TestApplySet(t *testing.T) {
	d := personDoc()
	r := set("name", ir.IRString("alice"), ir.IRString("alicia"))

	require.NoError(t, r.Apply(d))
	assert.Equal(t, ir.IRString("alicia"), d.Fields["name"])
}

func TestApplySet_MissingFieldIsNull(t *testing.T) {
	d := personDoc()
	r := set("nickname", ir.IRNull{}, ir.IRString("al"))

	require.NoError(t, r.Apply(d))
	assert.Equal(t, ir.IRString("al"), d.Fields["nickname"])
}

func TestApplySet_NullAndEmptyListAreEquivalent(t *testing.T) {
	d := personDoc()
	d.Fields["cars"] = ir.IRArray{}
	r := set("cars", ir.IRNull{}, ir.IDList([]string{"c9"}))

	require.NoError(t, r.Apply(d))
	assert.Equal(t, ir.IDList([]string{"c9"}), d.Fields["cars"])
}

func TestApplySet_Stale(t *testing.T) {
	d := personDoc()
	before := d.Clone()
	r := set("name", ir.IRString("bob"), ir.IRString("carol"))

	err := r.Apply(d)
	require.Error(t, err)
	assert.True(t, IsStale(err))

	var se *StaleChangeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "name", se.Field)
	assert.Equal(t, ir.IRString("bob"), se.Expected)
	assert.Equal(t, ir.IRString("alice"), se.Actual)
	assert.Contains(t, err.Error(), `expected "bob", stored "alice"`)

	assert.True(t, ir.Equal(before.Fields, d.Fields), "stale apply must not modify the document")
}

func TestApplySet_Deleted(t *testing.T) {
	d := personDoc()
	r := set(DeletedField, ir.IRBool(false), ir.IRBool(true))

	require.NoError(t, r.Apply(d))
	assert.True(t, d.Deleted)
	assert.NotContains(t, d.Fields, DeletedField)

	undo := set(DeletedField, ir.IRBool(true), ir.IRBool(false))
	require.NoError(t, undo.Apply(d))
	assert.False(t, d.Deleted)

	err := undo.Apply(d)
	assert.True(t, IsStale(err), "restoring a live document is stale")
}

func TestApplySplice(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want []string
	}{
		{
			name: "remove middle",
			rec:  Record{Index: 1, Removed: []string{"c2"}},
			want: []string{"c1", "c3"},
		},
		{
			name: "insert front",
			rec:  Record{Index: 0, Added: []string{"c0"}},
			want: []string{"c0", "c1", "c2", "c3"},
		},
		{
			name: "replace range",
			rec:  Record{Index: 1, Removed: []string{"c2", "c3"}, Added: []string{"c4"}},
			want: []string{"c1", "c4"},
		},
		{
			name: "append",
			rec:  Record{Index: AppendIndex, Added: []string{"c4", "c5"}},
			want: []string{"c1", "c2", "c3", "c4", "c5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := personDoc()
			r := tt.rec
			r.Kind, r.Entity, r.Field = KindSplice, "p1", "cars"

			require.NoError(t, r.Apply(d))
			got, err := ir.IDs(d.Fields["cars"])
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplySplice_OntoNullField(t *testing.T) {
	d := personDoc()
	r := &Record{Kind: KindSplice, Entity: "p1", Field: "friends", Index: 0, Added: []string{"p2"}}

	require.NoError(t, r.Apply(d))
	assert.Equal(t, ir.IDList([]string{"p2"}), d.Fields["friends"])
}

func TestApplySplice_Stale(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"removed mismatch", Record{Index: 0, Removed: []string{"c2"}}},
		{"out of range", Record{Index: 3, Removed: []string{"c3"}}},
		{"duplicate add", Record{Index: 0, Added: []string{"c3"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := personDoc()
			r := tt.rec
			r.Kind, r.Entity, r.Field = KindSplice, "p1", "cars"

			err := r.Apply(d)
			assert.True(t, IsStale(err), "got %v", err)
			assert.Equal(t, ir.IDList([]string{"c1", "c2", "c3"}), d.Fields["cars"])
		})
	}
}

func TestApplyDelete(t *testing.T) {
	d := personDoc()
	r := &Record{Kind: KindDelete, Entity: "p1", Field: "cars", Target: "c2"}

	require.NoError(t, r.Apply(d))
	assert.Equal(t, ir.IDList([]string{"c1", "c3"}), d.Fields["cars"])

	err := r.Apply(d)
	assert.True(t, IsStale(err), "deleting an absent identifier is stale")
}

func TestApply_WrongDocument(t *testing.T) {
	d := personDoc()
	r := set("name", ir.IRString("alice"), ir.IRString("x"))
	r.Entity = "p2"

	err := r.Apply(d)
	require.Error(t, err)
	assert.False(t, IsStale(err))
}

func TestReplay_AllOrNothing(t *testing.T) {
	d := personDoc()
	recs := []*Record{
		set("name", ir.IRString("alice"), ir.IRString("alicia")),
		{Kind: KindSplice, Entity: "p1", Field: "cars", Index: 0, Removed: []string{"c1"}},
		set("name", ir.IRString("alice"), ir.IRString("stale")),
	}

	out, err := Replay(d, recs)
	assert.Nil(t, out)
	assert.True(t, IsStale(err))
	assert.Equal(t, ir.IRString("alice"), d.Fields["name"])
	assert.Equal(t, ir.IDList([]string{"c1", "c2", "c3"}), d.Fields["cars"])
}

func TestReplay_OrderMatters(t *testing.T) {
	d := personDoc()
	recs := []*Record{
		set("name", ir.IRString("alice"), ir.IRString("b")),
		set("name", ir.IRString("b"), ir.IRString("c")),
	}

	out, err := Replay(d, recs)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("c"), out.Fields["name"])
	assert.Equal(t, int64(3), out.Rev, "replay keeps the fetched revision")

	_, err = Replay(d, []*Record{recs[1], recs[0]})
	assert.True(t, IsStale(err))
}

func TestEquivalent(t *testing.T) {
	assert.True(t, Equivalent(nil, ir.IRNull{}))
	assert.True(t, Equivalent(ir.IRArray{}, ir.IRNull{}))
	assert.True(t, Equivalent(ir.IRString("a"), ir.IRString("a")))
	assert.False(t, Equivalent(ir.IRString(""), ir.IRNull{}))
	assert.False(t, Equivalent(ir.IDList([]string{"a"}), ir.IRNull{}))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "set", KindSet.String())
	assert.Equal(t, "splice", KindSplice.String())
	assert.Equal(t, "delete", KindDelete.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
