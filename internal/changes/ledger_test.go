package changes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/store"
)

func newTestLedger() *Ledger {
	n := 0
	return New(
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("rec-%d", n)
		}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func register(t *testing.T, l *Ledger, entity, field string) *Record {
	t.Helper()
	r, err := l.Register(Record{
		Kind:       KindSet,
		Collection: "garage",
		Type:       "Car",
		Entity:     entity,
		Field:      field,
		Old:        ir.IRNull{},
		New:        ir.IRString(field),
	})
	require.NoError(t, err)
	return r
}

func TestRegister_StampsIDAndSeq(t *testing.T) {
	l := newTestLedger()

	r1 := register(t, l, "c1", "name")
	r2 := register(t, l, "c1", "color")

	assert.Equal(t, "rec-1", r1.ID)
	assert.Equal(t, int64(1), r1.Seq)
	assert.Equal(t, "rec-2", r2.ID)
	assert.Equal(t, int64(2), r2.Seq)
	assert.Equal(t, 2, l.Pending())
}

func TestRegister_DefaultIDsAreULIDs(t *testing.T) {
	l := New()
	r, err := l.Register(Record{Kind: KindSet, Collection: "c", Type: "T", Entity: "e"})
	require.NoError(t, err)
	assert.Len(t, r.ID, 26)
}

func TestRegister_RequiresKeys(t *testing.T) {
	l := newTestLedger()

	_, err := l.Register(Record{Kind: KindSet, Type: "Car"})
	require.Error(t, err)

	var re *RegisterError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, []string{"collection", "entity id"}, re.Missing)
	assert.Equal(t, "register change: missing collection, entity id", err.Error())
	assert.Equal(t, 0, l.Pending())
}

func TestSnapshot_GroupsByEntityInOrder(t *testing.T) {
	l := newTestLedger()

	register(t, l, "c2", "name")
	register(t, l, "c1", "name")
	register(t, l, "c2", "color")

	batches := l.Snapshot()
	require.Len(t, batches, 2)

	assert.Equal(t, "c2", batches[0].Entity)
	assert.Equal(t, "garage", batches[0].Collection)
	assert.Equal(t, "Car", batches[0].Type)
	require.Len(t, batches[0].Records, 2)
	assert.Equal(t, "name", batches[0].Records[0].Field)
	assert.Equal(t, "color", batches[0].Records[1].Field)
	assert.Equal(t, int64(3), batches[0].Through())

	assert.Equal(t, "c1", batches[1].Entity)
	assert.Equal(t, int64(2), batches[1].Through())
}

func TestAll_SequenceOrder(t *testing.T) {
	l := newTestLedger()

	register(t, l, "c2", "a")
	register(t, l, "c1", "b")
	register(t, l, "c2", "c")

	var seqs []int64
	for _, r := range l.All() {
		seqs = append(seqs, r.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestForEntity(t *testing.T) {
	l := newTestLedger()
	register(t, l, "c1", "a")
	register(t, l, "c2", "b")

	recs := l.ForEntity("c1")
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Field)
	assert.Nil(t, l.ForEntity("missing"))
}

func TestClearThrough(t *testing.T) {
	l := newTestLedger()
	register(t, l, "c1", "a") // seq 1
	register(t, l, "c1", "b") // seq 2
	register(t, l, "c2", "c") // seq 3
	register(t, l, "c1", "d") // seq 4

	assert.Equal(t, 2, l.ClearThrough("c1", 2))
	recs := l.ForEntity("c1")
	require.Len(t, recs, 1)
	assert.Equal(t, "d", recs[0].Field, "records appended after the merged sequence survive")

	assert.Equal(t, 1, l.ClearThrough("c2", 0))
	assert.Nil(t, l.ForEntity("c2"))
	assert.Equal(t, 0, l.ClearThrough("c2", 0))
	assert.Equal(t, 1, l.Pending())
}

func TestReset(t *testing.T) {
	l := newTestLedger()
	register(t, l, "c1", "a")
	l.Reset()

	assert.Equal(t, 0, l.Pending())
	assert.Empty(t, l.Snapshot())

	r := register(t, l, "c1", "b")
	assert.Equal(t, int64(2), r.Seq, "the clock survives a reset")
}

func TestReset_LogsDroppedAndSequence(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	register(t, l, "c1", "a")
	register(t, l, "c1", "b")
	register(t, l, "c2", "a")
	buf.Reset()

	l.Reset()
	assert.Contains(t, buf.String(), "ledger reset")
	assert.Contains(t, buf.String(), "dropped=3")
	assert.Contains(t, buf.String(), "seq=3")
}

func TestAttach_ClearsOnStoreWrite(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	l := newTestLedger()
	detach := l.Attach(s)

	register(t, l, "c1", "name")
	register(t, l, "c2", "name")

	// An external writer that is not replaying the ledger clears everything
	// pending for the entity it wrote.
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, store.NewDocument("c1", "garage", "Car")))
	assert.Nil(t, l.ForEntity("c1"))
	assert.Len(t, l.ForEntity("c2"), 1)

	detach()
	require.NoError(t, s.Put(ctx, store.NewDocument("c2", "garage", "Car")))
	assert.Len(t, l.ForEntity("c2"), 1, "detached ledger is no longer cleared")
}
