package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/store"
)

// seedStore writes two people and a car, then deletes one person.
func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kinship.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	ada := store.NewDocument("ada", "people", "Person")
	ada.Fields["name"] = ir.IRString("Ada")
	ada.Fields["cars"] = ir.IDList([]string{"mini"})
	bob := store.NewDocument("bob", "people", "Person")
	bob.Fields["name"] = ir.IRString("Bob")
	mini := store.NewDocument("mini", "cars", "Car")
	mini.Fields["owner"] = ir.IRString("ada")
	mini.Fields["year"] = ir.IRInt(1959)

	_, err = st.BulkPut(ctx, []*store.Document{ada, bob, mini})
	require.NoError(t, err)
	bob.Deleted = true
	require.NoError(t, st.Put(ctx, bob))
	return path
}

func TestDumpText(t *testing.T) {
	db := seedStore(t)

	stdout, _, err := execute(t, "dump", "--db", db)
	require.NoError(t, err)

	lines := splitLines(stdout)
	require.Len(t, lines, 3)
	assert.Regexp(t, `^ID\s+TYPE\s+COLLECTION\s+REV\s+DELETED\s+FIELDS$`, lines[0])
	assert.Regexp(t, `^mini\s+Car\s+cars\s+1\s+false\s+\{"owner":"ada","year":1959\}$`, lines[1])
	assert.Regexp(t, `^ada\s+Person\s+people\s+1\s+false\s+\{"cars":\["mini"\],"name":"Ada"\}$`, lines[2])
}

func TestDumpIncludesDeleted(t *testing.T) {
	db := seedStore(t)

	stdout, _, err := execute(t, "dump", "--db", db, "--collection", "people", "--deleted")
	require.NoError(t, err)

	lines := splitLines(stdout)
	require.Len(t, lines, 3)
	assert.Regexp(t, `^ada\s+Person`, lines[1])
	assert.Regexp(t, `^bob\s+Person\s+people\s+2\s+true`, lines[2])
}

func TestDumpJSON(t *testing.T) {
	db := seedStore(t)

	stdout, _, err := execute(t, "--format", "json", "dump", "--db", db, "--type", "Car")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Documents []DumpDocument `json:"documents"`
			Total     int            `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Equal(t, 1, resp.Data.Total)

	doc := resp.Data.Documents[0]
	assert.Equal(t, "mini", doc.ID)
	assert.Equal(t, "cars", doc.Collection)
	assert.Equal(t, int64(1), doc.Rev)
	assert.Equal(t, "ada", doc.Fields["owner"])
	assert.Equal(t, float64(1959), doc.Fields["year"])
}

func TestDumpEmptySelection(t *testing.T) {
	db := seedStore(t)

	stdout, _, err := execute(t, "dump", "--db", db, "--collection", "boats")
	require.NoError(t, err)
	assert.Equal(t, "No documents found.\n", stdout)
}

func TestDumpLogYAML(t *testing.T) {
	db := seedStore(t)

	stdout, _, err := execute(t, "--format", "yaml", "dump", "--db", db, "--log")
	require.NoError(t, err)

	var resp struct {
		Status string `yaml:"status"`
		Data   struct {
			Writes []DumpLogEntry `yaml:"writes"`
			Total  int            `yaml:"total"`
		} `yaml:"data"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, resp.Data.Total)
	assert.Equal(t, []DumpLogEntry{
		{Seq: 1, ID: "ada", Rev: 1},
		{Seq: 2, ID: "bob", Rev: 1},
		{Seq: 3, ID: "mini", Rev: 1},
		{Seq: 4, ID: "bob", Rev: 2, Deleted: true},
	}, resp.Data.Writes)
}

func TestDumpLogText(t *testing.T) {
	db := seedStore(t)

	stdout, _, err := execute(t, "dump", "--db", db, "--log")
	require.NoError(t, err)

	lines := splitLines(stdout)
	require.Len(t, lines, 5)
	assert.Regexp(t, `^SEQ\s+ID\s+REV\s+DELETED\s+THROUGH$`, lines[0])
	assert.Regexp(t, `^4\s+bob\s+2\s+true\s+0$`, lines[4])
}

func TestDumpDefaultsToConfiguredDatabase(t *testing.T) {
	t.Setenv("KINSHIP_DB_PATH", seedStore(t))

	stdout, _, err := execute(t, "dump", "--type", "Person")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Ada")
}

func TestDumpMissingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")

	stdout, _, err := execute(t, "dump", "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "database not found")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "dump must not create the database")
}

func splitLines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
