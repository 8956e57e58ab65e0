package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kinship/internal/ir"
)

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}

// Snapshot renders a result as canonical JSON lines: one per trace event,
// then one per stored document. Keys are sorted, so identical runs produce
// identical bytes.
func Snapshot(result *Result) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range result.Trace {
		line, err := ir.MarshalCanonical(eventMap(ev))
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	for _, doc := range result.Documents {
		line, err := ir.MarshalCanonical(map[string]any{
			"kind":    "document",
			"id":      doc.ID,
			"type":    doc.Type,
			"rev":     doc.Rev,
			"deleted": doc.Deleted,
			"fields":  doc.Fields,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func eventMap(ev TraceEvent) map[string]any {
	if ev.Kind == "save" {
		m := map[string]any{
			"kind":    ev.Kind,
			"written": nonNil(ev.Written),
		}
		if len(ev.Failed) > 0 {
			m["failed"] = ev.Failed
		}
		return m
	}

	m := map[string]any{
		"kind":   ev.Kind,
		"seq":    ev.Seq,
		"type":   ev.Type,
		"entity": ev.Entity,
		"field":  ev.Field,
	}
	switch ev.Kind {
	case "set":
		m["old"] = ev.Old
		m["new"] = ev.New
	case "splice":
		m["index"] = ev.Index
		m["removed"] = nonNil(ev.Removed)
		m["added"] = nonNil(ev.Added)
	case "delete":
		m["target"] = ev.Target
	}
	return m
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
