package harness

// TraceEvent is one change record, or one save, observed while running a
// scenario. Entity identifiers are replaced by their aliases.
type TraceEvent struct {
	Kind    string   `json:"kind"` // "set", "splice", "delete" or "save"
	Seq     int64    `json:"seq,omitempty"`
	Type    string   `json:"type,omitempty"`
	Entity  string   `json:"entity,omitempty"`
	Field   string   `json:"field,omitempty"`
	Old     any      `json:"old,omitempty"`
	New     any      `json:"new,omitempty"`
	Index   int      `json:"index,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Added   []string `json:"added,omitempty"`
	Target  string   `json:"target,omitempty"`
	Written []string `json:"written,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}

// StoredDocument is one document as stored when the scenario finished,
// tombstones included. Identifiers in relationship fields are aliases.
type StoredDocument struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Rev     int64          `json:"rev"`
	Deleted bool           `json:"deleted"`
	Fields  map[string]any `json:"fields"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step behaved as expected and
	// every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every change record and save, in order.
	Trace []TraceEvent `json:"trace"`

	// Documents is the store's content after the last step, ordered by
	// type then local identifier.
	Documents []StoredDocument `json:"documents"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Documents: []StoredDocument{},
		Errors:    []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Records returns the trace without save events.
func (r *Result) Records() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Kind != "save" {
			out = append(out, ev)
		}
	}
	return out
}
