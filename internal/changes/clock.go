package changes

import "sync/atomic"

// Clock hands out the sequence numbers that order change records.
//
// Sequences start at 1 and never repeat within a Clock, including across
// Ledger.Reset. Replay order for an entity is sequence order, and a store
// write reports the highest sequence folded into the document, so the ledger
// drops exactly what was merged.
//
// Safe for concurrent use.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first sequence is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next stamps one record.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Current returns the last sequence handed out, or 0.
func (c *Clock) Current() int64 {
	return c.last.Load()
}
