package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates "prefix-1", "prefix-2", ... in order.
//
// Graphs and ledgers built with SequentialIDs produce identical identifiers
// on every run, so scenario output can be compared against golden files.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequentialIDs creates a generator whose first identifier is prefix-1.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next identifier.
func (s *SequentialIDs) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

// Count returns how many identifiers have been generated.
func (s *SequentialIDs) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Reset restarts the sequence. The next identifier is prefix-1 again.
func (s *SequentialIDs) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}

// FixedIDs returns predetermined identifiers in order.
//
// Example:
//
//	ids := NewFixedIDs("car-1", "person-1")
//	ids.Generate() // "car-1"
//	ids.Generate() // "person-1"
//	ids.Generate() // panic: all identifiers exhausted
//
// Thread-safety: FixedIDs is safe for concurrent use via internal mutex.
type FixedIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDs creates a generator that returns ids in order.
func NewFixedIDs(ids ...string) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// Generate returns the next predetermined identifier.
//
// Panics when all identifiers have been consumed, so a test that creates
// more entities than it declared fails immediately.
func (f *FixedIDs) Generate() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.ids) {
		panic("FixedIDs: all identifiers exhausted")
	}
	id := f.ids[f.idx]
	f.idx++
	return id
}

// Remaining returns how many identifiers are left.
func (f *FixedIDs) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids) - f.idx
}
