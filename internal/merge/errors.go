package merge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled is the result of a task cancelled before it started.
	ErrCancelled = errors.New("merge cancelled")

	// ErrClosed is the result of a task the queue stopped before it started.
	ErrClosed = errors.New("merge queue closed")
)

// Stage names the merge step at which a document failed.
type Stage string

const (
	StageFetch Stage = "fetch"
	StageApply Stage = "apply"
	StageWrite Stage = "write"
)

// DocumentError is the failure of one document within a merge.
type DocumentError struct {
	ID    string
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.ID, e.Stage, e.Err)
}

// Unwrap returns the underlying store or apply error.
func (e *DocumentError) Unwrap() error {
	return e.Err
}

// MergeError reports the documents of a merge that were not written.
// Their records remain pending; every other document was written.
//
// errors.Is and errors.As see through to each document's error, so
// changes.IsStale(err) and errors.Is(err, store.ErrConflict) work on it.
type MergeError struct {
	Attempted int
	Failures  []*DocumentError
}

func (e *MergeError) add(id string, stage Stage, err error) {
	e.Failures = append(e.Failures, &DocumentError{ID: id, Stage: stage, Err: err})
}

// Error implements the error interface.
func (e *MergeError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("merge: %d of %d documents failed: %s",
		len(e.Failures), e.Attempted, strings.Join(parts, "; "))
}

// Unwrap returns the per-document errors.
func (e *MergeError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Failed returns the ids of the documents that were not written.
func (e *MergeError) Failed() []string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ID
	}
	return ids
}
