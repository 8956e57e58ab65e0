package merge

import (
	"context"
	"sync"
)

type taskState int

const (
	taskPending taskState = iota
	taskRunning
	taskDone
)

// Written describes one document written by a merge.
type Written struct {
	ID      string
	Rev     int64
	Deleted bool
}

// Result is the outcome of a merge task.
//
// Err is nil when every pending document merged. It is a *MergeError when
// some documents failed, ErrCancelled when the task was cancelled before it
// started, or the error that aborted the whole batch.
type Result struct {
	Written []Written
	Err     error
}

// Task is a handle on one enqueued merge.
type Task struct {
	id     uint64
	onDone func(Result)

	mu     sync.Mutex
	state  taskState
	result Result
	done   chan struct{}
}

func newTask(id uint64, onDone func(Result)) *Task {
	return &Task{
		id:     id,
		onDone: onDone,
		done:   make(chan struct{}),
	}
}

// ID returns the task's position in enqueue order, starting at 1.
func (t *Task) ID() uint64 {
	return t.id
}

// Cancel prevents a task that has not started from running. It reports
// whether the task was cancelled; a running or finished task is unaffected.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	if t.state != taskPending {
		t.mu.Unlock()
		return false
	}
	t.state = taskRunning
	t.mu.Unlock()

	t.finish(Result{Err: ErrCancelled})
	return true
}

// start moves the task to running. Returns false if it was cancelled.
func (t *Task) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != taskPending {
		return false
	}
	t.state = taskRunning
	return true
}

func (t *Task) finish(r Result) {
	t.mu.Lock()
	t.state = taskDone
	t.result = r
	t.mu.Unlock()

	// The callback runs before Done closes so that waiters observe its
	// effects.
	if t.onDone != nil {
		t.onDone(r)
	}
	close(t.done)
}

// Done returns a channel that is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the task's result. It is the zero Result until Done is
// closed.
func (t *Task) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Finished returns a task that has already completed with err. The callback,
// if any, is invoked before Finished returns.
func Finished(err error, onDone func(Result)) *Task {
	t := newTask(0, onDone)
	t.state = taskRunning
	t.finish(Result{Err: err})
	return t
}
