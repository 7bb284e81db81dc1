package queue

import "time"

// Item is a single unit of work submitted to the Queue. It carries no
// queue-internal locking of its own: the queue's single serialized event
// loop is the only goroutine that reads or writes Item's timestamps.
//
// Process must start work and eventually return or fail; the queue calls
// it exactly once, after the item transitions to running. Cancel must be
// safe to call from any state and should be idempotent on the caller's
// side — the queue itself only ever invokes it once per item, but a
// well-behaved Cancel tolerates being called again by a test harness.
type Item[T any] struct {
	JobID string

	// Process performs the actual work. It is invoked exactly once, in its
	// own goroutine, after the item is promoted to running.
	Process func() (T, error)

	// Cancel tears down any external resources tied to the item (for a
	// render job, this aborts the subprocess). It blocks until teardown is
	// complete. It may be called from waiting or running state.
	Cancel func()

	addedAt   int64
	startedAt int64
}

// NewItem constructs an Item with the given id and work/cancel functions.
func NewItem[T any](jobID string, process func() (T, error), cancel func()) *Item[T] {
	return &Item[T]{JobID: jobID, Process: process, Cancel: cancel}
}

// notifyQueueAdd records the time (ms, monotonic-ish via UnixMilli) the
// item was admitted. Called only from the queue's event loop.
func (i *Item[T]) notifyQueueAdd(now int64) {
	i.addedAt = now
}

// notifyQueueStart records the time the item was promoted to running.
// Called only from the queue's event loop.
func (i *Item[T]) notifyQueueStart(now int64) {
	i.startedAt = now
}

// AddedAt returns the admission timestamp in epoch milliseconds, or zero
// if the item has not been admitted yet.
func (i *Item[T]) AddedAt() int64 { return i.addedAt }

// StartedAt returns the promotion timestamp in epoch milliseconds, or zero
// if the item has not started running yet.
func (i *Item[T]) StartedAt() int64 { return i.startedAt }

func nowMs() int64 {
	return time.Now().UnixMilli()
}
