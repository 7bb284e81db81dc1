// Package queue implements the admission-controlled, bounded render work
// queue: a FIFO waiting set gated by a concurrency cap, independent
// per-item queue-residency and execution time budgets, and cooperative
// cancellation at any lifecycle point.
//
// # Architecture
//
// All bookkeeping — admission, promotion, cancellation routing, and timer
// expiry — is serialized through a single goroutine (run) reading from one
// events channel, the same event-loop shape as a single-worker actor. This
// is what spec.md §5 calls "logically single-threaded with respect to its
// own bookkeeping": two bookkeeping steps never observe a partially
// updated queue, because only one goroutine ever touches the waiting
// list, the running set, or the timer map.
//
// Per-job render work (Item.Process) runs off that serialization point, in
// its own goroutine, up to the configured concurrency. Its settlement is
// delivered back into the event loop as just another event, so the loop
// never blocks waiting on a render.
package queue

import (
	"container/list"
	"time"

	"github.com/wikirender/render-orchestrator/internal/taxonomy"
)

// Config holds the Queue's immutable construction-time parameters.
// spec.md §3: Concurrency == 0 means items are admitted but never started.
type Config struct {
	Concurrency        int
	QueueTimeoutMs     int64
	ExecutionTimeoutMs int64
	MaxTaskCount       int
}

// finishedRetention bounds how long a settled jobID is remembered purely
// to absorb late, harmless duplicate events (a straggling Process
// settlement after a timeout already rejected the future). Without this,
// the finished set would grow for the life of the process.
const finishedRetention = time.Minute

type msgKind int

const (
	msgSubmit msgKind = iota
	msgCancel
	msgQueueTimeout
	msgExecTimeout
	msgSettle
	msgCancelDone
	msgForget
	msgQuery
)

type message[T any] struct {
	kind     msgKind
	jobID    string
	item     *Item[T]
	resultCh chan Result[T]
	value    T
	err      error
	reply    chan countSnapshot
}

type waitingEntry[T any] struct {
	item     *Item[T]
	timer    *time.Timer
	resultCh chan Result[T]
}

type runningEntry[T any] struct {
	item      *Item[T]
	timer     *time.Timer
	resultCh  chan Result[T]
	cancelled bool // true once a cancel/timeout teardown has been started
}

// teardown tracks an in-flight Item.Cancel() call and the taxonomy error
// to deliver once it resolves.
type teardown[T any] struct {
	resultCh chan Result[T]
	finalErr error
}

type countSnapshot struct {
	waiting int
	running int
}

// Queue is the bounded FIFO render scheduler described by spec.md §3-§4.
// The zero value is not usable; construct with New.
type Queue[T any] struct {
	cfg      Config
	observer Observer

	events chan message[T]

	waiting      *list.List // of *waitingEntry[T]; front = oldest (FIFO)
	waitingIndex map[string]*list.Element
	running      map[string]*runningEntry[T]
	teardowns    map[string]*teardown[T]
	finished     map[string]bool // settled jobIDs; guards against double-settle
}

// New constructs a Queue and starts its event loop. A nil observer is
// replaced with NopObserver{}.
func New[T any](cfg Config, observer Observer) *Queue[T] {
	if observer == nil {
		observer = NopObserver{}
	}
	bufSize := 4*cfg.MaxTaskCount + 16
	q := &Queue[T]{
		cfg:      cfg,
		observer: observer,
		// Buffered generously so Submit and timer callbacks never block on
		// the event loop: spec.md §5 requires "submit never blocks".
		events:       make(chan message[T], bufSize),
		waiting:      list.New(),
		waitingIndex: make(map[string]*list.Element),
		running:      make(map[string]*runningEntry[T]),
		teardowns:    make(map[string]*teardown[T]),
		finished:     make(map[string]bool),
	}
	go q.run()
	return q
}

// Submit enqueues item and returns a Future that eventually resolves with
// the item's result or rejects with a taxonomy error (spec.md §4.3).
// Submit never blocks the caller.
func (q *Queue[T]) Submit(item *Item[T]) *Future[T] {
	resultCh := make(chan Result[T], 1)
	cancel := func() {
		q.events <- message[T]{kind: msgCancel, jobID: item.JobID}
	}
	q.events <- message[T]{kind: msgSubmit, item: item, resultCh: resultCh}
	return newFuture(resultCh, cancel)
}

// IsQueueFull reports whether the queue is currently at capacity.
func (q *Queue[T]) IsQueueFull() bool {
	s := q.snapshot()
	return s.waiting+s.running >= q.cfg.MaxTaskCount
}

// CountWaiting returns the number of items currently waiting.
func (q *Queue[T]) CountWaiting() int { return q.snapshot().waiting }

// CountRunning returns the number of items currently running.
func (q *Queue[T]) CountRunning() int { return q.snapshot().running }

func (q *Queue[T]) snapshot() countSnapshot {
	reply := make(chan countSnapshot, 1)
	q.events <- message[T]{kind: msgQuery, reply: reply}
	return <-reply
}

// run is the queue's single serialized event loop. Every mutation of
// waiting, running, teardowns, or finished happens here and nowhere else.
func (q *Queue[T]) run() {
	for msg := range q.events {
		switch msg.kind {
		case msgSubmit:
			q.handleSubmit(msg.item, msg.resultCh)
		case msgCancel:
			q.handleCancel(msg.jobID)
		case msgQueueTimeout:
			q.handleQueueTimeout(msg.jobID)
		case msgExecTimeout:
			q.handleExecTimeout(msg.jobID)
		case msgSettle:
			q.handleSettle(msg.jobID, msg.value, msg.err)
		case msgCancelDone:
			q.handleCancelDone(msg.jobID)
		case msgForget:
			delete(q.finished, msg.jobID)
		case msgQuery:
			msg.reply <- countSnapshot{waiting: q.waiting.Len(), running: len(q.running)}
		}
	}
}

func (q *Queue[T]) handleSubmit(item *Item[T], resultCh chan Result[T]) {
	if q.waiting.Len()+len(q.running) >= q.cfg.MaxTaskCount {
		q.observer.QueueFull(item.JobID)
		resultCh <- Result[T]{Err: &taxonomy.QueueFull{MaxTaskCount: q.cfg.MaxTaskCount}}
		return
	}

	now := nowMs()
	item.notifyQueueAdd(now)
	jobID := item.JobID
	entry := &waitingEntry[T]{item: item, resultCh: resultCh}
	entry.timer = time.AfterFunc(time.Duration(q.cfg.QueueTimeoutMs)*time.Millisecond, func() {
		q.events <- message[T]{kind: msgQueueTimeout, jobID: jobID}
	})
	q.waitingIndex[jobID] = q.waiting.PushBack(entry)
	q.observer.QueueNew(jobID, now)
	q.advance()
}

// advance is the single place that promotes items from waiting to
// running (spec.md §4.4). It is only ever called from run, which makes it
// non-reentrant by construction: there is no other goroutine that could
// call it concurrently or re-enter it from within one of its own emitted
// events.
func (q *Queue[T]) advance() {
	for q.cfg.Concurrency > 0 && len(q.running) < q.cfg.Concurrency && q.waiting.Len() > 0 {
		front := q.waiting.Front()
		entry := front.Value.(*waitingEntry[T])
		q.waiting.Remove(front)
		delete(q.waitingIndex, entry.item.JobID)
		entry.timer.Stop()

		jobID := entry.item.JobID
		now := nowMs()
		entry.item.notifyQueueStart(now)

		re := &runningEntry[T]{item: entry.item, resultCh: entry.resultCh}
		re.timer = time.AfterFunc(time.Duration(q.cfg.ExecutionTimeoutMs)*time.Millisecond, func() {
			q.events <- message[T]{kind: msgExecTimeout, jobID: jobID}
		})
		q.running[jobID] = re
		q.observer.ProcessStarted(jobID, now)

		item := entry.item
		go func() {
			value, err := item.Process()
			q.events <- message[T]{kind: msgSettle, jobID: jobID, value: value, err: err}
		}()
	}
}

func (q *Queue[T]) handleCancel(jobID string) {
	if q.finished[jobID] {
		return
	}
	if _, inFlight := q.teardowns[jobID]; inFlight {
		return
	}

	if elem, ok := q.waitingIndex[jobID]; ok {
		entry := elem.Value.(*waitingEntry[T])
		q.waiting.Remove(elem)
		delete(q.waitingIndex, jobID)
		entry.timer.Stop()

		now := nowMs()
		q.observer.QueueAbort(jobID, entry.item.AddedAt(), now)
		q.teardowns[jobID] = &teardown[T]{resultCh: entry.resultCh, finalErr: &taxonomy.ProcessingCancelled{JobID: jobID}}
		q.runTeardown(entry.item, jobID)
		return
	}

	if re, ok := q.running[jobID]; ok && !re.cancelled {
		re.cancelled = true
		re.timer.Stop()

		now := nowMs()
		q.observer.ProcessAbort(jobID, re.item.StartedAt(), now)
		q.teardowns[jobID] = &teardown[T]{resultCh: re.resultCh, finalErr: &taxonomy.ProcessingCancelled{JobID: jobID}}
		q.runTeardown(re.item, jobID)
		return
	}

	// Already settled, or an unknown jobID: no-op, per spec.md §4.5 step 4.
}

func (q *Queue[T]) handleQueueTimeout(jobID string) {
	if q.finished[jobID] {
		return
	}
	elem, ok := q.waitingIndex[jobID]
	if !ok {
		return
	}
	entry := elem.Value.(*waitingEntry[T])
	q.waiting.Remove(elem)
	delete(q.waitingIndex, jobID)

	now := nowMs()
	q.observer.QueueTimeout(jobID, entry.item.AddedAt(), now)
	q.settle(jobID, entry.resultCh, Result[T]{Err: &taxonomy.QueueTimeout{
		JobID:          jobID,
		WaitedMs:       now - entry.item.AddedAt(),
		QueueTimeoutMs: q.cfg.QueueTimeoutMs,
	}})
}

func (q *Queue[T]) handleExecTimeout(jobID string) {
	if q.finished[jobID] {
		return
	}
	re, ok := q.running[jobID]
	if !ok || re.cancelled {
		return
	}
	re.cancelled = true

	now := nowMs()
	q.observer.ProcessTimeout(jobID, re.item.StartedAt(), now)
	q.teardowns[jobID] = &teardown[T]{resultCh: re.resultCh, finalErr: &taxonomy.JobTimeout{
		JobID:              jobID,
		RanMs:              now - re.item.StartedAt(),
		ExecutionTimeoutMs: q.cfg.ExecutionTimeoutMs,
	}}
	q.runTeardown(re.item, jobID)
}

func (q *Queue[T]) runTeardown(item *Item[T], jobID string) {
	go func() {
		item.Cancel()
		q.events <- message[T]{kind: msgCancelDone, jobID: jobID}
	}()
}

func (q *Queue[T]) handleCancelDone(jobID string) {
	td, ok := q.teardowns[jobID]
	if !ok {
		return
	}
	delete(q.teardowns, jobID)
	delete(q.running, jobID)
	q.settle(jobID, td.resultCh, Result[T]{Err: td.finalErr})
}

func (q *Queue[T]) handleSettle(jobID string, value T, err error) {
	if q.finished[jobID] {
		return
	}
	re, ok := q.running[jobID]
	if !ok || re.cancelled {
		// Cancellation or timeout teardown already owns this item's
		// settlement; a concurrently-arriving natural result is a no-op
		// per spec.md §4.6: "the first settlement wins".
		return
	}
	re.timer.Stop()
	delete(q.running, jobID)

	now := nowMs()
	if err == nil {
		q.observer.ProcessSuccess(jobID, re.item.StartedAt(), now)
	} else if !taxonomy.IsCancellation(err) {
		q.observer.ProcessFailure(jobID, re.item.StartedAt(), now, err)
	}
	q.settle(jobID, re.resultCh, Result[T]{Value: value, Err: err})
}

// settle delivers the final result exactly once, marks jobID finished,
// schedules eventual forgetting of that bookkeeping, and re-attempts
// advancement (spec.md §4.3 step 5 / §4.4's generic cleanup path).
func (q *Queue[T]) settle(jobID string, resultCh chan Result[T], result Result[T]) {
	q.finished[jobID] = true
	resultCh <- result
	time.AfterFunc(finishedRetention, func() {
		q.events <- message[T]{kind: msgForget, jobID: jobID}
	})
	q.advance()
}
