package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wikirender/render-orchestrator/internal/taxonomy"
)

func sleepingItem(jobID string, d time.Duration) *Item[string] {
	return NewItem[string](jobID, func() (string, error) {
		time.Sleep(d)
		return jobID + "-done", nil
	}, func() {})
}

// cancellableItem's process blocks until either its duration elapses or
// cancel is invoked; cancel records that it ran.
func cancellableItem(jobID string, d time.Duration) (*Item[string], *int32) {
	var cancelled int32
	stop := make(chan struct{})
	item := NewItem[string](jobID, func() (string, error) {
		select {
		case <-time.After(d):
			return jobID + "-done", nil
		case <-stop:
			return "", errors.New("cancelled before completion")
		}
	}, func() {
		atomic.StoreInt32(&cancelled, 1)
		close(stop)
	})
	return item, &cancelled
}

// Scenario 1: Overflow. The (N+1)-th outstanding submission to a queue at
// maxTaskCount=N fails synchronously with QueueFull, before the first job
// settles.
func TestOverflowRejectsSynchronously(t *testing.T) {
	q := New[string](Config{Concurrency: 1, QueueTimeoutMs: 5000, ExecutionTimeoutMs: 5000, MaxTaskCount: 1}, NopObserver{})

	futureA := q.Submit(sleepingItem("A", 80*time.Millisecond))
	time.Sleep(10 * time.Millisecond) // let A be admitted and promoted to running

	futureB := q.Submit(NewItem[string]("B", func() (string, error) { return "B-done", nil }, func() {}))
	resultB := <-futureB.Done()
	if _, ok := resultB.Err.(*taxonomy.QueueFull); !ok {
		t.Fatalf("expected B to fail with QueueFull, got %#v", resultB.Err)
	}

	resultA := <-futureA.Done()
	if resultA.Err != nil {
		t.Fatalf("expected A to resolve successfully, got error %v", resultA.Err)
	}
}

// Scenario 2: Queue timeout. With concurrency=0, a submitted item can
// never be promoted, so it must age out of the waiting queue with
// QueueTimeout and its process must never run.
func TestQueueTimeoutFiresWhenNeverPromoted(t *testing.T) {
	q := New[string](Config{Concurrency: 0, QueueTimeoutMs: 20, ExecutionTimeoutMs: 1000, MaxTaskCount: 1}, NopObserver{})

	var processCalled int32
	item := NewItem[string]("X", func() (string, error) {
		atomic.StoreInt32(&processCalled, 1)
		return "X-done", nil
	}, func() {})

	future := q.Submit(item)
	result := <-future.Done()
	if _, ok := result.Err.(*taxonomy.QueueTimeout); !ok {
		t.Fatalf("expected QueueTimeout, got %#v", result.Err)
	}
	if atomic.LoadInt32(&processCalled) != 0 {
		t.Error("process must never be invoked for an item that timed out while waiting")
	}
}

// Scenario 3: Execution timeout. A job whose process runs long past
// executionTimeoutMs must fail with JobTimeout, and its cancel function
// must have been invoked.
func TestExecutionTimeoutInvokesCancel(t *testing.T) {
	q := New[string](Config{Concurrency: 1, QueueTimeoutMs: 1000, ExecutionTimeoutMs: 20, MaxTaskCount: 1}, NopObserver{})

	item, cancelled := cancellableItem("Y", 500*time.Millisecond)
	future := q.Submit(item)
	result := <-future.Done()
	if _, ok := result.Err.(*taxonomy.JobTimeout); !ok {
		t.Fatalf("expected JobTimeout, got %#v", result.Err)
	}
	if atomic.LoadInt32(cancelled) != 1 {
		t.Error("expected cancel to have been invoked after execution timeout")
	}
}

// Scenario 4: Cancellation while waiting. Cancelling a still-waiting item
// rejects it with ProcessingCancelled without disturbing earlier items.
func TestCancelWhileWaiting(t *testing.T) {
	q := New[string](Config{Concurrency: 1, QueueTimeoutMs: 2000, ExecutionTimeoutMs: 2000, MaxTaskCount: 5}, NopObserver{})

	futureA := q.Submit(sleepingItem("A", 60*time.Millisecond))
	futureB := q.Submit(sleepingItem("B", 60*time.Millisecond))
	itemC, _ := cancellableItem("C", 10*time.Millisecond)
	futureC := q.Submit(itemC)

	time.Sleep(5 * time.Millisecond) // A promoted to running, B and C still waiting
	futureC.Cancel()
	resultC := <-futureC.Done()
	if _, ok := resultC.Err.(*taxonomy.ProcessingCancelled); !ok {
		t.Fatalf("expected ProcessingCancelled, got %#v", resultC.Err)
	}

	if waiting := q.CountWaiting(); waiting != 1 {
		t.Errorf("expected exactly 1 waiting item immediately after cancel, got %d", waiting)
	}
	if running := q.CountRunning(); running != 1 {
		t.Errorf("expected exactly 1 running item immediately after cancel, got %d", running)
	}

	resultA := <-futureA.Done()
	if resultA.Err != nil {
		t.Errorf("expected A to resolve normally, got %v", resultA.Err)
	}
	resultB := <-futureB.Done()
	if resultB.Err != nil {
		t.Errorf("expected B to resolve normally, got %v", resultB.Err)
	}
}

// Scenario 5: Cancellation while running. Cancelling a running item
// invokes its cancel function and rejects with ProcessingCancelled,
// without disturbing sibling running items.
func TestCancelWhileRunning(t *testing.T) {
	q := New[string](Config{Concurrency: 2, QueueTimeoutMs: 2000, ExecutionTimeoutMs: 2000, MaxTaskCount: 2}, NopObserver{})

	futureA := q.Submit(sleepingItem("A", 100*time.Millisecond))
	itemB, cancelledB := cancellableItem("B", 200*time.Millisecond)
	futureB := q.Submit(itemB)

	time.Sleep(2 * time.Millisecond)
	futureB.Cancel()

	resultB := <-futureB.Done()
	if _, ok := resultB.Err.(*taxonomy.ProcessingCancelled); !ok {
		t.Fatalf("expected ProcessingCancelled, got %#v", resultB.Err)
	}
	if atomic.LoadInt32(cancelledB) != 1 {
		t.Error("expected B's cancel to have been invoked")
	}

	resultA := <-futureA.Done()
	if resultA.Err != nil {
		t.Errorf("expected A to resolve normally, got %v", resultA.Err)
	}
}

// Scenario 6: FIFO under serial concurrency. With concurrency=1, three
// successful jobs of decreasing duration must still resolve in admission
// order.
func TestFIFOResolutionOrderUnderSerialConcurrency(t *testing.T) {
	q := New[string](Config{Concurrency: 1, QueueTimeoutMs: 2000, ExecutionTimeoutMs: 2000, MaxTaskCount: 5}, NopObserver{})

	var mu sync.Mutex
	var order []string
	record := func(id string) { mu.Lock(); order = append(order, id); mu.Unlock() }

	futures := []*Future[string]{
		q.Submit(NewItem[string]("one", func() (string, error) {
			time.Sleep(40 * time.Millisecond)
			record("one")
			return "one", nil
		}, func() {})),
		q.Submit(NewItem[string]("two", func() (string, error) {
			time.Sleep(15 * time.Millisecond)
			record("two")
			return "two", nil
		}, func() {})),
		q.Submit(NewItem[string]("three", func() (string, error) {
			time.Sleep(3 * time.Millisecond)
			record("three")
			return "three", nil
		}, func() {})),
	}

	for _, f := range futures {
		result := <-f.Done()
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
	}

	want := []string{"one", "two", "three"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("expected %d resolutions, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("resolution order = %v, want %v", order, want)
		}
	}
}

// Scenario 7 is covered at the renderer level (TestAbortRenderForceKillsOnHang
// in internal/renderer), since "hung browser" is a Renderer.AbortRender
// concern, not a Queue one.

func TestDoubleCancelIsIdempotent(t *testing.T) {
	q := New[string](Config{Concurrency: 1, QueueTimeoutMs: 2000, ExecutionTimeoutMs: 2000, MaxTaskCount: 2}, NopObserver{})
	item, cancelled := cancellableItem("A", 100*time.Millisecond)
	future := q.Submit(item)

	time.Sleep(2 * time.Millisecond)
	future.Cancel()
	future.Cancel() // must not panic or double-invoke cancel semantics

	result := <-future.Done()
	if _, ok := result.Err.(*taxonomy.ProcessingCancelled); !ok {
		t.Fatalf("expected ProcessingCancelled, got %#v", result.Err)
	}
	if atomic.LoadInt32(cancelled) != 1 {
		t.Error("cancel must only tear down resources once")
	}
}

func TestInvariantWaitingPlusRunningNeverExceedsMaxTaskCount(t *testing.T) {
	q := New[string](Config{Concurrency: 1, QueueTimeoutMs: 2000, ExecutionTimeoutMs: 2000, MaxTaskCount: 2}, NopObserver{})

	q.Submit(sleepingItem("A", 30*time.Millisecond))
	q.Submit(sleepingItem("B", 30*time.Millisecond))
	time.Sleep(2 * time.Millisecond)

	if waiting, running := q.CountWaiting(), q.CountRunning(); waiting+running > 2 {
		t.Fatalf("waiting(%d)+running(%d) exceeds maxTaskCount 2", waiting, running)
	}

	rejected := q.Submit(NewItem[string]("C", func() (string, error) { return "C", nil }, func() {}))
	result := <-rejected.Done()
	if _, ok := result.Err.(*taxonomy.QueueFull); !ok {
		t.Fatalf("expected QueueFull once at capacity, got %#v", result.Err)
	}
}
