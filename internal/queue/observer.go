package queue

// Observer is the narrow, library-agnostic event sink the queue reports
// to. One method per event kind named in spec.md §6; the telemetry
// adapter is the only implementation that knows about Prometheus or zap.
// A nil Observer is never passed to a running Queue; use NopObserver for
// tests that don't care about events.
type Observer interface {
	QueueNew(jobID string, addedAt int64)
	QueueFull(jobID string)
	QueueTimeout(jobID string, addedAt, firedAt int64)
	QueueAbort(jobID string, addedAt, firedAt int64)
	ProcessStarted(jobID string, startedAt int64)
	ProcessSuccess(jobID string, startedAt, endedAt int64)
	ProcessFailure(jobID string, startedAt, endedAt int64, err error)
	ProcessAbort(jobID string, startedAt, firedAt int64)
	ProcessTimeout(jobID string, startedAt, firedAt int64)
}

// FanOut broadcasts every event to each of its member Observers, in
// order, on the caller's goroutine. Used to feed both the telemetry
// adapter and the event relay from a single Queue.
type FanOut []Observer

func (f FanOut) QueueNew(jobID string, addedAt int64) {
	for _, o := range f {
		o.QueueNew(jobID, addedAt)
	}
}

func (f FanOut) QueueFull(jobID string) {
	for _, o := range f {
		o.QueueFull(jobID)
	}
}

func (f FanOut) QueueTimeout(jobID string, addedAt, firedAt int64) {
	for _, o := range f {
		o.QueueTimeout(jobID, addedAt, firedAt)
	}
}

func (f FanOut) QueueAbort(jobID string, addedAt, firedAt int64) {
	for _, o := range f {
		o.QueueAbort(jobID, addedAt, firedAt)
	}
}

func (f FanOut) ProcessStarted(jobID string, startedAt int64) {
	for _, o := range f {
		o.ProcessStarted(jobID, startedAt)
	}
}

func (f FanOut) ProcessSuccess(jobID string, startedAt, endedAt int64) {
	for _, o := range f {
		o.ProcessSuccess(jobID, startedAt, endedAt)
	}
}

func (f FanOut) ProcessFailure(jobID string, startedAt, endedAt int64, err error) {
	for _, o := range f {
		o.ProcessFailure(jobID, startedAt, endedAt, err)
	}
}

func (f FanOut) ProcessAbort(jobID string, startedAt, firedAt int64) {
	for _, o := range f {
		o.ProcessAbort(jobID, startedAt, firedAt)
	}
}

func (f FanOut) ProcessTimeout(jobID string, startedAt, firedAt int64) {
	for _, o := range f {
		o.ProcessTimeout(jobID, startedAt, firedAt)
	}
}

// NopObserver implements Observer with no-ops.
type NopObserver struct{}

func (NopObserver) QueueNew(string, int64)                   {}
func (NopObserver) QueueFull(string)                          {}
func (NopObserver) QueueTimeout(string, int64, int64)         {}
func (NopObserver) QueueAbort(string, int64, int64)           {}
func (NopObserver) ProcessStarted(string, int64)              {}
func (NopObserver) ProcessSuccess(string, int64, int64)       {}
func (NopObserver) ProcessFailure(string, int64, int64, error) {}
func (NopObserver) ProcessAbort(string, int64, int64)         {}
func (NopObserver) ProcessTimeout(string, int64, int64)       {}
