// Package telemetry is the sole translator from queue.Observer events
// into Prometheus metrics and zap log records. The queue package itself
// imports no metrics or logging library, matching the narrow-observer
// design note of spec.md §9.
package telemetry

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wikirender/render-orchestrator/internal/taxonomy"
)

// Adapter implements queue.Observer.
type Adapter struct {
	log *zap.Logger

	events     *prometheus.CounterVec
	queueTime  prometheus.Histogram
	renderTime prometheus.Histogram
	waitingGauge prometheus.Gauge
	runningGauge prometheus.Gauge
}

// New registers the adapter's metrics on reg and returns an Adapter ready
// to be passed to queue.New.
func New(log *zap.Logger, reg prometheus.Registerer) *Adapter {
	a := &Adapter{
		log: log,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "render_queue_events_total",
			Help: "Count of render queue lifecycle events by kind.",
		}, []string{"kind"}),
		queueTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "render_queue_residency_seconds",
			Help:    "Time a job spent waiting before it timed out or was cancelled in the queue; jobs promoted to running are not observed.",
			Buckets: prometheus.DefBuckets,
		}),
		renderTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "render_duration_seconds",
			Help:    "Time a job spent running.",
			Buckets: prometheus.DefBuckets,
		}),
		waitingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "render_queue_waiting",
			Help: "Current number of jobs waiting for a concurrency slot.",
		}),
		runningGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "render_queue_running",
			Help: "Current number of jobs actively rendering.",
		}),
	}
	reg.MustRegister(a.events, a.queueTime, a.renderTime, a.waitingGauge, a.runningGauge)
	return a
}

func seconds(startMs, endMs int64) float64 {
	return float64(endMs-startMs) / 1000.0
}

func (a *Adapter) QueueNew(jobID string, addedAt int64) {
	a.events.WithLabelValues("queue.new").Inc()
	a.waitingGauge.Inc()
	a.log.Info("queue.new", zap.String("job_id", jobID), zap.Int64("added_at", addedAt))
}

func (a *Adapter) QueueFull(jobID string) {
	a.events.WithLabelValues("queue.full").Inc()
	a.log.Warn("queue.full", zap.String("job_id", jobID))
}

func (a *Adapter) QueueTimeout(jobID string, addedAt, firedAt int64) {
	a.events.WithLabelValues("queue.timeout").Inc()
	a.waitingGauge.Dec()
	a.queueTime.Observe(seconds(addedAt, firedAt))
	a.log.Warn("queue.timeout", zap.String("job_id", jobID), zap.Int64("waited_ms", firedAt-addedAt))
}

func (a *Adapter) QueueAbort(jobID string, addedAt, firedAt int64) {
	a.events.WithLabelValues("queue.abort").Inc()
	a.waitingGauge.Dec()
	a.queueTime.Observe(seconds(addedAt, firedAt))
	a.log.Debug("queue.abort", zap.String("job_id", jobID))
}

func (a *Adapter) ProcessStarted(jobID string, startedAt int64) {
	a.events.WithLabelValues("process.started").Inc()
	a.waitingGauge.Dec()
	a.runningGauge.Inc()
	a.log.Info("process.started", zap.String("job_id", jobID), zap.Int64("started_at", startedAt))
}

func (a *Adapter) ProcessSuccess(jobID string, startedAt, endedAt int64) {
	a.events.WithLabelValues("process.success").Inc()
	a.runningGauge.Dec()
	a.renderTime.Observe(seconds(startedAt, endedAt))
	a.log.Info("process.success", zap.String("job_id", jobID), zap.Int64("duration_ms", endedAt-startedAt))
}

func (a *Adapter) ProcessFailure(jobID string, startedAt, endedAt int64, err error) {
	a.events.WithLabelValues("process.failure").Inc()
	a.runningGauge.Dec()
	a.renderTime.Observe(seconds(startedAt, endedAt))

	if _, ok := err.(*taxonomy.InternalFailure); ok {
		// spec.md §7: unclassified errors are logged with a stack trace.
		wrapped := errors.Wrap(err, "unclassified render failure")
		a.log.Error("process.failure",
			zap.String("job_id", jobID),
			zap.String("stack_trace", fmt.Sprintf("%+v", wrapped)))
		return
	}
	a.log.Warn("process.failure", zap.String("job_id", jobID), zap.Error(err))
}

func (a *Adapter) ProcessAbort(jobID string, startedAt, firedAt int64) {
	a.events.WithLabelValues("process.abort").Inc()
	a.runningGauge.Dec()
	a.renderTime.Observe(seconds(startedAt, firedAt))
	// Cancellation is normal; never logged as an error (spec.md §4.1, §7).
	a.log.Debug("process.abort", zap.String("job_id", jobID))
}

func (a *Adapter) ProcessTimeout(jobID string, startedAt, firedAt int64) {
	a.events.WithLabelValues("process.timeout").Inc()
	a.runningGauge.Dec()
	a.renderTime.Observe(seconds(startedAt, firedAt))
	a.log.Warn("process.timeout", zap.String("job_id", jobID), zap.Int64("ran_ms", firedAt-startedAt))
}
