// Package eventrelay republishes render lifecycle events to operators
// over a WebSocket, using Redis pub/sub as the fan-out transport between
// the process that ran the render and the process(es) serving operator
// connections.
//
// This is adapted from the teacher's internal/ws package, which streamed
// per-function execution logs to a single subscribed client over the
// same Redis-pubsub-to-WebSocket shape. Here the channel is a single
// fixed topic ("render:events") carrying every job's lifecycle events
// rather than one channel per job, since operators watch the whole
// queue rather than one job at a time (spec.md §9, event relay is
// observability only — it never drives queue admission or scheduling).
package eventrelay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wikirender/render-orchestrator/internal/queue"
)

// channelName is the single Redis pub/sub topic carrying every event.
const channelName = "render:events"

// Event is the wire shape published to channelName and forwarded
// verbatim to connected WebSocket clients.
type Event struct {
	Kind      string `json:"kind"`
	JobID     string `json:"jobId"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Publisher implements queue.Observer by marshalling each event and
// publishing it to Redis. A Queue's FanOut observer typically includes
// both a telemetry.Adapter and a Publisher.
type Publisher struct {
	redis *redis.Client
	log   *zap.Logger
}

// NewPublisher constructs a Publisher over redisClient.
func NewPublisher(redisClient *redis.Client, log *zap.Logger) *Publisher {
	return &Publisher{redis: redisClient, log: log}
}

func (p *Publisher) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("event relay marshal failed", zap.Error(err))
		return
	}
	// Best-effort: a dropped operator event never affects render
	// outcomes, so errors here are logged and swallowed.
	if err := p.redis.Publish(context.Background(), channelName, data).Err(); err != nil {
		p.log.Warn("event relay publish failed", zap.Error(err))
	}
}

var _ queue.Observer = (*Publisher)(nil)

func (p *Publisher) QueueNew(jobID string, addedAt int64) {
	p.publish(Event{Kind: "queue.new", JobID: jobID, Timestamp: addedAt})
}

func (p *Publisher) QueueFull(jobID string) {
	p.publish(Event{Kind: "queue.full", JobID: jobID})
}

func (p *Publisher) QueueTimeout(jobID string, addedAt, firedAt int64) {
	p.publish(Event{Kind: "queue.timeout", JobID: jobID, Timestamp: firedAt})
}

func (p *Publisher) QueueAbort(jobID string, addedAt, firedAt int64) {
	p.publish(Event{Kind: "queue.abort", JobID: jobID, Timestamp: firedAt})
}

func (p *Publisher) ProcessStarted(jobID string, startedAt int64) {
	p.publish(Event{Kind: "process.started", JobID: jobID, Timestamp: startedAt})
}

func (p *Publisher) ProcessSuccess(jobID string, startedAt, endedAt int64) {
	p.publish(Event{Kind: "process.success", JobID: jobID, Timestamp: endedAt})
}

func (p *Publisher) ProcessFailure(jobID string, startedAt, endedAt int64, err error) {
	p.publish(Event{Kind: "process.failure", JobID: jobID, Timestamp: endedAt, Detail: err.Error()})
}

func (p *Publisher) ProcessAbort(jobID string, startedAt, firedAt int64) {
	p.publish(Event{Kind: "process.abort", JobID: jobID, Timestamp: firedAt})
}

func (p *Publisher) ProcessTimeout(jobID string, startedAt, firedAt int64) {
	p.publish(Event{Kind: "process.timeout", JobID: jobID, Timestamp: firedAt})
}

// Handler serves the operator-facing WebSocket endpoint.
type Handler struct {
	redis    *redis.Client
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler creates a Handler subscribing to channelName on redisClient.
func NewHandler(redisClient *redis.Client, log *zap.Logger) *Handler {
	return &Handler{
		redis: redisClient,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// RegisterRoutes mounts the relay's WebSocket endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/events", h.HandleEventStream)
}

// HandleEventStream upgrades the connection and forwards every event
// published to channelName until the client disconnects.
func (h *Handler) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("event relay upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pubsub := h.redis.Subscribe(ctx, channelName)
	defer pubsub.Close()

	var closeOnce sync.Once
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeOnce.Do(cancel)
				return
			}
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		}
	}
}
