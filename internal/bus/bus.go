// Package bus provides the in-process messaging between the portfolio
// manager and the execution engine: a single-consumer command bus and a
// fan-out event bus. Both are unbounded and FIFO per producer.
package bus

import (
	"context"
	"sync"

	"kalshi-exec/internal/metrics"
	"kalshi-exec/pkg/types"
)

// Recorder receives every message before it is enqueued, so the
// observability trail is complete even if no consumer ever drains the
// queue. A nil Recorder disables recording.
type Recorder interface {
	RecordMessage(message any, kind, stage, correlationID string)
}

// Default stage labels used when the producer does not name itself.
const (
	StageCommandBus = "command_bus"
	StageEventBus   = "event_bus"
)

func stageOrDefault(stage []string, def string) string {
	if len(stage) > 0 && stage[0] != "" {
		return stage[0]
	}
	return def
}

// ————————————————————————————————————————————————————————————————————————
// Unbounded FIFO queue
// ————————————————————————————————————————————————————————————————————————

// queue is an unbounded FIFO. put never blocks; get blocks until an item
// is available or the context ends. Waiters are woken by closing the
// ready channel, which is remade under the lock on every put.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{ready: make(chan struct{})}
}

func (q *queue[T]) put(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	close(q.ready)
	q.ready = make(chan struct{})
	q.mu.Unlock()
}

func (q *queue[T]) get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ready:
		}
	}
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ————————————————————————————————————————————————————————————————————————
// Command bus
// ————————————————————————————————————————————————————————————————————————

// CommandBus carries execution commands from producers to the single
// engine consumer. Commands are recorded before they are enqueued.
type CommandBus struct {
	q   *queue[types.ExecutionCommand]
	rec Recorder

	mu         sync.Mutex
	unfinished int
	idle       chan struct{} // closed while unfinished == 0
}

func NewCommandBus(rec Recorder) *CommandBus {
	idle := make(chan struct{})
	close(idle)
	return &CommandBus{
		q:    newQueue[types.ExecutionCommand](),
		rec:  rec,
		idle: idle,
	}
}

// Put enqueues a command. The queue is unbounded so Put never blocks,
// but it still honors an already-cancelled context. An optional stage
// names the producer on the recorded trail.
func (b *CommandBus) Put(ctx context.Context, cmd types.ExecutionCommand, stage ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.rec != nil {
		b.rec.RecordMessage(cmd, "command", stageOrDefault(stage, StageCommandBus), "")
	}
	metrics.Commands.WithLabelValues(cmd.CommandType()).Inc()

	b.mu.Lock()
	if b.unfinished == 0 {
		b.idle = make(chan struct{})
	}
	b.unfinished++
	b.mu.Unlock()

	b.q.put(cmd)
	return nil
}

// Get blocks until a command is available or ctx ends.
func (b *CommandBus) Get(ctx context.Context) (types.ExecutionCommand, error) {
	return b.q.get(ctx)
}

// TaskDone marks one previously fetched command as fully processed.
func (b *CommandBus) TaskDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unfinished == 0 {
		panic("bus: TaskDone called more times than Put")
	}
	b.unfinished--
	if b.unfinished == 0 {
		close(b.idle)
	}
}

// Join blocks until every command put on the bus has been marked done.
func (b *CommandBus) Join(ctx context.Context) error {
	b.mu.Lock()
	idle := b.idle
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// Pending reports the number of commands enqueued but not yet fetched.
func (b *CommandBus) Pending() int { return b.q.len() }

// ————————————————————————————————————————————————————————————————————————
// Event bus
// ————————————————————————————————————————————————————————————————————————

// Subscription is one subscriber's private unbounded event queue. A slow
// subscriber only grows its own queue and never blocks the publisher or
// other subscribers.
type Subscription struct {
	q *queue[types.ExecutionEvent]
}

// Next blocks until an event is available or ctx ends.
func (s *Subscription) Next(ctx context.Context) (types.ExecutionEvent, error) {
	return s.q.get(ctx)
}

// Pending reports the number of undelivered events in this subscription.
func (s *Subscription) Pending() int { return s.q.len() }

// EventBus fans execution events out to all current subscribers. Events
// are recorded once before delivery, regardless of subscriber count.
type EventBus struct {
	mu   sync.Mutex
	subs []*Subscription
	rec  Recorder
}

func NewEventBus(rec Recorder) *EventBus {
	return &EventBus{rec: rec}
}

// Subscribe registers a new subscriber. Events published before the call
// are not replayed.
func (b *EventBus) Subscribe() *Subscription {
	s := &Subscription{q: newQueue[types.ExecutionEvent]()}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber. Events already in its queue remain
// readable; no new events are delivered.
func (b *EventBus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish records the event and delivers it to every subscriber in
// subscription order. Publishing never blocks. An optional stage names
// the producer on the recorded trail.
func (b *EventBus) Publish(ctx context.Context, ev types.ExecutionEvent, stage ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.rec != nil {
		b.rec.RecordMessage(ev, "event", stageOrDefault(stage, StageEventBus), "")
	}
	metrics.EventsPublished.WithLabelValues(ev.EventType()).Inc()

	b.mu.Lock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.q.put(ev)
	}
	return nil
}

// PublishMany publishes events in order, stopping at the first error.
func (b *EventBus) PublishMany(ctx context.Context, evs []types.ExecutionEvent, stage ...string) error {
	for _, ev := range evs {
		if err := b.Publish(ctx, ev, stage...); err != nil {
			return err
		}
	}
	return nil
}
