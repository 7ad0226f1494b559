// Package analytics emits fire-and-forget usage events. The hub hands
// events to a bounded in-process queue and never waits on delivery;
// under backpressure the oldest queued events are dropped.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one analytics record.
type Event struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Airport string                 `json:"airport,omitempty"`
	UserID  string                 `json:"user_id,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Time    time.Time              `json:"time"`
}

// Well-known event types emitted by the hub.
const (
	EventConnect         = "session.connect"
	EventDisconnect      = "session.disconnect"
	EventStateUpdate     = "state.update"
	EventSharedState     = "shared_state.update"
	EventStopbarCrossing = "stopbar.crossing"
	EventStaleCleanup    = "state.stale_cleanup"
)

// Recorder is the hot-path facing side of the pipeline: enqueue and
// return. The Emitter implements it.
type Recorder interface {
	Record(ev Event)
}

// Sink delivers events to a backend. Deliver may block; the Emitter in
// front of it never does.
type Sink interface {
	Deliver(ctx context.Context, ev Event)
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Deliver(context.Context, Event) {}
func (NopSink) Close() error                   { return nil }

// Emitter queues events for a sink behind a bounded channel. Record
// returns immediately; when the queue is full the oldest event is
// dropped to make room.
type Emitter struct {
	sink    Sink
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped func() // metrics hook, may be nil
}

// NewEmitter starts the delivery worker. buffer <= 0 defaults to 1024.
func NewEmitter(sink Sink, buffer int, onDrop func()) *Emitter {
	if buffer <= 0 {
		buffer = 1024
	}
	e := &Emitter{
		sink:    sink,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
		dropped: onDrop,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Record enqueues an event, stamping id and time if unset. Never blocks.
func (e *Emitter) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	for {
		select {
		case e.queue <- ev:
			return
		case <-e.done:
			return
		default:
		}
		// Queue full: drop the oldest queued event and retry.
		select {
		case old := <-e.queue:
			if e.dropped != nil {
				e.dropped()
			}
			slog.Debug("analytics queue full, dropped event", "type", old.Type)
		default:
		}
	}
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for {
		select {
		case ev := <-e.queue:
			e.sink.Deliver(context.Background(), ev)
		case <-e.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case ev := <-e.queue:
					e.sink.Deliver(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker after draining the queue.
func (e *Emitter) Close() error {
	e.once.Do(func() { close(e.done) })
	e.wg.Wait()
	return e.sink.Close()
}
