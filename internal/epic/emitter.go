package epic

import (
	"sync/atomic"
	"time"
)

// Emitter fans coordinator events out to subscribers over a buffered
// channel. Emission never blocks the coordinator for long: a full channel
// gets a short grace period and then the event is dropped and counted.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the channel. If the buffer is full it waits up to
// 100ms for the receiver to drain before dropping the event.
func (e *Emitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			debugf("emitter: channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only channel subscribers receive on.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Call once, after the last Emit.
func (e *Emitter) Close() {
	close(e.events)
}
