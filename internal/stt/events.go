package stt

import (
	"sync"

	"github.com/lexiqai/encounter-scribe/internal/transcript"
)

// EventKind identifies the payload of an Event
type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventConnectionChanged
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventConnectionChanged:
		return "connection_changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification delivered to the consumer.
// Only the field matching Kind is set.
type Event struct {
	Kind      EventKind
	Interim   transcript.InterimUpdate
	Segment   transcript.Segment
	Connected bool
	Err       error
}

// eventQueue is an unbounded ordered queue drained by a single goroutine,
// so producers never block and the consumer sees one event at a time.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
	out    chan Event
}

func newEventQueue() *eventQueue {
	q := &eventQueue{out: make(chan Event)}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
}

// close stops accepting events; already queued events are still delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *eventQueue) run() {
	defer close(q.out)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- ev
	}
}
