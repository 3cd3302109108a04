package comms

import (
	"errors"

	"github.com/rgstephens/gdo-bridge/internal/bus"
)

// DefaultQueueCapacity holds a Stop+Close pair of press/release actions plus one.
const DefaultQueueCapacity = 5

// ErrQueueFull is returned when a push does not fit. Nothing was queued.
var ErrQueueFull = errors.New("comms: transmit queue full")

// Queue is a bounded FIFO ring of pending actions. Pushes never overwrite.
type Queue struct {
	buf  []bus.PacketAction
	head int
	n    int
}

// NewQueue returns an empty queue holding at most capacity actions.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{buf: make([]bus.PacketAction, capacity)}
}

// Len returns the number of queued actions.
func (q *Queue) Len() int { return q.n }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Push appends one action.
func (q *Queue) Push(a bus.PacketAction) error {
	return q.PushAll(a)
}

// PushAll appends all actions or none of them.
func (q *Queue) PushAll(actions ...bus.PacketAction) error {
	if q.n+len(actions) > len(q.buf) {
		return ErrQueueFull
	}
	for _, a := range actions {
		q.buf[(q.head+q.n)%len(q.buf)] = a
		q.n++
	}
	return nil
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (bus.PacketAction, bool) {
	if q.n == 0 {
		return bus.PacketAction{}, false
	}
	return q.buf[q.head], true
}

// Drop removes the head, if any.
func (q *Queue) Drop() {
	if q.n == 0 {
		return
	}
	q.buf[q.head] = bus.PacketAction{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
}

// Items returns the queued actions in order.
func (q *Queue) Items() []bus.PacketAction {
	out := make([]bus.PacketAction, 0, q.n)
	for i := 0; i < q.n; i++ {
		out = append(out, q.buf[(q.head+i)%len(q.buf)])
	}
	return out
}
