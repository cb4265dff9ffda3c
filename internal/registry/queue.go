package registry

import (
	"errors"
	"sync"

	"guppyrelay/internal/model"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrChannelFull   = errors.New("channel full")
)

// Queue is a bounded, non-blocking delivery channel. A session's writer
// drains C(); Push fails fast instead of stalling the router.
type Queue struct {
	id string

	mu     sync.Mutex
	closed bool
	out    chan model.Message
}

func NewQueue(id string, size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{id: id, out: make(chan model.Message, size)}
}

func (q *Queue) ID() string { return q.id }

// Push enqueues msg. After Close every Push returns ErrChannelClosed.
func (q *Queue) Push(msg model.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrChannelClosed
	}
	select {
	case q.out <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// C is drained by the channel's consumer. It is closed by Close.
func (q *Queue) C() <-chan model.Message { return q.out }

// Close stops further pushes. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.out)
	}
}
