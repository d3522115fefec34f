package fifo

import (
	"fmt"
	"sync"

	"github.com/dougsko/rigsession/pkg/rigerr"
)

// DefaultSize is the buffer size of a session queue. One byte is kept free.
const DefaultSize = 1024

// Queue is a bounded non-blocking byte queue for keyer text
type Queue struct {
	mutex   sync.Mutex
	buf     []byte
	ring    ring
	flushed bool
}

// New creates a queue with size slots. Sizes below 2 select DefaultSize.
func New(size int) *Queue {
	if size < 2 {
		size = DefaultSize
	}
	return &Queue{
		buf:  make([]byte, size),
		ring: newRing(size),
	}
}

// accepted reports whether b is queued. High-bit bytes and line breaks are dropped.
func accepted(b byte) bool {
	return b&0x80 == 0 && b != '\n' && b != '\r'
}

// AcceptedLen returns how many bytes of p survive filtering
func AcceptedLen(p []byte) int {
	n := 0
	for _, b := range p {
		if accepted(b) {
			n++
		}
	}
	return n
}

// Push appends p after filtering. Either every accepted byte is queued or
// none is, in which case an *rigerr.OverflowError is returned.
func (q *Queue) Push(p []byte) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	n := AcceptedLen(p)
	if free := q.ring.free(); n > free {
		return &rigerr.OverflowError{Accepted: 0, Rejected: n, Free: free}
	}
	for _, b := range p {
		if accepted(b) {
			q.buf[q.ring.advanceTail()] = b
		}
	}
	return nil
}

// PushAvailable queues bytes of p until the buffer fills. It returns how many
// bytes were queued and an *rigerr.OverflowError naming the rejected rest.
func (q *Queue) PushAvailable(p []byte) (int, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	queued := 0
	for i, b := range p {
		if !accepted(b) {
			continue
		}
		if q.ring.full() {
			return queued, &rigerr.OverflowError{
				Accepted: queued,
				Rejected: AcceptedLen(p[i:]),
				Free:     0,
			}
		}
		q.buf[q.ring.advanceTail()] = b
		queued++
	}
	return queued, nil
}

// PushString is Push for text
func (q *Queue) PushString(s string) error {
	return q.Push([]byte(s))
}

// Pop removes and returns the oldest byte
func (q *Queue) Pop() (byte, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.ring.empty() {
		return 0, false
	}
	return q.buf[q.ring.advanceHead()], true
}

// PopN removes up to n bytes
func (q *Queue) PopN(n int) []byte {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if n > q.ring.length() {
		n = q.ring.length()
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, q.buf[q.ring.advanceHead()])
	}
	return out
}

// Peek returns the oldest byte without removing it. Corrupt cursors read as empty.
func (q *Queue) Peek() (byte, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.ring.valid() || q.ring.empty() {
		return 0, false
	}
	return q.buf[q.ring.head], true
}

// Reset discards queued bytes and raises the flush flag
func (q *Queue) Reset() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.ring.drain()
	q.flushed = true
}

// Flushed reports whether Reset ran since the last call and clears the flag
func (q *Queue) Flushed() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	f := q.flushed
	q.flushed = false
	return f
}

// Len returns the number of queued bytes
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.ring.length()
}

// Free returns the number of bytes that can be pushed
func (q *Queue) Free() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.ring.free()
}

// Cap returns the usable capacity
func (q *Queue) Cap() int {
	return q.ring.capacity()
}

func (q *Queue) String() string {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return fmt.Sprintf("fifo(len=%d cap=%d)", q.ring.length(), q.ring.capacity())
}
