package fifo

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/rigsession/pkg/rigerr"
)

func drain(q *Queue) []byte {
	var out []byte
	for {
		b, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestQueueRoundTrip(t *testing.T) {
	q := New(DefaultSize)

	text := "CQ CQ DE N0CALL K"
	require.NoError(t, q.PushString(text))
	assert.Equal(t, len(text), q.Len())

	b, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, byte('C'), b)
	assert.Equal(t, len(text), q.Len(), "peek must not consume")

	assert.Equal(t, text, string(drain(q)))

	_, ok = q.Pop()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestQueueFiltering(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"Line Breaks Only", []byte("\r\n\r\n"), ""},
		{"High Bit Only", []byte{0x80, 0xff, 0xc3, 0xa9}, ""},
		{"Mixed", []byte("TU\r\n73\xe2\x80\x94 EE"), "TU73 EE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(DefaultSize)
			require.NoError(t, q.Push(tt.input))
			assert.Equal(t, tt.want, string(drain(q)))
		})
	}
}

func TestQueueOverflow(t *testing.T) {
	q := New(DefaultSize)
	assert.Equal(t, DefaultSize-1, q.Cap())

	t.Run("Fill To Capacity", func(t *testing.T) {
		require.NoError(t, q.Push([]byte(strings.Repeat("E", DefaultSize-1))))
		assert.Equal(t, 0, q.Free())

		err := q.Push([]byte("T"))
		require.Error(t, err)
		assert.ErrorIs(t, err, rigerr.ErrOverflow)

		var overflow *rigerr.OverflowError
		require.True(t, errors.As(err, &overflow))
		assert.Equal(t, 1, overflow.Rejected)
	})

	t.Run("Filtered Bytes Never Overflow", func(t *testing.T) {
		assert.NoError(t, q.Push([]byte("\r\n\x80")))
	})

	t.Run("Push Is All Or Nothing", func(t *testing.T) {
		q.Reset()
		require.NoError(t, q.Push([]byte(strings.Repeat("A", DefaultSize-4))))

		err := q.Push([]byte("BCDEF"))
		var overflow *rigerr.OverflowError
		require.True(t, errors.As(err, &overflow))
		assert.Equal(t, 0, overflow.Accepted)
		assert.Equal(t, 5, overflow.Rejected)
		assert.Equal(t, 3, overflow.Free)
		assert.Equal(t, DefaultSize-4, q.Len(), "failed push must not insert")
	})

	t.Run("Push Available Is Partial", func(t *testing.T) {
		n, err := q.PushAvailable([]byte("BC\nDEF"))
		assert.Equal(t, 3, n)
		var overflow *rigerr.OverflowError
		require.True(t, errors.As(err, &overflow))
		assert.Equal(t, 3, overflow.Accepted)
		assert.Equal(t, 2, overflow.Rejected)

		out := drain(q)
		assert.Equal(t, "BCD", string(out[len(out)-3:]))
	})
}

func TestQueueDistinctOverflow(t *testing.T) {
	q := New(64)

	var err error
	for i := 0; i < 64 && err == nil; i++ {
		err = q.Push([]byte{byte('!' + i)})
	}
	assert.ErrorIs(t, err, rigerr.ErrOverflow)
	assert.Equal(t, 63, q.Len())
}

func TestQueueWrapAround(t *testing.T) {
	q := New(8)

	for round := 0; round < 20; round++ {
		require.NoError(t, q.PushString("ABCDE"))
		assert.Equal(t, []byte("ABC"), q.PopN(3))
		assert.Equal(t, "DE", string(q.PopN(10)))
		assert.Equal(t, 0, q.Len())
		assert.Equal(t, 7, q.Free())
	}
}

func TestQueueReset(t *testing.T) {
	q := New(16)
	assert.False(t, q.Flushed())

	require.NoError(t, q.PushString("SOS"))
	q.Reset()

	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.Flushed())
	assert.False(t, q.Flushed(), "flag clears once read")

	require.NoError(t, q.PushString("OK"))
	assert.Equal(t, "OK", string(drain(q)))
}

func TestQueuePeekCorruptCursor(t *testing.T) {
	q := New(16)
	require.NoError(t, q.PushString("K"))

	q.ring.head = 99
	_, ok := q.Peek()
	assert.False(t, ok)

	q.ring.head = 0
	q.ring.tail = -1
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestQueueConcurrent(t *testing.T) {
	q := New(DefaultSize)

	const producers = 4
	const perProducer = 2000

	var (
		wg      sync.WaitGroup
		popped  int
		done    = make(chan struct{})
		stopped = make(chan struct{})
	)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sent := 0; sent < perProducer; {
				if err := q.Push([]byte("E")); err == nil {
					sent++
				}
			}
		}()
	}

	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, ok := q.Pop(); ok {
				popped++
			}
		}
	}()

	wg.Wait()
	close(done)
	<-stopped

	assert.Equal(t, producers*perProducer, popped+q.Len())
}
