package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guppyrelay/internal/model"
)

func TestQueue_PushAndDrain(t *testing.T) {
	q := NewQueue("q", 2)
	assert.Equal(t, "q", q.ID())

	require.NoError(t, q.Push(model.Message{ID: 1}))
	require.NoError(t, q.Push(model.Message{ID: 2}))

	assert.Equal(t, int64(1), (<-q.C()).ID)
	assert.Equal(t, int64(2), (<-q.C()).ID)
}

func TestQueue_FullDoesNotBlock(t *testing.T) {
	q := NewQueue("q", 1)

	require.NoError(t, q.Push(model.Message{ID: 1}))
	assert.ErrorIs(t, q.Push(model.Message{ID: 2}), ErrChannelFull)
}

func TestQueue_ClosedRejectsPush(t *testing.T) {
	q := NewQueue("q", 1)
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(model.Message{ID: 1}), ErrChannelClosed)

	_, ok := <-q.C()
	assert.False(t, ok)
}

func TestQueue_ZeroSizeIsClampedToOne(t *testing.T) {
	q := NewQueue("q", 0)
	assert.NoError(t, q.Push(model.Message{ID: 1}))
}

func TestQueue_PushRacesClose(t *testing.T) {
	q := NewQueue("q", 100)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := q.Push(model.Message{ID: int64(i)})
			if err != nil {
				assert.ErrorIs(t, err, ErrChannelClosed)
			}
		}(i)
	}
	q.Close()
	wg.Wait()
}
