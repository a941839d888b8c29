package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := New[int](3)
	assert.Equal(t, 3, q.Cap())
	for ii := range 3 {
		require.NoError(t, q.Send(ctx, ii))
	}
	assert.Equal(t, 3, q.Len())
	require.ErrorIs(t, q.SendTimeout(ctx, 3, 10*time.Millisecond), ErrTimeout)

	for ii := range 3 {
		x, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, ii, x)
	}
	_, ok := q.TryReceive()
	assert.False(t, ok)
	_, err := q.ReceiveTimeout(ctx, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestQueue_Cancel(t *testing.T) {
	q := New[int](1)
	require.NoError(t, q.Send(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	require.ErrorIs(t, q.Send(ctx, 2), context.Canceled)
	_, err := New[int](1).Receive(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueue_Concurrent(t *testing.T) {
	ctx := context.Background()
	q := New[int](4)
	var g errgroup.Group
	const numProducers, perProducer = 5, 100
	for range numProducers {
		g.Go(func() error {
			for ii := range perProducer {
				if err := q.Send(ctx, ii); err != nil {
					return err
				}
			}
			return nil
		})
	}
	sum := 0
	for range numProducers * perProducer {
		x, err := q.Receive(ctx)
		require.NoError(t, err)
		sum += x
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, numProducers*perProducer*(perProducer-1)/2, sum)
}
