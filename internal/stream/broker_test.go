package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker[int]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := b.Subscribe(ctx)
	c := b.Subscribe(ctx)
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(7)
	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-c)
}

func TestBrokerUnsubscribeOnCancel(t *testing.T) {
	t.Parallel()

	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
}

func TestBrokerPublishDoesNotBlock(t *testing.T) {
	t.Parallel()

	b := NewBrokerWithBuffer[int](1)
	defer b.Close()

	ch := b.Subscribe(context.Background())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, 0, <-ch)
}

func TestBrokerClose(t *testing.T) {
	t.Parallel()

	b := NewBroker[int]()
	ch := b.Subscribe(context.Background())
	b.Close()
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(1)
	late := b.Subscribe(context.Background())
	_, open = <-late
	assert.False(t, open)
}

func TestBrokerConcurrentPublish(t *testing.T) {
	t.Parallel()

	b := NewBrokerWithBuffer[int](1000)
	defer b.Close()
	ch := b.Subscribe(context.Background())

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Publish(i)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ch, 500)
}
