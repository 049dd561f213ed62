package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestQueueOrdersTerminateBeforeLaunch(t *testing.T) {
	q := NewRequestQueue(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	var order []string

	release := make(chan struct{})
	var wg sync.WaitGroup

	go q.Run(ctx)

	// Submit a launch first; it blocks on `release` so the terminate
	// request queued after it must still be processed next in priority
	// order once this one finishes.
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := q.Submit(ctx, RequestLaunch, func() error {
			mu.Lock()
			order = append(order, "launch-1")
			mu.Unlock()
			<-release
			return nil
		})
		require.NoError(t, err)
	}()

	time.Sleep(50 * time.Millisecond)

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := q.Submit(ctx, RequestLaunch, func() error {
			mu.Lock()
			order = append(order, "launch-2")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		err := q.Submit(ctx, RequestTerminate, func() error {
			mu.Lock()
			order = append(order, "terminate")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, "launch-1", order[0])
	assert.Equal(t, "terminate", order[1])
	assert.Equal(t, "launch-2", order[2])
}
