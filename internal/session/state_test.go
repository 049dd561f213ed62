package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runManager starts m's request queue for the duration of the test;
// Launch and Terminate both block on it draining.
func runManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
}

func TestFullLifecycle(t *testing.T) {
	m := NewManager(nil)
	runManager(t, m)
	require.Equal(t, StateIdle, m.State())

	require.NoError(t, m.BeginPairing("client-1"))
	assert.Equal(t, StatePairing, m.State())

	require.NoError(t, m.CompletePairing([]byte("key"), []byte("keyid")))
	assert.Equal(t, StatePaired, m.State())

	_, err := m.Launch(Context{Width: 1920, Height: 1080, FPS: 60})
	require.NoError(t, err)
	assert.Equal(t, StateLaunching, m.State())

	require.NoError(t, m.StartStreaming())
	assert.Equal(t, StateStreaming, m.State())

	m.Terminate()
	assert.Equal(t, StateIdle, m.State())
}

func TestIllegalTransitionRejected(t *testing.T) {
	m := NewManager(nil)
	runManager(t, m)
	_, err := m.Launch(Context{})
	require.Error(t, err)
	var invalid *ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}

// TestS6ConcurrentLaunchRejected is spec.md scenario S6: at most one
// Streaming session per server instance; concurrent launch attempts
// receive an error the HTTP layer maps to 503.
func TestS6ConcurrentLaunchRejected(t *testing.T) {
	m := NewManager(nil)
	runManager(t, m)
	require.NoError(t, m.BeginPairing("client-1"))
	require.NoError(t, m.CompletePairing(nil, nil))
	_, err := m.Launch(Context{})
	require.NoError(t, err)
	require.NoError(t, m.StartStreaming())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Launch(Context{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrBusy)
	}
}
