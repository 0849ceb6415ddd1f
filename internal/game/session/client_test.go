package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Push(t *testing.T) {
	c := NewClient(1, "alice", 4)
	require.NoError(t, c.Push([]byte("hello")))

	data := <-c.Events()
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, int64(1), c.PlayerID())
	assert.Equal(t, "alice", c.Name())
}

func TestClient_UniqueIDs(t *testing.T) {
	assert.NotEqual(t, NewClient(1, "a", 1).ID(), NewClient(1, "a", 1).ID())
}

func TestClient_PushClosed(t *testing.T) {
	c := NewClient(1, "alice", 4)
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	assert.ErrorIs(t, c.Push([]byte("fail")), ErrClientClosed)
	assert.Zero(t, c.Dropped(), "pushes after close are not backpressure")
}

func TestClient_CountsDropsWhenBehind(t *testing.T) {
	c := NewClient(1, "alice", 1)
	require.NoError(t, c.Push([]byte("first")))
	for range 3 {
		assert.ErrorIs(t, c.Push([]byte("overflow")), ErrClientBehind)
	}
	assert.Equal(t, uint64(3), c.Dropped())

	<-c.Events()
	require.NoError(t, c.Push([]byte("after drain")))
	assert.Equal(t, uint64(3), c.Dropped())
}

func TestClient_QueuedSurvivesClose(t *testing.T) {
	c := NewClient(1, "alice", 4)
	require.NoError(t, c.Push([]byte("a")))
	require.NoError(t, c.Push([]byte("b")))
	require.NoError(t, c.Close())

	var got []string
	for data := range c.Events() {
		got = append(got, string(data))
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestClient_ConcurrentPushAndClose(t *testing.T) {
	c := NewClient(1, "alice", 8)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Push([]byte("x"))
		}()
	}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	wg.Wait()
	assert.True(t, c.IsClosed())
}
