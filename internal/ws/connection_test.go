package ws

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipeConnection(t *testing.T, id string, queue int) *Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return newConnection(id, "user-"+id, server, queue, time.Second)
}

func TestConnection_SendQueuesInOrder(t *testing.T) {
	c := pipeConnection(t, "c1", 4)

	require.True(t, c.Send([]byte("a")))
	require.True(t, c.Send([]byte("b")))
	require.Equal(t, "a", string(<-c.send))
	require.Equal(t, "b", string(<-c.send))
}

func TestConnection_OverflowTearsDownOnce(t *testing.T) {
	c := pipeConnection(t, "c1", 2)

	var calls int32
	done := make(chan struct{})
	c.onOverflow = func(*Connection) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(done)
		}
	}

	require.True(t, c.Send([]byte("1")))
	require.True(t, c.Send([]byte("2")))
	require.False(t, c.Send([]byte("3")))
	require.False(t, c.Send([]byte("4")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("overflow callback not called")
	}
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestConnection_SendAfterClose(t *testing.T) {
	c := pipeConnection(t, "c1", 2)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")
	require.False(t, c.Send([]byte("x")))
}

func TestConnectionManager_RemoveExactlyOnce(t *testing.T) {
	cm := NewConnectionManager()
	c := pipeConnection(t, "c1", 1)
	cm.Add(c)
	require.Equal(t, 1, cm.Count())
	require.Same(t, c, cm.Get("c1"))

	var wins int32
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			if cm.Remove("c1") {
				atomic.AddInt32(&wins, 1)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	require.EqualValues(t, 1, wins)
	require.Zero(t, cm.Count())
	require.Nil(t, cm.Get("c1"))
}
