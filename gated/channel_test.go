package gated

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_GateClosedRejects(t *testing.T) {
	tx, rx := New[int]()
	assert.False(t, tx.Ready())
	assert.ErrorIs(t, tx.Send(1), ErrNotReady)

	// the rejected element must not linger in the queue
	rx.SetReady(true)
	_, err := rx.Recv(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrRecvTimeout)
}

func TestChannel_FifoAcrossGateFlips(t *testing.T) {
	tx, rx := New[string]()
	rx.SetReady(true)
	require.NoError(t, tx.Send("a"))
	rx.SetReady(false)
	assert.ErrorIs(t, tx.Send("b"), ErrNotReady)
	rx.SetReady(true)
	require.NoError(t, tx.Send("c"))

	v, err := rx.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	v, err = rx.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}

func TestChannel_RecvTimeout(t *testing.T) {
	_, rx := New[int]()
	start := time.Now()
	_, err := rx.Recv(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrRecvTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestChannel_DisconnectAfterDrain(t *testing.T) {
	tx, rx := New[int]()
	rx.SetReady(true)
	require.NoError(t, tx.Send(7))
	tx.Close()

	v, err := rx.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	start := time.Now()
	_, err = rx.Recv(5 * time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Less(t, time.Since(start), time.Second, "disconnect must not wait for the timeout")
}

func TestChannel_ReceiverGone(t *testing.T) {
	tx, rx := New[int]()
	rx.SetReady(true)
	rx.Close()
	assert.ErrorIs(t, tx.Send(1), ErrDisconnected)
}

func TestChannel_ClosedSender(t *testing.T) {
	tx, rx := New[int]()
	rx.SetReady(true)
	tx.Close()
	tx.Close() // double close is a no-op
	assert.ErrorIs(t, tx.Send(1), ErrDisconnected)
}

func TestChannel_Clones(t *testing.T) {
	tx, rx := New[int]()
	rx.SetReady(true)
	other := tx.Clone()
	tx.Close()

	require.NoError(t, other.Send(42))
	v, err := rx.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	other.Close()
	_, err = rx.Recv(time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
}

type tagged struct {
	producer int
	seq      int
}

func TestChannel_ConcurrentProducersKeepOrder(t *testing.T) {
	tx, rx := New[tagged]()
	rx.SetReady(true)

	const producers = 3
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		handle := tx.Clone()
		wg.Add(1)
		go func(p int, handle *Sender[tagged]) {
			defer wg.Done()
			defer handle.Close()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, handle.Send(tagged{producer: p, seq: i}))
			}
		}(p, handle)
	}
	tx.Close()

	next := make([]int, producers)
	received := 0
	for received < producers*perProducer {
		v, err := rx.Recv(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, next[v.producer], v.seq, "per-producer order broken")
		next[v.producer]++
		received++
	}
	wg.Wait()
	_, err := rx.Recv(time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
}
