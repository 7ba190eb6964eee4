package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/thermo/gated"
	"github.com/mklimuk/thermo/wire"
)

// fakePort is an in-memory serial port. Reads are fed through a channel and
// time out like a real port (zero bytes, nil error); writes can be scripted
// to fail.
type fakePort struct {
	mu          sync.Mutex
	writes      [][]byte
	failWrites  int
	closed      bool
	inbound     chan []byte
	readTimeout time.Duration
}

func newFakePort() *fakePort {
	return &fakePort{inbound: make(chan []byte, 4), readTimeout: 10 * time.Millisecond}
}

func (f *fakePort) Read(p []byte) (int, error) {
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, data), nil
	case <-time.After(f.readTimeout):
		return 0, nil
	}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites > 0 {
		f.failWrites--
		return 0, fmt.Errorf("write failed")
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakePort) Drain() error { return nil }

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

func testSink(recv *gated.Receiver[wire.Measurement], open func(string) (Port, error)) *Sink {
	return NewSink(SinkConfig{
		Path:        "/dev/ttyTEST",
		Open:        open,
		Backoff:     5 * time.Millisecond,
		RecvTimeout: 20 * time.Millisecond,
		Boot:        BootHook{Reboot: func() error { return nil }},
	}, recv)
}

func TestSink_GateOpensOnlyAfterConnect(t *testing.T) {
	sender, receiver := gated.New[wire.Measurement]()

	var mu sync.Mutex
	opens := 0
	port := newFakePort()
	open := func(string) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return nil, fmt.Errorf("no such device")
		}
		return port, nil
	}

	// the gate starts closed and sends fail fast
	assert.ErrorIs(t, sender.Send(wire.Measurement{Kind: wire.Temperature}), gated.ErrNotReady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- testSink(receiver, open).Run(ctx) }()

	eventually(t, sender.Ready, "gate should open after the second attempt")
	mu.Lock()
	assert.Equal(t, 2, opens)
	mu.Unlock()

	batch := wire.Measurement{Kind: wire.Temperature, Entries: []wire.Entry{{ID: 0xcafe, Value: 21.5}}}
	require.NoError(t, sender.Send(batch))
	eventually(t, func() bool { return len(port.written()) == 1 }, "batch should reach the port")
	assert.Equal(t, batch.Bytes(wire.PerRecord), port.written()[0])

	cancel()
	require.NoError(t, <-done)
}

func TestSink_WriteFailureReconnects(t *testing.T) {
	sender, receiver := gated.New[wire.Measurement]()

	var mu sync.Mutex
	var ports []*fakePort
	open := func(string) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		port := newFakePort()
		ports = append(ports, port)
		return port, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- testSink(receiver, open).Run(ctx) }()

	eventually(t, sender.Ready, "gate should open")
	mu.Lock()
	ports[0].mu.Lock()
	ports[0].failWrites = 1
	ports[0].mu.Unlock()
	mu.Unlock()

	require.NoError(t, sender.Send(wire.Measurement{Kind: wire.Humidity, Entries: []wire.Entry{{ID: 0x40, Value: 55}}}))

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ports) == 2 && sender.Ready()
	}, "a failed write should close the port and reopen")
	mu.Lock()
	first := ports[0]
	mu.Unlock()
	first.mu.Lock()
	assert.True(t, first.closed, "failed port should be closed")
	first.mu.Unlock()

	// the batch that hit the failed write is gone, the next one flows
	batch := wire.Measurement{Kind: wire.Humidity, Entries: []wire.Entry{{ID: 0x41, Value: 60}}}
	require.NoError(t, sender.Send(batch))
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ports[1].written()) == 1
	}, "batch should reach the reopened port")

	cancel()
	require.NoError(t, <-done)
}

func TestSink_ExitsWhenProducersGone(t *testing.T) {
	sender, receiver := gated.New[wire.Measurement]()
	port := newFakePort()
	open := func(string) (Port, error) { return port, nil }

	done := make(chan error, 1)
	go func() { done <- testSink(receiver, open).Run(context.Background()) }()

	eventually(t, sender.Ready, "gate should open")
	sender.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not exit after the last producer left")
	}
	port.mu.Lock()
	assert.True(t, port.closed)
	port.mu.Unlock()
}

func TestListen_BootloaderToken(t *testing.T) {
	dir := t.TempDir()
	bootCfg := filepath.Join(dir, "cmdline.txt")
	require.NoError(t, os.WriteFile(bootCfg, []byte("console=tty1 modules-load=dwc2,g_serial rootwait"), 0o644))

	rebooted := make(chan struct{}, 1)
	hook := BootHook{
		ConfigPath: bootCfg,
		Reboot: func() error {
			rebooted <- struct{}{}
			return nil
		},
	}.withDefaults()

	port := newFakePort()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		listen(port, stop, hook)
	}()

	// idle reads first, then noise, then the token split across the payload
	port.inbound <- []byte("status?\n")
	port.inbound <- []byte("cmd: tmu_bootloader\n")

	select {
	case <-rebooted:
	case <-time.After(2 * time.Second):
		t.Fatal("bootloader token did not trigger the hook")
	}
	content, err := os.ReadFile(bootCfg)
	require.NoError(t, err)
	assert.Equal(t, "console=tty1 modules-load=dwc2,g_ether rootwait", string(content))

	close(stop)
	<-done
}

func TestListen_MissingBootConfigKeepsListening(t *testing.T) {
	hook := BootHook{
		ConfigPath: filepath.Join(t.TempDir(), "missing.txt"),
		Reboot:     func() error { t.Fatal("reboot must not run"); return nil },
	}.withDefaults()

	port := newFakePort()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		listen(port, stop, hook)
	}()

	port.inbound <- []byte("tmu_bootloader")
	port.inbound <- []byte("still alive")
	time.Sleep(50 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("listener must survive a failed hook")
	default:
	}
	close(stop)
	<-done
}
