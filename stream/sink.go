// Package stream wires the measurement pipeline together: producer loops
// that poll sensors once a second, the gated channel between them, and the
// serial sink that frames batches for the external controller. Every loop is
// built to run forever: hardware faults, sensor absence and serial
// disconnects degrade to retry with backoff, never to process exit.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"github.com/mklimuk/thermo"
	"github.com/mklimuk/thermo/gated"
	"github.com/mklimuk/thermo/wire"
)

const (
	serialBaudRate    = 115200
	sinkBackoff       = time.Second
	sinkRecvTimeout   = 2 * time.Second
	listenReadTimeout = time.Second
)

// Port is the slice of a serial port the sink needs. go.bug.st/serial ports
// satisfy it.
type Port interface {
	io.ReadWriteCloser
	Drain() error
	SetReadTimeout(t time.Duration) error
}

// SinkConfig configures a serial sink. Zero fields take the production
// defaults.
type SinkConfig struct {
	// Path is the serial device the measurements are streamed to.
	Path     string
	Encoding wire.Encoding
	Boot     BootHook
	// Open overrides how the serial transport is opened.
	Open func(path string) (Port, error)
	// Backoff is the wait between failed connection attempts.
	Backoff time.Duration
	// RecvTimeout bounds a single channel pull, so cancellation is observed
	// even when no producer is sending.
	RecvTimeout time.Duration
}

// Sink consumes measurement batches from the gated channel and writes them
// to the serial link. The channel gate stays closed except while a
// connection is live, so producers fail fast instead of queuing against a
// link that may never come back.
type Sink struct {
	cfg  SinkConfig
	recv *gated.Receiver[wire.Measurement]
}

func NewSink(cfg SinkConfig, recv *gated.Receiver[wire.Measurement]) *Sink {
	if cfg.Open == nil {
		cfg.Open = func(path string) (Port, error) {
			return serial.Open(path, &serial.Mode{BaudRate: serialBaudRate})
		}
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = sinkBackoff
	}
	if cfg.RecvTimeout == 0 {
		cfg.RecvTimeout = sinkRecvTimeout
	}
	cfg.Boot = cfg.Boot.withDefaults()
	return &Sink{cfg: cfg, recv: recv}
}

// Run drives the sink's connection state machine until ctx is cancelled or
// every producer has closed its sender. Each connection attempt closes the
// gate, opens the transport, starts the control listener, opens the gate and
// consumes until a write fails; then the whole cycle restarts.
func (s *Sink) Run(ctx context.Context) error {
	defer s.recv.Close()
	log := slog.With("serial", s.cfg.Path)
	log.Info("serial sink started")
	for ctx.Err() == nil {
		s.recv.SetReady(false)
		port, err := s.cfg.Open(s.cfg.Path)
		if err != nil {
			log.Error("could not open serial port", "error", err)
			if err = delay.Sleep(ctx, s.cfg.Backoff); err != nil {
				break
			}
			continue
		}
		if err = port.SetReadTimeout(listenReadTimeout); err != nil {
			log.Warn("could not set serial read timeout", "error", err)
		}
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			listen(port, stop, s.cfg.Boot)
		}()
		s.recv.SetReady(true)
		log.Info("serial sink ready to receive data")

		err = s.consume(ctx, port)

		log.Info("closing serial port")
		s.recv.SetReady(false)
		close(stop)
		<-done
		_ = port.Close()
		if errors.Is(err, gated.ErrDisconnected) {
			log.Info("all producers gone, serial sink exiting")
			return nil
		}
	}
	log.Info("serial sink exiting")
	return nil
}

// consume pulls batches and writes them out until the context ends, the
// producers disconnect or a write fails.
func (s *Sink) consume(ctx context.Context, port Port) error {
	var buf []byte
	for ctx.Err() == nil {
		m, err := s.recv.Recv(s.cfg.RecvTimeout)
		if err != nil {
			if errors.Is(err, gated.ErrRecvTimeout) {
				slog.Debug("no measurements to forward", "timeout", s.cfg.RecvTimeout)
				continue
			}
			return err
		}
		buf = m.Append(buf[:0], s.cfg.Encoding)
		if _, err = port.Write(buf); err != nil {
			slog.Error("serial write failed, reconnecting", "error", err)
			return err
		}
		if err = port.Drain(); err != nil {
			slog.Error("serial flush failed, reconnecting", "error", err)
			return err
		}
	}
	return ctx.Err()
}

// delay paces every retry and cadence wait in this package; cancelling the
// context interrupts it.
var delay thermo.Delay = thermo.StdDelay{}
