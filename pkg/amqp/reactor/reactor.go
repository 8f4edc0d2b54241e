// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package reactor drives an engine.Connection over a transport.FrameSwitch.
//
// A Reactor is single-threaded: the engine's state is only touched from the goroutine calling Process or Run.
// The FrameSwitch's goroutines only move frames between the network and channels.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/amqprecv/pkg/amqp/engine"
	"github.com/dtn7/amqprecv/pkg/amqp/frames"
	"github.com/dtn7/amqprecv/pkg/amqp/transport"
)

var (
	// ErrNotStarted is reported by Process if Start was not called before.
	ErrNotStarted = errors.New("reactor was not started")

	// ErrStalled is reported if no frame arrived within the Configuration's StallTimeout.
	ErrStalled = errors.New("no frames received within the stall timeout")

	// ErrWriteTimeout is reported if outgoing frames could not be handed to the transport.
	ErrWriteTimeout = errors.New("transport did not accept outgoing frames in time")
)

// Configuration of a Reactor.
type Configuration struct {
	// Timeout bounds how long a single Process call blocks without any I/O.
	Timeout time.Duration

	// StallTimeout fails the Reactor if no frame was received for this long. Zero disables it.
	StallTimeout time.Duration
}

// DefaultConfiguration waits five seconds per Process call and never stalls.
func DefaultConfiguration() Configuration {
	return Configuration{Timeout: 5 * time.Second}
}

// Reactor is the event loop of one Connection.
type Reactor struct {
	conn   *engine.Connection
	fs     transport.FrameSwitch
	closer io.Closer
	config Configuration

	incoming <-chan frames.Frame
	outgoing chan<- frames.Frame
	errChan  <-chan error

	// wakeChan interrupts a blocking Process from another goroutine.
	wakeChan chan struct{}

	started         bool
	done            bool
	transportFailed bool
	err             error

	lastSent time.Time
	lastRecv time.Time

	releaseOnce sync.Once
	releaseErr  error
}

// NewReactor for an engine.Connection, exchanging its frames through a transport.FrameSwitch.
//
// The optional closer, e.g., the net.Conn below the FrameSwitch, is closed after the FrameSwitch.
func NewReactor(conn *engine.Connection, fs transport.FrameSwitch, closer io.Closer, config Configuration) *Reactor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfiguration().Timeout
	}

	return &Reactor{
		conn:     conn,
		fs:       fs,
		closer:   closer,
		config:   config,
		wakeChan: make(chan struct{}, 1),
	}
}

func (r *Reactor) String() string {
	return fmt.Sprintf("REACTOR(%v)", r.conn)
}

func (r *Reactor) log() *log.Entry {
	return log.WithField("reactor", r.String())
}

// Start the Reactor. Frames already enqueued by the Connection, e.g., a pipelined Open, are sent immediately.
func (r *Reactor) Start() error {
	if r.started {
		return errors.New("reactor was already started")
	}

	r.incoming, r.outgoing, r.errChan = r.fs.Exchange()
	r.started = true

	now := time.Now()
	r.lastSent, r.lastRecv = now, now

	r.log().Debug("Reactor started")

	r.flush()
	return r.err
}

// Connection driven by this Reactor.
func (r *Reactor) Connection() *engine.Connection {
	return r.conn
}

// Err returns the transport or timeout error which stopped this Reactor, if any.
func (r *Reactor) Err() error {
	return r.err
}

// Interrupt a blocking Process call. This method might be called from another goroutine.
func (r *Reactor) Interrupt() {
	select {
	case r.wakeChan <- struct{}{}:
	default:
	}
}

// Process one iteration of the event loop.
//
// It waits up to the configured Timeout for incoming frames, hands them to the Connection, dispatches completed
// deliveries and sends all resulting frames. Process returns true while the connection remains open and false
// once it is fully closed or the transport failed. In the latter case, all resources are released.
func (r *Reactor) Process() bool {
	if !r.started {
		r.err = ErrNotStarted
		return false
	}
	if r.done {
		return false
	}

	r.flush()

	if r.err == nil {
		wait := r.config.Timeout
		if hb, ok := r.heartbeatDue(); ok && hb < wait {
			wait = hb
		}

		timer := time.NewTimer(wait)
		select {
		case f := <-r.incoming:
			r.handle(f)
			r.drain()

		case err := <-r.errChan:
			// Frames read before the error are still pending.
			r.drain()
			r.transportError(err)

		case <-r.wakeChan:

		case <-timer.C:
		}
		timer.Stop()
	}

	if r.err == nil && !r.transportFailed {
		r.conn.Dispatch()
		r.heartbeat()
		r.flush()
		r.checkStall()
	}

	if r.err != nil || r.transportFailed || r.conn.Closed() {
		r.finish()
		return false
	}
	return true
}

// drain all frames which are already waiting without blocking.
func (r *Reactor) drain() {
	for {
		select {
		case f := <-r.incoming:
			r.handle(f)
		default:
			return
		}
	}
}

func (r *Reactor) handle(f frames.Frame) {
	r.lastRecv = time.Now()

	r.log().WithField("frame", f).Debug("Received frame")

	if err := r.conn.Handle(f); err != nil {
		r.log().WithError(err).WithField("frame", f).Warn("Protocol violation")
	}
}

func (r *Reactor) transportError(err error) {
	r.transportFailed = true

	closing := r.conn.State() == engine.ConnectionCloseSent || r.conn.Closed()
	if errors.Is(err, io.EOF) && closing {
		r.log().Info("Peer closed the transport after our Close")
		return
	}

	r.err = fmt.Errorf("transport failed: %w", err)
	if errors.Is(err, io.EOF) {
		r.log().Info("Peer closed the transport unexpectedly")
	} else {
		r.log().WithError(err).Warn("Transport failed")
	}
}

// heartbeatDue returns the time until the next empty frame must be sent, if the peer requested an idle timeout.
func (r *Reactor) heartbeatDue() (time.Duration, bool) {
	idle := r.conn.RemoteIdleTimeout()
	if idle <= 0 {
		return 0, false
	}

	due := idle/2 - time.Since(r.lastSent)
	if due < 0 {
		due = 0
	}
	return due, true
}

func (r *Reactor) heartbeat() {
	if due, ok := r.heartbeatDue(); !ok || due > 0 {
		return
	} else if r.conn.State() != engine.ConnectionOpened {
		return
	}

	r.log().Debug("Sending empty frame as heartbeat")
	r.send(frames.Frame{})
}

func (r *Reactor) checkStall() {
	if r.config.StallTimeout <= 0 || r.err != nil {
		return
	}

	if time.Since(r.lastRecv) > r.config.StallTimeout {
		r.log().WithField("timeout", r.config.StallTimeout).Warn("Connection stalled")
		r.err = ErrStalled
	}
}

// flush all frames enqueued by the Connection to the FrameSwitch.
func (r *Reactor) flush() {
	for _, f := range r.conn.PopOutgoing() {
		if r.err != nil || r.transportFailed {
			return
		}
		r.send(f)
	}
}

func (r *Reactor) send(f frames.Frame) {
	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()

	select {
	case r.outgoing <- f:
		r.lastSent = time.Now()
		r.log().WithField("frame", f).Debug("Sent frame")

	case err := <-r.errChan:
		r.drain()
		r.transportError(err)

	case <-timer.C:
		r.err = ErrWriteTimeout
	}
}

func (r *Reactor) finish() {
	r.done = true

	if r.err != nil {
		r.log().WithError(r.err).Info("Reactor stopped")
	} else {
		r.log().Info("Connection closed")
	}

	if err := r.release(); err != nil {
		r.log().WithError(err).Debug("Releasing resources errored")
	}
}

func (r *Reactor) release() error {
	r.releaseOnce.Do(func() {
		var errs *multierror.Error

		if r.started && !r.transportFailed {
			if err := r.fs.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if r.closer != nil {
			if err := r.closer.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}

		r.releaseErr = errs.ErrorOrNil()
	})

	return r.releaseErr
}

// Close releases the FrameSwitch and the underlying closer without any AMQP handshake. For a graceful shutdown,
// close the Connection and call Process until it returns false.
func (r *Reactor) Close() error {
	r.done = true
	return r.release()
}

// Run calls Process until it returns false.
//
// When the context is done, the Connection is closed gracefully. If the peer does not answer within the
// configured Timeout, Run gives up and returns the context's error.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.started {
		if err := r.Start(); err != nil {
			_ = r.Close()
			return err
		}
	}

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			r.Interrupt()
		case <-stop:
		}
	}()

	var deadline time.Time
	for r.Process() {
		if ctx.Err() == nil {
			continue
		}

		if deadline.IsZero() {
			r.log().Info("Context is done, closing connection")
			deadline = time.Now().Add(r.config.Timeout)

			if err := r.conn.Close(nil); err != nil {
				r.log().WithError(err).Debug("Closing connection errored")
			}
		} else if time.Now().After(deadline) {
			r.log().Warn("Peer did not close the connection in time")
			_ = r.Close()
			return ctx.Err()
		}
	}

	return r.err
}
