// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package receiver implements an AMQP client receiving messages from a single source.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/amqprecv/pkg/amqp/engine"
	"github.com/dtn7/amqprecv/pkg/amqp/frames"
	"github.com/dtn7/amqprecv/pkg/amqp/message"
	"github.com/dtn7/amqprecv/pkg/amqp/reactor"
	"github.com/dtn7/amqprecv/pkg/amqp/transport"
)

// LinkName of the receiving link.
const LinkName = "MyReceiver"

// Sink records received messages, e.g., a storage.Store.
type Sink interface {
	Record(msg *message.Message) error
}

// Stats of a Receiver.
type Stats struct {
	Received     uint64 `json:"received"`
	DecodeErrors uint64 `json:"decode_errors"`
	Bytes        uint64 `json:"bytes"`
	Flows        uint64 `json:"flows"`
}

// Receiver connects to a peer, receives a configured number of messages and closes the connection afterwards.
type Receiver struct {
	config Config
	sink   Sink
	out    io.Writer

	// received, decodeErrors and bytes are accessed by sync.atomic functions.
	received     uint64
	decodeErrors uint64
	bytes        uint64

	sessionMutex sync.Mutex
	session      *engine.Session
}

// NewReceiver for a valid Config. Messages are printed to out and, if sink is not nil, recorded there.
func NewReceiver(config Config, sink Sink, out io.Writer) (*Receiver, error) {
	if err := config.CheckValid(); err != nil {
		return nil, err
	}

	return &Receiver{
		config: config,
		sink:   sink,
		out:    out,
	}, nil
}

func (r *Receiver) log() *log.Entry {
	return log.WithFields(log.Fields{
		"address": r.config.Address,
		"source":  r.config.Source,
	})
}

// Stats returns a snapshot of this Receiver's counters. This method might be called from another goroutine.
func (r *Receiver) Stats() Stats {
	stats := Stats{
		Received:     atomic.LoadUint64(&r.received),
		DecodeErrors: atomic.LoadUint64(&r.decodeErrors),
		Bytes:        atomic.LoadUint64(&r.bytes),
	}

	r.sessionMutex.Lock()
	if r.session != nil {
		stats.Flows = r.session.Flows()
	}
	r.sessionMutex.Unlock()

	return stats
}

// dial the configured peer, returning a FrameSwitch and the underlying connection to be closed afterwards.
func (r *Receiver) dial() (transport.FrameSwitch, io.Closer, error) {
	switch r.config.Transport {
	case TransportWebSocket:
		conn, err := transport.DialWebSocket(r.config.Address, r.config.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return transport.NewFrameSwitchWebSocket(conn, frames.DefaultLimits), conn, nil

	default:
		conn, err := transport.DialTCP(r.config.Address, r.config.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return transport.NewFrameSwitchReaderWriter(conn, conn, frames.DefaultLimits), conn, nil
	}
}

// setup opens the Connection, a Session and the receiving Link at once; all frames are sent pipelined.
func (r *Receiver) setup(conn *engine.Connection) (*engine.Link, error) {
	if err := conn.Open(); err != nil {
		return nil, err
	}

	session, err := conn.NewSession(engine.DefaultSessionConfig())
	if err != nil {
		return nil, err
	}
	if err := session.Begin(); err != nil {
		return nil, err
	}

	r.sessionMutex.Lock()
	r.session = session
	r.sessionMutex.Unlock()

	link, err := session.NewReceiver(engine.LinkConfig{
		Name:           LinkName,
		Source:         r.config.Source,
		Credit:         uint32(r.config.Credit),
		Limit:          uint64(r.config.Count),
		MaxMessageSize: r.config.MaxMessageSize,
		Handler:        r,
	})
	if err != nil {
		return nil, err
	}
	if err := link.Attach(); err != nil {
		return nil, err
	}

	// Nothing can be received without granting credit.
	if err := link.Flow(uint32(r.config.Credit)); err != nil {
		return nil, err
	}
	return link, nil
}

// Run the Receiver until the configured count of messages was received and the connection is closed, or
// until the context is done.
func (r *Receiver) Run(ctx context.Context) error {
	fs, closer, err := r.dial()
	if err != nil {
		return fmt.Errorf("dialing %s failed: %w", r.config.Address, err)
	}

	connConfig := engine.DefaultConfig(r.config.Container)
	connConfig.Hostname = r.config.hostname()
	conn := engine.NewConnection(connConfig)

	link, err := r.setup(conn)
	if err != nil {
		_ = fs.Close()
		_ = closer.Close()
		return err
	}

	r.log().WithField("count", r.config.Count).Info("Receiving messages")

	rc := reactor.NewReactor(conn, fs, closer, reactor.Configuration{Timeout: r.config.Timeout})
	if err := rc.Run(ctx); err != nil {
		return err
	}

	if err := link.Error(); err != nil {
		return fmt.Errorf("link was detached: %w", err)
	}
	if err := r.session.Error(); err != nil {
		return fmt.Errorf("session was ended: %w", err)
	}
	if err := conn.Error(); err != nil {
		return fmt.Errorf("connection was closed: %w", err)
	}

	r.log().WithField("received", atomic.LoadUint64(&r.received)).Info("Connection closed")
	return nil
}

// OnMessage handles each received message, called from the event loop.
func (r *Receiver) OnMessage(msg *message.Message, err error) {
	atomic.AddUint64(&r.received, 1)

	if err != nil {
		atomic.AddUint64(&r.decodeErrors, 1)

		size := 0
		var decErr *engine.DecodeError
		if errors.As(err, &decErr) {
			size = decErr.Size
		}
		atomic.AddUint64(&r.bytes, uint64(size))

		r.log().WithError(err).Warn("Received an undecodable message")
		r.print(nil, size)
		return
	}

	// Message encoding is deterministic, the payload's size is equal to its re-encoding.
	size := 0
	if data, encErr := msg.Encode(); encErr == nil {
		size = len(data)
	}
	atomic.AddUint64(&r.bytes, uint64(size))

	r.log().WithField("message", msg).Debug("Received message")
	r.print(msg, size)

	if r.sink != nil {
		if err := r.sink.Record(msg); err != nil {
			r.log().WithError(err).Warn("Recording message failed")
		}
	}
}

func (r *Receiver) print(msg *message.Message, size int) {
	if r.config.Quiet || r.out == nil || size >= r.config.MaxPrintSize {
		return
	}

	if msg != nil {
		if body, ok := msg.BodyString(); ok {
			_, _ = fmt.Fprintf(r.out, "Message: [%s]\n", body)
			return
		}
	}
	_, _ = fmt.Fprintln(r.out, "Message received!")
}
