// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

// WebSocketSubprotocol is negotiated for AMQP over WebSockets.
const WebSocketSubprotocol = "amqp"

// FrameSwitchWebSocket exchanges frames.Frames from a *websocket.Conn to channels.
//
// The protocol header and each frame are sent as a single binary message.
type FrameSwitchWebSocket struct {
	conn        *websocket.Conn
	messageType int
	limits      frames.Limits

	inChan   chan frames.Frame
	outChan  chan frames.Frame
	errChan  chan error
	stopChan chan struct{}
	outDone  chan struct{}

	// finished is accessed by sync.atomic functions; zero means running, everything else indicates a finished state
	finished uint32
}

// NewFrameSwitchWebSocket for a *websocket.Conn to exchange frames.Frames to channels.
func NewFrameSwitchWebSocket(conn *websocket.Conn, limits frames.Limits) (fs *FrameSwitchWebSocket) {
	fs = &FrameSwitchWebSocket{
		conn:        conn,
		messageType: websocket.BinaryMessage,
		limits:      limits,

		inChan:   make(chan frames.Frame, 32),
		outChan:  make(chan frames.Frame, 32),
		errChan:  make(chan error, 1),
		stopChan: make(chan struct{}),
		outDone:  make(chan struct{}),
	}

	if limits.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(limits.MaxFrameSize))
	}

	go fs.handleIn()
	go fs.handleOut()

	return
}

func (fs *FrameSwitchWebSocket) sendErr(err error) {
	if atomic.CompareAndSwapUint32(&fs.finished, 0, 1) {
		fs.errChan <- err
		close(fs.stopChan)
	}
}

func (fs *FrameSwitchWebSocket) handleIn() {
	for first := true; ; first = false {
		if atomic.LoadUint32(&fs.finished) != 0 {
			return
		}

		mt, r, err := fs.conn.NextReader()
		if err != nil {
			fs.sendErr(err)
			return
		} else if mt != fs.messageType {
			fs.sendErr(fmt.Errorf("expected message type %d instead of %d", fs.messageType, mt))
			return
		}

		if first {
			if err := frames.ReadProtocolHeader(r); err != nil {
				fs.sendErr(err)
				return
			}
			continue
		}

		f, err := frames.ReadFrame(fs.limits, r)
		if err != nil {
			fs.sendErr(err)
			return
		}

		select {
		case fs.inChan <- f:
		case <-fs.stopChan:
			return
		}
	}
}

func (fs *FrameSwitchWebSocket) handleOut() {
	defer close(fs.outDone)

	if err := fs.conn.WriteMessage(fs.messageType, frames.ProtocolHeader[:]); err != nil {
		fs.sendErr(err)
		return
	}

	var buf bytes.Buffer
	for {
		select {
		case <-fs.stopChan:
			for {
				select {
				case f := <-fs.outChan:
					buf.Reset()
					if frames.WriteFrame(f, fs.limits, &buf) != nil {
						return
					}
					if fs.conn.WriteMessage(fs.messageType, buf.Bytes()) != nil {
						return
					}
				default:
					return
				}
			}

		case f := <-fs.outChan:
			buf.Reset()
			if err := frames.WriteFrame(f, fs.limits, &buf); err != nil {
				fs.sendErr(err)
				return
			}
			if err := fs.conn.WriteMessage(fs.messageType, buf.Bytes()); err != nil {
				fs.sendErr(err)
				return
			}
		}
	}
}

// Close the FrameSwitchWebSocket. An error might be returned if the internal state is already finished.
func (fs *FrameSwitchWebSocket) Close() (err error) {
	if !atomic.CompareAndSwapUint32(&fs.finished, 0, 1) {
		err = errors.New("FrameSwitchWebSocket has already finished")
	} else {
		close(fs.stopChan)

		select {
		case <-fs.outDone:
		case <-time.After(closeTimeout):
			err = errors.New("FrameSwitchWebSocket timed out while writing pending frames")
		}
	}

	return
}

// Exchange channels to be serialized.
func (fs *FrameSwitchWebSocket) Exchange() (incoming <-chan frames.Frame, outgoing chan<- frames.Frame, errChan <-chan error) {
	incoming = fs.inChan
	outgoing = fs.outChan
	errChan = fs.errChan
	return
}
