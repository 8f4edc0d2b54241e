// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport moves AMQP frames between channels and a network connection, e.g., TCP or WebSockets.
package transport

import (
	"io"
	"time"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

// FrameSwitch is the interface for an exchange between frames.Frame from channels and an underlying layer.
//
// The AMQP protocol header is exchanged by the FrameSwitch before the first frame in each direction.
type FrameSwitch interface {
	io.Closer

	// Exchange channels to be serialized.
	//
	// 	* incoming is a "receive only" channel for incoming Frames.
	//	* outgoing is a "send only" channel for outgoing Frames.
	//	* errChan is another "receive only" channel to propagate errors. Only one error should be sent.
	Exchange() (incoming <-chan frames.Frame, outgoing chan<- frames.Frame, errChan <-chan error)
}

// closeTimeout bounds the time a FrameSwitch's Close waits for pending frames to be written.
const closeTimeout = time.Second
