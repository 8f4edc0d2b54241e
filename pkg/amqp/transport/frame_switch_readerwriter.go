// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bufio"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/dtn7/amqprecv/pkg/amqp/frames"
)

// FrameSwitchReaderWriter exchanges frames.Frames from an io.Reader and io.Writer to channels. If one of the
// io.Reader or the io.Writer is closeable, closing should be performed after the FrameSwitch has finished.
type FrameSwitchReaderWriter struct {
	in     io.Reader
	out    io.Writer
	limits frames.Limits

	inChan   chan frames.Frame
	outChan  chan frames.Frame
	errChan  chan error
	stopChan chan struct{}
	outDone  chan struct{}

	// finished is accessed by sync.atomic functions; zero means running, everything else indicates a finished state
	finished uint32
}

// NewFrameSwitchReaderWriter for an io.Reader and io.Writer to exchange frames.Frames to channels.
func NewFrameSwitchReaderWriter(in io.Reader, out io.Writer, limits frames.Limits) (fs *FrameSwitchReaderWriter) {
	fs = &FrameSwitchReaderWriter{
		in:     in,
		out:    out,
		limits: limits,

		inChan:   make(chan frames.Frame, 32),
		outChan:  make(chan frames.Frame, 32),
		errChan:  make(chan error, 1),
		stopChan: make(chan struct{}),
		outDone:  make(chan struct{}),
	}

	go fs.handleIn()
	go fs.handleOut()

	return
}

func (fs *FrameSwitchReaderWriter) sendErr(err error) {
	if atomic.CompareAndSwapUint32(&fs.finished, 0, 1) {
		fs.errChan <- err
		close(fs.stopChan)
	}
}

func (fs *FrameSwitchReaderWriter) handleIn() {
	in := bufio.NewReader(fs.in)

	if err := frames.ReadProtocolHeader(in); err != nil {
		fs.sendErr(err)
		return
	}

	for {
		if atomic.LoadUint32(&fs.finished) != 0 {
			return
		}

		f, err := frames.ReadFrame(fs.limits, in)
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

func (fs *FrameSwitchReaderWriter) handleOut() {
	defer close(fs.outDone)

	out := bufio.NewWriter(fs.out)

	if err := frames.WriteProtocolHeader(out); err != nil {
		fs.sendErr(err)
		return
	} else if err := out.Flush(); err != nil {
		fs.sendErr(err)
		return
	}

	for {
		select {
		case <-fs.stopChan:
			// Frames enqueued before the stop, e.g., a final Close, are still written out.
			for {
				select {
				case f := <-fs.outChan:
					if frames.WriteFrame(f, fs.limits, out) != nil {
						return
					}
				default:
					_ = out.Flush()
					return
				}
			}

		case f := <-fs.outChan:
			if err := frames.WriteFrame(f, fs.limits, out); err != nil {
				fs.sendErr(err)
				return
			}
			if err := out.Flush(); err != nil {
				fs.sendErr(err)
				return
			}
		}
	}
}

// Close the FrameSwitchReaderWriter. An error might be returned if the internal state is already finished.
func (fs *FrameSwitchReaderWriter) Close() (err error) {
	if !atomic.CompareAndSwapUint32(&fs.finished, 0, 1) {
		err = errors.New("FrameSwitchReaderWriter has already finished")
	} else {
		close(fs.stopChan)

		select {
		case <-fs.outDone:
		case <-time.After(closeTimeout):
			err = errors.New("FrameSwitchReaderWriter timed out while writing pending frames")
		}
	}

	return
}

// Exchange channels to be serialized.
func (fs *FrameSwitchReaderWriter) Exchange() (incoming <-chan frames.Frame, outgoing chan<- frames.Frame, errChan <-chan error) {
	incoming = fs.inChan
	outgoing = fs.outChan
	errChan = fs.errChan
	return
}
