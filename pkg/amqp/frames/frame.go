// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frames

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// headerSize is the size of the fixed frame header in bytes.
	headerSize = 8

	// dataOffset is the frame header's DOFF, the header size in four byte words.
	dataOffset = 2

	// frameTypeAMQP is the frame type for AMQP frames. SASL frames are not supported.
	frameTypeAMQP = 0x00
)

var (
	// ErrFrameSize indicates a frame size below the header size or above the negotiated maximum.
	ErrFrameSize = errors.New("invalid frame size")

	// ErrFrameHeader indicates an unsupported data offset or frame type.
	ErrFrameHeader = errors.New("invalid frame header")

	// ErrProtocolHeader indicates a peer speaking another protocol or protocol version.
	ErrProtocolHeader = errors.New("invalid AMQP protocol header")
)

// Frame is a Performative sent over a channel. Frames without a Body are empty frames, used as heartbeats.
type Frame struct {
	Channel uint16
	Body    Performative
}

// IsEmpty checks if this Frame is an empty frame without a Performative.
func (f Frame) IsEmpty() bool {
	return f.Body == nil
}

func (f Frame) String() string {
	if f.IsEmpty() {
		return fmt.Sprintf("FRAME(channel=%d, empty)", f.Channel)
	}
	return fmt.Sprintf("FRAME(channel=%d, %v)", f.Channel, f.Body)
}

// Limits bounds the size of frames accepted by ReadFrame and produced by WriteFrame.
type Limits struct {
	MaxFrameSize uint32
}

// DefaultLimits are used for all connections, unless configured otherwise.
var DefaultLimits = Limits{
	MaxFrameSize: 65536,
}

type frameHeader struct {
	Size    uint32
	DOFF    uint8
	Type    uint8
	Channel uint16
}

// WriteFrame serializes a Frame to the Writer as one write call.
func WriteFrame(f Frame, limits Limits, w io.Writer) error {
	var body bytes.Buffer
	if !f.IsEmpty() {
		if err := marshalPerformative(f.Body, &body); err != nil {
			return err
		}

		if t, ok := f.Body.(*Transfer); ok {
			_, _ = body.Write(t.Payload)
		}
	}

	size := uint64(headerSize + body.Len())
	if limits.MaxFrameSize > 0 && size > uint64(limits.MaxFrameSize) {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d bytes", ErrFrameSize, size, limits.MaxFrameSize)
	}

	var buff bytes.Buffer
	hdr := frameHeader{
		Size:    uint32(size),
		DOFF:    dataOffset,
		Type:    frameTypeAMQP,
		Channel: f.Channel,
	}
	if err := binary.Write(&buff, binary.BigEndian, hdr); err != nil {
		return err
	}
	_, _ = buff.Write(body.Bytes())

	_, err := w.Write(buff.Bytes())
	return err
}

// ReadFrame parses the next Frame from the Reader.
func ReadFrame(limits Limits, r io.Reader) (f Frame, err error) {
	var hdr frameHeader
	if err = binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return
	}

	if hdr.Size < headerSize || (limits.MaxFrameSize > 0 && hdr.Size > limits.MaxFrameSize) {
		err = fmt.Errorf("%w: %d bytes", ErrFrameSize, hdr.Size)
		return
	} else if hdr.DOFF != dataOffset || hdr.Type != frameTypeAMQP {
		err = fmt.Errorf("%w: doff=%d, type=%d", ErrFrameHeader, hdr.DOFF, hdr.Type)
		return
	}

	f.Channel = hdr.Channel

	bodyLen := hdr.Size - headerSize
	if bodyLen == 0 {
		return
	}

	body := make([]byte, bodyLen)
	if _, err = io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return
	}

	br := bytes.NewReader(body)
	if f.Body, err = unmarshalPerformative(br); err != nil {
		return
	}

	if t, ok := f.Body.(*Transfer); ok {
		if br.Len() > 0 {
			t.Payload = body[len(body)-br.Len():]
		}
	} else if br.Len() > 0 {
		err = fmt.Errorf("%w: %d trailing bytes after %T", ErrFrameHeader, br.Len(), f.Body)
		f.Body = nil
	}
	return
}

// ProtocolHeader is exchanged by both peers before any frame: "AMQP", protocol id 0, version 1.0.0.
var ProtocolHeader = [8]byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}

// WriteProtocolHeader writes the ProtocolHeader to the Writer.
func WriteProtocolHeader(w io.Writer) error {
	_, err := w.Write(ProtocolHeader[:])
	return err
}

// ReadProtocolHeader reads the peer's protocol header and checks it against the ProtocolHeader.
func ReadProtocolHeader(r io.Reader) error {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	} else if hdr != ProtocolHeader {
		return fmt.Errorf("%w: %q", ErrProtocolHeader, hdr[:])
	}
	return nil
}

// Uint32 returns a pointer to a copy of v, for optional fields.
func Uint32(v uint32) *uint32 {
	return &v
}

// Uint16 returns a pointer to a copy of v, for optional fields.
func Uint16(v uint16) *uint16 {
	return &v
}
